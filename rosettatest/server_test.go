package rosettatest

import (
	"bytes"
	"context"
	"testing"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cardano-rosetta-go/rpcclient"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFee = 200_000

type fixture struct {
	srv    *Server
	client *rpcclient.RpcClient
	wallet *KeyWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	srv := New(Config{FixedFee: testFee})
	require.NoError(t, srv.Start(""))
	t.Cleanup(func() {
		_ = srv.Stop()
	})

	client, err := rpcclient.NewRpcClient(srv.URL(), NetworkPreProd)
	require.NoError(t, err)

	payment, err := NewSigningKey(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	stake, err := NewSigningKey(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)
	wallet, err := NewKeyWallet(NetworkPreProd, payment, stake)
	require.NoError(t, err)

	return &fixture{srv: srv, client: client, wallet: wallet}
}

func (f *fixture) transfer(utxo Utxo, to string) Operations {
	return Reindex([]Operation{
		NewInput(utxo),
		NewOutput(to, utxo.Lovelace-testFee),
	})
}

// sign runs the construction flow up to combine.
func (f *fixture) sign(t *testing.T, ops Operations, sign SignFunc) string {
	ctx := context.Background()

	pre, err := f.client.Preprocess(ctx, ops.Rosetta(), nil)
	require.NoError(t, err)
	md, err := f.client.Metadata(ctx, pre.Options, nil)
	require.NoError(t, err)
	payloads, err := f.client.Payloads(ctx, ops.Rosetta(), md.Metadata)
	require.NoError(t, err)

	signatures := make([]Signature, 0, len(payloads.Payloads))
	for _, p := range payloads.Payloads {
		signature, err := sign(p)
		require.NoError(t, err)
		signatures = append(signatures, signature)
	}

	combined, err := f.client.Combine(ctx, payloads.UnsignedTransaction, signatures)
	require.NoError(t, err)
	return combined.SignedTransaction
}

func TestServer_SubmitAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	utxo := f.srv.Fund(f.wallet.Address(), 10_000_000)[0]

	signed := f.sign(t, f.transfer(utxo, f.wallet.Address()), NewSigningHandler(f.wallet).SignFunc())

	hashed, err := f.client.Hash(ctx, signed)
	require.NoError(t, err)

	submitted, err := f.client.Submit(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, hashed.TransactionIdentifier.Hash, submitted.TransactionIdentifier.Hash)

	found, err := f.client.SearchTransaction(ctx, submitted.TransactionIdentifier.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.BlockIdentifier.Index)

	tx, err := f.client.BlockTransaction(ctx, found.BlockIdentifier, submitted.TransactionIdentifier.Hash)
	require.NoError(t, err)
	require.Len(t, tx.Transaction.Operations, 2)
	assert.Equal(t, CoinCreated, tx.Transaction.Operations[1].CoinChange.CoinAction)
	assert.Equal(t, StatusSuccess, tx.Transaction.Operations[0].Status)

	utxos, err := f.client.GetUtxosForAddress(ctx, f.wallet.Address())
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, uint64(9_800_000), utxos[0].Lovelace)
	assert.Equal(t, submitted.TransactionIdentifier.Hash, utxos[0].TxHash)
}

func TestServer_RejectsDoubleSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	utxo := f.srv.Fund(f.wallet.Address(), 10_000_000)[0]
	sign := NewSigningHandler(f.wallet).SignFunc()

	first := f.sign(t, f.transfer(utxo, f.wallet.Address()), sign)
	second := f.sign(t, f.transfer(utxo, "addr_test1vz2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzerspjrlsz"), sign)

	_, err := f.client.Submit(ctx, first)
	require.NoError(t, err)

	_, err = f.client.Submit(ctx, second)
	require.ErrorIs(t, err, ErrSubmission)

	var rosettaErr *rpcclient.RosettaError
	require.True(t, errors.As(err, &rosettaErr))
	assert.Equal(t, int64(CodeSubmitRejected), rosettaErr.Code)
	assert.Contains(t, rosettaErr.Details, "already spent")
}

func TestServer_RejectsMissingWitness(t *testing.T) {
	f := newFixture(t)
	utxo := f.srv.Fund(f.wallet.Address(), 10_000_000)[0]

	ops := Reindex([]Operation{
		NewInput(utxo),
		NewOutput(f.wallet.Address(), utxo.Lovelace-testFee-DefaultKeyDeposit),
		NewStakeKeyRegistration(f.wallet.StakeAddress(), f.wallet.StakeVerificationKeyHex()),
	})

	handler := NewSigningHandler(f.wallet)
	paymentOnly := func(p SigningPayload) (Signature, error) {
		p.AccountIdentifier = &AccountIdentifier{Address: f.wallet.Address()}
		return handler.Sign(p)
	}

	_, err := f.client.Submit(context.Background(), f.sign(t, ops, paymentOnly))
	assert.ErrorIs(t, err, ErrSubmission)
	assert.False(t, f.srv.StakeRegistered(f.wallet.StakeAddress()))
}

func TestServer_ParseReportsSigners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	utxo := f.srv.Fund(f.wallet.Address(), 10_000_000)[0]
	ops := f.transfer(utxo, f.wallet.Address())

	signed := f.sign(t, ops, NewSigningHandler(f.wallet).SignFunc())

	parsed, err := f.client.Parse(ctx, signed, true)
	require.NoError(t, err)
	assert.Equal(t, ops.Rosetta(), parsed.Operations)
	assert.Equal(t, []AccountIdentifier{{Address: f.wallet.Address()}}, parsed.AccountIdentifierSigners)
}

func TestServer_NetworkMismatch(t *testing.T) {
	f := newFixture(t)

	mainnet, err := rpcclient.NewRpcClient(f.srv.URL(), NetworkMainNet)
	require.NoError(t, err)

	_, err = mainnet.AccountCoins(context.Background(), f.wallet.Address())
	require.ErrorIs(t, err, ErrRpcFailed)

	var rosettaErr *rpcclient.RosettaError
	require.True(t, errors.As(err, &rosettaErr))
	assert.Equal(t, int64(CodeNetworkMismatch), rosettaErr.Code)
}

func TestServer_FeeFollowsSize(t *testing.T) {
	srv := New(Config{})
	small, err := sizeHint(NetworkPreProd, nil, []string{"a"})
	require.NoError(t, err)
	large, err := sizeHint(NetworkPreProd, nil, []string{"a", "b"})
	require.NoError(t, err)

	// one more witness and one more two byte cbor string
	assert.Equal(t, small+witnessSize+2, large)
	assert.Equal(t, DefaultProtocolParameters.LinearFee(small), srv.fee(small))
	assert.Equal(t, uint64(testFee), New(Config{FixedFee: testFee}).fee(small))
}
