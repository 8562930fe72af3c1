package construction

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cardano-rosetta-go/rosettatest"
	"github.com/alexdcox/cardano-rosetta-go/rpcclient"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 20 * time.Millisecond

func testWallet(t *testing.T) *KeyWallet {
	t.Helper()

	payment, err := NewSigningKey(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	stake, err := NewSigningKey(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	wallet, err := NewKeyWallet(NetworkPreProd, payment, stake)
	require.NoError(t, err)
	return wallet
}

func testServer(t *testing.T, config rosettatest.Config) (*rosettatest.Server, *rpcclient.RpcClient) {
	t.Helper()

	srv := rosettatest.New(config)
	require.NoError(t, srv.Start(""))
	t.Cleanup(func() {
		_ = srv.Stop()
	})

	client, err := rpcclient.NewRpcClient(srv.URL(), NetworkPreProd)
	require.NoError(t, err)
	return srv, client
}

func registrationOps(t *testing.T, w *KeyWallet, utxos []Utxo, fee uint64) Operations {
	ops, err := BuildStakeKeyRegistration(Archetype{
		Inputs:       utxos,
		Wallet:       w,
		EstimatedFee: fee,
		Deposits:     DefaultDepositParameters,
	})
	require.NoError(t, err)
	return ops
}

// stubAPI wraps an api and overrides search and parse.
type stubAPI struct {
	ConstructionAPI
	search func(ctx context.Context, hash string) (*rpcclient.BlockTransaction, error)
	parse  func(ctx context.Context, tx string, signed bool) (*rpcclient.ParseOut, error)
	calls  int
}

func (s *stubAPI) SearchTransaction(ctx context.Context, hash string) (*rpcclient.BlockTransaction, error) {
	s.calls++
	if s.search != nil {
		return s.search(ctx, hash)
	}
	return s.ConstructionAPI.SearchTransaction(ctx, hash)
}

func (s *stubAPI) Parse(ctx context.Context, tx string, signed bool) (*rpcclient.ParseOut, error) {
	if s.parse != nil {
		return s.parse(ctx, tx, signed)
	}
	return s.ConstructionAPI.Parse(ctx, tx, signed)
}

func TestBuildTransaction_ReconcilesSuggestedFee(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{FixedFee: 172_345})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)

	o := NewOrchestrator(client, nil, Options{PollInterval: testPollInterval})
	ops := registrationOps(t, w, utxos, 200_000)

	result, err := o.BuildTransaction(context.Background(), ops, false)
	require.NoError(t, err)

	assert.Equal(t, StatePayloadsReady, result.State)
	assert.Equal(t, int64(200_000), result.ReservedFee)
	assert.Equal(t, uint64(172_345), result.SuggestedFee)
	assert.Equal(t, uint64(172_345), result.Fee)
	assert.Equal(t, DefaultDepositParameters, result.Deposits)

	require.Len(t, result.Operations, 3)
	assert.Equal(t, int64(47_827_655), result.Operations[1].(Output).Amount)
	assert.Equal(t, OperationStakeKeyRegistration, result.Operations[2].Type())
	assert.True(t, Conserved(result.Operations, result.Fee, result.Deposits))

	// the input list is never touched
	assert.Equal(t, int64(47_800_000), ops[1].(Output).Amount)

	require.Len(t, result.Payloads, 2)
	accounts := []string{result.Payloads[0].Account(), result.Payloads[1].Account()}
	assert.ElementsMatch(t, []string{w.Address(), w.StakeAddress()}, accounts)
	assert.NotEmpty(t, result.UnsignedTx)
}

func TestBuildTransaction_FixedFeePassthrough(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{FixedFee: 172_345})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)

	o := NewOrchestrator(client, nil, Options{})
	ops := registrationOps(t, w, utxos, 200_000)

	result, err := o.BuildTransaction(context.Background(), ops, true)
	require.NoError(t, err)
	assert.Equal(t, ops, result.Operations)
	assert.Equal(t, uint64(200_000), result.Fee)
	assert.Equal(t, uint64(172_345), result.SuggestedFee)
}

func TestBuildTransaction_Deterministic(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)

	o := NewOrchestrator(client, nil, Options{VerifyParse: true})
	ops := registrationOps(t, w, utxos, 300_000)

	first, err := o.BuildTransaction(context.Background(), ops, false)
	require.NoError(t, err)
	second, err := o.BuildTransaction(context.Background(), ops, false)
	require.NoError(t, err)

	assert.Equal(t, first.Fee, second.Fee)
	assert.Equal(t, first.UnsignedTx, second.UnsignedTx)
	assert.Equal(t, first.Operations, second.Operations)
	assert.Greater(t, first.Fee, DefaultProtocolParameters.MinFeeB)
	assert.Less(t, first.Fee, uint64(300_000))
	assert.True(t, Conserved(first.Operations, first.Fee, first.Deposits))
}

func TestBuildTransaction_Errors(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{FixedFee: 172_345})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)
	ctx := context.Background()

	o := NewOrchestrator(client, nil, Options{})

	_, err := o.BuildTransaction(ctx, Operations{}, false)
	assert.ErrorIs(t, err, ErrValidation)

	// outputs exceed inputs
	overspent := Reindex([]Operation{NewInput(utxos[0]), NewOutput(w.Address(), 60_000_000)})
	_, err = o.BuildTransaction(ctx, overspent, false)
	assert.ErrorIs(t, err, ErrValidation)

	// the server rejects operations for an unknown staking key format
	bad := registrationOps(t, w, utxos, 200_000)
	cert := bad[2].(StakeKeyRegistration)
	cert.StakingCredential = "zz"
	bad[2] = cert
	_, err = o.BuildTransaction(ctx, bad, false)
	assert.ErrorIs(t, err, ErrRpcFailed)

	var rosettaErr *rpcclient.RosettaError
	require.True(t, errors.As(err, &rosettaErr))
	assert.Equal(t, int64(rosettatest.CodeInvalidRequest), rosettaErr.Code)
}

func TestBuildTransaction_VerifyParseMismatch(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)

	api := &stubAPI{
		ConstructionAPI: client,
		parse: func(ctx context.Context, tx string, signed bool) (*rpcclient.ParseOut, error) {
			return &rpcclient.ParseOut{Operations: []RosettaOperation{{Type: string(OperationInput)}}}, nil
		},
	}

	o := NewOrchestrator(api, nil, Options{VerifyParse: true})
	_, err := o.BuildTransaction(context.Background(), registrationOps(t, w, utxos, 300_000), false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReconcileFee(t *testing.T) {
	utxo := Utxo{TxHash: "aa", Owner: "addr", Lovelace: 2_000_000}
	ops := Reindex([]Operation{NewInput(utxo), NewOutput("addr", 1_200_000)})

	reconciled, err := ReconcileFee(ops, 800_000, 300_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000), reconciled[1].(Output).Amount)
	assert.Equal(t, int64(1_200_000), ops[1].(Output).Amount)

	same, err := ReconcileFee(ops, 800_000, 800_000)
	require.NoError(t, err)
	assert.Equal(t, ops, same)

	_, err = ReconcileFee(ops, 800_000, 1_100_000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = ReconcileFee(ops[:1], 800_000, 300_000)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDepositsFromMetadata(t *testing.T) {
	deposits, ok := DepositsFromMetadata(map[string]any{
		"ttl": "1000",
		"protocol_parameters": map[string]any{
			"keyDeposit":  "3000000",
			"poolDeposit": "400000000",
		},
	})
	require.True(t, ok)
	assert.Equal(t, DepositParameters{KeyDeposit: 3_000_000, PoolDeposit: 400_000_000}, deposits)

	_, ok = DepositsFromMetadata(map[string]any{"ttl": "1000"})
	assert.False(t, ok)

	_, ok = DepositsFromMetadata(nil)
	assert.False(t, ok)

	_, ok = DepositsFromMetadata(map[string]any{
		"protocol_parameters": map[string]any{"keyDeposit": 0, "poolDeposit": 0},
	})
	assert.False(t, ok)
}

func TestSignAndSubmit(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{FixedFee: 172_345})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)
	ctx := context.Background()

	o := NewOrchestrator(client, nil, Options{})
	build, err := o.BuildTransaction(ctx, registrationOps(t, w, utxos, 200_000), false)
	require.NoError(t, err)

	sign := NewSigningHandler(w).SignFunc()
	submission, err := o.SignAndSubmit(ctx, build.UnsignedTx, build.Payloads, sign)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, submission.State)
	assert.Len(t, submission.Signatures, 2)
	assert.Contains(t, srv.Submitted(), submission.TxHash)
	assert.True(t, srv.StakeRegistered(w.StakeAddress()))

	// resubmitting spends the same inputs again
	_, err = o.SignAndSubmit(ctx, build.UnsignedTx, build.Payloads, sign)
	assert.ErrorIs(t, err, ErrSubmission)
}

// submitAPI answers submit with a fixed transaction hash.
type submitAPI struct {
	ConstructionAPI
	hash string
}

func (s submitAPI) Submit(ctx context.Context, signed string) (*rpcclient.TransactionIdentifierOut, error) {
	return &rpcclient.TransactionIdentifierOut{TransactionIdentifier: TransactionIdentifier{Hash: s.hash}}, nil
}

func TestSignAndSubmit_ChecksSubmittedHash(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{FixedFee: 172_345})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)
	ctx := context.Background()

	build, err := NewOrchestrator(client, nil, Options{}).BuildTransaction(ctx, registrationOps(t, w, utxos, 200_000), false)
	require.NoError(t, err)
	sign := NewSigningHandler(w).SignFunc()

	testCases := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"uppercase", strings.Repeat("AB", 32)},
		{"not hex", strings.Repeat("zz", 32)},
		{"different transaction", strings.Repeat("ab", 32)},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			o := NewOrchestrator(submitAPI{ConstructionAPI: client, hash: testCase.hash}, nil, Options{})
			_, err := o.SignAndSubmit(ctx, build.UnsignedTx, build.Payloads, sign)
			assert.ErrorIs(t, err, ErrRpcFailed)
		})
	}

	assert.Empty(t, srv.Submitted())
}

func TestSignAndSubmit_MissingWitness(t *testing.T) {
	srv, client := testServer(t, rosettatest.Config{FixedFee: 172_345})
	w := testWallet(t)
	utxos := srv.Fund(w.Address(), 50_000_000)
	ctx := context.Background()

	o := NewOrchestrator(client, nil, Options{})
	build, err := o.BuildTransaction(ctx, registrationOps(t, w, utxos, 200_000), false)
	require.NoError(t, err)

	// signs every payload with the payment key
	handler := NewSigningHandler(w)
	paymentOnly := func(payload SigningPayload) (Signature, error) {
		return handler.Sign(SigningPayload{
			AccountIdentifier: &AccountIdentifier{Address: w.Address()},
			HexBytes:          payload.HexBytes,
			SignatureType:     payload.SignatureType,
		})
	}

	_, err = o.SignAndSubmit(ctx, build.UnsignedTx, build.Payloads, paymentOnly)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.False(t, srv.StakeRegistered(w.StakeAddress()))
}

func TestSignAndSubmit_Validation(t *testing.T) {
	o := NewOrchestrator(nil, nil, Options{})
	ctx := context.Background()
	payloads := []SigningPayload{{Address: "addr", HexBytes: "00"}}

	_, err := o.SignAndSubmit(ctx, "00", payloads, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = o.SignAndSubmit(ctx, "00", nil, func(SigningPayload) (Signature, error) {
		return Signature{}, nil
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = o.SignAndSubmit(ctx, "00", payloads, func(p SigningPayload) (Signature, error) {
		return Signature{
			SigningPayload: p,
			PublicKey:      PublicKey{HexBytes: "02", CurveType: "secp256k1"},
			SignatureType:  "ecdsa",
			HexBytes:       "00",
		}, nil
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = o.SignAndSubmit(ctx, "00", payloads, func(SigningPayload) (Signature, error) {
		return Signature{}, errors.Wrap(ErrNoSigningKey, "nobody home")
	})
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestWaitForConfirmation_Timeout(t *testing.T) {
	_, client := testServer(t, rosettatest.Config{})
	o := NewOrchestrator(client, nil, Options{PollInterval: 100 * time.Millisecond})

	start := time.Now()
	_, err := o.WaitForConfirmation(context.Background(), "00000000000000000000000000000000000000000000000000000000deadbeef", 2*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 4*time.Second)
}

func TestWaitForConfirmation_PropagatesOtherErrors(t *testing.T) {
	api := &stubAPI{
		search: func(ctx context.Context, hash string) (*rpcclient.BlockTransaction, error) {
			return nil, errors.Wrap(ErrRpcFailed, "indexer is down")
		},
	}
	o := NewOrchestrator(api, nil, Options{PollInterval: testPollInterval})

	start := time.Now()
	_, err := o.WaitForConfirmation(context.Background(), "abc", 5*time.Second)
	assert.ErrorIs(t, err, ErrRpcFailed)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, api.calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForConfirmation_ServerErrorsFailFast(t *testing.T) {
	var calls atomic.Int32
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/search/transactions", func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code":      5000,
			"message":   "An error occurred",
			"retriable": true,
		})
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(listener)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})

	client, err := rpcclient.NewRpcClient(listener.Addr().String(), NetworkPreProd)
	require.NoError(t, err)
	o := NewOrchestrator(client, nil, Options{PollInterval: 100 * time.Millisecond})

	start := time.Now()
	_, err = o.WaitForConfirmation(context.Background(), "abc", time.Second)
	assert.ErrorIs(t, err, ErrRpcFailed)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	var rosettaErr *rpcclient.RosettaError
	require.True(t, errors.As(err, &rosettaErr))
	assert.Equal(t, int64(5000), rosettaErr.Code)
}

func TestWaitForConfirmation_RetriesUntilVisible(t *testing.T) {
	found := &rpcclient.BlockTransaction{BlockIdentifier: BlockIdentifier{Index: 9, Hash: "b9"}}
	api := &stubAPI{}
	api.search = func(ctx context.Context, hash string) (*rpcclient.BlockTransaction, error) {
		if api.calls < 3 {
			return nil, errors.Wrap(ErrTransactionNotFound, hash)
		}
		return found, nil
	}
	api.ConstructionAPI = blockAPI{}

	o := NewOrchestrator(api, nil, Options{PollInterval: testPollInterval})
	details, err := o.WaitForConfirmation(context.Background(), "abc", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, api.calls)
	assert.Equal(t, int64(9), details.Block.Index)
	assert.Equal(t, "abc", details.TxHash)
	assert.Equal(t, int64(321), details.Size)
}

func TestWaitForConfirmation_ParentCancelled(t *testing.T) {
	api := &stubAPI{
		search: func(ctx context.Context, hash string) (*rpcclient.BlockTransaction, error) {
			return nil, errors.Wrap(ErrTransactionNotFound, hash)
		},
	}
	o := NewOrchestrator(api, nil, Options{PollInterval: testPollInterval})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := o.WaitForConfirmation(ctx, "abc", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}

// blockAPI answers block lookups with a fixed confirmed transaction.
type blockAPI struct {
	ConstructionAPI
}

func (blockAPI) BlockTransaction(ctx context.Context, block BlockIdentifier, hash string) (*rpcclient.BlockTransactionOut, error) {
	return &rpcclient.BlockTransactionOut{Transaction: Transaction{
		TransactionIdentifier: TransactionIdentifier{Hash: hash},
		Operations: []RosettaOperation{{
			OperationIdentifier: OperationIdentifier{Index: 0},
			Type:                string(OperationInput),
			Account:             &AccountIdentifier{Address: "addr"},
			Amount:              &Amount{Value: "-2000000", Currency: AdaCurrency},
		}},
		Metadata: map[string]any{"size": float64(321)},
	}}, nil
}
