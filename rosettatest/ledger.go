package rosettatest

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

type ledgerTx struct {
	Hash       string
	Operations []RosettaOperation
	Block      BlockIdentifier
	Size       uint64
	VisibleAt  time.Time
}

// ledger is the fake chain state. Callers hold the server mutex.
type ledger struct {
	network Network
	params  ProtocolParameters
	utxos   map[string]Utxo
	stake   map[string]bool
	pools   map[string]bool
	txs     map[string]*ledgerTx
	tip     BlockIdentifier
	funded  int
}

func newLedger(network Network, params ProtocolParameters) *ledger {
	return &ledger{
		network: network,
		params:  params,
		utxos:   make(map[string]Utxo),
		stake:   make(map[string]bool),
		pools:   make(map[string]bool),
		txs:     make(map[string]*ledgerTx),
		tip:     BlockIdentifier{Index: 0, Hash: blockHash(0)},
	}
}

func blockHash(index int64) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("block:%d", index)))
	return hex.EncodeToString(sum[:blockHashLen])
}

func (l *ledger) fund(address string, lovelace uint64) Utxo {
	l.funded++
	sum := blake2b.Sum256([]byte(fmt.Sprintf("fund:%d", l.funded)))
	u := Utxo{
		TxHash:   hex.EncodeToString(sum[:]),
		Index:    0,
		Owner:    address,
		Lovelace: lovelace,
	}
	l.utxos[u.ID()] = u
	return u
}

func (l *ledger) utxosFor(address string) []Utxo {
	var out []Utxo
	for _, u := range l.utxos {
		if SameAddress(u.Owner, address) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}

// requiredSigners lists the accounts whose keys must witness a transaction:
// input owners, the reward address of every stake credential and the pool
// key hash of every pool operation.
func requiredSigners(network Network, ops Operations) (signers []string, err error) {
	seen := make(map[string]bool)
	add := func(account string) {
		if !seen[account] {
			seen[account] = true
			signers = append(signers, account)
		}
	}

	stakeSigner := func(op Operation, credential string) error {
		if credential == "" {
			return errors.Wrapf(ErrValidation, "operation %d (%s) has no staking credential", op.Index(), op.Type())
		}
		account, err := StakeAddressFromKey(credential, network)
		if err != nil {
			return err
		}
		add(account)
		return nil
	}

	for _, op := range ops {
		switch o := op.(type) {
		case Input:
			add(o.Account())
		case StakeKeyRegistration:
			err = stakeSigner(o, o.StakingCredential)
		case StakeKeyDeregistration:
			err = stakeSigner(o, o.StakingCredential)
		case StakeDelegation:
			err = stakeSigner(o, o.StakingCredential)
		case DRepVoteDelegation:
			err = stakeSigner(o, o.StakingCredential)
		case PoolRegistration, PoolRegistrationWithCert, PoolRetirement, PoolGovernanceVote:
			add(o.Account())
		}
		if err != nil {
			return nil, err
		}
	}

	return
}

// owns reports whether a verification key controls an account. Byron
// addresses are not checked.
func owns(network Network, publicKey []byte, account string) bool {
	hash, err := KeyHash(publicKey)
	if err != nil {
		return false
	}

	if addr, err := DecodeAddress(account, network); err == nil {
		return len(addr) >= 1+KeyHashSize && bytes.Equal(addr[1:1+KeyHashSize], hash)
	}

	if IsByronAddress(account) {
		return true
	}

	return account == hex.EncodeToString(hash)
}

// verifyWitnesses checks every witness signature and that every required
// signer is covered by one of them.
func verifyWitnesses(network Network, body []byte, signers []string, witnesses []witness) error {
	message := bodyHash(body)

	for i, w := range witnesses {
		if len(w.PublicKey) != ed25519.PublicKeySize || !ed25519.Verify(w.PublicKey, message, w.Signature) {
			return errors.Wrapf(ErrValidation, "witness %d signature does not verify", i)
		}
	}

	for _, signer := range signers {
		covered := false
		for _, w := range witnesses {
			if owns(network, w.PublicKey, signer) {
				covered = true
				break
			}
		}
		if !covered {
			return errors.Wrapf(ErrValidation, "missing witness for %s", signer)
		}
	}

	return nil
}

// apply validates a transaction against the ledger and, when it is valid,
// spends its inputs and creates its outputs.
func (l *ledger) apply(hash string, ops Operations, minFee uint64, size uint64, visibleAt time.Time) (err error) {
	if _, exists := l.txs[hash]; exists {
		return errors.Wrapf(ErrValidation, "transaction %s already submitted", hash)
	}

	deposits := l.params.Deposits()

	for _, in := range ops.Inputs() {
		u, ok := l.utxos[in.CoinID]
		if !ok {
			return errors.Wrapf(ErrValidation, "input %s is unknown or already spent", in.CoinID)
		}
		if u.Lovelace != in.Lovelace() {
			return errors.Wrapf(ErrValidation, "input %s holds %d lovelace, operation spends %d", in.CoinID, u.Lovelace, in.Lovelace())
		}
		if !SameAddress(u.Owner, in.Account()) {
			return errors.Wrapf(ErrValidation, "input %s is not owned by %s", in.CoinID, in.Account())
		}
	}

	for _, out := range ops.Outputs() {
		if uint64(out.Amount) < MinUtxoLovelace {
			return errors.Wrapf(ErrValidation, "output of %d lovelace is below the minimum", out.Amount)
		}
	}

	fee := ops.ImpliedFee(deposits)
	if fee < 0 {
		return errors.Wrapf(ErrValidation, "value not conserved: outputs and deposits exceed inputs by %d", -fee)
	}
	if uint64(fee) < minFee {
		return errors.Wrapf(ErrValidation, "fee too small: %d < %d", fee, minFee)
	}

	stake := make(map[string]bool)
	for k, v := range l.stake {
		stake[k] = v
	}
	pools := make(map[string]bool)
	for k, v := range l.pools {
		pools[k] = v
	}

	for _, c := range ops.Certificates() {
		switch o := c.(type) {
		case StakeKeyRegistration:
			if stake[o.Account()] {
				return errors.Wrapf(ErrValidation, "stake key %s already registered", o.Account())
			}
			stake[o.Account()] = true
		case StakeKeyDeregistration:
			if !stake[o.Account()] {
				return errors.Wrapf(ErrValidation, "stake key %s is not registered", o.Account())
			}
			delete(stake, o.Account())
		case StakeDelegation, DRepVoteDelegation:
			if !stake[o.Account()] {
				return errors.Wrapf(ErrValidation, "stake key %s is not registered", o.Account())
			}
		case PoolRegistration, PoolRegistrationWithCert:
			pools[o.Account()] = true
		case PoolRetirement, PoolGovernanceVote:
			if !pools[o.Account()] {
				return errors.Wrapf(ErrValidation, "pool %s is not registered", o.Account())
			}
		}
	}

	for _, in := range ops.Inputs() {
		delete(l.utxos, in.CoinID)
	}

	confirmed := make([]RosettaOperation, 0, len(ops))
	outputIndex := uint32(0)
	for _, op := range ops {
		ro := ToRosetta(op)
		ro.Status = StatusSuccess

		switch o := op.(type) {
		case Output:
			u := Utxo{TxHash: hash, Index: outputIndex, Owner: o.Account(), Lovelace: uint64(o.Amount), Assets: o.Assets}
			l.utxos[u.ID()] = u
			ro.CoinChange = &CoinChange{
				CoinIdentifier: CoinIdentifier{Identifier: u.ID()},
				CoinAction:     CoinCreated,
			}
			outputIndex++
		case Certificate:
			if d := o.Deposit(deposits); d > 0 {
				ro.Metadata.DepositAmount = &Amount{Value: strconv.FormatInt(d, 10), Currency: AdaCurrency}
			} else if d < 0 {
				ro.Metadata.RefundAmount = &Amount{Value: strconv.FormatInt(-d, 10), Currency: AdaCurrency}
			}
		}

		confirmed = append(confirmed, ro)
	}

	l.stake = stake
	l.pools = pools
	l.tip = BlockIdentifier{Index: l.tip.Index + 1, Hash: blockHash(l.tip.Index + 1)}
	l.txs[hash] = &ledgerTx{
		Hash:       hash,
		Operations: confirmed,
		Block:      l.tip,
		Size:       size,
		VisibleAt:  visibleAt,
	}

	return
}

func (l *ledger) visible(hash string, now time.Time) *ledgerTx {
	tx, ok := l.txs[hash]
	if !ok || now.Before(tx.VisibleAt) {
		return nil
	}
	return tx
}
