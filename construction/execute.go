package construction

import (
	"context"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/pkg/errors"
)

type IntentKind string

const (
	IntentTransfer               IntentKind = "transfer"
	IntentStakeKeyRegistration   IntentKind = "stake-key-registration"
	IntentStakeKeyDeregistration IntentKind = "stake-key-deregistration"
	IntentStakeDelegation        IntentKind = "stake-delegation"
	IntentDRepVoteDelegation     IntentKind = "drep-vote-delegation"
	IntentPoolRegistration       IntentKind = "pool-registration"
	IntentPoolRegistrationCert   IntentKind = "pool-registration-cert"
	IntentPoolRetirement         IntentKind = "pool-retirement"
	IntentPoolGovernanceVote     IntentKind = "pool-governance-vote"
)

// Intent describes a whole run: which utxos to select, what to build and
// who signs. Fields irrelevant to Kind are ignored.
type Intent struct {
	Kind   IntentKind
	Wallet Wallet
	// Signer defaults to a SigningHandler when Wallet is a *KeyWallet.
	Signer SignFunc

	// Select.Address defaults to the wallet address and Select.Required to
	// the amount, deposits, estimated fee and a minimum change output.
	Select       SelectRequest
	EstimatedFee uint64
	FixedFee     bool
	Timeout      time.Duration

	Destination string
	Amount      uint64

	PoolKeyHash string
	Register    bool
	DRep        DRep
	Epoch       int64
	PoolParams  PoolRegistrationParams
	PoolCert    string
	Vote        PoolGovernanceVoteParams
}

func (i Intent) required(deposits DepositParameters) uint64 {
	required := i.Amount + i.EstimatedFee + MinUtxoLovelace

	switch i.Kind {
	case IntentStakeKeyRegistration:
		required += deposits.KeyDeposit
	case IntentStakeDelegation, IntentDRepVoteDelegation:
		if i.Register {
			required += deposits.KeyDeposit
		}
	case IntentPoolRegistration, IntentPoolRegistrationCert:
		required += deposits.PoolDeposit
	}

	return required
}

func (i Intent) operations(a Archetype) (Operations, error) {
	switch i.Kind {
	case IntentTransfer:
		return BuildTransfer(a, i.Destination, i.Amount)
	case IntentStakeKeyRegistration:
		return BuildStakeKeyRegistration(a)
	case IntentStakeKeyDeregistration:
		return BuildStakeKeyDeregistration(a)
	case IntentStakeDelegation:
		return BuildStakeDelegation(a, i.PoolKeyHash, i.Register)
	case IntentDRepVoteDelegation:
		return BuildDRepVoteDelegation(a, i.DRep, i.Register)
	case IntentPoolRegistration:
		return BuildPoolRegistration(a, i.PoolKeyHash, i.PoolParams)
	case IntentPoolRegistrationCert:
		return BuildPoolRegistrationWithCert(a, i.PoolKeyHash, i.PoolCert)
	case IntentPoolRetirement:
		return BuildPoolRetirement(a, i.PoolKeyHash, i.Epoch)
	case IntentPoolGovernanceVote:
		return BuildPoolGovernanceVote(a, i.PoolKeyHash, i.Vote)
	default:
		return nil, errors.Wrapf(ErrValidation, "unknown intent '%s'", i.Kind)
	}
}

func (i Intent) signer() (SignFunc, error) {
	if i.Signer != nil {
		return i.Signer, nil
	}
	if w, ok := i.Wallet.(*KeyWallet); ok {
		return NewSigningHandler(w).SignFunc(), nil
	}
	return nil, errors.Wrap(ErrNoSigningKey, "intent has no signer and the wallet holds no keys")
}

type TransactionResult struct {
	RunID        string
	TxHash       string
	Operations   Operations
	Selection    *Selection
	EstimatedFee uint64
	Fee          uint64
	// OnchainFee is the input total minus output total reported on chain.
	OnchainFee uint64
	// NetworkFee additionally accounts for deposits and refunds.
	NetworkFee int64
	Details    *TransactionDetails
	State      State
}

// Execute selects utxos, builds, signs, submits and waits for confirmation.
// The selected utxos are leased for the run and released on every failure
// before submission. If confirmation fails the partial result is returned
// alongside the error so the caller still learns the transaction hash.
func (o *Orchestrator) Execute(ctx context.Context, intent Intent) (result *TransactionResult, err error) {
	runID := NewRunID()
	ctx = WithRunID(ctx, runID)
	p := newProgress(ctx, StateNew, o.options.Events)

	result = &TransactionResult{
		RunID:        runID,
		EstimatedFee: intent.EstimatedFee,
		State:        StateNew,
	}

	defer func() {
		if err == nil {
			return
		}
		if result != nil {
			result.State = StateFailed
		}
		o.journalFailure(p, runID, intent, err)
	}()

	if o.selector == nil {
		err = p.fail(errors.Wrap(ErrValidation, "orchestrator has no utxo source"))
		return nil, err
	}
	if intent.Wallet == nil {
		err = p.fail(errors.Wrap(ErrValidation, "intent has no wallet"))
		return nil, err
	}

	sign, err := intent.signer()
	if err != nil {
		return nil, p.fail(err)
	}

	req := intent.Select
	if req.Address == "" {
		req.Address = intent.Wallet.Address()
	}
	if req.Required == 0 {
		req.Required = intent.required(o.options.Deposits)
	}

	p.log.Info().Msgf("starting %s run from %s", intent.Kind, req.Address)

	selection, err := o.selector.Select(ctx, req)
	if err != nil {
		return nil, p.fail(err)
	}
	defer selection.Lease.Release()
	result.Selection = selection

	ops, err := intent.operations(Archetype{
		Inputs:       selection.Utxos,
		Wallet:       intent.Wallet,
		EstimatedFee: intent.EstimatedFee,
		Deposits:     o.options.Deposits,
	})
	if err != nil {
		return nil, p.fail(err)
	}

	build, err := o.BuildTransaction(ctx, ops, intent.FixedFee)
	if err != nil {
		return nil, err
	}
	result.Operations = build.Operations
	result.Fee = build.Fee

	submission, err := o.SignAndSubmit(ctx, build.UnsignedTx, build.Payloads, sign)
	if err != nil {
		return nil, err
	}
	selection.Lease.Commit()
	result.TxHash = submission.TxHash
	result.State = StateSubmitted

	if o.options.Journal != nil {
		err2 := o.options.Journal.RecordSubmission(TxRecord{
			RunID:        runID,
			TxHash:       submission.TxHash,
			Kind:         string(intent.Kind),
			State:        RecordSubmitted,
			EstimatedFee: intent.EstimatedFee,
			Fee:          build.Fee,
			BlockIndex:   -1,
		})
		if err2 != nil {
			p.log.Warn().Msgf("journal: %v", err2)
		}
	}

	details, err := o.WaitForConfirmation(ctx, submission.TxHash, intent.Timeout)
	if err != nil {
		return result, err
	}

	result.Details = details
	result.OnchainFee = CalculateOnchainFee(details)
	result.NetworkFee = CalculateNetworkFee(details, build.Deposits)
	result.State = StateConfirmed

	if o.options.Journal != nil {
		if err2 := o.options.Journal.MarkConfirmed(submission.TxHash, details.Block, result.OnchainFee); err2 != nil {
			p.log.Warn().Msgf("journal: %v", err2)
		}
	}

	if result.NetworkFee != int64(result.Fee) {
		p.log.Warn().Msgf("built fee %d but the ledger charged %d", result.Fee, result.NetworkFee)
	}

	p.log.Info().Msgf(
		"%s run %s confirmed: fee %s ADA",
		intent.Kind,
		submission.TxHash,
		FormatAda(int64(result.Fee)))

	return
}

func (o *Orchestrator) journalFailure(p *progress, runID string, intent Intent, cause error) {
	if o.options.Journal == nil {
		return
	}
	if err := o.options.Journal.MarkFailed(runID, string(intent.Kind), cause.Error()); err != nil {
		p.log.Warn().Msgf("journal: %v", err)
	}
}
