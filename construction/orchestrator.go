package construction

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/alexdcox/cardano-rosetta-go/rpcclient"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 120 * time.Second
	DefaultRelativeTTL  = 1000
)

// ConstructionAPI is the subset of the rosetta endpoints the orchestrator
// drives.
type ConstructionAPI interface {
	Preprocess(ctx context.Context, ops []RosettaOperation, metadata *rpcclient.PreprocessMetadata) (*rpcclient.PreprocessOut, error)
	Metadata(ctx context.Context, options map[string]any, publicKeys []PublicKey) (*rpcclient.MetadataOut, error)
	Payloads(ctx context.Context, ops []RosettaOperation, metadata map[string]any) (*rpcclient.PayloadsOut, error)
	Parse(ctx context.Context, tx string, signed bool) (*rpcclient.ParseOut, error)
	Combine(ctx context.Context, unsigned string, signatures []Signature) (*rpcclient.CombineOut, error)
	Hash(ctx context.Context, signed string) (*rpcclient.TransactionIdentifierOut, error)
	Submit(ctx context.Context, signed string) (*rpcclient.TransactionIdentifierOut, error)
	SearchTransaction(ctx context.Context, hash string) (*rpcclient.BlockTransaction, error)
	BlockTransaction(ctx context.Context, block BlockIdentifier, hash string) (*rpcclient.BlockTransactionOut, error)
}

var _ ConstructionAPI = &rpcclient.RpcClient{}

type Options struct {
	PollInterval time.Duration
	// Deposits are used until the metadata step reports protocol parameters.
	Deposits    DepositParameters
	RelativeTTL int64
	// VerifyParse checks the unsigned transaction against the intended
	// operations before anything is signed.
	VerifyParse bool
	// Journal is optional.
	Journal Journal
	// Events receives every state transition when set.
	Events *Events
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Deposits == (DepositParameters{}) {
		o.Deposits = DefaultDepositParameters
	}
	if o.RelativeTTL <= 0 {
		o.RelativeTTL = DefaultRelativeTTL
	}
	return o
}

// Orchestrator drives one transaction at a time through preprocess,
// metadata, payloads, combine, submit and confirmation. Apart from the
// confirmation poll every step is a single request that fails fast.
type Orchestrator struct {
	api      ConstructionAPI
	selector *UtxoSelector
	options  Options
}

// NewOrchestrator builds an orchestrator. source may be nil when Execute is
// not used.
func NewOrchestrator(api ConstructionAPI, source UtxoSource, options Options) *Orchestrator {
	o := &Orchestrator{
		api:     api,
		options: options.withDefaults(),
	}
	if source != nil {
		o.selector = NewUtxoSelector(source)
	}
	return o
}

func (o *Orchestrator) Selector() *UtxoSelector {
	return o.selector
}

func (o *Orchestrator) Options() Options {
	return o.options
}

type BuildResult struct {
	UnsignedTx string
	Payloads   []SigningPayload
	Metadata   map[string]any
	// Fee is the fee the unsigned transaction pays.
	Fee uint64
	// ReservedFee is the fee implied by the operations as they were built.
	ReservedFee int64
	// SuggestedFee is the fee reported by the metadata step.
	SuggestedFee uint64
	Operations   Operations
	Deposits     DepositParameters
	State        State
}

// BuildTransaction runs preprocess, metadata and payloads. Unless fixedFee is
// set the last output absorbs the difference between the reserved fee and
// the suggested one. With fixedFee the operations are sent unmodified.
func (o *Orchestrator) BuildTransaction(ctx context.Context, ops Operations, fixedFee bool) (result *BuildResult, err error) {
	p := newProgress(ctx, StateNew, o.options.Events)

	if err = ops.Validate(); err != nil {
		return nil, p.fail(err)
	}

	deposits := o.options.Deposits
	reserved := ops.ImpliedFee(deposits)
	if reserved < 0 {
		err = errors.Wrapf(ErrValidation, "outputs and deposits exceed inputs by %d lovelace", -reserved)
		return nil, p.fail(err)
	}
	p.advance(StateBuilt)

	pre, err := o.api.Preprocess(ctx, ops.Rosetta(), &rpcclient.PreprocessMetadata{
		RelativeTTL:       o.options.RelativeTTL,
		DepositParameters: &deposits,
	})
	if err != nil {
		return nil, p.fail(err)
	}

	md, err := o.api.Metadata(ctx, pre.Options, nil)
	if err != nil {
		return nil, p.fail(err)
	}

	suggested, err := md.Fee()
	if err != nil {
		return nil, p.fail(err)
	}

	if remote, ok := DepositsFromMetadata(md.Metadata); ok && remote != deposits {
		p.log.Debug().Msgf("using deposits from protocol parameters: key %d pool %d", remote.KeyDeposit, remote.PoolDeposit)
		deposits = remote
		reserved = ops.ImpliedFee(deposits)
	}
	p.advance(StateMetadataFetched)

	result = &BuildResult{
		Metadata:     md.Metadata,
		ReservedFee:  reserved,
		SuggestedFee: suggested,
		Deposits:     deposits,
	}

	if fixedFee {
		if reserved < 0 {
			err = errors.Wrapf(ErrValidation, "fixed fee operations are short by %d lovelace", -reserved)
			return nil, p.fail(err)
		}
		result.Operations = ops
		result.Fee = uint64(reserved)
		p.log.Debug().Msgf("fixed fee %d passed through, suggested was %d", reserved, suggested)
	} else {
		result.Operations, err = ReconcileFee(ops, reserved, suggested)
		if err != nil {
			return nil, p.fail(err)
		}
		result.Fee = suggested
	}

	if !Conserved(result.Operations, result.Fee, deposits) {
		err = errors.Wrapf(
			ErrValidation,
			"operations imply a fee of %d, expected %d",
			result.Operations.ImpliedFee(deposits),
			result.Fee)
		return nil, p.fail(err)
	}

	payloads, err := o.api.Payloads(ctx, result.Operations.Rosetta(), md.Metadata)
	if err != nil {
		return nil, p.fail(err)
	}
	if len(payloads.Payloads) == 0 {
		err = errors.Wrap(ErrRpcFailed, "payloads response carries no signing payloads")
		return nil, p.fail(err)
	}

	result.UnsignedTx = payloads.UnsignedTransaction
	result.Payloads = payloads.Payloads

	if o.options.VerifyParse {
		if err = o.VerifyParse(ctx, result.UnsignedTx, result.Operations); err != nil {
			return nil, p.fail(err)
		}
	}

	p.advance(StatePayloadsReady)
	result.State = p.state
	return
}

// ReconcileFee moves the difference between the reserved and the final fee
// onto the last output. The adjusted output must stay above the minimum
// utxo value.
func ReconcileFee(ops Operations, reserved int64, fee uint64) (reconciled Operations, err error) {
	last := ops.LastOutput()
	if last < 0 {
		err = errors.Wrap(ErrValidation, "no output to absorb the fee difference")
		return
	}

	delta := reserved - int64(fee)
	output := ops[last].(Output)
	amount := output.Amount + delta

	if amount < int64(MinUtxoLovelace) {
		err = errors.Wrapf(
			ErrInsufficientFunds,
			"fee of %d leaves %d lovelace on output %d, below the %d minimum",
			fee,
			amount,
			last,
			MinUtxoLovelace)
		return
	}

	reconciled = append(Operations{}, ops...)
	reconciled[last] = output.WithAmount(amount)

	if delta != 0 {
		Log().Debug().Msgf("fee reconciled: reserved %d, final %d, output %d now %d", reserved, fee, last, amount)
	}
	return
}

// DepositsFromMetadata reads key and pool deposits from the protocol
// parameters a metadata response carries.
func DepositsFromMetadata(metadata map[string]any) (deposits DepositParameters, ok bool) {
	if metadata == nil {
		return
	}

	jsn, err := json.Marshal(metadata)
	if err != nil {
		return
	}

	key := gjson.GetBytes(jsn, "protocol_parameters.keyDeposit")
	pool := gjson.GetBytes(jsn, "protocol_parameters.poolDeposit")
	if !key.Exists() || !pool.Exists() {
		return
	}

	deposits = DepositParameters{KeyDeposit: key.Uint(), PoolDeposit: pool.Uint()}
	ok = deposits.KeyDeposit > 0 && deposits.PoolDeposit > 0
	return
}

// VerifyParse decodes the unsigned transaction remotely and checks that it
// carries the intended operation types in order.
func (o *Orchestrator) VerifyParse(ctx context.Context, unsigned string, ops Operations) (err error) {
	parsed, err := o.api.Parse(ctx, unsigned, false)
	if err != nil {
		return
	}

	if len(parsed.Operations) != len(ops) {
		err = errors.Wrapf(
			ErrValidation,
			"unsigned transaction parses to %d operations, built %d",
			len(parsed.Operations),
			len(ops))
		return
	}

	for i, ro := range parsed.Operations {
		if OperationType(ro.Type) != ops[i].Type() {
			err = errors.Wrapf(
				ErrValidation,
				"operation %d parses as %s, built %s",
				i,
				ro.Type,
				ops[i].Type())
			return
		}
	}

	return
}

type Submission struct {
	TxHash     string
	SignedTx   string
	Signatures []Signature
	State      State
}

// SignAndSubmit signs every payload in the order given, combines and
// submits. A rejected transaction unwraps to ErrSubmission. The submitted
// hash must be lowercase hex and match /construction/hash for the signed
// transaction, otherwise the result is ErrRpcFailed.
func (o *Orchestrator) SignAndSubmit(ctx context.Context, unsigned string, payloads []SigningPayload, sign SignFunc) (submission *Submission, err error) {
	p := newProgress(ctx, StatePayloadsReady, o.options.Events)

	if sign == nil {
		return nil, p.fail(errors.Wrap(ErrValidation, "no signing function"))
	}
	if len(payloads) == 0 {
		return nil, p.fail(errors.Wrap(ErrValidation, "no payloads to sign"))
	}

	signatures := make([]Signature, 0, len(payloads))
	for i, payload := range payloads {
		signature, err2 := sign(payload)
		if err2 != nil {
			return nil, p.fail(err2)
		}
		if signature.PublicKey.CurveType != CurveEdwards25519 || signature.SignatureType != SignatureEd25519 {
			err = errors.Wrapf(
				ErrValidation,
				"payload %d signed with %s/%s",
				i,
				signature.PublicKey.CurveType,
				signature.SignatureType)
			return nil, p.fail(err)
		}
		signatures = append(signatures, signature)
	}
	p.advance(StateSigned)

	combined, err := o.api.Combine(ctx, unsigned, signatures)
	if err != nil {
		return nil, p.fail(err)
	}
	p.advance(StateCombined)

	expected, err := o.api.Hash(ctx, combined.SignedTransaction)
	if err != nil {
		return nil, p.fail(err)
	}

	submitted, err := o.api.Submit(ctx, combined.SignedTransaction)
	if err != nil {
		return nil, p.fail(err)
	}

	txHash := submitted.TransactionIdentifier.Hash
	if err = ValidateTxHash(txHash); err != nil {
		return nil, p.fail(errors.Wrapf(ErrRpcFailed, "submit response: %v", err))
	}
	if txHash != expected.TransactionIdentifier.Hash {
		err = errors.Wrapf(
			ErrRpcFailed,
			"submitted hash %s does not match computed hash %s",
			txHash,
			expected.TransactionIdentifier.Hash)
		return nil, p.fail(err)
	}
	p.advance(StateSubmitted)

	submission = &Submission{
		TxHash:     txHash,
		SignedTx:   combined.SignedTransaction,
		Signatures: signatures,
		State:      p.state,
	}

	p.log.Info().Msgf("submitted transaction %s", submission.TxHash)
	return
}

// WaitForConfirmation polls until the transaction is found in a block. Only
// ErrTransactionNotFound is retried; once the timeout elapses the result is
// ErrTimeout.
func (o *Orchestrator) WaitForConfirmation(ctx context.Context, hash string, timeout time.Duration) (details *TransactionDetails, err error) {
	p := newProgress(ctx, StateSubmitted, o.options.Events)

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(o.options.PollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		details, err = o.lookup(waitCtx, hash)
		if err == nil {
			p.advance(StateConfirmed)
			p.log.Info().Msgf(
				"transaction %s confirmed in block %d after %d lookups",
				hash,
				details.Block.Index,
				attempts)
			return
		}

		if waitCtx.Err() != nil {
			return nil, p.fail(o.expired(ctx, hash, timeout))
		}

		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, p.fail(err)
		}

		p.log.Trace().Msgf("transaction %s not found yet (attempt %d)", hash, attempts)

		select {
		case <-waitCtx.Done():
			return nil, p.fail(o.expired(ctx, hash, timeout))
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) expired(ctx context.Context, hash string, timeout time.Duration) error {
	if ctx.Err() != nil {
		return errors.WithStack(ctx.Err())
	}
	return errors.Wrapf(ErrTimeout, "transaction %s not confirmed within %s", hash, timeout)
}

func (o *Orchestrator) lookup(ctx context.Context, hash string) (details *TransactionDetails, err error) {
	found, err := o.api.SearchTransaction(ctx, hash)
	if err != nil {
		return
	}

	tx, err := o.api.BlockTransaction(ctx, found.BlockIdentifier, hash)
	if err != nil {
		return
	}

	ops, err := OperationsFromRosetta(tx.Transaction.Operations)
	if err != nil {
		return
	}

	details = &TransactionDetails{
		TxHash:     tx.Transaction.TransactionIdentifier.Hash,
		Block:      found.BlockIdentifier,
		Operations: ops,
	}

	if size, ok := tx.Transaction.Metadata["size"].(float64); ok {
		details.Size = int64(size)
	}

	return
}
