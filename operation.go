package cardano

import (
	"strconv"

	"github.com/pkg/errors"
)

type OperationType string

const (
	OperationInput                    OperationType = "input"
	OperationOutput                   OperationType = "output"
	OperationStakeKeyRegistration     OperationType = "stakeKeyRegistration"
	OperationStakeKeyDeregistration   OperationType = "stakeKeyDeregistration"
	OperationStakeDelegation          OperationType = "stakeDelegation"
	OperationDRepVoteDelegation       OperationType = "dRepVoteDelegation"
	OperationPoolRegistration         OperationType = "poolRegistration"
	OperationPoolRegistrationWithCert OperationType = "poolRegistrationWithCert"
	OperationPoolRetirement           OperationType = "poolRetirement"
	OperationPoolGovernanceVote       OperationType = "poolGovernanceVote"
	OperationWithdrawal               OperationType = "withdrawal"
)

// Operation is a closed set of ledger operation kinds. Each variant owns
// exactly the fields that are valid for it.
type Operation interface {
	Index() int64
	Account() string
	Type() OperationType
	withIndex(index int64) Operation
}

// Certificate is an operation that changes the value balance of a
// transaction through a deposit (positive) or refund (negative).
type Certificate interface {
	Operation
	Deposit(params DepositParameters) int64
}

type opBase struct {
	OpIndex int64
	Address string
}

func (o opBase) Index() int64    { return o.OpIndex }
func (o opBase) Account() string { return o.Address }

type Input struct {
	opBase
	// Amount is negative, as reported by rosetta.
	Amount int64
	CoinID string
	Assets []TokenBundle
}

func NewInput(utxo Utxo) Input {
	return Input{
		opBase: opBase{Address: utxo.Owner},
		Amount: -int64(utxo.Lovelace),
		CoinID: utxo.ID(),
		Assets: utxo.Assets,
	}
}

func (o Input) Type() OperationType { return OperationInput }

func (o Input) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o Input) Lovelace() uint64 {
	if o.Amount < 0 {
		return uint64(-o.Amount)
	}
	return uint64(o.Amount)
}

type Output struct {
	opBase
	Amount int64
	Assets []TokenBundle
}

func NewOutput(address string, lovelace uint64) Output {
	return Output{
		opBase: opBase{Address: address},
		Amount: int64(lovelace),
	}
}

func (o Output) Type() OperationType { return OperationOutput }

func (o Output) withIndex(i int64) Operation { o.OpIndex = i; return o }

// WithAmount returns a copy of the output carrying a new amount.
func (o Output) WithAmount(amount int64) Output {
	o.Amount = amount
	return o
}

type StakeKeyRegistration struct {
	opBase
	StakingCredential string
}

func NewStakeKeyRegistration(stakeAddress, stakeKeyHex string) StakeKeyRegistration {
	return StakeKeyRegistration{opBase{Address: stakeAddress}, stakeKeyHex}
}

func (o StakeKeyRegistration) Type() OperationType { return OperationStakeKeyRegistration }

func (o StakeKeyRegistration) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o StakeKeyRegistration) Deposit(params DepositParameters) int64 {
	return int64(params.KeyDeposit)
}

type StakeKeyDeregistration struct {
	opBase
	StakingCredential string
}

func NewStakeKeyDeregistration(stakeAddress, stakeKeyHex string) StakeKeyDeregistration {
	return StakeKeyDeregistration{opBase{Address: stakeAddress}, stakeKeyHex}
}

func (o StakeKeyDeregistration) Type() OperationType { return OperationStakeKeyDeregistration }

func (o StakeKeyDeregistration) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o StakeKeyDeregistration) Deposit(params DepositParameters) int64 {
	return -int64(params.KeyDeposit)
}

type StakeDelegation struct {
	opBase
	StakingCredential string
	PoolKeyHash       string
}

func NewStakeDelegation(stakeAddress, stakeKeyHex, poolKeyHash string) StakeDelegation {
	return StakeDelegation{opBase{Address: stakeAddress}, stakeKeyHex, poolKeyHash}
}

func (o StakeDelegation) Type() OperationType { return OperationStakeDelegation }

func (o StakeDelegation) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o StakeDelegation) Deposit(DepositParameters) int64 { return 0 }

type DRepVoteDelegation struct {
	opBase
	StakingCredential string
	DRep              DRep
}

func NewDRepVoteDelegation(stakeAddress, stakeKeyHex string, drep DRep) DRepVoteDelegation {
	return DRepVoteDelegation{opBase{Address: stakeAddress}, stakeKeyHex, drep}
}

func (o DRepVoteDelegation) Type() OperationType { return OperationDRepVoteDelegation }

func (o DRepVoteDelegation) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o DRepVoteDelegation) Deposit(DepositParameters) int64 { return 0 }

// PoolRegistration is accounted to the pool cold key hash.
type PoolRegistration struct {
	opBase
	Params PoolRegistrationParams
}

func NewPoolRegistration(poolKeyHash string, params PoolRegistrationParams) PoolRegistration {
	return PoolRegistration{opBase{Address: poolKeyHash}, params}
}

func (o PoolRegistration) Type() OperationType { return OperationPoolRegistration }

func (o PoolRegistration) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o PoolRegistration) Deposit(params DepositParameters) int64 {
	return int64(params.PoolDeposit)
}

type PoolRegistrationWithCert struct {
	opBase
	Cert string
}

func NewPoolRegistrationWithCert(poolKeyHash, certHex string) PoolRegistrationWithCert {
	return PoolRegistrationWithCert{opBase{Address: poolKeyHash}, certHex}
}

func (o PoolRegistrationWithCert) Type() OperationType { return OperationPoolRegistrationWithCert }

func (o PoolRegistrationWithCert) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o PoolRegistrationWithCert) Deposit(params DepositParameters) int64 {
	return int64(params.PoolDeposit)
}

// PoolRetirement refunds its deposit to the reward account at the epoch
// boundary, not inside the transaction.
type PoolRetirement struct {
	opBase
	Epoch int64
}

func NewPoolRetirement(poolKeyHash string, epoch int64) PoolRetirement {
	return PoolRetirement{opBase{Address: poolKeyHash}, epoch}
}

func (o PoolRetirement) Type() OperationType { return OperationPoolRetirement }

func (o PoolRetirement) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o PoolRetirement) Deposit(DepositParameters) int64 { return 0 }

type PoolGovernanceVote struct {
	opBase
	Params PoolGovernanceVoteParams
}

func NewPoolGovernanceVote(poolKeyHash string, params PoolGovernanceVoteParams) PoolGovernanceVote {
	return PoolGovernanceVote{opBase{Address: poolKeyHash}, params}
}

func (o PoolGovernanceVote) Type() OperationType { return OperationPoolGovernanceVote }

func (o PoolGovernanceVote) withIndex(i int64) Operation { o.OpIndex = i; return o }

func (o PoolGovernanceVote) Deposit(DepositParameters) int64 { return 0 }

// Withdrawal only appears in confirmed transactions reported by the data
// API. Its amount is negative, like an input.
type Withdrawal struct {
	opBase
	StakingCredential string
	Amount            int64
}

func (o Withdrawal) Type() OperationType { return OperationWithdrawal }

func (o Withdrawal) withIndex(i int64) Operation { o.OpIndex = i; return o }

// Operations is an ordered operation list whose indices match positions.
type Operations []Operation

// Reindex assigns contiguous zero based indices in list order.
func Reindex(ops []Operation) Operations {
	out := make(Operations, len(ops))
	for i, op := range ops {
		out[i] = op.withIndex(int64(i))
	}
	return out
}

func (ops Operations) Validate() error {
	if len(ops) == 0 {
		return errors.Wrap(ErrValidation, "no operations")
	}

	var inputs, outputs int
	for i, op := range ops {
		if op == nil {
			return errors.Wrapf(ErrValidation, "operation %d is nil", i)
		}
		if op.Index() != int64(i) {
			return errors.Wrapf(ErrValidation, "operation at position %d has index %d", i, op.Index())
		}
		if op.Account() == "" {
			return errors.Wrapf(ErrValidation, "operation %d (%s) has no account", i, op.Type())
		}
		switch o := op.(type) {
		case Input:
			inputs++
			if o.Amount >= 0 {
				return errors.Wrapf(ErrValidation, "input %d amount must be negative, got %d", i, o.Amount)
			}
			if o.CoinID == "" {
				return errors.Wrapf(ErrValidation, "input %d has no coin identifier", i)
			}
		case Output:
			outputs++
			if o.Amount <= 0 {
				return errors.Wrapf(ErrValidation, "output %d amount must be positive, got %d", i, o.Amount)
			}
		}
	}

	if inputs == 0 {
		return errors.Wrap(ErrValidation, "transaction has no inputs")
	}
	if outputs == 0 {
		return errors.Wrap(ErrValidation, "transaction has no outputs")
	}

	return nil
}

func (ops Operations) Inputs() (inputs []Input) {
	for _, op := range ops {
		if in, ok := op.(Input); ok {
			inputs = append(inputs, in)
		}
	}
	return
}

func (ops Operations) Outputs() (outputs []Output) {
	for _, op := range ops {
		if out, ok := op.(Output); ok {
			outputs = append(outputs, out)
		}
	}
	return
}

func (ops Operations) Certificates() (certs []Certificate) {
	for _, op := range ops {
		if c, ok := op.(Certificate); ok {
			certs = append(certs, c)
		}
	}
	return
}

// InputTotal is the sum of absolute input amounts.
func (ops Operations) InputTotal() (total uint64) {
	for _, in := range ops.Inputs() {
		total += in.Lovelace()
	}
	return
}

func (ops Operations) OutputTotal() (total uint64) {
	for _, out := range ops.Outputs() {
		total += uint64(out.Amount)
	}
	return
}

// NetDeposit is deposits minus refunds across all certificates.
func (ops Operations) NetDeposit(params DepositParameters) (net int64) {
	for _, c := range ops.Certificates() {
		net += c.Deposit(params)
	}
	return
}

func (ops Operations) WithdrawalTotal() (total uint64) {
	for _, op := range ops {
		if w, ok := op.(Withdrawal); ok {
			if w.Amount < 0 {
				total += uint64(-w.Amount)
			} else {
				total += uint64(w.Amount)
			}
		}
	}
	return
}

// ImpliedFee is the value left over once outputs, deposits and refunds are
// accounted for. It is never an explicit field of the transaction.
func (ops Operations) ImpliedFee(params DepositParameters) int64 {
	return int64(ops.InputTotal()) + int64(ops.WithdrawalTotal()) - int64(ops.OutputTotal()) - ops.NetDeposit(params)
}

// LastOutput returns the position of the last output operation, or -1.
func (ops Operations) LastOutput() int {
	for i := len(ops) - 1; i >= 0; i-- {
		if _, ok := ops[i].(Output); ok {
			return i
		}
	}
	return -1
}

func (ops Operations) Rosetta() []RosettaOperation {
	out := make([]RosettaOperation, 0, len(ops))
	for _, op := range ops {
		out = append(out, ToRosetta(op))
	}
	return out
}

func lovelaceAmount(value int64) *Amount {
	return &Amount{Value: strconv.FormatInt(value, 10), Currency: AdaCurrency}
}

func stakingCredential(keyHex string) *PublicKey {
	return &PublicKey{HexBytes: keyHex, CurveType: CurveEdwards25519}
}

func ToRosetta(op Operation) RosettaOperation {
	ro := RosettaOperation{
		OperationIdentifier: OperationIdentifier{Index: op.Index()},
		Type:                string(op.Type()),
		Account:             &AccountIdentifier{Address: op.Account()},
	}

	switch o := op.(type) {
	case Input:
		ro.Amount = lovelaceAmount(o.Amount)
		ro.CoinChange = &CoinChange{
			CoinIdentifier: CoinIdentifier{Identifier: o.CoinID},
			CoinAction:     CoinSpent,
		}
		if len(o.Assets) > 0 {
			ro.Metadata = &OperationMetadata{TokenBundle: o.Assets}
		}
	case Output:
		ro.Amount = lovelaceAmount(o.Amount)
		if len(o.Assets) > 0 {
			ro.Metadata = &OperationMetadata{TokenBundle: o.Assets}
		}
	case StakeKeyRegistration:
		ro.Metadata = &OperationMetadata{StakingCredential: stakingCredential(o.StakingCredential)}
	case StakeKeyDeregistration:
		ro.Metadata = &OperationMetadata{StakingCredential: stakingCredential(o.StakingCredential)}
	case StakeDelegation:
		ro.Metadata = &OperationMetadata{
			StakingCredential: stakingCredential(o.StakingCredential),
			PoolKeyHash:       o.PoolKeyHash,
		}
	case DRepVoteDelegation:
		drep := o.DRep
		ro.Metadata = &OperationMetadata{
			StakingCredential: stakingCredential(o.StakingCredential),
			DRep:              &drep,
		}
	case PoolRegistration:
		params := o.Params
		ro.Metadata = &OperationMetadata{PoolRegistrationParams: &params}
	case PoolRegistrationWithCert:
		ro.Metadata = &OperationMetadata{PoolRegistrationCert: o.Cert}
	case PoolRetirement:
		epoch := o.Epoch
		ro.Metadata = &OperationMetadata{Epoch: &epoch}
	case PoolGovernanceVote:
		params := o.Params
		ro.Metadata = &OperationMetadata{PoolGovernanceVoteParams: &params}
	case Withdrawal:
		ro.Amount = lovelaceAmount(o.Amount)
		ro.Metadata = &OperationMetadata{StakingCredential: stakingCredential(o.StakingCredential)}
	}

	return ro
}

func parseAmount(ro RosettaOperation) (value int64, err error) {
	if ro.Amount == nil {
		err = errors.Wrapf(ErrValidation, "operation %d (%s) has no amount", ro.OperationIdentifier.Index, ro.Type)
		return
	}
	value, err = strconv.ParseInt(ro.Amount.Value, 10, 64)
	if err != nil {
		err = errors.Wrapf(ErrValidation, "operation %d amount '%s': %v", ro.OperationIdentifier.Index, ro.Amount.Value, err)
	}
	return
}

func (m *OperationMetadata) credential() string {
	if m == nil || m.StakingCredential == nil {
		return ""
	}
	return m.StakingCredential.HexBytes
}

// OperationFromRosetta converts a wire operation into its typed variant.
func OperationFromRosetta(ro RosettaOperation) (op Operation, err error) {
	base := opBase{OpIndex: ro.OperationIdentifier.Index}
	if ro.Account != nil {
		base.Address = ro.Account.Address
	}
	meta := ro.Metadata

	switch OperationType(ro.Type) {
	case OperationInput:
		in := Input{opBase: base}
		if in.Amount, err = parseAmount(ro); err != nil {
			return
		}
		if ro.CoinChange != nil {
			in.CoinID = ro.CoinChange.CoinIdentifier.Identifier
		}
		if meta != nil {
			in.Assets = meta.TokenBundle
		}
		op = in
	case OperationOutput:
		out := Output{opBase: base}
		if out.Amount, err = parseAmount(ro); err != nil {
			return
		}
		if meta != nil {
			out.Assets = meta.TokenBundle
		}
		op = out
	case OperationStakeKeyRegistration:
		op = StakeKeyRegistration{base, meta.credential()}
	case OperationStakeKeyDeregistration:
		op = StakeKeyDeregistration{base, meta.credential()}
	case OperationStakeDelegation:
		o := StakeDelegation{opBase: base, StakingCredential: meta.credential()}
		if meta != nil {
			o.PoolKeyHash = meta.PoolKeyHash
		}
		op = o
	case OperationDRepVoteDelegation:
		o := DRepVoteDelegation{opBase: base, StakingCredential: meta.credential()}
		if meta != nil && meta.DRep != nil {
			o.DRep = *meta.DRep
		}
		op = o
	case OperationPoolRegistration:
		o := PoolRegistration{opBase: base}
		if meta != nil && meta.PoolRegistrationParams != nil {
			o.Params = *meta.PoolRegistrationParams
		}
		op = o
	case OperationPoolRegistrationWithCert:
		o := PoolRegistrationWithCert{opBase: base}
		if meta != nil {
			o.Cert = meta.PoolRegistrationCert
		}
		op = o
	case OperationPoolRetirement:
		o := PoolRetirement{opBase: base}
		if meta != nil && meta.Epoch != nil {
			o.Epoch = *meta.Epoch
		}
		op = o
	case OperationPoolGovernanceVote:
		o := PoolGovernanceVote{opBase: base}
		if meta != nil && meta.PoolGovernanceVoteParams != nil {
			o.Params = *meta.PoolGovernanceVoteParams
		}
		op = o
	case OperationWithdrawal:
		o := Withdrawal{opBase: base, StakingCredential: meta.credential()}
		if o.Amount, err = parseAmount(ro); err != nil {
			return
		}
		op = o
	default:
		err = errors.Wrapf(ErrValidation, "unknown operation type '%s'", ro.Type)
	}

	return
}

func OperationsFromRosetta(ros []RosettaOperation) (ops Operations, err error) {
	ops = make(Operations, 0, len(ros))
	for _, ro := range ros {
		op, err2 := OperationFromRosetta(ro)
		if err2 != nil {
			return nil, err2
		}
		ops = append(ops, op)
	}
	return
}
