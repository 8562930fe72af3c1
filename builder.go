package cardano

import (
	"sort"

	"github.com/pkg/errors"
)

// OutputSpec describes one output. A Change output receives whatever is
// left once fixed outputs, deposits and the estimated fee are reserved.
type OutputSpec struct {
	Address  string
	Lovelace uint64
	Change   bool
}

// TxShape is everything a builder needs to lay out a transaction's
// operations: inputs, then outputs, then certificates.
type TxShape struct {
	Inputs       []Utxo
	Outputs      []OutputSpec
	Certificates []Certificate
	EstimatedFee uint64
	Deposits     DepositParameters
}

func (s TxShape) deposits() DepositParameters {
	if s.Deposits == (DepositParameters{}) {
		return DefaultDepositParameters
	}
	return s.Deposits
}

func BuildInputs(utxos []Utxo, start int64) []Operation {
	ops := make([]Operation, 0, len(utxos))
	for i, u := range utxos {
		ops = append(ops, NewInput(u).withIndex(start+int64(i)))
	}
	return ops
}

func certificateRank(c Certificate) int {
	switch c.(type) {
	case StakeKeyRegistration:
		return 0
	case PoolRegistration, PoolRegistrationWithCert:
		return 1
	default:
		return 2
	}
}

// BuildOperations lays out inputs, outputs and certificates with sequential
// indices. Registration is ordered ahead of delegation.
func BuildOperations(shape TxShape) (ops Operations, err error) {
	if len(shape.Inputs) == 0 {
		err = errors.Wrap(ErrValidation, "no inputs to spend")
		return
	}
	if len(shape.Outputs) == 0 {
		err = errors.Wrap(ErrValidation, "no outputs")
		return
	}

	seen := make(map[string]bool, len(shape.Inputs))
	for _, u := range shape.Inputs {
		if seen[u.ID()] {
			err = errors.Wrapf(ErrValidation, "utxo %s is spent twice", u.ID())
			return
		}
		seen[u.ID()] = true
	}

	deposits := shape.deposits()
	certs := append([]Certificate{}, shape.Certificates...)
	sort.SliceStable(certs, func(i, j int) bool {
		return certificateRank(certs[i]) < certificateRank(certs[j])
	})

	var netDeposit int64
	for _, c := range certs {
		netDeposit += c.Deposit(deposits)
	}

	available := int64(SumLovelace(shape.Inputs)) - netDeposit - int64(shape.EstimatedFee)

	changeAt := -1
	var fixed int64
	for i, o := range shape.Outputs {
		if err = ValidateAddress(o.Address); err != nil {
			err = errors.Wrapf(err, "output %d", i)
			return
		}
		if o.Change {
			if changeAt >= 0 {
				err = errors.Wrap(ErrValidation, "more than one change output")
				return
			}
			changeAt = i
			continue
		}
		fixed += int64(o.Lovelace)
	}

	if fixed > available {
		err = errors.Wrapf(
			ErrInsufficientFunds,
			"inputs cover %d lovelace after deposits and fee, outputs need %d",
			available,
			fixed)
		return
	}

	all := BuildInputs(shape.Inputs, 0)
	for _, o := range shape.Outputs {
		amount := int64(o.Lovelace)
		if o.Change {
			amount = available - fixed
		}
		if amount < int64(MinUtxoLovelace) {
			err = errors.Wrapf(
				ErrValidation,
				"output to %s of %d lovelace is below the %d minimum",
				o.Address,
				amount,
				MinUtxoLovelace)
			return
		}
		all = append(all, Output{opBase: opBase{Address: o.Address}, Amount: amount})
	}

	for _, c := range certs {
		all = append(all, c)
	}

	ops = Reindex(all)
	return
}

// Archetype carries the inputs common to every wallet driven transaction.
// Change always returns to the wallet's payment address.
type Archetype struct {
	Inputs       []Utxo
	Wallet       Wallet
	EstimatedFee uint64
	Deposits     DepositParameters
}

func (a Archetype) shape(certs ...Certificate) TxShape {
	return TxShape{
		Inputs:       a.Inputs,
		Outputs:      []OutputSpec{{Address: a.Wallet.Address(), Change: true}},
		Certificates: certs,
		EstimatedFee: a.EstimatedFee,
		Deposits:     a.Deposits,
	}
}

func (a Archetype) validate() error {
	if a.Wallet == nil {
		return errors.Wrap(ErrValidation, "archetype needs a wallet")
	}
	return nil
}

// BuildTransfer pays amount to the destination and returns change to the
// wallet. A zero amount sweeps every input to the destination.
func BuildTransfer(a Archetype, to string, amount uint64) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	if amount == 0 {
		return BuildOperations(TxShape{
			Inputs:       a.Inputs,
			Outputs:      []OutputSpec{{Address: to, Change: true}},
			EstimatedFee: a.EstimatedFee,
			Deposits:     a.Deposits,
		})
	}

	shape := a.shape()
	shape.Outputs = append([]OutputSpec{{Address: to, Lovelace: amount}}, shape.Outputs...)
	return BuildOperations(shape)
}

func BuildStakeKeyRegistration(a Archetype) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	w := a.Wallet
	return BuildOperations(a.shape(NewStakeKeyRegistration(w.StakeAddress(), w.StakeVerificationKeyHex())))
}

func BuildStakeKeyDeregistration(a Archetype) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	w := a.Wallet
	return BuildOperations(a.shape(NewStakeKeyDeregistration(w.StakeAddress(), w.StakeVerificationKeyHex())))
}

// BuildStakeDelegation delegates to a pool, registering the stake key in the
// same transaction when register is set.
func BuildStakeDelegation(a Archetype, poolKeyHash string, register bool) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if poolKeyHash == "" {
		return nil, errors.Wrap(ErrValidation, "delegation needs a pool key hash")
	}

	w := a.Wallet
	certs := []Certificate{NewStakeDelegation(w.StakeAddress(), w.StakeVerificationKeyHex(), poolKeyHash)}
	if register {
		certs = append(certs, NewStakeKeyRegistration(w.StakeAddress(), w.StakeVerificationKeyHex()))
	}
	return BuildOperations(a.shape(certs...))
}

func BuildDRepVoteDelegation(a Archetype, drep DRep, register bool) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}

	switch drep.Type {
	case DRepKeyHash, DRepScriptHash:
		if drep.ID == "" {
			return nil, errors.Wrapf(ErrValidation, "drep of type %s needs an id", drep.Type)
		}
	case DRepAbstain, DRepNoConfidence:
		drep.ID = ""
	default:
		return nil, errors.Wrapf(ErrValidation, "unknown drep type '%s'", drep.Type)
	}

	w := a.Wallet
	certs := []Certificate{NewDRepVoteDelegation(w.StakeAddress(), w.StakeVerificationKeyHex(), drep)}
	if register {
		certs = append(certs, NewStakeKeyRegistration(w.StakeAddress(), w.StakeVerificationKeyHex()))
	}
	return BuildOperations(a.shape(certs...))
}

func BuildPoolRegistration(a Archetype, poolKeyHash string, params PoolRegistrationParams) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if poolKeyHash == "" {
		return nil, errors.Wrap(ErrValidation, "pool registration needs a pool key hash")
	}
	if len(params.PoolOwners) == 0 {
		return nil, errors.Wrap(ErrValidation, "pool registration needs at least one owner")
	}
	return BuildOperations(a.shape(NewPoolRegistration(poolKeyHash, params)))
}

func BuildPoolRegistrationWithCert(a Archetype, poolKeyHash, certHex string) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if poolKeyHash == "" || certHex == "" {
		return nil, errors.Wrap(ErrValidation, "pool registration needs a pool key hash and certificate")
	}
	return BuildOperations(a.shape(NewPoolRegistrationWithCert(poolKeyHash, certHex)))
}

func BuildPoolRetirement(a Archetype, poolKeyHash string, epoch int64) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if poolKeyHash == "" || epoch <= 0 {
		return nil, errors.Wrap(ErrValidation, "pool retirement needs a pool key hash and a future epoch")
	}
	return BuildOperations(a.shape(NewPoolRetirement(poolKeyHash, epoch)))
}

func BuildPoolGovernanceVote(a Archetype, poolKeyHash string, params PoolGovernanceVoteParams) (Operations, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	switch params.Vote {
	case "yes", "no", "abstain":
	default:
		return nil, errors.Wrapf(ErrValidation, "invalid vote '%s'", params.Vote)
	}
	if params.GovernanceActionHash == "" {
		return nil, errors.Wrap(ErrValidation, "vote needs a governance action")
	}
	if params.PoolCredential.CurveType == "" {
		params.PoolCredential.CurveType = CurveEdwards25519
	}
	return BuildOperations(a.shape(NewPoolGovernanceVote(poolKeyHash, params)))
}
