package cardano

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReindex(t *testing.T) {
	utxo := testUtxos(5_000_000)[0]
	ops := Reindex([]Operation{
		NewInput(utxo),
		NewOutput(testAddress, 4_000_000),
		NewStakeKeyRegistration("stake_test1", "aa"),
	})
	for i, op := range ops {
		assert.Equal(t, int64(i), op.Index())
	}
	require.NoError(t, ops.Validate())
	assert.Equal(t, 1, ops.LastOutput())
}

func TestOperations_Validate(t *testing.T) {
	utxo := testUtxos(5_000_000)[0]

	testCases := []struct {
		name string
		ops  Operations
	}{
		{"empty", Operations{}},
		{"no outputs", Reindex([]Operation{NewInput(utxo)})},
		{"no inputs", Reindex([]Operation{NewOutput(testAddress, 1)})},
		{"zero output", Reindex([]Operation{NewInput(utxo), NewOutput(testAddress, 0)})},
		{"missing account", Reindex([]Operation{NewInput(utxo), NewOutput("", 1)})},
		{"unindexed", Operations{NewInput(utxo), NewOutput(testAddress, 1)}},
		{"nil", Operations{nil}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.ErrorIs(t, testCase.ops.Validate(), ErrValidation)
		})
	}
}

func TestOperations_RosettaRoundTrip(t *testing.T) {
	utxo := testUtxos(9_000_000)[0]
	utxo.Assets = []TokenBundle{{PolicyID: "policy", Tokens: []Token{{Name: "coin", Quantity: "10"}}}}

	ops := Reindex([]Operation{
		NewInput(utxo),
		NewOutput(testAddress, 5_000_000),
		NewStakeKeyRegistration("stake_test1a", "aa"),
		NewStakeKeyDeregistration("stake_test1a", "aa"),
		NewStakeDelegation("stake_test1a", "aa", "pool"),
		NewDRepVoteDelegation("stake_test1a", "aa", DRep{Type: DRepKeyHash, ID: "drep"}),
		NewPoolRegistration("pool", PoolRegistrationParams{VrfKeyHash: "vrf", PoolOwners: []string{"owner"}}),
		NewPoolRegistrationWithCert("pool", "cert"),
		NewPoolRetirement("pool", 12),
		NewPoolGovernanceVote("pool", PoolGovernanceVoteParams{GovernanceActionHash: "h#0", Vote: "no"}),
		Withdrawal{opBase: opBase{Address: "stake_test1a"}, StakingCredential: "aa", Amount: -10},
	})

	wire, err := json.Marshal(ops.Rosetta())
	require.NoError(t, err)

	var decoded []RosettaOperation
	require.NoError(t, json.Unmarshal(wire, &decoded))

	back, err := OperationsFromRosetta(decoded)
	require.NoError(t, err)
	assert.Equal(t, ops, back)

	in := decoded[0]
	assert.Equal(t, "-9000000", in.Amount.Value)
	assert.Equal(t, CoinSpent, in.CoinChange.CoinAction)
	assert.Equal(t, CurveEdwards25519, decoded[2].Metadata.StakingCredential.CurveType)
}

func TestOperations_WireTypes(t *testing.T) {
	utxo := testUtxos(9_000_000)[0]
	ops := Reindex([]Operation{
		NewInput(utxo),
		NewOutput(testAddress, 5_000_000),
		NewStakeKeyRegistration("stake_test1a", "aa"),
		NewStakeKeyDeregistration("stake_test1a", "aa"),
		NewStakeDelegation("stake_test1a", "aa", "pool"),
		NewDRepVoteDelegation("stake_test1a", "aa", DRep{Type: DRepAbstain}),
		NewPoolRegistration("pool", PoolRegistrationParams{}),
		NewPoolRegistrationWithCert("pool", "cert"),
		NewPoolRetirement("pool", 12),
		NewPoolGovernanceVote("pool", PoolGovernanceVoteParams{}),
	})

	var types []string
	for _, ro := range ops.Rosetta() {
		types = append(types, ro.Type)
	}
	assert.Equal(t, []string{
		"input",
		"output",
		"stakeKeyRegistration",
		"stakeKeyDeregistration",
		"stakeDelegation",
		"dRepVoteDelegation",
		"poolRegistration",
		"poolRegistrationWithCert",
		"poolRetirement",
		"poolGovernanceVote",
	}, types)

	var ro RosettaOperation
	require.NoError(t, json.Unmarshal([]byte(`{
		"operation_identifier": {"index": 2},
		"type": "dRepVoteDelegation",
		"account": {"address": "stake_test1a"},
		"metadata": {
			"staking_credential": {"hex_bytes": "aa", "curve_type": "edwards25519"},
			"drep": {"id": "drep", "type": "key_hash"}
		}
	}`), &ro))

	op, err := OperationFromRosetta(ro)
	require.NoError(t, err)
	vote, ok := op.(DRepVoteDelegation)
	require.True(t, ok)
	assert.Equal(t, DRep{ID: "drep", Type: DRepKeyHash}, vote.DRep)
	assert.Equal(t, "aa", vote.StakingCredential)
	assert.Equal(t, int64(2), vote.Index())
}

func TestOperationFromRosetta_Errors(t *testing.T) {
	_, err := OperationFromRosetta(RosettaOperation{Type: "mint"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = OperationFromRosetta(RosettaOperation{Type: string(OperationOutput)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = OperationFromRosetta(RosettaOperation{
		Type:   string(OperationInput),
		Amount: &Amount{Value: "1.5", Currency: AdaCurrency},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOperations_Accounting(t *testing.T) {
	utxos := testUtxos(10_000_000, 4_000_000)
	ops := Reindex([]Operation{
		NewInput(utxos[0]),
		NewInput(utxos[1]),
		NewOutput(testAddress, 6_000_000),
		NewOutput(testAddress, 3_800_000),
		NewStakeKeyRegistration("stake_test1a", "aa"),
		NewPoolRetirement("pool", 5),
	})

	assert.Equal(t, uint64(14_000_000), ops.InputTotal())
	assert.Equal(t, uint64(9_800_000), ops.OutputTotal())
	assert.Equal(t, int64(2_000_000), ops.NetDeposit(DefaultDepositParameters))
	assert.Equal(t, int64(2_200_000), ops.ImpliedFee(DefaultDepositParameters))
	assert.Equal(t, 3, ops.LastOutput())
	assert.Len(t, ops.Certificates(), 2)

	assert.Equal(t, -1, Operations{}.LastOutput())
}
