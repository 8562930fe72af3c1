package cardano

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "addr_test1vztc80na8320zymhjekl40yjsnxkcvhu58x59mc2fuwvgkc332vxv"

func testUtxos(amounts ...uint64) []Utxo {
	utxos := make([]Utxo, 0, len(amounts))
	for i, a := range amounts {
		utxos = append(utxos, Utxo{
			TxHash:   fmt.Sprintf("%064x", i+1),
			Index:    uint32(i),
			Owner:    testAddress,
			Lovelace: a,
		})
	}
	return utxos
}

func lovelaces(utxos []Utxo) (out []uint64) {
	for _, u := range utxos {
		out = append(out, u.Lovelace)
	}
	return
}

type staticSource struct {
	utxos []Utxo
	err   error
	calls int
}

func (s *staticSource) GetUtxosForAddress(ctx context.Context, address string) ([]Utxo, error) {
	s.calls++
	return s.utxos, s.err
}

func TestSelectFrom_Single(t *testing.T) {
	selection, err := SelectFrom(testUtxos(2_000_000, 6_000_000, 9_000_000), SelectRequest{
		Required: 5_000_000,
		Strategy: StrategySingle,
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{6_000_000}, lovelaces(selection.Utxos))
	assert.Equal(t, TierSingle, selection.Tier)
	assert.Equal(t, uint64(6_000_000), selection.Total)
}

func TestSelectFrom_SingleSkipsAssetsAndExcluded(t *testing.T) {
	utxos := testUtxos(6_000_000, 7_000_000, 9_000_000)
	utxos[0].Assets = []TokenBundle{{PolicyID: "policy", Tokens: []Token{{Name: "t", Quantity: "1"}}}}

	selection, err := SelectFrom(utxos, SelectRequest{
		Required: 5_000_000,
		Exclude:  []string{utxos[1].ID()},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{9_000_000}, lovelaces(selection.Utxos))

	selection, err = SelectFrom(utxos, SelectRequest{Required: 5_000_000, AllowAssets: true})
	require.NoError(t, err)
	assert.Equal(t, []uint64{6_000_000}, lovelaces(selection.Utxos))
}

func TestSelectFrom_SingleInsufficient(t *testing.T) {
	_, err := SelectFrom(testUtxos(2_000_000, 3_000_000), SelectRequest{Required: 5_000_000})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestSelectFrom_MultipleAscending(t *testing.T) {
	selection, err := SelectFrom(testUtxos(5_000_000, 1_000_000, 2_000_000, 3_000_000), SelectRequest{
		Required: 5_000_000,
		Strategy: StrategyMultiple,
		Count:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, TierAscending, selection.Tier)
	assert.Equal(t, []uint64{1_000_000, 2_000_000, 3_000_000}, lovelaces(selection.Utxos))
	assert.False(t, selection.CountDeviation)
}

func TestSelectFrom_MultipleDescendingFallback(t *testing.T) {
	selection, err := SelectFrom(testUtxos(1_000_000, 2_000_000, 3_000_000, 15_000_000, 15_000_000), SelectRequest{
		Required: 20_000_000,
		Strategy: StrategyMultiple,
		Count:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, TierDescending, selection.Tier)
	assert.Len(t, selection.Utxos, 3)
	assert.Equal(t, []uint64{15_000_000, 15_000_000, 3_000_000}, lovelaces(selection.Utxos))
	assert.Equal(t, uint64(33_000_000), selection.Total)
	assert.False(t, selection.CountDeviation)
}

func TestSelectFrom_MultipleGreedyDeviation(t *testing.T) {
	// too few utxos for the requested count
	selection, err := SelectFrom(testUtxos(4_000_000, 8_000_000), SelectRequest{
		Required: 10_000_000,
		Strategy: StrategyMultiple,
		Count:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, TierGreedy, selection.Tier)
	assert.Equal(t, []uint64{8_000_000, 4_000_000}, lovelaces(selection.Utxos))
	assert.True(t, selection.CountDeviation)

	// the top three are not enough, so greedy takes a fourth
	selection, err = SelectFrom(testUtxos(3_000_000, 3_000_000, 3_000_000, 3_000_000), SelectRequest{
		Required: 10_000_000,
		Strategy: StrategyMultiple,
		Count:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, TierGreedy, selection.Tier)
	assert.Len(t, selection.Utxos, 4)
	assert.True(t, selection.CountDeviation)
}

func TestSelectFrom_MultipleErrors(t *testing.T) {
	_, err := SelectFrom(testUtxos(1_000_000), SelectRequest{Required: 1, Strategy: StrategyMultiple})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = SelectFrom(testUtxos(1_000_000, 2_000_000), SelectRequest{
		Required: 50_000_000,
		Strategy: StrategyMultiple,
		Count:    2,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = SelectFrom(testUtxos(1_000_000), SelectRequest{Required: 1, Strategy: "random"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUtxoSelector_LeaseExcludesUntilReleased(t *testing.T) {
	source := &staticSource{utxos: testUtxos(6_000_000, 7_000_000)}
	selector := NewUtxoSelector(source)
	ctx := context.Background()

	first, err := selector.Select(ctx, SelectRequest{Address: testAddress, Required: 5_000_000})
	require.NoError(t, err)
	assert.Equal(t, []uint64{6_000_000}, lovelaces(first.Utxos))
	assert.Equal(t, []string{first.Utxos[0].ID()}, selector.Reservations().Held())

	second, err := selector.Select(ctx, SelectRequest{Address: testAddress, Required: 5_000_000})
	require.NoError(t, err)
	assert.Equal(t, []uint64{7_000_000}, lovelaces(second.Utxos))

	_, err = selector.Select(ctx, SelectRequest{Address: testAddress, Required: 5_000_000})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	first.Lease.Release()
	first.Lease.Release()

	third, err := selector.Select(ctx, SelectRequest{Address: testAddress, Required: 5_000_000})
	require.NoError(t, err)
	assert.Equal(t, first.Utxos, third.Utxos)
	assert.Equal(t, 4, source.calls)
}

func TestUtxoSelector_CommittedLeaseStaysHeld(t *testing.T) {
	source := &staticSource{utxos: testUtxos(6_000_000)}
	selector := NewUtxoSelector(source)

	selection, err := selector.Select(context.Background(), SelectRequest{Address: testAddress, Required: 1})
	require.NoError(t, err)

	selection.Lease.Commit()
	selection.Lease.Release()
	assert.True(t, selection.Lease.Committed())
	assert.Len(t, selector.Reservations().Held(), 1)
}

func TestUtxoSelector_SourceError(t *testing.T) {
	source := &staticSource{err: errors.Wrap(ErrNetwork, "down")}
	_, err := NewUtxoSelector(source).Select(context.Background(), SelectRequest{Address: testAddress, Required: 1})
	assert.ErrorIs(t, err, ErrNetwork)

	_, err = NewUtxoSelector(source).Select(context.Background(), SelectRequest{Required: 1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReservations_DoubleAcquire(t *testing.T) {
	r := NewReservations()
	utxos := testUtxos(1_000_000)

	lease, err := r.Acquire(utxos)
	require.NoError(t, err)
	assert.Equal(t, []string{utxos[0].ID()}, lease.IDs())

	_, err = r.Acquire(utxos)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseCoinIdentifier(t *testing.T) {
	hash, index, err := ParseCoinIdentifier("abcd:3")
	require.NoError(t, err)
	assert.Equal(t, "abcd", hash)
	assert.Equal(t, uint32(3), index)

	for _, bad := range []string{"abcd", ":1", "abcd:x"} {
		_, _, err = ParseCoinIdentifier(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestValidateTxHash(t *testing.T) {
	assert.NoError(t, ValidateTxHash(testUtxos(1)[0].TxHash))

	for _, bad := range []string{"", "abcd", fmt.Sprintf("%064X", 0xabc), fmt.Sprintf("%063x", 1) + "g"} {
		assert.ErrorIs(t, ValidateTxHash(bad), ErrValidation, bad)
	}
}
