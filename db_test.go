package cardano

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journals(t *testing.T) map[string]Journal {
	sqlite, err := NewSqliteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlite.Close()
	})

	return map[string]Journal{
		"memory": NewInMemoryJournal(),
		"sqlite": sqlite,
	}
}

func TestJournal(t *testing.T) {
	for name, journal := range journals(t) {
		t.Run(name, func(t *testing.T) {
			err := journal.RecordSubmission(TxRecord{
				RunID:        "run-1",
				TxHash:       "hash-1",
				Kind:         "stake-key-registration",
				EstimatedFee: 200_000,
				Fee:          172_345,
			})
			require.NoError(t, err)

			record, err := journal.GetRecord("hash-1")
			require.NoError(t, err)
			assert.Equal(t, "run-1", record.RunID)
			assert.Equal(t, RecordSubmitted, record.State)
			assert.Equal(t, uint64(172_345), record.Fee)
			assert.Equal(t, int64(-1), record.BlockIndex)

			err = journal.MarkConfirmed("hash-1", BlockIdentifier{Index: 42, Hash: "block-42"}, 2_172_345)
			require.NoError(t, err)

			record, err = journal.GetRun("run-1")
			require.NoError(t, err)
			assert.Equal(t, RecordConfirmed, record.State)
			assert.Equal(t, int64(42), record.BlockIndex)
			assert.Equal(t, "block-42", record.BlockHash)
			assert.Equal(t, uint64(2_172_345), record.OnchainFee)
			assert.Equal(t, "stake-key-registration", record.Kind)

			// a run can fail before it ever had a tx hash
			require.NoError(t, journal.MarkFailed("run-2", "transfer", "insufficient funds"))
			record, err = journal.GetRun("run-2")
			require.NoError(t, err)
			assert.Equal(t, RecordFailed, record.State)
			assert.Equal(t, "insufficient funds", record.Error)
			assert.Empty(t, record.TxHash)

			records, err := journal.ListRecords(0)
			require.NoError(t, err)
			assert.Len(t, records, 2)

			records, err = journal.ListRecords(1)
			require.NoError(t, err)
			assert.Len(t, records, 1)
		})
	}
}

func TestJournal_Errors(t *testing.T) {
	for name, journal := range journals(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, journal.RecordSubmission(TxRecord{RunID: "run"}), ErrValidation)
			assert.ErrorIs(t, journal.MarkConfirmed("missing", BlockIdentifier{}, 0), ErrNotFound)

			_, err := journal.GetRecord("missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = journal.GetRun("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSqliteJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	journal, err := NewSqliteJournal(path)
	require.NoError(t, err)
	require.NoError(t, journal.RecordSubmission(TxRecord{RunID: "run", TxHash: "hash", Kind: "transfer"}))
	require.NoError(t, journal.Close())

	journal, err = NewSqliteJournal(path)
	require.NoError(t, err)
	defer journal.Close()

	record, err := journal.GetRecord("hash")
	require.NoError(t, err)
	assert.Equal(t, "run", record.RunID)
}
