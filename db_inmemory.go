package cardano

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type InMemoryJournal struct {
	runs map[string]*TxRecord
	mu   sync.RWMutex
}

var _ Journal = &InMemoryJournal{}

func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{runs: make(map[string]*TxRecord)}
}

func (j *InMemoryJournal) RecordSubmission(record TxRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if record.RunID == "" || record.TxHash == "" {
		return errors.Wrap(ErrValidation, "submission record needs a run id and tx hash")
	}

	record.State = RecordSubmitted
	record.BlockIndex = -1
	record.UpdatedAt = time.Now()
	j.runs[record.RunID] = &record
	return nil
}

func (j *InMemoryJournal) find(txHash string) *TxRecord {
	for _, r := range j.runs {
		if r.TxHash == txHash {
			return r
		}
	}
	return nil
}

func (j *InMemoryJournal) MarkConfirmed(txHash string, block BlockIdentifier, onchainFee uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r := j.find(txHash)
	if r == nil {
		return errors.Wrapf(ErrNotFound, "no journal record for tx %s", txHash)
	}

	r.State = RecordConfirmed
	r.BlockIndex = block.Index
	r.BlockHash = block.Hash
	r.OnchainFee = onchainFee
	r.UpdatedAt = time.Now()
	return nil
}

func (j *InMemoryJournal) MarkFailed(runID string, kind string, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, ok := j.runs[runID]
	if !ok {
		r = &TxRecord{RunID: runID, Kind: kind, BlockIndex: -1}
		j.runs[runID] = r
	}

	r.State = RecordFailed
	r.Error = reason
	r.UpdatedAt = time.Now()
	return nil
}

func (j *InMemoryJournal) GetRecord(txHash string) (TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if r := j.find(txHash); r != nil {
		return *r, nil
	}
	return TxRecord{}, errors.Wrapf(ErrNotFound, "no journal record for tx %s", txHash)
}

func (j *InMemoryJournal) GetRun(runID string) (TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if r, ok := j.runs[runID]; ok {
		return *r, nil
	}
	return TxRecord{}, errors.Wrapf(ErrNotFound, "no journal record for run %s", runID)
}

func (j *InMemoryJournal) ListRecords(limit int) ([]TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	records := make([]TxRecord, 0, len(j.runs))
	for _, r := range j.runs {
		records = append(records, *r)
	}

	sort.Slice(records, func(a, b int) bool {
		return records[a].UpdatedAt.After(records[b].UpdatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
