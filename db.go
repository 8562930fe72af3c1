package cardano

import (
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type RecordState string

const (
	RecordSubmitted RecordState = "submitted"
	RecordConfirmed RecordState = "confirmed"
	RecordFailed    RecordState = "failed"
)

// TxRecord is one orchestration run as remembered by the journal.
type TxRecord struct {
	RunID        string      `json:"runId"`
	TxHash       string      `json:"txHash,omitempty"`
	Kind         string      `json:"kind"`
	State        RecordState `json:"state"`
	EstimatedFee uint64      `json:"estimatedFee"`
	Fee          uint64      `json:"fee"`
	OnchainFee   uint64      `json:"onchainFee"`
	BlockIndex   int64       `json:"blockIndex"`
	BlockHash    string      `json:"blockHash,omitempty"`
	Error        string      `json:"error,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Journal records what each run submitted and how it ended. It is an audit
// trail only; nothing reads it back to decide utxo availability.
type Journal interface {
	RecordSubmission(record TxRecord) error
	MarkConfirmed(txHash string, block BlockIdentifier, onchainFee uint64) error
	MarkFailed(runID string, kind string, reason string) error
	GetRecord(txHash string) (TxRecord, error)
	GetRun(runID string) (TxRecord, error)
	ListRecords(limit int) ([]TxRecord, error)
}
