package construction

import (
	"context"
	"time"

	. "github.com/alexdcox/cardano-rosetta-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type State int

const (
	StateNew State = iota
	StateBuilt
	StateMetadataFetched
	StatePayloadsReady
	StateSigned
	StateCombined
	StateSubmitted
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateBuilt:
		return "built"
	case StateMetadataFetched:
		return "metadata-fetched"
	case StatePayloadsReady:
		return "payloads-ready"
	case StateSigned:
		return "signed"
	case StateCombined:
		return "combined"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type runKey struct{}

// WithRunID tags a context with the run identifier used in log lines and
// journal records.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID returns the context's run identifier, or an empty string.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runKey{}).(string); ok {
		return id
	}
	return ""
}

func NewRunID() string {
	return uuid.NewString()
}

// progress follows one call through the state machine.
type progress struct {
	runID  string
	state  State
	log    zerolog.Logger
	since  time.Time
	events *Events
}

func newProgress(ctx context.Context, start State, events *Events) *progress {
	runID := RunID(ctx)
	ctxLog := Log().With()
	if runID != "" {
		ctxLog = ctxLog.Str("run", runID)
	}
	return &progress{
		runID:  runID,
		state:  start,
		log:    ctxLog.Logger(),
		since:  time.Now(),
		events: events,
	}
}

func (p *progress) advance(next State) {
	p.log.Debug().Msgf("%s -> %s (%s)", p.state, next, time.Since(p.since).Round(time.Millisecond))
	p.publish(next, nil)
	p.state = next
	p.since = time.Now()
}

// fail moves to StateFailed and hands the error back untouched.
func (p *progress) fail(err error) error {
	p.log.Error().Msgf("%s -> %s: %v", p.state, StateFailed, err)
	p.publish(StateFailed, err)
	p.state = StateFailed
	return err
}

func (p *progress) publish(next State, err error) {
	p.events.Publish(StateEvent{
		RunID: p.runID,
		From:  p.state,
		To:    next,
		At:    time.Now(),
		Err:   err,
	})
}
