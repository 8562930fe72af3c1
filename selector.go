package cardano

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type SelectionStrategy string

const (
	// StrategySingle picks the smallest ADA-only utxo covering the amount.
	StrategySingle SelectionStrategy = "single"
	// StrategyMultiple tries ascending, then descending windows of Count
	// utxos, then greedy descending accumulation.
	StrategyMultiple SelectionStrategy = "multiple"
)

type SelectionTier int

const (
	TierSingle SelectionTier = iota
	TierAscending
	TierDescending
	TierGreedy
)

func (t SelectionTier) String() string {
	switch t {
	case TierSingle:
		return "single"
	case TierAscending:
		return "ascending"
	case TierDescending:
		return "descending"
	case TierGreedy:
		return "greedy"
	default:
		return "unknown"
	}
}

type SelectRequest struct {
	Address  string
	Required uint64
	Strategy SelectionStrategy
	// Count is only used by StrategyMultiple.
	Count   int
	Exclude []string
	// AllowAssets admits utxos carrying native tokens.
	AllowAssets bool
}

// Selection is the outcome of a select call. CountDeviation is set when the
// greedy tier had to return a different number of utxos than requested.
type Selection struct {
	Utxos          []Utxo
	Total          uint64
	Tier           SelectionTier
	CountDeviation bool
	Lease          *Lease
}

// SelectFrom applies a selection strategy to an already fetched utxo list.
func SelectFrom(utxos []Utxo, req SelectRequest) (selection *Selection, err error) {
	excluded := make(map[string]bool, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = true
	}

	candidates := make([]Utxo, 0, len(utxos))
	for _, u := range utxos {
		if excluded[u.ID()] {
			continue
		}
		if !req.AllowAssets && !u.AdaOnly() {
			continue
		}
		candidates = append(candidates, u)
	}

	switch req.Strategy {
	case StrategySingle, "":
		return selectSingle(candidates, req.Required)
	case StrategyMultiple:
		return selectMultiple(candidates, req.Required, req.Count)
	default:
		err = errors.Wrapf(ErrValidation, "unknown selection strategy '%s'", req.Strategy)
		return
	}
}

func selectSingle(candidates []Utxo, required uint64) (*Selection, error) {
	var best *Utxo
	for i := range candidates {
		u := &candidates[i]
		if u.Lovelace < required {
			continue
		}
		if best == nil || u.Lovelace < best.Lovelace {
			best = u
		}
	}

	if best == nil {
		return nil, errors.Wrapf(
			ErrInsufficientFunds,
			"no single utxo of at least %d lovelace among %d candidates",
			required,
			len(candidates))
	}

	return &Selection{
		Utxos: []Utxo{*best},
		Total: best.Lovelace,
		Tier:  TierSingle,
	}, nil
}

func selectMultiple(candidates []Utxo, required uint64, count int) (*Selection, error) {
	if count <= 0 {
		return nil, errors.Wrapf(ErrValidation, "multiple selection needs a positive count, got %d", count)
	}

	ascending := append([]Utxo{}, candidates...)
	sort.SliceStable(ascending, func(i, j int) bool {
		return ascending[i].Lovelace < ascending[j].Lovelace
	})

	descending := append([]Utxo{}, candidates...)
	sort.SliceStable(descending, func(i, j int) bool {
		return descending[i].Lovelace > descending[j].Lovelace
	})

	if len(candidates) >= count {
		if total := SumLovelace(ascending[:count]); total >= required {
			return &Selection{Utxos: ascending[:count], Total: total, Tier: TierAscending}, nil
		}
		if total := SumLovelace(descending[:count]); total >= required {
			return &Selection{Utxos: descending[:count], Total: total, Tier: TierDescending}, nil
		}
	}

	var total uint64
	for i, u := range descending {
		total += u.Lovelace
		if total >= required {
			selected := descending[:i+1]
			deviation := len(selected) != count
			if deviation {
				log.Warn().Msgf(
					"utxo selection returned %d utxos instead of the %d requested to reach %d lovelace",
					len(selected),
					count,
					required)
			}
			return &Selection{
				Utxos:          selected,
				Total:          total,
				Tier:           TierGreedy,
				CountDeviation: deviation,
			}, nil
		}
	}

	return nil, errors.Wrapf(
		ErrInsufficientFunds,
		"%d candidate utxos hold %d lovelace, %d required",
		len(candidates),
		total,
		required)
}

// UtxoSelector selects utxos from a remote source and leases them so that
// later selections in the same run do not offer them again.
type UtxoSelector struct {
	source       UtxoSource
	reservations *Reservations
}

func NewUtxoSelector(source UtxoSource) *UtxoSelector {
	return &UtxoSelector{
		source:       source,
		reservations: NewReservations(),
	}
}

func (s *UtxoSelector) Reservations() *Reservations {
	return s.reservations
}

// Select fetches the address' utxos fresh and returns a leased selection.
// The caller must Release or Commit the lease.
func (s *UtxoSelector) Select(ctx context.Context, req SelectRequest) (selection *Selection, err error) {
	if req.Address == "" {
		err = errors.Wrap(ErrValidation, "select needs an address")
		return
	}

	utxos, err := s.source.GetUtxosForAddress(ctx, req.Address)
	if err != nil {
		return
	}

	req.Exclude = append(append([]string{}, req.Exclude...), s.reservations.Held()...)

	selection, err = SelectFrom(utxos, req)
	if err != nil {
		return
	}

	selection.Lease, err = s.reservations.Acquire(selection.Utxos)
	if err != nil {
		selection = nil
		return
	}

	log.Debug().Msgf(
		"selected %d utxos (%s tier) totalling %s ADA for %s",
		len(selection.Utxos),
		selection.Tier,
		FormatAda(int64(selection.Total)),
		req.Address)

	return
}

// Reservations is a run scoped registry of utxos handed out by a selector.
type Reservations struct {
	mu   sync.Mutex
	held map[string]*Lease
}

func NewReservations() *Reservations {
	return &Reservations{held: make(map[string]*Lease)}
}

func (r *Reservations) Acquire(utxos []Utxo) (lease *Lease, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(utxos))
	for _, u := range utxos {
		if _, taken := r.held[u.ID()]; taken {
			err = errors.Wrapf(ErrValidation, "utxo %s is already leased", u.ID())
			return
		}
		ids = append(ids, u.ID())
	}

	lease = &Lease{owner: r, ids: ids}
	for _, id := range ids {
		r.held[id] = lease
	}
	return
}

func (r *Reservations) Held() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.held))
	for id := range r.held {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Reservations) release(lease *Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range lease.ids {
		if r.held[id] == lease {
			delete(r.held, id)
		}
	}
}

// Lease holds utxos out of later selections until released. Committed
// leases stay held for the lifetime of the Reservations since their utxos
// are spent.
type Lease struct {
	owner     *Reservations
	ids       []string
	mu        sync.Mutex
	done      bool
	committed bool
}

func (l *Lease) IDs() []string {
	return append([]string{}, l.ids...)
}

// Release returns the utxos to the pool. It is a no-op after Commit or a
// previous Release, so it is safe to defer.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return
	}
	l.done = true
	l.owner.release(l)
}

func (l *Lease) Commit() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return
	}
	l.done = true
	l.committed = true
}

func (l *Lease) Committed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}
