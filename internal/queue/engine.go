package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"cleaning-queue/internal/models"
	"cleaning-queue/internal/telemetry"
)

// Repository is the persistence boundary for the engine. Implementations
// must make ApplyPositions and ResetPositions atomic: on error nothing is
// written and positions stay exactly as they were.
type Repository interface {
	// OpenOrders returns a snapshot of every order with no completion
	// date, ordered by position with nulls last.
	OpenOrders(ctx context.Context) ([]models.WorkOrder, error)
	// SearchOpen returns one page of open orders matching the query plus
	// the total match count.
	SearchOpen(ctx context.Context, q SearchQuery) ([]models.WorkOrder, int, error)
	// ApplyPositions writes the batch in one transaction. Order numbers
	// that match no open row are returned as failed; the rest commit.
	ApplyPositions(ctx context.Context, updates []PositionUpdate) ([]string, error)
	// ResetPositions clears every open order's position and applies the
	// given assignment in the same transaction. Returns the cleared count.
	ResetPositions(ctx context.Context, updates []PositionUpdate) (int, error)
	AppendAudit(ctx context.Context, event, detail string) error
}

// SearchQuery filters and paginates the open-order listing.
type SearchQuery struct {
	Search         string
	ExcludeShipTos []string
	Limit          int
	Offset         int
}

// Archiver persists a snapshot of the queue ordering before destructive
// operations. Optional.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, orders []models.WorkOrder) (string, error)
}

var (
	// ErrResetNotForced is returned when reset is called without the
	// force flag; reset destroys all manual ordering history.
	ErrResetNotForced = errors.New("reset requires force")
	// ErrEmptyReorder is returned for a reorder call with no order numbers.
	ErrEmptyReorder = errors.New("reorder list is empty")
)

// Engine owns the total order over open work orders. It is the sole writer
// of the position field.
//
// Calls are independent read-then-write sequences with per-call transactions
// only; two renumbering calls racing can interleave and produce duplicate
// positions. Accepted for the write concurrency of a small shop; a reset
// repairs any drift.
type Engine struct {
	repo     Repository
	archiver Archiver
	excluded []string
}

// Options carries optional engine collaborators and policy.
type Options struct {
	// Archiver, when set, receives a pre-reset snapshot of the queue.
	Archiver Archiver
	// ExcludedShipTos are destinations hidden from the listing unless the
	// caller asks for them.
	ExcludedShipTos []string
}

// New constructs the engine over a repository.
func New(repo Repository, opts Options) *Engine {
	return &Engine{
		repo:     repo,
		archiver: opts.Archiver,
		excluded: opts.ExcludedShipTos,
	}
}

// InitResult reports an initialization pass.
type InitResult struct {
	NewlyRanked int `json:"newly_ranked"`
}

// InitializeUnassigned assigns positions to every unranked open order while
// preserving the committed order of already-ranked ones. Calling it again
// with no new orders is a no-op returning zero.
func (e *Engine) InitializeUnassigned(ctx context.Context) (InitResult, error) {
	open, err := e.repo.OpenOrders(ctx)
	if err != nil {
		return InitResult{}, fmt.Errorf("load open orders: %w", err)
	}
	updates, newly := planAssignments(open)
	if newly == 0 {
		return InitResult{}, nil
	}
	if _, err := e.repo.ApplyPositions(ctx, updates); err != nil {
		return InitResult{}, fmt.Errorf("apply positions: %w", err)
	}
	telemetry.OrdersRanked.Add(float64(newly))
	_ = e.repo.AppendAudit(ctx, "initialized", fmt.Sprintf("newly_ranked=%d", newly))
	return InitResult{NewlyRanked: newly}, nil
}

// ResetResult reports a full recompute.
type ResetResult struct {
	Cleared       int    `json:"cleared"`
	Reinitialized int    `json:"reinitialized"`
	SnapshotRef   string `json:"snapshot_ref,omitempty"`
}

// Reset clears every open order's position and recomputes the full order
// from sort keys alone. All manual ordering history is lost, so force must
// be set. When an archiver is configured the pre-reset ordering is saved
// first; an archive failure is logged but does not block the reset.
func (e *Engine) Reset(ctx context.Context, force bool) (ResetResult, error) {
	if !force {
		return ResetResult{}, ErrResetNotForced
	}
	open, err := e.repo.OpenOrders(ctx)
	if err != nil {
		return ResetResult{}, fmt.Errorf("load open orders: %w", err)
	}

	var snapshotRef string
	if e.archiver != nil && len(open) > 0 {
		ref, err := e.archiver.ArchiveSnapshot(ctx, open)
		if err != nil {
			log.Printf("queue: pre-reset snapshot failed: %v", err)
		} else {
			snapshotRef = ref
		}
	}

	for i := range open {
		open[i].Position = nil
	}
	updates, newly := planAssignments(open)
	cleared, err := e.repo.ResetPositions(ctx, updates)
	if err != nil {
		return ResetResult{}, fmt.Errorf("reset positions: %w", err)
	}
	telemetry.Resets.Inc()
	_ = e.repo.AppendAudit(ctx, "reset", fmt.Sprintf("cleared=%d reinitialized=%d", cleared, newly))
	return ResetResult{Cleared: cleared, Reinitialized: newly, SnapshotRef: snapshotRef}, nil
}

// ReorderResult reports a manual reorder batch.
type ReorderResult struct {
	Updated   int      `json:"updated"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// Reorder assigns contiguous positions to one page of the queue in the
// caller's order, starting at (page-1)*perPage+1. Unknown or completed
// order numbers are collected as failed without aborting the rest. Mixing
// tiers within the page is allowed for a trusted operator but is logged and
// counted as a monitored exception.
func (e *Engine) Reorder(ctx context.Context, orderNumbers []string, page, perPage int) (ReorderResult, error) {
	if len(orderNumbers) == 0 {
		return ReorderResult{}, ErrEmptyReorder
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 25
	}

	open, err := e.repo.OpenOrders(ctx)
	if err != nil {
		return ReorderResult{}, fmt.Errorf("load open orders: %w", err)
	}
	e.noteCrossTierMix(orderNumbers, open)

	start := (page-1)*perPage + 1
	updates := make([]PositionUpdate, 0, len(orderNumbers))
	for i, n := range orderNumbers {
		updates = append(updates, PositionUpdate{OrderNumber: n, Position: start + i})
	}
	failed, err := e.repo.ApplyPositions(ctx, updates)
	if err != nil {
		return ReorderResult{}, fmt.Errorf("apply reorder: %w", err)
	}
	if len(failed) > 0 {
		telemetry.ReorderFailures.Add(float64(len(failed)))
		log.Printf("queue: reorder skipped unknown orders: %s", strings.Join(failed, ","))
	}
	updated := len(orderNumbers) - len(failed)
	_ = e.repo.AppendAudit(ctx, "reordered", fmt.Sprintf("page=%d per_page=%d updated=%d failed=%d", page, perPage, updated, len(failed)))
	return ReorderResult{Updated: updated, FailedIDs: failed}, nil
}

// noteCrossTierMix flags a reorder page whose tier sequence is not
// monotonically non-increasing in priority. Allowed, but monitored.
func (e *Engine) noteCrossTierMix(orderNumbers []string, open []models.WorkOrder) {
	tiers := make(map[string]Tier, len(open))
	for _, wo := range open {
		tiers[wo.OrderNumber] = TierOf(wo)
	}
	last := Tier(0)
	for _, n := range orderNumbers {
		t, ok := tiers[n]
		if !ok {
			continue
		}
		if t < last {
			telemetry.CrossTierReorders.Inc()
			log.Printf("queue: manual reorder mixes tiers (%s before %s at %s)", last, t, n)
			return
		}
		last = t
	}
}

// RankedOrder is a listing row annotated with its tier.
type RankedOrder struct {
	models.WorkOrder
	Tier string `json:"tier"`
}

// ListParams filters and paginates the queue view.
type ListParams struct {
	Search       string
	Page         int
	PerPage      int
	ShowExcluded bool
}

// ListPage is one page of the queue view.
type ListPage struct {
	Orders      []RankedOrder `json:"orders"`
	Total       int           `json:"total"`
	Page        int           `json:"page"`
	PerPage     int           `json:"per_page"`
	NewlyRanked int           `json:"newly_ranked,omitempty"`
}

// List returns the paginated, filtered, tier-annotated queue view. Unranked
// open orders are ranked first so every listing self-heals missing
// positions before rendering.
func (e *Engine) List(ctx context.Context, p ListParams) (ListPage, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 25
	}

	init, err := e.InitializeUnassigned(ctx)
	if err != nil {
		return ListPage{}, err
	}

	q := SearchQuery{
		Search: p.Search,
		Limit:  p.PerPage,
		Offset: (p.Page - 1) * p.PerPage,
	}
	if !p.ShowExcluded {
		q.ExcludeShipTos = e.excluded
	}
	orders, total, err := e.repo.SearchOpen(ctx, q)
	if err != nil {
		return ListPage{}, fmt.Errorf("search open orders: %w", err)
	}
	rows := make([]RankedOrder, 0, len(orders))
	for _, wo := range orders {
		rows = append(rows, RankedOrder{WorkOrder: wo, Tier: TierOf(wo).String()})
	}
	return ListPage{
		Orders:      rows,
		Total:       total,
		Page:        p.Page,
		PerPage:     p.PerPage,
		NewlyRanked: init.NewlyRanked,
	}, nil
}

// Summary is the per-tier head count of the open queue.
type Summary struct {
	FirmRush int `json:"firm_rush"`
	Rush     int `json:"rush"`
	Regular  int `json:"regular"`
	Total    int `json:"total"`
	Unranked int `json:"unranked"`
}

// Summarize counts open orders per tier and refreshes the depth gauges.
func (e *Engine) Summarize(ctx context.Context) (Summary, error) {
	open, err := e.repo.OpenOrders(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load open orders: %w", err)
	}
	var s Summary
	for _, wo := range open {
		switch TierOf(wo) {
		case TierFirmRush:
			s.FirmRush++
		case TierRush:
			s.Rush++
		default:
			s.Regular++
		}
		if !wo.Ranked() {
			s.Unranked++
		}
	}
	s.Total = len(open)
	telemetry.OpenOrders.Set(float64(s.Total))
	telemetry.TierDepth.WithLabelValues(TierFirmRush.String()).Set(float64(s.FirmRush))
	telemetry.TierDepth.WithLabelValues(TierRush.String()).Set(float64(s.Rush))
	telemetry.TierDepth.WithLabelValues(TierRegular.String()).Set(float64(s.Regular))
	return s, nil
}

// Preview returns the next limit orders to work, walking tiers in priority
// order, each tier internally sorted by position then sort key. Like List,
// it ranks any unranked orders first.
func (e *Engine) Preview(ctx context.Context, limit int) ([]RankedOrder, error) {
	if limit < 1 {
		limit = 10
	}
	if _, err := e.InitializeUnassigned(ctx); err != nil {
		return nil, err
	}
	open, err := e.repo.OpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}

	byTier := map[Tier][]models.WorkOrder{}
	for _, wo := range open {
		t := TierOf(wo)
		byTier[t] = append(byTier[t], wo)
	}
	out := make([]RankedOrder, 0, limit)
	for _, t := range []Tier{TierFirmRush, TierRush, TierRegular} {
		tier := byTier[t]
		sort.Slice(tier, func(i, j int) bool {
			a, b := tier[i], tier[j]
			switch {
			case a.Ranked() && b.Ranked() && *a.Position != *b.Position:
				return *a.Position < *b.Position
			case a.Ranked() != b.Ranked():
				return a.Ranked()
			default:
				return keyOf(a).less(keyOf(b))
			}
		})
		for _, wo := range tier {
			if len(out) == limit {
				return out, nil
			}
			out = append(out, RankedOrder{WorkOrder: wo, Tier: t.String()})
		}
	}
	return out, nil
}
