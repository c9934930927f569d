package queue

import (
	"sort"
	"time"

	"cleaning-queue/internal/models"
)

// Tier is a work order's priority class. Lower values rank first.
type Tier int

const (
	TierFirmRush Tier = iota + 1
	TierRush
	TierRegular
)

func (t Tier) String() string {
	switch t {
	case TierFirmRush:
		return "firm_rush"
	case TierRush:
		return "rush"
	case TierRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// TierOf classifies an order. Firm rush dominates rush when both flags are
// set on the row.
func TierOf(wo models.WorkOrder) Tier {
	switch {
	case wo.FirmRush:
		return TierFirmRush
	case wo.Rush:
		return TierRush
	default:
		return TierRegular
	}
}

// sentinelDate sorts missing or unparseable dates after every real date.
// Equal sentinels still produce a total order via the order-number tie-break.
var sentinelDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func dateOrSentinel(t *time.Time) time.Time {
	if t == nil {
		return sentinelDate
	}
	return *t
}

// sortKey is the within-tier ordering key. Firm rush orders sort by
// required date first; the other tiers are FIFO on intake date. The order
// number breaks every remaining tie so the order is total and repeatable.
type sortKey struct {
	primary     time.Time
	secondary   time.Time
	orderNumber string
}

func keyOf(wo models.WorkOrder) sortKey {
	if TierOf(wo) == TierFirmRush {
		return sortKey{
			primary:     dateOrSentinel(wo.DateRequired),
			secondary:   dateOrSentinel(wo.DateIn),
			orderNumber: wo.OrderNumber,
		}
	}
	return sortKey{
		primary:     dateOrSentinel(wo.DateIn),
		secondary:   dateOrSentinel(wo.DateIn),
		orderNumber: wo.OrderNumber,
	}
}

func (k sortKey) less(o sortKey) bool {
	if !k.primary.Equal(o.primary) {
		return k.primary.Before(o.primary)
	}
	if !k.secondary.Equal(o.secondary) {
		return k.secondary.Before(o.secondary)
	}
	return k.orderNumber < o.orderNumber
}

func sortByKey(orders []models.WorkOrder) {
	sort.Slice(orders, func(i, j int) bool {
		return keyOf(orders[i]).less(keyOf(orders[j]))
	})
}

// PositionUpdate is one position write destined for the store.
type PositionUpdate struct {
	OrderNumber string
	Position    int
}

// planAssignments computes the complete set of position writes needed to
// rank every unranked open order without disturbing the relative order of
// already-ranked ones. It is a pure function over the snapshot; the caller
// commits the returned updates in a single transaction.
//
// New firm-rush orders go to the very front (every ranked order shifts down
// by their count), new rush orders slot in after the last firm-rush
// position, and new regular orders append after the maximum position. The
// second return value is the number of newly ranked orders.
func planAssignments(open []models.WorkOrder) ([]PositionUpdate, int) {
	pos := make(map[string]int)
	var ranked []models.WorkOrder
	var newFirm, newRush, newRegular []models.WorkOrder

	for _, wo := range open {
		if wo.Ranked() {
			pos[wo.OrderNumber] = *wo.Position
			ranked = append(ranked, wo)
			continue
		}
		switch TierOf(wo) {
		case TierFirmRush:
			newFirm = append(newFirm, wo)
		case TierRush:
			newRush = append(newRush, wo)
		default:
			newRegular = append(newRegular, wo)
		}
	}

	newly := len(newFirm) + len(newRush) + len(newRegular)
	if newly == 0 {
		return nil, 0
	}

	sortByKey(newFirm)
	sortByKey(newRush)
	sortByKey(newRegular)

	assigned := make(map[string]int)

	// Firm rush jumps the whole queue: shift everything ranked down and
	// hand out 1..k in sorted order.
	if k := len(newFirm); k > 0 {
		for n, p := range pos {
			pos[n] = p + k
		}
		for i, wo := range newFirm {
			assigned[wo.OrderNumber] = i + 1
		}
	}

	// Rush slots in after the last firm-rush position, whether that
	// position pre-existed or was just assigned above.
	if k := len(newRush); k > 0 {
		boundary := len(newFirm)
		for _, wo := range ranked {
			if TierOf(wo) == TierFirmRush && pos[wo.OrderNumber] > boundary {
				boundary = pos[wo.OrderNumber]
			}
		}
		for n, p := range pos {
			if p > boundary {
				pos[n] = p + k
			}
		}
		for i, wo := range newRush {
			assigned[wo.OrderNumber] = boundary + 1 + i
		}
	}

	// Regular appends after the maximum position across the whole open
	// set; nothing already ranked needs to move.
	if len(newRegular) > 0 {
		maxPos := 0
		for _, p := range pos {
			if p > maxPos {
				maxPos = p
			}
		}
		for _, p := range assigned {
			if p > maxPos {
				maxPos = p
			}
		}
		for i, wo := range newRegular {
			assigned[wo.OrderNumber] = maxPos + 1 + i
		}
	}

	var updates []PositionUpdate
	for _, wo := range ranked {
		if pos[wo.OrderNumber] != *wo.Position {
			updates = append(updates, PositionUpdate{OrderNumber: wo.OrderNumber, Position: pos[wo.OrderNumber]})
		}
	}
	for n, p := range assigned {
		updates = append(updates, PositionUpdate{OrderNumber: n, Position: p})
	}
	sort.Slice(updates, func(i, j int) bool {
		if updates[i].Position != updates[j].Position {
			return updates[i].Position < updates[j].Position
		}
		return updates[i].OrderNumber < updates[j].OrderNumber
	})
	return updates, newly
}
