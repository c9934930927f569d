package queue

import (
	"testing"
	"time"

	"cleaning-queue/internal/models"
)

func TestTierOfFirmRushDominates(t *testing.T) {
	wo := models.WorkOrder{OrderNumber: "X", FirmRush: true, Rush: true}
	if got := TierOf(wo); got != TierFirmRush {
		t.Fatalf("TierOf = %v, want firm rush when both flags set", got)
	}
}

func TestSortKeySentinelTieBreak(t *testing.T) {
	// Two firm-rush orders with no required date at all: both hit the
	// sentinel, so the order number must decide, stably.
	a := models.WorkOrder{OrderNumber: "WO2", FirmRush: true}
	b := models.WorkOrder{OrderNumber: "WO10", FirmRush: true}
	if !keyOf(b).less(keyOf(a)) {
		t.Fatalf("expected WO10 < WO2 lexicographically under equal sentinels")
	}
	if keyOf(a).less(keyOf(b)) {
		t.Fatalf("sentinel comparison is not a total order")
	}
}

func TestSortKeyRealDateBeatsSentinel(t *testing.T) {
	in := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	dated := models.WorkOrder{OrderNumber: "Z", DateIn: &in}
	undated := models.WorkOrder{OrderNumber: "A"}
	if !keyOf(dated).less(keyOf(undated)) {
		t.Fatalf("dated order must sort before undated regardless of order number")
	}
}

func TestFirmRushKeyUsesRequiredThenIntake(t *testing.T) {
	req := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	a := models.WorkOrder{OrderNumber: "B", FirmRush: true, DateRequired: &req, DateIn: &early}
	b := models.WorkOrder{OrderNumber: "A", FirmRush: true, DateRequired: &req, DateIn: &late}
	if !keyOf(a).less(keyOf(b)) {
		t.Fatalf("equal deadlines must fall back to intake date before order number")
	}
}
