package models

import (
	"fmt"
	"strings"
	"time"
)

// WorkOrder is the slice of a work order the queue engine reads and ranks.
// The full record (pricing, line items, customer contact) lives with the
// CRUD layer; the engine only touches priority flags, dates and position.
type WorkOrder struct {
	OrderNumber   string     `json:"order_number"`
	CustomerName  string     `json:"customer_name"`
	Description   string     `json:"description"`
	ShipTo        string     `json:"ship_to"`
	FirmRush      bool       `json:"firm_rush"`
	Rush          bool       `json:"rush"`
	DateIn        *time.Time `json:"date_in,omitempty"`
	DateRequired  *time.Time `json:"date_required,omitempty"`
	DateCompleted *time.Time `json:"date_completed,omitempty"`
	Position      *int       `json:"position,omitempty"`
}

// Open reports whether the order is still in the queue universe.
// Once a completion date is set the order never re-enters.
func (w WorkOrder) Open() bool {
	return w.DateCompleted == nil
}

// Ranked reports whether the order has been assigned a position.
func (w WorkOrder) Ranked() bool {
	return w.Position != nil
}

// dateLayouts covers the formats found in rows imported from the old
// Access database plus anything written by the current system.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
}

// ParseDate converts a legacy date string into a time. An empty string is
// an ordinary missing value (nil, no error). Anything else that fails every
// known layout returns an error so the caller can log it; the sort layer
// treats the resulting nil as a maximum sentinel either way.
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable date %q", raw)
}

// FormatDate renders a date for storage in the legacy text columns.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
