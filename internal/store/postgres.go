package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"cleaning-queue/internal/models"
	"cleaning-queue/internal/queue"
	"cleaning-queue/internal/telemetry"
)

// Store wraps pgxpool for Postgres persistence of work orders and implements
// the queue engine's repository.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const workOrderColumns = `order_number, customer_name, description, ship_to, firm_rush, rush, date_in, date_required, date_completed, position`

// OpenOrders returns every order with no completion date, ordered by
// position with nulls last.
func (s *Store) OpenOrders(ctx context.Context) ([]models.WorkOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workOrderColumns+`
		FROM work_orders
		WHERE date_completed IS NULL
		ORDER BY position ASC NULLS LAST, order_number ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()
	return scanWorkOrders(rows)
}

// SearchOpen returns one page of open orders matching the query and the
// total match count. The search term matches order number, customer,
// description and ship-to destination.
func (s *Store) SearchOpen(ctx context.Context, q queue.SearchQuery) ([]models.WorkOrder, int, error) {
	excluded := q.ExcludeShipTos
	if excluded == nil {
		excluded = []string{}
	}
	where := `
		WHERE date_completed IS NULL
		  AND ($1 = '' OR order_number ILIKE '%' || $1 || '%'
		       OR customer_name ILIKE '%' || $1 || '%'
		       OR description ILIKE '%' || $1 || '%'
		       OR ship_to ILIKE '%' || $1 || '%')
		  AND (cardinality($2::text[]) = 0 OR ship_to != ALL($2::text[]))`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM work_orders`+where, q.Search, excluded).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count open orders: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+workOrderColumns+`
		FROM work_orders`+where+`
		ORDER BY position ASC NULLS LAST, order_number ASC
		LIMIT $3 OFFSET $4
	`, q.Search, excluded, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search open orders: %w", err)
	}
	defer rows.Close()
	orders, err := scanWorkOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ApplyPositions writes a batch of position updates in one transaction.
// Order numbers matching no open row are collected and returned; the rest
// commit together. Any storage error rolls the whole batch back.
func (s *Store) ApplyPositions(ctx context.Context, updates []queue.PositionUpdate) ([]string, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var failed []string
	for _, u := range updates {
		tag, err := tx.Exec(ctx, `
			UPDATE work_orders
			SET position = $2, updated_at = NOW()
			WHERE order_number = $1 AND date_completed IS NULL
		`, u.OrderNumber, u.Position)
		if err != nil {
			return nil, fmt.Errorf("update position for %s: %w", u.OrderNumber, err)
		}
		if tag.RowsAffected() == 0 {
			failed = append(failed, u.OrderNumber)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit positions: %w", err)
	}
	return failed, nil
}

// ResetPositions clears every open order's position and applies the given
// assignment in the same transaction, so a failure leaves the previous
// ordering untouched. Returns the number of cleared rows.
func (s *Store) ResetPositions(ctx context.Context, updates []queue.PositionUpdate) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE work_orders SET position = NULL, updated_at = NOW()
		WHERE date_completed IS NULL AND position IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("clear positions: %w", err)
	}
	cleared := int(tag.RowsAffected())

	for _, u := range updates {
		if _, err := tx.Exec(ctx, `
			UPDATE work_orders SET position = $2, updated_at = NOW()
			WHERE order_number = $1 AND date_completed IS NULL
		`, u.OrderNumber, u.Position); err != nil {
			return 0, fmt.Errorf("reassign position for %s: %w", u.OrderNumber, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reset: %w", err)
	}
	return cleared, nil
}

// AppendAudit records an engine operation for operator visibility.
func (s *Store) AppendAudit(ctx context.Context, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_audit (id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, uuid.New().String(), event, detail)
	return err
}

// CreateWorkOrderParams collects inputs required to insert a work order.
type CreateWorkOrderParams struct {
	OrderNumber  string
	CustomerName string
	Description  string
	ShipTo       string
	FirmRush     bool
	Rush         bool
	DateIn       *time.Time
	DateRequired *time.Time
}

// CreateWorkOrder inserts an order with no position; the engine ranks it on
// the next initialization pass.
func (s *Store) CreateWorkOrder(ctx context.Context, p CreateWorkOrderParams) (models.WorkOrder, error) {
	if p.OrderNumber == "" {
		return models.WorkOrder{}, errors.New("order number is required")
	}
	if p.DateIn == nil {
		now := time.Now().UTC()
		p.DateIn = &now
	}
	var dateRequired *string
	if p.DateRequired != nil {
		v := models.FormatDate(*p.DateRequired)
		dateRequired = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO work_orders (order_number, customer_name, description, ship_to, firm_rush, rush, date_in, date_required)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.OrderNumber, p.CustomerName, p.Description, p.ShipTo, p.FirmRush, p.Rush, models.FormatDate(*p.DateIn), dateRequired)
	if err != nil {
		return models.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
	}
	return models.WorkOrder{
		OrderNumber:  p.OrderNumber,
		CustomerName: p.CustomerName,
		Description:  p.Description,
		ShipTo:       p.ShipTo,
		FirmRush:     p.FirmRush,
		Rush:         p.Rush,
		DateIn:       p.DateIn,
		DateRequired: p.DateRequired,
	}, nil
}

// GetWorkOrder fetches a single order by number.
func (s *Store) GetWorkOrder(ctx context.Context, orderNumber string) (models.WorkOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workOrderColumns+` FROM work_orders WHERE order_number = $1
	`, orderNumber)
	if err != nil {
		return models.WorkOrder{}, fmt.Errorf("query work order: %w", err)
	}
	defer rows.Close()
	orders, err := scanWorkOrders(rows)
	if err != nil {
		return models.WorkOrder{}, err
	}
	if len(orders) == 0 {
		return models.WorkOrder{}, fmt.Errorf("work order %s not found: %w", orderNumber, pgx.ErrNoRows)
	}
	return orders[0], nil
}

// CompleteWorkOrder stamps the completion date, removing the order from the
// queue universe permanently. Its position is never read again.
func (s *Store) CompleteWorkOrder(ctx context.Context, orderNumber string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_orders
		SET date_completed = $2, updated_at = NOW()
		WHERE order_number = $1 AND date_completed IS NULL
	`, orderNumber, models.FormatDate(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("complete work order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("work order %s not open: %w", orderNumber, pgx.ErrNoRows)
	}
	return nil
}

func scanWorkOrders(rows pgx.Rows) ([]models.WorkOrder, error) {
	var out []models.WorkOrder
	for rows.Next() {
		var wo models.WorkOrder
		var dateIn, dateRequired, dateCompleted pgtype.Text
		var position pgtype.Int4
		if err := rows.Scan(&wo.OrderNumber, &wo.CustomerName, &wo.Description, &wo.ShipTo,
			&wo.FirmRush, &wo.Rush, &dateIn, &dateRequired, &dateCompleted, &position); err != nil {
			return nil, fmt.Errorf("scan work order: %w", err)
		}
		wo.DateIn = parseDateField(wo.OrderNumber, "date_in", dateIn)
		wo.DateRequired = parseDateField(wo.OrderNumber, "date_required", dateRequired)
		wo.DateCompleted = parseDateField(wo.OrderNumber, "date_completed", dateCompleted)
		if position.Valid {
			p := int(position.Int32)
			wo.Position = &p
		}
		out = append(out, wo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work orders: %w", err)
	}
	return out, nil
}

// parseDateField is the single parse boundary for the legacy text date
// columns. A bad value is logged and counted, never fatal; the sort layer
// treats the nil as a maximum sentinel.
func parseDateField(orderNumber, column string, raw pgtype.Text) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := models.ParseDate(raw.String)
	if err != nil {
		telemetry.DateParseFailures.Inc()
		log.Printf("store: order %s has %s: %v", orderNumber, column, err)
		return nil
	}
	return t
}
