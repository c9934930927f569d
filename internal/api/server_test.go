package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"cleaning-queue/internal/config"
	"cleaning-queue/internal/models"
	"cleaning-queue/internal/queue"
	"cleaning-queue/internal/store"
)

// memRepo backs the engine in handler tests; no database involved.
type memRepo struct {
	orders map[string]*models.WorkOrder
}

func newMemRepo(orders ...models.WorkOrder) *memRepo {
	m := &memRepo{orders: make(map[string]*models.WorkOrder)}
	for i := range orders {
		wo := orders[i]
		m.orders[wo.OrderNumber] = &wo
	}
	return m
}

func (m *memRepo) open() []models.WorkOrder {
	var out []models.WorkOrder
	for _, wo := range m.orders {
		if wo.Open() {
			out = append(out, *wo)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Ranked() && b.Ranked() && *a.Position != *b.Position:
			return *a.Position < *b.Position
		case a.Ranked() != b.Ranked():
			return a.Ranked()
		default:
			return a.OrderNumber < b.OrderNumber
		}
	})
	return out
}

func (m *memRepo) OpenOrders(_ context.Context) ([]models.WorkOrder, error) {
	return m.open(), nil
}

func (m *memRepo) SearchOpen(_ context.Context, q queue.SearchQuery) ([]models.WorkOrder, int, error) {
	open := m.open()
	total := len(open)
	if q.Offset >= len(open) {
		return nil, total, nil
	}
	open = open[q.Offset:]
	if q.Limit > 0 && len(open) > q.Limit {
		open = open[:q.Limit]
	}
	return open, total, nil
}

func (m *memRepo) ApplyPositions(_ context.Context, updates []queue.PositionUpdate) ([]string, error) {
	var failed []string
	for _, u := range updates {
		wo, ok := m.orders[u.OrderNumber]
		if !ok || !wo.Open() {
			failed = append(failed, u.OrderNumber)
			continue
		}
		p := u.Position
		wo.Position = &p
	}
	return failed, nil
}

func (m *memRepo) ResetPositions(_ context.Context, updates []queue.PositionUpdate) (int, error) {
	cleared := 0
	for _, wo := range m.orders {
		if wo.Open() && wo.Ranked() {
			wo.Position = nil
			cleared++
		}
	}
	for _, u := range updates {
		if wo, ok := m.orders[u.OrderNumber]; ok && wo.Open() {
			p := u.Position
			wo.Position = &p
		}
	}
	return cleared, nil
}

func (m *memRepo) AppendAudit(_ context.Context, _, _ string) error { return nil }

// memOrders implements OrderStore over the same map.
type memOrders struct {
	repo *memRepo
}

func (m *memOrders) CreateWorkOrder(_ context.Context, p store.CreateWorkOrderParams) (models.WorkOrder, error) {
	if _, exists := m.repo.orders[p.OrderNumber]; exists {
		return models.WorkOrder{}, fmt.Errorf("work order %s already exists", p.OrderNumber)
	}
	wo := models.WorkOrder{
		OrderNumber:  p.OrderNumber,
		CustomerName: p.CustomerName,
		Description:  p.Description,
		ShipTo:       p.ShipTo,
		FirmRush:     p.FirmRush,
		Rush:         p.Rush,
		DateIn:       p.DateIn,
		DateRequired: p.DateRequired,
	}
	m.repo.orders[p.OrderNumber] = &wo
	return wo, nil
}

func (m *memOrders) GetWorkOrder(_ context.Context, orderNumber string) (models.WorkOrder, error) {
	wo, ok := m.repo.orders[orderNumber]
	if !ok {
		return models.WorkOrder{}, fmt.Errorf("work order %s not found", orderNumber)
	}
	return *wo, nil
}

func (m *memOrders) CompleteWorkOrder(_ context.Context, orderNumber string) error {
	wo, ok := m.repo.orders[orderNumber]
	if !ok || !wo.Open() {
		return fmt.Errorf("work order %s not open", orderNumber)
	}
	now := time.Now()
	wo.DateCompleted = &now
	return nil
}

func newTestServer(cfg config.Config, repo *memRepo) *httptest.Server {
	engine := queue.New(repo, queue.Options{ExcludedShipTos: cfg.ExcludedShipTos})
	srv := New(cfg, engine, &memOrders{repo: repo}, nil)
	return httptest.NewServer(srv.Router())
}

func intPtr(v int) *int { return &v }

func datePtr(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad test date: %v", err)
	}
	return &d
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestReorderEndpointPartialSuccess(t *testing.T) {
	repo := newMemRepo(
		models.WorkOrder{OrderNumber: "WO1", DateIn: datePtr(t, "2024-01-01"), Position: intPtr(5)},
	)
	ts := newTestServer(config.Config{DefaultPerPage: 25}, repo)
	defer ts.Close()

	resp, body := postJSON(t, ts.URL+"/queue/reorder", map[string]any{
		"order_numbers": []string{"WO1", "WO999"},
		"page":          1,
		"per_page":      25,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Fatalf("expected partial success, got %v", body)
	}
	if body["updated"].(float64) != 1 {
		t.Fatalf("updated = %v, want 1", body["updated"])
	}
	failed := body["failed_ids"].([]any)
	if len(failed) != 1 || failed[0] != "WO999" {
		t.Fatalf("failed_ids = %v, want [WO999]", failed)
	}
	if *repo.orders["WO1"].Position != 1 {
		t.Fatalf("WO1 position = %d, want 1", *repo.orders["WO1"].Position)
	}
}

func TestResetEndpointRequiresForce(t *testing.T) {
	repo := newMemRepo(models.WorkOrder{OrderNumber: "WO1", Position: intPtr(1)})
	ts := newTestServer(config.Config{DefaultPerPage: 25}, repo)
	defer ts.Close()

	resp, body := postJSON(t, ts.URL+"/queue/reset", map[string]any{"force": false}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("expected failure body, got %v", body)
	}
}

func TestAdminTokenGate(t *testing.T) {
	repo := newMemRepo()
	ts := newTestServer(config.Config{DefaultPerPage: 25, AdminToken: "s3cret"}, repo)
	defer ts.Close()

	resp, _ := postJSON(t, ts.URL+"/queue/initialize", map[string]any{}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status without token = %d, want 403", resp.StatusCode)
	}

	resp, body := postJSON(t, ts.URL+"/queue/initialize", map[string]any{}, map[string]string{"X-Admin-Token": "s3cret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Fatalf("expected success body, got %v", body)
	}
}

func TestListEndpointAnnotatesTiers(t *testing.T) {
	repo := newMemRepo(
		models.WorkOrder{OrderNumber: "WO1", DateIn: datePtr(t, "2024-01-01")},
		models.WorkOrder{OrderNumber: "WO2", FirmRush: true, DateRequired: datePtr(t, "2024-01-10")},
	)
	ts := newTestServer(config.Config{DefaultPerPage: 25}, repo)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/queue")
	if err != nil {
		t.Fatalf("get queue: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var page queue.ListPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 2 || len(page.Orders) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Orders[0].OrderNumber != "WO2" || page.Orders[0].Tier != "firm_rush" {
		t.Fatalf("firm rush should list first with tier annotation, got %+v", page.Orders[0])
	}
	if page.NewlyRanked != 2 {
		t.Fatalf("listing should have self-healed 2 unranked orders, got %d", page.NewlyRanked)
	}
}

func TestCreateCompleteAndGetOrder(t *testing.T) {
	repo := newMemRepo()
	ts := newTestServer(config.Config{DefaultPerPage: 25}, repo)
	defer ts.Close()

	resp, _ := postJSON(t, ts.URL+"/orders", map[string]any{
		"order_number":  "WO100",
		"customer_name": "Acme Mills",
		"rush":          true,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/orders/WO100")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	defer getResp.Body.Close()
	var ranked queue.RankedOrder
	if err := json.NewDecoder(getResp.Body).Decode(&ranked); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if ranked.OrderNumber != "WO100" || ranked.Tier != "rush" {
		t.Fatalf("order = %+v", ranked)
	}

	resp, _ = postJSON(t, ts.URL+"/orders/WO100/complete", map[string]any{}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", resp.StatusCode)
	}
	if repo.orders["WO100"].Open() {
		t.Fatalf("completed order still open")
	}

	resp, _ = postJSON(t, ts.URL+"/orders/WO100/complete", map[string]any{}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("re-complete status = %d, want 404", resp.StatusCode)
	}
}
