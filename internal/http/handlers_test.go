package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/boomfest/boom-tickets/internal/adapters/memory"
	"github.com/boomfest/boom-tickets/internal/auth"
	"github.com/boomfest/boom-tickets/internal/checkin"
	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/lifecycle"
	"github.com/boomfest/boom-tickets/internal/observability"
)

const testPassword = "door-2026"

type server struct {
	t     *testing.T
	store *memory.Store
	srv   *httptest.Server
	token string
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWithStore(t, memory.NewStore(), nil)
}

// newServerWithStore serves from wrapped when it is set, seeding through store.
func newServerWithStore(t *testing.T, store *memory.Store, wrapped domain.OrderStore) *server {
	t.Helper()
	var orders domain.OrderStore = store
	if wrapped != nil {
		orders = wrapped
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	logger := observability.NopLogger()
	catalog := domain.NewStaticCatalog(domain.DefaultTiers)
	h := NewHandlers(Deps{
		Manager:   lifecycle.NewManager(orders, catalog, logger),
		Catalog:   catalog,
		Validator: checkin.NewValidator(nil, orders, logger),
		Committer: checkin.NewCommitter(orders, nil, logger),
		Auth:      auth.NewPasswordAuthenticator(string(hash), "0123456789abcdef0123456789abcdef", time.Hour),
		Ready:     map[string]Pinger{},
		Logger:    logger,
	})
	srv := httptest.NewServer(SetupRouter(h, logger, nil))
	t.Cleanup(srv.Close)

	s := &server{t: t, store: store, srv: srv}
	var session auth.Session
	resp := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"password": testPassword, "operator": "gate-north"}, &session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s.token = session.Token
	return s
}

func (s *server) do(method, path string, body any, out any) *http.Response {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (s *server) seed(id domain.OrderID, status domain.Status) {
	s.store.Put(domain.Order{
		ID:           id,
		CreatedAt:    time.Now(),
		Status:       status,
		CustomerName: "Ana Torres",
		TicketClass:  domain.ClassVIP,
		TicketName:   "VIP",
		Quantity:     2,
		UnitPrice:    decimal.NewFromInt(20),
		TotalAmount:  decimal.NewFromInt(40),
	})
}

func checkoutBody() map[string]any {
	return map[string]any{
		"customer_name":  "Ana Torres",
		"email":          "Ana@Example.com",
		"phone":          "977163359",
		"document_id":    "45678912",
		"ticket_class":   "vip",
		"quantity":       2,
		"payment_method": "yape",
		"attendees":      []string{"Luis Rojas"},
	}
}

func TestCreateOrder(t *testing.T) {
	s := newServer(t)
	s.token = ""

	var created struct {
		domain.Order
		Reference string `json:"reference"`
	}
	resp := s.do(http.MethodPost, "/v1/orders", checkoutBody(), &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "ana@example.com", created.Email)
	assert.True(t, decimal.NewFromInt(40).Equal(created.TotalAmount))
	assert.Equal(t, "BOOM-"+created.ID.String(), created.Reference)
}

func TestCreateOrder_Validation(t *testing.T) {
	s := newServer(t)

	body := checkoutBody()
	body["quantity"] = 11
	body["email"] = "not-an-email"
	var e errorBody
	resp := s.do(http.MethodPost, "/v1/orders", body, &e)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, e.Fields, "Quantity")
	assert.Contains(t, e.Fields, "Email")

	body = checkoutBody()
	body["unknown"] = true
	resp = s.do(http.MethodPost, "/v1/orders", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	s := newServer(t)
	s.token = ""

	resp := s.do(http.MethodGet, "/v1/admin/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": "42"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	s.token = "forged"
	resp = s.do(http.MethodGet, "/v1/admin/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_WrongPassword(t *testing.T) {
	s := newServer(t)
	resp := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"password": "admin2026"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDoorFlow(t *testing.T) {
	s := newServer(t)
	s.seed(42, domain.StatusPending)

	var v verdictResponse
	s.do(http.MethodPost, "/v1/checkin/validate", map[string]string{"payload": `{"id":42,"extra":"ignored"}`}, &v)
	assert.Equal(t, domain.VerdictInvalid, v.Kind)
	assert.False(t, v.Admit)

	var approved domain.Order
	resp := s.do(http.MethodPost, "/v1/admin/orders/42/approve", nil, &approved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gate-north", approved.ApprovedBy)

	s.do(http.MethodPost, "/v1/checkin/validate", map[string]string{"payload": "42"}, &v)
	require.Equal(t, domain.VerdictValid, v.Kind)
	assert.True(t, v.Admit)

	var c commitResponse
	resp = s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": "42", "device": "lane-1"}, &c)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, c.Admit)
	assert.Equal(t, "gate-north@lane-1", c.Order.CheckedInBy)

	resp = s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": 42}, &c)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, c.Admit)
	assert.Contains(t, c.Message, "do not admit")

	s.do(http.MethodPost, "/v1/checkin/validate", map[string]string{"payload": "BOOM-42"}, &v)
	assert.Equal(t, domain.VerdictAlreadyUsed, v.Kind)
	assert.NotNil(t, v.CheckedInAt)
}

func TestValidate_NotFound(t *testing.T) {
	s := newServer(t)

	var v verdictResponse
	resp := s.do(http.MethodPost, "/v1/checkin/validate", map[string]string{"payload": "does-not-exist"}, &v)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.VerdictNotFound, v.Kind)
	assert.Contains(t, v.Message, "do not admit")
}

func TestCommit_Refusals(t *testing.T) {
	s := newServer(t)
	s.seed(7, domain.StatusRejected)

	var c commitResponse
	resp := s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": "7"}, &c)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.False(t, c.Admit)

	resp = s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": "999"}, &c)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, c.Admit)
}

// outageStore fails reads and check-in writes while down is set.
type outageStore struct {
	*memory.Store
	down atomic.Bool
}

func (s *outageStore) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	if s.down.Load() {
		return nil, domain.StorageFailure(errors.New("connection reset by peer"), "get order")
	}
	return s.Store.GetOrder(ctx, id)
}

func (s *outageStore) MarkCheckedIn(ctx context.Context, id domain.OrderID, at time.Time, by string) (*domain.Order, error) {
	if s.down.Load() {
		return nil, domain.StorageFailure(errors.New("connection reset by peer"), "mark checked in")
	}
	return s.Store.MarkCheckedIn(ctx, id, at, by)
}

func TestCheckin_StoreOutageNeverAdmits(t *testing.T) {
	store := memory.NewStore()
	outage := &outageStore{Store: store}
	s := newServerWithStore(t, store, outage)
	s.seed(42, domain.StatusApproved)
	outage.down.Store(true)

	var v verdictResponse
	resp := s.do(http.MethodPost, "/v1/checkin/validate", map[string]string{"payload": "42"}, &v)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, v.Admit)
	assert.NotEqual(t, domain.VerdictValid, v.Kind)
	assert.Contains(t, v.Message, "do not admit")
	assert.NotContains(t, v.Error, "connection reset")

	var c commitResponse
	resp = s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": "42"}, &c)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, c.Admit)
	assert.Nil(t, c.Order)
	assert.Contains(t, c.Message, "do not admit")

	o, err := store.GetOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, o.CheckedIn)
	assert.Nil(t, o.CheckedInAt)
}

func TestCommit_WriteOutageAfterPrecheckNeverAdmits(t *testing.T) {
	store := memory.NewStore()
	outage := &writeOutageStore{Store: store}
	s := newServerWithStore(t, store, outage)
	s.seed(42, domain.StatusApproved)

	var c commitResponse
	resp := s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": "42", "device": "lane-2"}, &c)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, c.Admit)
	assert.Contains(t, c.Message, "do not admit")

	o, err := store.GetOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, o.CheckedIn)
}

// writeOutageStore serves reads but fails the check-in write.
type writeOutageStore struct {
	*memory.Store
}

func (s *writeOutageStore) MarkCheckedIn(context.Context, domain.OrderID, time.Time, string) (*domain.Order, error) {
	return nil, domain.StorageFailure(errors.New("connection reset by peer"), "mark checked in")
}

func TestCommit_ConcurrentDevicesAdmitOnce(t *testing.T) {
	s := newServer(t)
	s.seed(42, domain.StatusApproved)

	const devices = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var c commitResponse
			s.do(http.MethodPost, "/v1/checkin/commit", map[string]any{"order_id": "42"}, &c)
			if c.Admit {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestRejectAndStats(t *testing.T) {
	s := newServer(t)
	s.seed(1, domain.StatusPending)
	s.seed(2, domain.StatusPending)
	s.seed(3, domain.StatusPending)

	var rejected domain.Order
	resp := s.do(http.MethodPost, "/v1/admin/orders/1/reject", nil, &rejected)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.DefaultRejectionReason, rejected.RejectionReason)

	resp = s.do(http.MethodPost, "/v1/admin/orders/1/approve", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	s.do(http.MethodPost, "/v1/admin/orders/2/approve", nil, nil)

	var stats domain.Stats
	resp = s.do(http.MethodGet, "/v1/admin/stats", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decimal.NewFromInt(40).Equal(stats.TotalRevenue))
	assert.Equal(t, 2, stats.TicketsSold)
	assert.Equal(t, 1, stats.CustomerCount)
	assert.Equal(t, 1, stats.PendingCount)
}

func TestListOrders(t *testing.T) {
	s := newServer(t)
	s.seed(1, domain.StatusPending)
	s.seed(2, domain.StatusApproved)

	var list struct {
		Orders []domain.Order `json:"orders"`
		Count  int            `json:"count"`
	}
	resp := s.do(http.MethodGet, "/v1/admin/orders?status=pending", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, domain.OrderID(1), list.Orders[0].ID)

	resp = s.do(http.MethodGet, "/v1/admin/orders?status=unknown", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodGet, "/v1/admin/orders/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTicketQR(t *testing.T) {
	s := newServer(t)
	s.seed(1, domain.StatusPending)
	s.seed(2, domain.StatusApproved)

	resp := s.do(http.MethodGet, "/v1/admin/orders/1/ticket.png", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = s.do(http.MethodGet, "/v1/admin/orders/2/ticket.png", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestReset(t *testing.T) {
	s := newServer(t)
	s.seed(1, domain.StatusPending)
	s.seed(2, domain.StatusApproved)

	resp := s.do(http.MethodPost, "/v1/admin/maintenance/reset", map[string]string{"confirm": "yes"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out struct {
		Deleted int64 `json:"deleted"`
	}
	resp = s.do(http.MethodPost, "/v1/admin/maintenance/reset", map[string]string{"confirm": lifecycle.ResetConfirmation}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, out.Deleted)

	n, err := s.store.CountOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTiersAndHealth(t *testing.T) {
	s := newServer(t)

	var out struct {
		Tiers []domain.Tier `json:"tiers"`
	}
	resp := s.do(http.MethodGet, "/v1/tiers", nil, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Tiers, 3)
	assert.Equal(t, domain.ClassGeneral, out.Tiers[0].Class)

	resp = s.do(http.MethodGet, "/v1/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(http.MethodGet, "/v1/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
