package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/boomfest/boom-tickets/internal/auth"
	"github.com/boomfest/boom-tickets/internal/checkin"
	"github.com/boomfest/boom-tickets/internal/domain"
	"github.com/boomfest/boom-tickets/internal/idempotency"
	"github.com/boomfest/boom-tickets/internal/lifecycle"
	"github.com/boomfest/boom-tickets/internal/observability"
	"github.com/boomfest/boom-tickets/internal/ticketqr"
)

// Pinger is a dependency probed by /v1/readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Manager     *lifecycle.Manager
	Catalog     domain.Catalog
	Validator   *checkin.Validator
	Committer   *checkin.Committer
	Auth        auth.Authenticator
	Ready       map[string]Pinger
	Logger      observability.Logger
	// Idempotency is optional; without it checkout requests are not deduplicated.
	Idempotency *idempotency.Idempotency
}

type Handlers struct {
	manager   *lifecycle.Manager
	catalog   domain.Catalog
	validator *checkin.Validator
	committer *checkin.Committer
	auth      auth.Authenticator
	idemp     *idempotency.Idempotency
	ready     map[string]Pinger
	logger    observability.Logger
	validate  *validator.Validate
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		manager:   d.Manager,
		catalog:   d.Catalog,
		validator: d.Validator,
		committer: d.Committer,
		auth:      d.Auth,
		idemp:     d.Idempotency,
		ready:     d.Ready,
		logger:    d.Logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

type orderResponse struct {
	*domain.Order
	Reference string `json:"reference"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{Order: o, Reference: domain.ReferencePrefix + o.ID.String()}
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	if h.idemp != nil && key != "" {
		existing, err := h.idemp.Begin(ctx, key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if existing != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(existing.Status)
			w.Write(existing.Result)
			return
		}
	}

	status, body := h.createOrder(r)
	data, err := json.Marshal(body)
	if err != nil {
		status, data = http.StatusInternalServerError, []byte(`{"error":"internal error"}`)
	}

	if h.idemp != nil && key != "" {
		log := LoggerFrom(ctx, h.logger)
		if status < 500 {
			if err := h.idemp.Set(ctx, key, idempotency.Response{Status: status, Result: data}); err != nil {
				log.WithError(err).Warn("failed to store idempotent response")
			}
		} else if err := h.idemp.Abort(ctx, key); err != nil {
			log.WithError(err).Warn("failed to release idempotency key")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (h *Handlers) createOrder(r *http.Request) (int, any) {
	var req domain.Checkout
	if err := decodeJSON(r, &req); err != nil {
		return errorResponse(r, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return errorResponse(r, err)
	}
	order, err := h.manager.Create(r.Context(), req)
	if err != nil {
		return errorResponse(r, err)
	}
	return http.StatusCreated, newOrderResponse(order)
}

func (h *Handlers) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.catalog.Tiers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

type loginRequest struct {
	Password string `json:"password" validate:"required"`
	Operator string `json:"operator" validate:"omitempty,max=64"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := h.auth.Login(r.Context(), req.Password, req.Operator)
	if err != nil {
		LoggerFrom(r.Context(), h.logger).WithField("operator", req.Operator).Warn("operator login refused")
		writeError(w, r, err)
		return
	}
	LoggerFrom(r.Context(), h.logger).WithField("operator", session.Operator).Info("operator logged in")
	writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		Status: domain.Status(q.Get("status")),
		Query:  q.Get("q"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidInput, "unknown status %q", filter.Status))
		return
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}
	orders, err := h.manager.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handlers) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.manager.Approve(r.Context(), id, auth.OperatorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handlers) RejectOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.manager.Reject(r.Context(), id, req.Reason, auth.OperatorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handlers) TicketQR(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size > 1024 {
		size = 1024
	}
	png, err := ticketqr.PNG(*order, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type resetRequest struct {
	Confirm string `json:"confirm" validate:"required"`
}

func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.manager.Reset(r.Context(), req.Confirm, auth.OperatorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

type validateRequest struct {
	Payload string `json:"payload" validate:"required,max=2048"`
}

type verdictResponse struct {
	domain.Verdict
	Admit   bool   `json:"admit"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ValidateTicket never changes state. Protocol outcomes, NOT_FOUND included,
// are 200 responses; only store failures are errors.
func (h *Handlers) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	verdict, err := h.validator.Validate(r.Context(), req.Payload)
	if err != nil {
		status, body := errorResponse(r, err)
		writeJSON(w, status, verdictResponse{
			Verdict: domain.Verdict{Candidate: verdict.Candidate},
			Message: "ticket could not be checked, do not admit",
			Error:   body.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, verdictResponse{Verdict: verdict, Admit: verdict.Admit(), Message: verdict.Message()})
}

type commitRequest struct {
	OrderID domain.OrderID `json:"order_id" validate:"required"`
	Device  string         `json:"device" validate:"omitempty,max=64"`
}

type commitResponse struct {
	Admit   bool          `json:"admit"`
	Order   *domain.Order `json:"order,omitempty"`
	Message string        `json:"message"`
}

// CommitCheckin admits a ticket. Every failure carries admit=false.
func (h *Handlers) CommitCheckin(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	by := auth.OperatorFrom(r.Context())
	if req.Device != "" {
		by += "@" + strings.TrimSpace(req.Device)
	}
	order, err := h.committer.Commit(r.Context(), req.OrderID, by)
	if err != nil {
		status, _ := errorResponse(r, err)
		writeJSON(w, status, commitResponse{Admit: false, Message: commitMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{Admit: true, Order: order, Message: "admitted"})
}

func commitMessage(err error) string {
	var used *domain.UsedError
	var state *domain.StateError
	switch {
	case errors.As(err, &used):
		return "ticket already used at " + used.CheckedInAt.Local().Format("15:04:05") + ", do not admit"
	case errors.As(err, &state):
		return "order is " + string(state.Status) + ", do not admit"
	case errors.Is(err, domain.ErrNotFound):
		return "ticket not found, do not admit"
	case errors.Is(err, domain.ErrConflict):
		return "ticket changed during check-in, do not admit, scan again"
	default:
		return "check-in could not be recorded, do not admit"
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, p := range h.ready {
		if err := p.Ping(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		LoggerFrom(r.Context(), h.logger).WithField("failed", failed).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func orderIDParam(r *http.Request) (domain.OrderID, error) {
	id, err := domain.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		return 0, errors.Wrap(domain.ErrInvalidInput, "invalid order id")
	}
	return id, nil
}
