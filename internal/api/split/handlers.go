// Package split implements the connected-account endpoints under /split.
//
// Every endpoint follows the same path: bind and validate the JSON body,
// call the payment provider (a single call or a short choreography), record
// one audit entry per completed remote step, then write exactly one envelope.
// Validation failures never reach the provider or the audit log. Multi-step
// flows are not rolled back when a later step fails.
package split

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/internal/idempotency"
	"github.com/split-connect/split-backend/internal/middleware"
	"github.com/split-connect/split-backend/internal/payments"
)

// ErrorKind classifies a failed request.
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "InvalidInput"
	KindRemoteAPIError ErrorKind = "RemoteAPIError"
	KindInternalError  ErrorKind = "InternalError"
)

// Status returns the HTTP status for the kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindInvalidInput, KindRemoteAPIError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the single JSON document written for every request.
type Envelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Handlers holds the dependencies of the /split endpoints.
type Handlers struct {
	cfg      *config.Config
	provider payments.Provider
	recorder *audit.Recorder
	keys     *idempotency.Deriver
	now      func() time.Time
}

// Option configures Handlers.
type Option func(*Handlers)

// WithKeyDeriver replaces the idempotency key deriver.
func WithKeyDeriver(d *idempotency.Deriver) Option {
	return func(h *Handlers) { h.keys = d }
}

// WithClock overrides the envelope timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

// NewHandlers creates the /split handlers. recorder may be nil, in which case
// nothing is audited.
func NewHandlers(cfg *config.Config, provider payments.Provider, recorder *audit.Recorder, opts ...Option) *Handlers {
	h := &Handlers{
		cfg:      cfg,
		provider: provider,
		recorder: recorder,
		keys:     idempotency.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts every endpoint on rg.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/create_account_session", h.CreateAccountSession)
	rg.POST("/create_connected_account_prefilled", h.CreateConnectedAccountPrefilled)
	rg.POST("/prefill_account", h.PrefillAccount)
	rg.POST("/create_onboarding_link", h.CreateOnboardingLink)
	rg.POST("/account_status", h.AccountStatus)
	rg.POST("/delete_account", h.DeleteAccount)
	rg.POST("/simulate_transfer", h.SimulateTransfer)
}

// bind decodes the body into obj and validates it. An empty body is treated
// as an empty object so that missing fields surface as validation errors.
func (h *Handlers) bind(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		err = binding.Validator.ValidateStruct(obj)
	}
	if err != nil {
		h.invalid(c, bindingMessage(err))
		return false
	}
	return true
}

func (h *Handlers) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: h.timestamp(),
	})
}

func (h *Handlers) invalid(c *gin.Context, message string) {
	h.fail(c, KindInvalidInput, message, nil)
}

func (h *Handlers) fail(c *gin.Context, kind ErrorKind, message string, details map[string]any) {
	c.JSON(kind.Status(), Envelope{
		Success:   false,
		Error:     message,
		Details:   details,
		Timestamp: h.timestamp(),
	})
}

// remoteFailure converts an error returned by the provider into an envelope.
// Provider rejections pass their message through; anything else is internal.
func (h *Handlers) remoteFailure(c *gin.Context, op string, err error) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	if re, ok := payments.AsRemote(err); ok {
		slog.Warn("payment provider rejected request",
			"operation", op,
			"type", re.Type,
			"code", re.Code,
			"provider_request_id", re.RequestID,
			"request_id", requestID,
			"error", re.Message,
		)
		h.fail(c, KindRemoteAPIError, re.Error(), re.Details())
		return
	}
	slog.Error("payment provider call failed",
		"operation", op,
		"request_id", requestID,
		"error", err,
	)
	h.fail(c, KindInternalError, "internal server error", map[string]any{"message": err.Error()})
}

func (h *Handlers) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *Handlers) record(c *gin.Context, entry audit.Entry) {
	h.recorder.Record(c.Request.Context(), entry)
}
