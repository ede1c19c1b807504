// Package handlers implements the tokengate HTTP API.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/httputil"
	"github.com/web8kameleon-hub/tokengate/internal/ingest"
	"github.com/web8kameleon-hub/tokengate/internal/ledger"
	"github.com/web8kameleon-hub/tokengate/internal/logging"
	"github.com/web8kameleon-hub/tokengate/internal/middleware"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/signer"
	"github.com/web8kameleon-hub/tokengate/internal/transfer"
)

// TelemetryService accepts packets and answers status queries.
type TelemetryService interface {
	Submit(p models.Packet, source string) error
	Status(tokenID string) models.StatusReport
}

// TransferService executes transfer requests.
type TransferService interface {
	Execute(ctx context.Context, req models.TransferRequest) (*models.TransferOutcome, error)
}

// InfoService builds the operational report.
type InfoService interface {
	Info(ctx context.Context) InfoReport
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Config carries the physical payload signer and the readiness checks.
type Config struct {
	PayloadSigner signer.Signer
	PayloadTTL    time.Duration
	Readiness     map[string]ReadinessCheck
}

// Handler serves the tokengate HTTP API.
type Handler struct {
	telemetry TelemetryService
	transfers TransferService
	info      InfoService
	cfg       Config
	logger    *logging.Logger
	now       func() time.Time
}

// New creates the handlers. A nil logger uses logging.Default.
func New(telemetry TelemetryService, transfers TransferService, info InfoService, cfg Config, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		telemetry: telemetry,
		transfers: transfers,
		info:      info,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Telemetry accepts one JSON packet and queues it.
func (h *Handler) Telemetry(w http.ResponseWriter, r *http.Request) {
	var p models.Packet
	if err := httputil.DecodeJSON(r, &p); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch err := h.telemetry.Submit(p, ingest.SourceHTTP); {
	case err == nil:
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, ingest.ErrInvalidPacket):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, ingest.ErrStopped):
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "telemetry submit failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// Status returns node and token pool counts, optionally for ?token_id=.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.telemetry.Status(r.URL.Query().Get("token_id")))
}

// Info serves the operational report.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.info.Info(r.Context()))
}

// Transfer executes a transfer for the authenticated operator.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		req.Operator = claims.Subject
	}

	ctx := r.Context()
	outcome, err := h.transfers.Execute(ctx, req)
	if err != nil {
		status, body := transferError(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "transfer failed", logging.Recipient(req.To), logging.Error(err))
		}
		httputil.WriteErrorBody(w, status, body)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

// transferError maps executor failures to a status code and a body that
// carries enough detail for the caller to adjust the request.
func transferError(err error) (int, httputil.ErrorBody) {
	var (
		verr     *transfer.VerificationError
		rejected *transfer.SecurityRejectedError
		limited  *transfer.RateLimitError
		denied   *transfer.NotAllowedError
		ledgerNo *ledger.RejectedError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, httputil.ErrorBody{
			Error:   err.Error(),
			Code:    "VERIFICATION_FAILED",
			Details: map[string]string{"token_id": verr.TokenID, "status": string(verr.Status), "reason": verr.Reason},
		}
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, httputil.ErrorBody{
			Error: err.Error(),
			Code:  "SECURITY_REJECTED",
			Details: map[string]any{
				"checks":          rejected.Decision.Checks,
				"risk_assessment": rejected.Decision.Risk,
			},
			Advisory: fmt.Sprintf("reduce the amount to at most $%.2f", rejected.Decision.Risk.MaxRecommendedUSD),
		}
	case errors.As(err, &denied):
		return http.StatusForbidden, httputil.ErrorBody{Error: err.Error(), Code: "NOT_ALLOWED"}
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, httputil.ErrorBody{
			Error: err.Error(),
			Code:  "RATE_LIMITED",
			Details: map[string]any{
				"count":    limited.State.Count,
				"limit":    limited.Limit,
				"reset_at": limited.ResetAt,
			},
			Retry: true,
		}
	case errors.Is(err, transfer.ErrLimiterUnavailable):
		return http.StatusServiceUnavailable, httputil.ErrorBody{Error: err.Error(), Code: "RATE_LIMITER_UNAVAILABLE", Retry: true}
	case errors.As(err, &ledgerNo):
		return http.StatusBadGateway, httputil.ErrorBody{Error: err.Error(), Code: "LEDGER_REJECTED"}
	case errors.Is(err, ledger.ErrUnavailable):
		return http.StatusServiceUnavailable, httputil.ErrorBody{Error: err.Error(), Code: "LEDGER_UNAVAILABLE", Retry: true}
	default:
		return http.StatusInternalServerError, httputil.ErrorBody{Error: "internal error", Code: "INTERNAL"}
	}
}

// SignPayload signs a physical token payload with the configured signer.
func (h *Handler) SignPayload(w http.ResponseWriter, r *http.Request) {
	var p signer.PhysicalPayload
	if err := httputil.DecodeJSON(r, &p); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := h.now()
	if p.IssuedAt == 0 {
		p.IssuedAt = now.UnixMilli()
	}
	if p.ExpiresAt == 0 && h.cfg.PayloadTTL > 0 {
		p.ExpiresAt = p.IssuedAt + h.cfg.PayloadTTL.Milliseconds()
	}

	signed, err := signer.SignPayload(h.cfg.PayloadSigner, p, now)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "physical payload signed",
		logging.TokenID(p.TokenID),
		logging.Operator(operator(r)))
	httputil.WriteJSON(w, http.StatusOK, signed)
}

// VerifyPayload checks a signed payload. Invalid payloads are reported in
// the body with status 200.
func (h *Handler) VerifyPayload(w http.ResponseWriter, r *http.Request) {
	var sp signer.SignedPayload
	if err := httputil.DecodeJSON(r, &sp); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, signer.VerifyPayload(h.cfg.PayloadSigner, sp, h.now()))
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready runs every readiness check and fails if any of them does.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.cfg.Readiness))
	for name := range h.cfg.Readiness {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	status := http.StatusOK
	for _, name := range names {
		if err := h.cfg.Readiness[name](ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func operator(r *http.Request) string {
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
