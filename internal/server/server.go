package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"freightquote/internal/dispatch"
	"freightquote/internal/provider"
	"freightquote/internal/quota"
	"freightquote/internal/quote"
	"freightquote/internal/rate"
	"freightquote/internal/search"
)

const maxBodyBytes = 1 << 20

// Deps wires the handlers. Anything left nil gets an in-memory or dummy
// implementation, which is what the unit tests run against.
type Deps struct {
	Search   *search.Service
	Gate     *quota.Gate
	Quotes   quote.Store
	Resolver *quote.Resolver
	// WebhookSecrets maps a webhook source to its HMAC secret.
	WebhookSecrets map[string]string
	AdminToken     string
	Logger         *slog.Logger
}

type Server struct {
	search         *search.Service
	gate           *quota.Gate
	quotes         quote.Store
	resolver       *quote.Resolver
	webhookSecrets map[string]string
	adminToken     string
	logger         *slog.Logger
}

func New(d Deps) http.Handler {
	s := newServer(d)
	r := chi.NewRouter()
	// Observability: Request ID and basic logger
	r.Use(requestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/{source}", s.handleWebhook)
	r.Post("/admin/clients/{clientID}/quota", s.handleTopUp)
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)
		r.Post("/rates", s.handleSearchRates)
		r.Get("/quota", s.handleGetQuota)
		r.Get("/quotes/{quoteID}", s.handleGetQuote)
		r.Post("/bookings", s.handleCreateBooking)
	})
	return r
}

func newServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Gate == nil {
		d.Gate = quota.NewGate(quota.NewMemoryStore(), d.Logger)
	}
	if d.Quotes == nil {
		d.Quotes = quote.NewMemoryStore()
	}
	if d.Resolver == nil {
		d.Resolver = quote.NewResolver(d.Quotes, nil, d.Logger)
	}
	if d.Search == nil {
		d.Search = search.New(search.Deps{
			Gate:       d.Gate,
			Dispatcher: dispatch.New(provider.NewDummy(), dispatch.Options{Logger: d.Logger}),
			Recorder:   quote.NewRecorder(d.Quotes, 0, d.Logger),
			Logger:     d.Logger,
		})
	}
	return &Server{
		search:         d.Search,
		gate:           d.Gate,
		quotes:         d.Quotes,
		resolver:       d.Resolver,
		webhookSecrets: d.WebhookSecrets,
		adminToken:     d.AdminToken,
		logger:         d.Logger,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Rates

func (s *Server) handleSearchRates(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "read_error", "read error")
		return
	}
	var desc rate.ShipmentDescription
	if err := json.Unmarshal(body, &desc); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	res, err := s.search.Search(r.Context(), search.Input{
		ClientID: id.ClientID,
		UserID:   id.UserID,
		Shipment: desc,
		Raw:      json.RawMessage(body),
	})
	if err != nil {
		s.writeSearchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *rate.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", verr.Error())
	case errors.Is(err, quota.ErrQuotaExhausted):
		writeErrorJSON(w, http.StatusTooManyRequests, "quota_exhausted",
			"no rate searches remaining on this account; contact your account manager to top up")
	case errors.Is(err, dispatch.ErrProviderUnavailable):
		s.logger.ErrorContext(r.Context(), "rate provider unavailable", "error", err)
		writeErrorJSON(w, http.StatusBadGateway, "provider_unavailable",
			"the rate provider is currently unavailable; please try again shortly")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeErrorJSON(w, http.StatusGatewayTimeout, "request_timeout", "request timed out")
	default:
		s.logger.ErrorContext(r.Context(), "rate search failed", "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "quota_unavailable", "unable to verify quota")
	}
}

// Quota

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	q, err := s.gate.Get(r.Context(), id.ClientID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "read quota failed", "client_id", id.ClientID, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type TopUpRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(s.adminToken) == "" {
		writeErrorJSON(w, http.StatusForbidden, "admin_disabled", "admin api not configured")
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if !hmac.Equal([]byte(token), []byte(s.adminToken)) {
		writeErrorJSON(w, http.StatusUnauthorized, "unauthenticated", "invalid admin token")
		return
	}
	clientID := strings.TrimSpace(chi.URLParam(r, "clientID"))
	var req TopUpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	q, err := s.gate.TopUp(r.Context(), clientID, req.Amount)
	if err != nil {
		if errors.Is(err, quota.ErrInvalidAmount) || clientID == "" {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.ErrorContext(r.Context(), "quota top-up failed", "client_id", clientID, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
		return
	}
	s.logger.InfoContext(r.Context(), "quota topped up", "client_id", clientID, "amount", req.Amount, "remaining", q.Remaining)
	writeJSON(w, http.StatusOK, q)
}

// Quotes

type QuoteResponse struct {
	QuoteID   string              `json:"quote_id"`
	ShipDate  string              `json:"ship_date"`
	Modes     []rate.Mode         `json:"modes"`
	Rates     []search.RankedRate `json:"rates"`
	CreatedAt string              `json:"created_at"`
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	quoteID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "quoteID")))
	if err != nil {
		writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "quote not found")
		return
	}
	q, err := s.quotes.GetQuote(r.Context(), id.ClientID, quoteID)
	if err != nil {
		if errors.Is(err, quote.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "quote not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "read quote failed", "quote_id", quoteID, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
		return
	}
	resp := QuoteResponse{
		QuoteID:   q.Request.ID.String(),
		ShipDate:  q.Request.ShipDate.Format("2006-01-02"),
		Modes:     q.Request.Modes,
		Rates:     make([]search.RankedRate, 0, len(q.Rates)),
		CreatedAt: q.Request.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, m := range q.Rates {
		resp.Rates = append(resp.Rates, search.RankedRate{RateRef: m.InternalID.String(), NormalizedRate: m.Rate})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Bookings

type BookingCreateRequest struct {
	QuoteID string         `json:"quote_id"`
	RateRef string         `json:"rate_ref"`
	RateID  string         `json:"rate_id"`
	Rate    map[string]any `json:"rate"`
}

type BookingResponse struct {
	BookingID          string              `json:"booking_id"`
	ConfirmationNumber string              `json:"confirmation_number"`
	Status             quote.BookingStatus `json:"status"`
	QuoteID            string              `json:"quote_id,omitempty"`
	RateRef            string              `json:"rate_ref,omitempty"`
	Rate               rate.NormalizedRate `json:"rate"`
	CreatedAt          string              `json:"created_at"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	var req BookingCreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	b, err := s.resolver.Book(r.Context(), quote.BookRequest{
		ClientID: id.ClientID,
		QuoteID:  req.QuoteID,
		RateRef:  orDefault(req.RateRef, req.RateID),
		Rate:     req.Rate,
	})
	if err != nil {
		var verr *rate.ValidationError
		switch {
		case errors.As(err, &verr):
			writeErrorJSON(w, http.StatusBadRequest, "invalid_request", verr.Error())
		case errors.Is(err, quote.ErrNotFound):
			writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "quote or rate not found")
		default:
			s.logger.ErrorContext(r.Context(), "create booking failed", "client_id", id.ClientID, "error", err)
			writeErrorJSON(w, http.StatusInternalServerError, "db_error", "failed to create booking")
		}
		return
	}
	resp := BookingResponse{
		BookingID:          b.ID.String(),
		ConfirmationNumber: b.ConfirmationNumber,
		Status:             b.Status,
		Rate:               b.Rate,
		CreatedAt:          b.CreatedAt.Format(time.RFC3339),
	}
	if b.QuoteID != nil {
		resp.QuoteID = b.QuoteID.String()
	}
	if b.RateID != nil {
		resp.RateRef = b.RateID.String()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Webhooks

type WebhookResponse struct {
	BookingID          string              `json:"booking_id"`
	Status             quote.BookingStatus `json:"status"`
	ConfirmationNumber string              `json:"confirmation_number,omitempty"`
	Applied            bool                `json:"applied"`
}

// handleWebhook applies signed booking status events from the provider.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "source")))
	if source == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "source required")
		return
	}
	secret, ok := s.webhookSecrets[source]
	if !ok {
		writeErrorJSON(w, http.StatusNotFound, "unsupported_source", "unsupported source")
		return
	}
	if strings.TrimSpace(secret) == "" {
		writeErrorJSON(w, http.StatusUnauthorized, "secret_not_configured", "webhook secret not configured")
		return
	}

	// Read raw body for signature verification
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "read_error", "read error")
		return
	}
	sigHeader := strings.TrimSpace(r.Header.Get("X-Signature"))
	sigHeader = strings.TrimPrefix(sigHeader, "sha256=")
	if sigHeader == "" {
		writeErrorJSON(w, http.StatusUnauthorized, "missing_signature", "missing signature")
		return
	}
	provided, err := hex.DecodeString(sigHeader)
	if err != nil {
		writeErrorJSON(w, http.StatusUnauthorized, "invalid_signature_format", "invalid signature format")
		return
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		writeErrorJSON(w, http.StatusUnauthorized, "signature_mismatch", "signature mismatch")
		return
	}

	ev, nerr := NewNormalizer(source).Normalize(source, body)
	if nerr != nil {
		switch {
		case errors.Is(nerr, ErrMissingReference):
			writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "booking reference required")
		case errors.Is(nerr, ErrUnknownStatus):
			writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "unknown booking status")
		default:
			writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		}
		return
	}

	b, err := s.resolver.UpdateStatus(r.Context(), ev.Reference, ev.Status, ev.ConfirmationNumber)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, WebhookResponse{
			BookingID:          b.ID.String(),
			Status:             b.Status,
			ConfirmationNumber: b.ConfirmationNumber,
			Applied:            true,
		})
	case errors.Is(err, quote.ErrInvalidTransition):
		// Redeliveries and late events are acknowledged without effect.
		s.logger.InfoContext(r.Context(), "booking event ignored",
			"source", source,
			"booking_id", b.ID,
			"current_status", b.Status,
			"event_status", ev.Status)
		writeJSON(w, http.StatusOK, WebhookResponse{
			BookingID:          b.ID.String(),
			Status:             b.Status,
			ConfirmationNumber: b.ConfirmationNumber,
		})
	case errors.Is(err, quote.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "booking not found")
	default:
		s.logger.ErrorContext(r.Context(), "booking event failed", "source", source, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorJSON writes a standardized JSON error response:
// {"error": {"code": string, "message": string}}
func writeErrorJSON(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}
