package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ms-payouts/internal/auth"
	"ms-payouts/internal/logger"
	"ms-payouts/internal/models"
	"ms-payouts/internal/payout"
	"ms-payouts/internal/processor"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxWebhookBytes = 65536

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Service *payout.Service
	Logger  *logger.Logger
	// Health is checked by /healthz when set.
	Health Pinger
	// Verify guards operator routes when set.
	Verify auth.TokenVerifier
}

func NewHandler(service *payout.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{Service: service, Logger: log}
}

// Router builds the full HTTP surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

// RegisterRoutes mounts the buyer and operator endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/create-payment-intent", h.CreatePaymentIntent)
	r.Post("/webhooks/stripe", h.StripeWebhook)

	r.Get("/payments/{id}", h.GetBooking)
	r.Get("/users/{userId}/payments", h.ListUserBookings)
	r.Get("/events/{eventId}/payments", h.ListEventBookings)

	// Paths kept for existing frontends.
	r.Get("/get-qr-ticket-details/{id}", h.GetBooking)
	r.Get("/get-booking-lists/{userId}", h.ListUserBookings)
	r.Get("/get-event-payment-list/{eventId}", h.ListEventBookings)

	r.Group(func(r chi.Router) {
		if h.Verify != nil {
			r.Use(auth.Middleware(h.Verify, h.Logger))
		}

		r.Post("/trigger-payout", h.TriggerPayout)
		r.Post("/check-transfer-status", h.CheckTransferStatus)
		r.Get("/total-transferred-amount", h.TotalTransferred)
		r.Get("/payout-list", h.PayoutList)
		r.Get("/check-user-balance/{connectedAccountId}", h.Balance)

		r.Post("/payments/{id}/redeem", h.Redeem)

		r.Get("/payouts/dead-letter", h.ListDeadLettered)
		r.Get("/payouts/{id}", h.GetPayout)
		r.Post("/payouts/{id}/requeue", h.Requeue)
	})
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.Service.CreatePaymentIntent(r.Context(), req)
	if err != nil {
		h.buyerError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) TriggerPayout(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Sweep(r.Context())
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	if rowErr := result.Err(); rowErr != nil {
		sendJSONResponse(w, http.StatusBadRequest, map[string]interface{}{
			"error":  rowErr.Error(),
			"result": result,
		})
		return
	}
	sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"message": "Payout triggered for pending payments.",
		"result":  result,
	})
}

func (h *Handler) CheckTransferStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Reconcile(r.Context())
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"message": "Transfer status check completed.",
		"result":  result,
	})
}

func (h *Handler) TotalTransferred(w http.ResponseWriter, r *http.Request) {
	total, err := h.Service.TotalTransferred(r.Context(), r.URL.Query().Get("accountId"))
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	resp := map[string]interface{}{
		"totalAmountTransferred": total.Dollars(),
	}
	if total.Mixed() {
		resp["byCurrency"] = total.MajorByCurrency()
	}
	sendJSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) PayoutList(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.Service.ListPayouts(r.Context(), r.URL.Query().Get("accountId"))
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, map[string]interface{}{"payouts": payouts})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	raw, err := h.Service.Balance(r.Context(), chi.URLParam(r, "connectedAccountId"))
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Service.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.buyerError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, payment)
}

func (h *Handler) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Service.ListUserBookings(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.buyerError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, payments)
}

func (h *Handler) ListEventBookings(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Service.ListEventBookings(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.buyerError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, payments)
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	payment, err := h.Service.Redeem(r.Context(), chi.URLParam(r, "id"), body.Token)
	if err != nil {
		h.buyerError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"message": "Ticket redeemed",
		"payment": payment,
	})
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.buyerError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPayout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, p)
}

func (h *Handler) ListDeadLettered(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.ListDeadLettered(r.Context())
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, map[string]interface{}{"payouts": rows})
}

func (h *Handler) Requeue(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.operatorError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"message": "Payout requeued",
		"payout":  p,
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health.Ping(ctx); err != nil {
			h.Logger.Error("HEALTH", fmt.Sprintf("Database ping failed: %v", err))
			sendError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	sendJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// buyerError writes the public message only; processor details stay in logs.
func (h *Handler) buyerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	h.logError(r, status, err)
	sendError(w, status, payout.PublicMessage(err))
}

// operatorError passes processor messages through to the caller.
func (h *Handler) operatorError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	h.logError(r, status, err)

	var rej *processor.RejectedError
	if errors.As(err, &rej) && rej.Message != "" {
		sendError(w, status, rej.Message)
		return
	}
	sendError(w, status, payout.PublicMessage(err))
}

func (h *Handler) logError(r *http.Request, status int, err error) {
	msg := fmt.Sprintf("%s %s -> %d: %v", r.Method, r.URL.Path, status, err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", msg)
		return
	}
	h.Logger.Warn("API", msg)
}

func statusFor(err error) int {
	switch payout.KindOf(err) {
	case payout.KindValidation:
		return http.StatusBadRequest
	case payout.KindNotFound:
		return http.StatusNotFound
	case payout.KindConflict:
		return http.StatusConflict
	case payout.KindExternal:
		if processor.IsRejected(err) {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case payout.KindIndeterminate:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSONResponse(w, status, map[string]string{"error": msg})
}

func sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are sent; an encode failure cannot change the status.
	_ = json.NewEncoder(w).Encode(data)
}
