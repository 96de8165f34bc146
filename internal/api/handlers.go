/**
 * @description
 * This file contains the HTTP handlers for the admission-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/esupa/admission-service/internal/app"
	"github.com/esupa/admission-service/internal/domain"
	"github.com/esupa/admission-service/internal/store"
)

// AdmissionHandlers holds the application service that handlers will use.
type AdmissionHandlers struct {
	service *app.Service
}

// NewAdmissionHandlers creates a new instance of AdmissionHandlers.
func NewAdmissionHandlers(service *app.Service) *AdmissionHandlers {
	return &AdmissionHandlers{service: service}
}

// EventStateHandler reports whether an event still has openings. The response never
// errors for unknown slugs so the endpoint does not confirm which slugs exist.
func (h *AdmissionHandlers) EventStateHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	availability, err := h.service.EventAvailability(r.Context(), slug)
	if err != nil {
		log.Printf("level=error component=api endpoint=event_state slug=%s err=%v", slug, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load event state")
		return
	}
	h.writeJSON(w, http.StatusOK, availability)
}

type beginPaymentRequest struct {
	Method int16 `json:"method"`
	Amount int64 `json:"amount,omitempty"` // cents; zero pays the full balance
}

// BeginPaymentHandler starts a payment attempt for a subscription.
func (h *AdmissionHandlers) BeginPaymentHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	var req beginPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=begin_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// Manual payments are entered by staff through the internal API only.
	if domain.PayMethod(req.Method) == domain.MethodManual {
		h.writeError(w, http.StatusBadRequest, "Unknown payment method")
		return
	}

	if req.Amount < 0 {
		h.writeError(w, http.StatusBadRequest, "Amount must not be negative")
		return
	}

	outcome, err := h.service.BeginPayment(r.Context(), subscriptionID, domain.PayMethod(req.Method), req.Amount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=begin_payment outcome=failed subscription_id=%d err=%v", subscriptionID, err)
		switch {
		case errors.Is(err, store.ErrSubscriptionNotFound):
			h.writeError(w, http.StatusNotFound, "Subscription not found")
		case errors.Is(err, app.ErrSubscriptionDenied):
			h.writeError(w, http.StatusForbidden, "Subscription has been denied")
		case errors.Is(err, app.ErrSubscriptionConfirmed):
			h.writeError(w, http.StatusConflict, "Subscription is already confirmed")
		case errors.Is(err, app.ErrSalesClosed):
			h.writeError(w, http.StatusConflict, "Sales are closed for this event")
		case errors.Is(err, app.ErrPartialPaymentClosed):
			h.writeError(w, http.StatusUnprocessableEntity, "Partial payment is not open for this event")
		case errors.Is(err, app.ErrUnknownPayMethod):
			h.writeError(w, http.StatusBadRequest, "Unknown payment method")
		default:
			h.writeError(w, http.StatusInternalServerError, "Unable to start payment")
		}
		return
	}

	status := http.StatusOK
	if outcome.Queued {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, outcome)
}

type depositRequest struct {
	SubscriptionID int64  `json:"subscription_id"`
	Amount         int64  `json:"amount"`
	Mimetype       string `json:"mimetype"`
	SlipReference  string `json:"slip_reference"`
}

// DepositHandler records an uploaded deposit proof for staff verification.
func (h *AdmissionHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SubscriptionID == 0 {
		h.writeError(w, http.StatusBadRequest, "subscription_id is required")
		return
	}

	tx, err := h.service.RecordDeposit(r.Context(), req.SubscriptionID, req.Amount, req.Mimetype, req.SlipReference)
	if err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=failed subscription_id=%d err=%v", req.SubscriptionID, err)
		switch {
		case errors.Is(err, store.ErrSubscriptionNotFound):
			h.writeError(w, http.StatusNotFound, "Subscription not found")
		case errors.Is(err, app.ErrSubscriptionDenied):
			h.writeError(w, http.StatusForbidden, "Subscription has been denied")
		default:
			h.writeError(w, http.StatusInternalServerError, "Unable to record deposit")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

type processorCallbackRequest struct {
	NotificationCode string `json:"notification_code"`
}

// ProcessorCallbackHandler receives payment processor callbacks. The body only
// names a notification code; the status is pulled back from the processor.
func (h *AdmissionHandlers) ProcessorCallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("notificationCode")
	if code == "" {
		var req processorCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			code = req.NotificationCode
		}
	}
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "Missing notification code")
		return
	}

	if err := h.service.HandleProcessorCallback(r.Context(), code); err != nil {
		if errors.Is(err, app.ErrStatusHeldForReview) {
			// Acknowledged but parked for staff; the processor must not retry.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		log.Printf("level=error component=api endpoint=processor_callback code=%s err=%v", code, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to process notification")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SweepHandler triggers a reconciliation sweep on demand.
func (h *AdmissionHandlers) SweepHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Sweep(r.Context()); err != nil {
		log.Printf("level=error component=api endpoint=sweep err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type manualTransactionRequest struct {
	SubscriptionID int64  `json:"subscription_id"`
	Amount         int64  `json:"amount"`
	Notes          string `json:"notes"`
}

// ManualTransactionHandler lets staff register an out-of-band payment.
func (h *AdmissionHandlers) ManualTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req manualTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SubscriptionID == 0 || req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "subscription_id and a positive amount are required")
		return
	}

	tx, err := h.service.RecordManualTransaction(r.Context(), req.SubscriptionID, req.Amount, req.Notes)
	if err != nil {
		log.Printf("level=warn component=api endpoint=manual_transaction outcome=failed subscription_id=%d err=%v", req.SubscriptionID, err)
		switch {
		case errors.Is(err, store.ErrSubscriptionNotFound):
			h.writeError(w, http.StatusNotFound, "Subscription not found")
		case errors.Is(err, app.ErrSubscriptionDenied):
			h.writeError(w, http.StatusForbidden, "Subscription has been denied")
		default:
			h.writeError(w, http.StatusInternalServerError, "Unable to record transaction")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

type decisionRequest struct {
	VerifierID int64  `json:"verifier_id"`
	Accepted   bool   `json:"accepted"`
	Notes      string `json:"notes"`
}

// DecideTransactionHandler records a staff verdict on an open payment attempt.
func (h *AdmissionHandlers) DecideTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VerifierID == 0 {
		h.writeError(w, http.StatusBadRequest, "verifier_id is required")
		return
	}

	tx, err := h.service.DecideTransaction(r.Context(), transactionID, req.VerifierID, req.Accepted, req.Notes)
	if err != nil {
		log.Printf("level=warn component=api endpoint=decide_transaction outcome=failed transaction_id=%d err=%v", transactionID, err)
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			h.writeError(w, http.StatusNotFound, "Transaction not found")
		case errors.Is(err, app.ErrTransactionClosed):
			h.writeError(w, http.StatusConflict, "Transaction is already closed")
		default:
			h.writeError(w, http.StatusInternalServerError, "Unable to record decision")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// QueueHandler returns the ordered admission queue of an event.
func (h *AdmissionHandlers) QueueHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid event id")
		return
	}

	entries, err := h.service.QueueSnapshot(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			h.writeError(w, http.StatusNotFound, "Event not found")
			return
		}
		log.Printf("level=error component=api endpoint=queue event_id=%d err=%v", eventID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load queue")
		return
	}
	if entries == nil {
		entries = []int64{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"event_id": eventID, "entries": entries})
}

// writeJSON is a helper for writing JSON responses.
func (h *AdmissionHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AdmissionHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
