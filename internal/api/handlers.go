/**
 * @description
 * HTTP handlers for the billing service: owner-facing subscription
 * operations and the internal sweep/charge triggers.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dineflow/billing-service/internal/app"
	"github.com/dineflow/billing-service/internal/domain"
	"github.com/dineflow/billing-service/internal/gateway"
	"github.com/dineflow/billing-service/internal/store"
)

// SubscriptionReader is the read access the internal charge handler needs.
type SubscriptionReader interface {
	GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error)
}

// Handler holds the application services that handlers interact with.
type Handler struct {
	service   *app.Service
	sweeper   *app.Sweeper
	processor *app.Processor
	subs      SubscriptionReader
}

// NewHandler creates a new Handler.
func NewHandler(service *app.Service, sweeper *app.Sweeper, processor *app.Processor, subs SubscriptionReader) *Handler {
	return &Handler{service: service, sweeper: sweeper, processor: processor, subs: subs}
}

type subscribeRequest struct {
	PlanID     string `json:"plan_id"`
	OwnerEmail string `json:"owner_email"`
	OwnerName  string `json:"owner_name"`
	Card       struct {
		Number      string `json:"number"`
		ExpiryMonth int    `json:"expiry_month"`
		ExpiryYear  int    `json:"expiry_year"`
		CVC         string `json:"cvc"`
		HolderName  string `json:"holder_name"`
	} `json:"card"`
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := RestaurantFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.PlanID == "" {
		http.Error(w, "plan_id is required", http.StatusBadRequest)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), app.SubscribeParams{
		RestaurantID: restaurantID,
		PlanID:       req.PlanID,
		OwnerEmail:   req.OwnerEmail,
		OwnerName:    req.OwnerName,
		Card: gateway.CardDetails{
			Number:      req.Card.Number,
			ExpiryMonth: req.Card.ExpiryMonth,
			ExpiryYear:  req.Card.ExpiryYear,
			CVC:         req.Card.CVC,
			HolderName:  req.Card.HolderName,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPlanNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, app.ErrPlanInactive), errors.Is(err, app.ErrAlreadySubscribed):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("Error subscribing restaurant %s: %v", restaurantID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := RestaurantFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := h.service.RequestCancellation(r.Context(), restaurantID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSubscriptionNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, app.ErrAlreadyTerminal):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("Error cancelling subscription for restaurant %s: %v", restaurantID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := RestaurantFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.service.GetStatus(r.Context(), restaurantID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error getting subscription status for restaurant %s: %v", restaurantID, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		log.Printf("Error listing plans: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, plans)
}

func (h *Handler) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.RunSweep(r.Context())
	if err != nil {
		log.Printf("Error running billing sweep: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleChargeSubscription(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "id")
	if subID == "" {
		http.Error(w, "Subscription ID is required", http.StatusBadRequest)
		return
	}

	sub, err := h.subs.GetSubscriptionByID(r.Context(), subID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error loading subscription %s: %v", subID, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	var status app.DispatchStatus
	if sub.Status == domain.StatusTrial {
		status, err = h.processor.ProcessTrialExpiration(r.Context(), *sub, now)
	} else {
		status, err = h.processor.ProcessRenewal(r.Context(), *sub, now)
	}

	switch status {
	case app.DispatchSkipped:
		respondWithJSON(w, http.StatusAccepted, map[string]string{"result": "skipped", "detail": err.Error()})
	case app.DispatchCharged:
		respondWithJSON(w, http.StatusOK, map[string]string{"result": "charged"})
	case app.DispatchChargeFailed:
		respondWithJSON(w, http.StatusOK, map[string]string{"result": "charge_failed", "detail": err.Error()})
	default:
		log.Printf("Error charging subscription %s: %v", subID, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
