// Copyright 2025 James Ross
//
// Package intake implements component F, the Intake Handler: validates and
// accepts POST /v1/authorize requests, resolves idempotency, delegates the
// atomic create to the Transaction Coordinator, and polls the fast path for
// a terminal result within a bounded window (spec.md §4.6). Grounded on the
// teacher's gorilla/mux HTTP handler idiom (c.f.
// internal/smart-retry-strategies/handlers.go's RegisterRoutes/writeJSON/
// writeError shape).
package intake

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ssh-randy/payments-core/internal/coordinator"
	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/idempotency"
	"github.com/ssh-randy/payments-core/internal/obs"
)

// Handler serves the intake HTTP surface.
type Handler struct {
	db          *sql.DB
	coord       *coordinator.Coordinator
	idempotency *idempotency.Store
	cache       *idempotency.RedisCache // may be nil
	validator   *Validator
	idemTTL     time.Duration
	pollWindow  time.Duration
	pollStep    time.Duration
	log         *zap.Logger
}

func New(db *sql.DB, coord *coordinator.Coordinator, idem *idempotency.Store, cache *idempotency.RedisCache, validator *Validator, idemTTL, pollWindow, pollStep time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		db:          db,
		coord:       coord,
		idempotency: idem,
		cache:       cache,
		validator:   validator,
		idemTTL:     idemTTL,
		pollWindow:  pollWindow,
		pollStep:    pollStep,
		log:         log,
	}
}

// RegisterRoutes mounts the intake surface on router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/authorize", h.createAuthorization).Methods(http.MethodPost)
	router.HandleFunc("/v1/authorize/{id}/status", h.getStatus).Methods(http.MethodGet)
}

// authorizeRequest is the POST /v1/authorize body, validated against
// schema.json before being unmarshaled here.
type authorizeRequest struct {
	RestaurantID   string            `json:"restaurant_id"`
	PaymentToken   string            `json:"payment_token"`
	AmountCents    int64             `json:"amount_cents"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type authorizeResponse struct {
	AuthRequestID string `json:"auth_request_id"`
	Status        string `json:"status"`
	StatusURL     string `json:"status_url,omitempty"`
}

func (h *Handler) createAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx, span := obs.StartIntakeSpan(r.Context(), "")
	defer span.End()

	raw, err := readBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if violations, err := h.validator.Validate(raw); err != nil {
		h.writeError(w, http.StatusInternalServerError, "schema validation error", err)
		return
	} else if len(violations) > 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "violations": violations})
		return
	}

	var req authorizeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	obs.AddSpanAttributes(ctx, obs.KeyValue("restaurant.id", req.RestaurantID))

	// Step 1: existing idempotency mapping short-circuits the create.
	if authRequestID, found := h.lookupIdempotent(ctx, req.IdempotencyKey, req.RestaurantID); found {
		obs.IdempotencyHits.Inc()
		h.respondWithCurrentState(w, ctx, authRequestID, http.StatusOK)
		return
	}

	authRequestID := uuid.New().String()

	result, err := h.coord.RecordCreated(ctx, authRequestID, domain.AuthRequestCreatedData{
		RestaurantID:   req.RestaurantID,
		PaymentToken:   req.PaymentToken,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	}, domain.IdempotencyKey{
		IdempotencyKey: req.IdempotencyKey,
		RestaurantID:   req.RestaurantID,
		AuthRequestID:  authRequestID,
		ExpiresAt:      time.Now().Add(h.idemTTL),
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to create authorization request", err)
		return
	}

	if result.Existing {
		// A concurrent duplicate submit won the (idempotency_key,
		// restaurant_id) race inside the coordinator's transaction; this
		// attempt's event/read-model/outbox rows were rolled back, so the
		// winner's aggregate is the only one that exists (spec.md §4.6
		// step 2, §8 idempotency property).
		obs.IdempotencyHits.Inc()
		if h.cache != nil {
			if err := h.cache.Set(ctx, req.IdempotencyKey, req.RestaurantID, result.AuthRequestID); err != nil {
				h.log.Debug("idempotency cache set failed", obs.Err(err))
			}
		}
		h.respondWithCurrentState(w, ctx, result.AuthRequestID, http.StatusOK)
		return
	}

	obs.AuthRequestsCreated.Inc()
	if h.cache != nil {
		if err := h.cache.Set(ctx, req.IdempotencyKey, req.RestaurantID, authRequestID); err != nil {
			h.log.Debug("idempotency cache set failed", obs.Err(err))
		}
	}

	h.respondWithCurrentState(w, ctx, authRequestID, http.StatusAccepted)
}

// respondWithCurrentState polls the fast path up to pollWindow, returning
// the terminal result inline when it arrives in time, else a 202 with the
// status_url (spec.md §4.6 step 3). initialStatus is not read: the
// fallback response is always 202 Accepted.
func (h *Handler) respondWithCurrentState(w http.ResponseWriter, ctx context.Context, authRequestID string, initialStatus int) {
	deadline := time.Now().Add(h.pollWindow)
	for {
		state, err := h.coord.Get(ctx, authRequestID)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to load authorization state", err)
			return
		}
		if state.Status.IsTerminal() {
			h.writeJSON(w, http.StatusOK, stateToResponse(state))
			return
		}
		if time.Now().After(deadline) {
			resp := stateToResponse(state)
			resp.StatusURL = "/v1/authorize/" + authRequestID + "/status?restaurant_id=" + state.RestaurantID
			h.writeJSON(w, http.StatusAccepted, resp)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.pollStep):
		}
	}
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authRequestID := mux.Vars(r)["id"]
	restaurantID := r.URL.Query().Get("restaurant_id")

	state, err := h.coord.Get(ctx, authRequestID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "authorization request not found", err)
		return
	}
	// No information leak: a restaurant_id mismatch looks identical to a
	// missing record (spec.md §6).
	if restaurantID != "" && state.RestaurantID != restaurantID {
		h.writeError(w, http.StatusNotFound, "authorization request not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, stateToResponse(state))
}

func stateToResponse(state *domain.AuthRequestState) authorizeResponse {
	return authorizeResponse{AuthRequestID: state.AuthRequestID, Status: string(state.Status)}
}

func (h *Handler) lookupIdempotent(ctx context.Context, key, restaurantID string) (string, bool) {
	if h.cache != nil {
		if id, found, err := h.cache.Get(ctx, key, restaurantID); err == nil && found {
			return id, true
		}
	}
	id, found, err := h.idempotency.Lookup(ctx, h.db, key, restaurantID)
	if err != nil {
		h.log.Warn("idempotency lookup error", obs.Err(err))
		return "", false
	}
	if found && h.cache != nil {
		if err := h.cache.Set(ctx, key, restaurantID, id); err != nil {
			h.log.Debug("idempotency cache set failed", obs.Err(err))
		}
	}
	return id, found
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to write JSON response", obs.Err(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	fields := []zap.Field{zap.Int("status", status)}
	if err != nil {
		fields = append(fields, obs.Err(err))
	}
	h.log.Error(message, fields...)

	resp := map[string]interface{}{"error": message}
	if err != nil {
		resp["details"] = err.Error()
	}
	h.writeJSON(w, status, resp)
}
