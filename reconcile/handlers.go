// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coolsheets/truenorth-sync/inspection"
	"github.com/coolsheets/truenorth-sync/internal/auth"
)

// ClientAuthenticator extracts both user and device identity from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// InspectionService is the reconciliation surface the handlers depend on.
type InspectionService interface {
	ApplyPush(ctx context.Context, userID string, draft *inspection.WireDraft) (string, error)
	ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]*Record, error)
	MarkDeleted(ctx context.Context, userID, id string) error
	Healthy(ctx context.Context) error
}

// Handlers provides the HTTP surface of the reconciliation endpoint.
type Handlers struct {
	service       InspectionService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHandlers creates a new instance of reconciliation handlers.
func NewHandlers(service InspectionService, authenticator ClientAuthenticator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Routes returns a mux with all endpoint routes registered.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/inspections/health", h.HandleHealth)
	mux.HandleFunc("/inspections/{id}", h.HandleDelete)
	mux.HandleFunc("/inspections", h.HandleInspections)
	return mux
}

// HandleInspections dispatches push and list requests.
func (h *Handlers) HandleInspections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePush(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST and GET methods are allowed")
	}
}

// handlePush reconciles one pushed draft and acknowledges it with the
// canonical id. The body passes through the same sanitization boundary the
// client uses, so a hand-rolled or stale-client payload cannot corrupt the
// store.
func (h *Handlers) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	draft, err := inspection.SanitizePayload(body)
	if err != nil {
		var serr *inspection.SanitizationError
		if errors.As(err, &serr) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", serr.Reason)
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed inspection payload")
		return
	}
	if deviceID, ok := auth.GetDeviceID(ctx); ok {
		// The token's device identity wins over whatever the body claims.
		draft.DeviceID = deviceID
	}

	id, err := h.service.ApplyPush(ctx, userID, draft)
	if err != nil {
		h.logger.Error("push reconciliation failed", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "push_failed", "Failed to reconcile inspection")
		return
	}

	h.writeJSON(w, http.StatusCreated, PushResponse{ID: id})
}

// handleList serves incremental downloads. updated_since is an RFC 3339
// timestamp; absent means everything.
func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("updated_since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "updated_since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	records, err := h.service.ListUpdatedSince(ctx, userID, since)
	if err != nil {
		h.logger.Error("list failed", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list inspections")
		return
	}

	h.writeJSON(w, http.StatusOK, records)
}

// HandleDelete tombstones a record by canonical id.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only DELETE method is allowed")
		return
	}

	ctx, userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing inspection id")
		return
	}

	if err := h.service.MarkDeleted(ctx, userID, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			// Already gone. Clients treat 404 as acknowledged.
			h.writeError(w, http.StatusNotFound, "not_found", "No such inspection")
			return
		}
		h.logger.Error("delete failed", "error", err, "user_id", userID, "id", id)
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete inspection")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth answers connectivity probes. HEAD is what clients send; GET is
// allowed for humans.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodHead && r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only HEAD and GET methods are allowed")
		return
	}
	if err := h.service.Healthy(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (context.Context, string, bool) {
	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return nil, "", false
	}
	deviceID, err := h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return nil, "", false
	}
	return auth.SetAuthContext(r.Context(), userID, deviceID), userID, true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
