package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/teresa-solution/tenant-context-service/internal/binder"
	"github.com/teresa-solution/tenant-context-service/internal/model"
)

type contextResponse struct {
	Tenant      model.TenantContext `json:"tenant"`
	SessionID   *uuid.UUID          `json:"session_id,omitempty"`
	SessionType model.ContextType   `json:"session_type,omitempty"`
	Isolation   string              `json:"isolation"`
}

// GetContext reports the resolved tenant and the isolation value the
// database sees for this request.
func (a *API) GetContext(w http.ResponseWriter, r *http.Request) {
	tc, _ := binder.TenantFromContext(r.Context())
	isolationKey, _ := a.scoper.Settings()

	var isolation string
	err := a.scoper.WithScope(r.Context(), func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT current_setting($1, true)", isolationKey).Scan(&isolation)
	})
	if err != nil {
		binder.WriteError(w, err)
		return
	}

	resp := contextResponse{Tenant: tc, Isolation: isolation}
	if sess := binder.SessionFromContext(r.Context()); sess != nil {
		resp.SessionID = &sess.ID
		resp.SessionType = sess.Type()
	}
	binder.WriteJSON(w, http.StatusOK, resp)
}

type impersonationRequest struct {
	TargetUserID uuid.UUID `json:"target_user_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Reason       string    `json:"reason"`
}

func (a *API) BeginImpersonation(w http.ResponseWriter, r *http.Request) {
	var req impersonationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetUserID == uuid.Nil || req.TenantID == uuid.Nil {
		writeBadRequest(w, "target_user_id and tenant_id are required")
		return
	}

	sess := binder.SessionFromContext(r.Context())
	issued, err := a.sessions.BeginImpersonation(r.Context(), sess.ID, req.TargetUserID, req.TenantID, req.Reason)
	if err != nil {
		binder.WriteError(w, err)
		return
	}
	binder.WriteJSON(w, http.StatusCreated, issued)
}

func (a *API) EndImpersonation(w http.ResponseWriter, r *http.Request) {
	sess := binder.SessionFromContext(r.Context())
	issued, err := a.sessions.EndImpersonation(r.Context(), sess.ID)
	if err != nil {
		binder.WriteError(w, err)
		return
	}
	binder.WriteJSON(w, http.StatusOK, issued)
}

type overrideRequest struct {
	Reason string `json:"reason"`
}

type overrideResponse struct {
	Active    bool                 `json:"active"`
	State     *model.OverrideState `json:"state,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
}

func (a *API) ActivateOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	state, err := a.overrides.Activate(r.Context(), binder.SessionFromContext(r.Context()), req.Reason)
	if err != nil {
		binder.WriteError(w, err)
		return
	}
	binder.WriteJSON(w, http.StatusOK, a.overrideResponse(state))
}

func (a *API) DeactivateOverride(w http.ResponseWriter, r *http.Request) {
	if err := a.overrides.Deactivate(r.Context(), binder.SessionFromContext(r.Context())); err != nil {
		binder.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetOverride(w http.ResponseWriter, r *http.Request) {
	sess := binder.SessionFromContext(r.Context())
	state, err := a.overrides.State(r.Context(), sess.ID)
	if err != nil {
		binder.WriteError(w, err)
		return
	}
	binder.WriteJSON(w, http.StatusOK, a.overrideResponse(state))
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	sess := binder.SessionFromContext(r.Context())
	if err := a.sessions.Invalidate(r.Context(), sess.ID); err != nil {
		binder.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) overrideResponse(state *model.OverrideState) overrideResponse {
	if state == nil {
		return overrideResponse{}
	}
	expires := state.ExpiresAt(a.overrides.MaxDuration())
	return overrideResponse{Active: true, State: state, ExpiresAt: &expires}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	// An empty body leaves v at its zero value.
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body")
		return false
	}
	return true
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	binder.WriteJSON(w, http.StatusBadRequest, binder.ErrorResponse{Error: "invalid_request", Message: msg})
}
