package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/teresa-solution/tenant-context-service/internal/binder"
	"github.com/teresa-solution/tenant-context-service/internal/service"
	"github.com/teresa-solution/tenant-context-service/internal/store"
)

type statusRequest struct {
	Status string `json:"status"`
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *API) SetTenantStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tenant, err := a.lifecycle.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	binder.WriteJSON(w, http.StatusOK, tenant)
}

func (a *API) SetTenantMaintenance(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	var req maintenanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tenant, err := a.lifecycle.SetMaintenance(r.Context(), id, req.Enabled)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	binder.WriteJSON(w, http.StatusOK, tenant)
}

func tenantIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeBadRequest(w, "Invalid tenant ID")
		return uuid.Nil, false
	}
	return id, true
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidStatus):
		writeBadRequest(w, err.Error())
	case errors.Is(err, store.ErrTenantNotFound):
		binder.WriteJSON(w, http.StatusNotFound, binder.ErrorResponse{Error: "tenant_not_found", Message: "Tenant not found"})
	default:
		binder.WriteError(w, err)
	}
}
