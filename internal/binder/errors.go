package binder

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/override"
	"github.com/teresa-solution/tenant-context-service/internal/session"
	"github.com/teresa-solution/tenant-context-service/internal/tenant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrTenantRequired = errors.New("tenant context required")
	ErrTenantMismatch = errors.New("tenant hint does not match resolved tenant")
	ErrSessionKind    = errors.New("session kind not allowed")
)

const (
	maintenanceRetryAfter = 300
	transientRetryAfter   = 5
)

type errorClass struct {
	err        error
	code       string
	httpStatus int
	grpcCode   codes.Code
	retryAfter int
}

var errorClasses = []errorClass{
	{tenant.ErrInvalidSubdomain, "invalid_subdomain", http.StatusNotFound, codes.NotFound, 0},
	{tenant.ErrInvalidTenant, "invalid_tenant", http.StatusNotFound, codes.NotFound, 0},
	{tenant.ErrInactiveTenant, "inactive_tenant", http.StatusForbidden, codes.PermissionDenied, 0},
	{tenant.ErrMaintenanceMode, "maintenance_mode", http.StatusServiceUnavailable, codes.Unavailable, maintenanceRetryAfter},
	{tenant.ErrTransientResolution, "resolution_unavailable", http.StatusServiceUnavailable, codes.Unavailable, transientRetryAfter},
	{ErrTenantRequired, "tenant_required", http.StatusBadRequest, codes.FailedPrecondition, 0},
	{ErrTenantMismatch, "tenant_mismatch", http.StatusBadRequest, codes.InvalidArgument, 0},
	{session.ErrInvalidSession, "invalid_session", http.StatusUnauthorized, codes.Unauthenticated, 0},
	{session.ErrExpiredSession, "expired_session", http.StatusUnauthorized, codes.Unauthenticated, 0},
	{session.ErrNotAdminSession, "admin_session_required", http.StatusForbidden, codes.PermissionDenied, 0},
	{session.ErrNotImpersonating, "impersonation_required", http.StatusForbidden, codes.PermissionDenied, 0},
	{session.ErrNotAdmin, "not_admin", http.StatusForbidden, codes.PermissionDenied, 0},
	{session.ErrNotTenantMember, "not_tenant_member", http.StatusForbidden, codes.PermissionDenied, 0},
	{ErrSessionKind, "session_kind_not_allowed", http.StatusForbidden, codes.PermissionDenied, 0},
	{override.ErrUnauthorizedOverride, "unauthorized_override", http.StatusForbidden, codes.PermissionDenied, 0},
}

var internalClass = errorClass{code: "internal_error", httpStatus: http.StatusInternalServerError, grpcCode: codes.Internal}

func classify(err error) errorClass {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c
		}
	}
	return internalClass
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	c := classify(err)
	msg := "Internal server error"
	if c.err != nil {
		// Wrapped causes stay in the logs.
		msg = c.err.Error()
	} else {
		log.Error().Err(err).Msg("Request failed")
	}
	if c.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(c.retryAfter))
	}
	WriteJSON(w, c.httpStatus, ErrorResponse{Error: c.code, Message: msg})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// GRPCError converts err to a gRPC status error.
func GRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	c := classify(err)
	if c.err == nil {
		log.Error().Err(err).Msg("Request failed")
		return status.Error(codes.Internal, "Internal server error")
	}
	return status.Error(c.grpcCode, c.err.Error())
}
