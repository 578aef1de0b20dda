package session

import "errors"

var (
	ErrInvalidSession   = errors.New("invalid session")
	ErrExpiredSession   = errors.New("session expired")
	ErrNotAdminSession  = errors.New("admin session required")
	ErrNotImpersonating = errors.New("impersonation session required")
	ErrNotAdmin         = errors.New("user is not an administrator")
	ErrNotTenantMember  = errors.New("user does not belong to tenant")
)
