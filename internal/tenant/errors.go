package tenant

import "errors"

var (
	// ErrInvalidSubdomain is returned when the host matches no known storefront.
	ErrInvalidSubdomain = errors.New("host does not match any tenant")

	// ErrInvalidTenant is returned when a storefront points at a missing tenant.
	ErrInvalidTenant = errors.New("tenant does not exist")

	// ErrInactiveTenant is returned for disabled tenants or storefronts.
	ErrInactiveTenant = errors.New("tenant is inactive")

	// ErrMaintenanceMode is returned while a tenant is under maintenance.
	ErrMaintenanceMode = errors.New("tenant is under maintenance")

	// ErrTransientResolution wraps infrastructure faults during lookup.
	ErrTransientResolution = errors.New("tenant resolution temporarily unavailable")

	errMalformedHost = errors.New("malformed host")
)
