package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/monitoring"
	"golang.org/x/sync/singleflight"
)

// Directory is the storefront-configuration store consulted on cache misses.
// Lookups return nil, nil when nothing matches.
type Directory interface {
	// StorefrontByCustomDomain must only match verified custom domains.
	StorefrontByCustomDomain(ctx context.Context, domain string) (*model.Storefront, error)
	StorefrontBySubdomain(ctx context.Context, subdomain string) (*model.Storefront, error)
	TenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBaseDomain sets the platform domain tenants are subdomains of.
func WithBaseDomain(domain string) ResolverOption {
	return func(r *Resolver) {
		r.baseDomain = strings.Trim(strings.ToLower(domain), ".")
	}
}

// WithPublicPaths sets the path prefixes that never require a tenant.
func WithPublicPaths(prefixes []string) ResolverOption {
	return func(r *Resolver) {
		r.publicPaths = nil
		for _, p := range prefixes {
			if p = strings.TrimSpace(p); p != "" {
				r.publicPaths = append(r.publicPaths, p)
			}
		}
	}
}

// WithLookupTimeout bounds a single directory round trip.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// Resolver turns a request host into a TenantContext.
type Resolver struct {
	dir           Directory
	cache         *DirectoryCache
	baseDomain    string
	publicPaths   []string
	lookupTimeout time.Duration
	group         singleflight.Group
}

// NewResolver creates a Resolver backed by dir and cache.
func NewResolver(dir Directory, cache *DirectoryCache, opts ...ResolverOption) *Resolver {
	if cache == nil {
		cache = NewDirectoryCache(DefaultCacheTTL, DefaultCacheSize)
	}
	r := &Resolver{
		dir:           dir,
		cache:         cache,
		lookupTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsPublicPath reports whether path is exempt from tenant resolution. A
// prefix matches whole path segments only: "/health" covers "/health" and
// "/health/live" but not "/healthz". A prefix ending in "/" covers everything
// below it.
func (r *Resolver) IsPublicPath(path string) bool {
	for _, p := range r.publicPaths {
		if !strings.HasPrefix(path, p) {
			continue
		}
		if len(path) == len(p) || strings.HasSuffix(p, "/") || path[len(p)] == '/' {
			return true
		}
	}
	return false
}

// Resolve returns the tenant context for host. Public paths get an unscoped
// context without any lookup. Failures are typed; a tenant-requiring path
// never receives an empty context.
func (r *Resolver) Resolve(ctx context.Context, host, path string) (model.TenantContext, error) {
	start := time.Now()
	defer func() {
		monitoring.ResolutionDuration.Observe(time.Since(start).Seconds())
	}()

	key, hostErr := NormalizeHost(host)

	if r.IsPublicPath(path) {
		if hostErr != nil {
			log.Warn().Err(hostErr).Str("host", host).Str("path", path).
				Msg("Unresolvable host on public path, serving degraded context")
			monitoring.TenantResolutions.WithLabelValues("degraded").Inc()
			return model.TenantContext{Degraded: true}, nil
		}
		monitoring.TenantResolutions.WithLabelValues("public").Inc()
		return model.UnscopedContext(), nil
	}

	if hostErr != nil {
		monitoring.TenantResolutions.WithLabelValues("transient").Inc()
		return model.TenantContext{}, fmt.Errorf("%w: %v", ErrTransientResolution, hostErr)
	}

	if cached, ok := r.cache.Get(key); ok {
		monitoring.TenantCacheLookups.WithLabelValues("hit").Inc()
		monitoring.TenantResolutions.WithLabelValues("cache_hit").Inc()
		return cached, nil
	}
	monitoring.TenantCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		return r.lookup(lookupCtx, key)
	})
	if err != nil {
		monitoring.TenantResolutions.WithLabelValues(outcomeLabel(err)).Inc()
		return model.TenantContext{}, err
	}

	monitoring.TenantResolutions.WithLabelValues("resolved").Inc()
	return v.(model.TenantContext).Clone(), nil
}

// lookup performs the directory round trip for one host and caches success.
func (r *Resolver) lookup(ctx context.Context, host string) (model.TenantContext, error) {
	sf, err := r.findStorefront(ctx, host)
	if err != nil {
		log.Warn().Err(err).Str("host", host).Msg("Storefront lookup failed")
		return model.TenantContext{}, fmt.Errorf("%w: %v", ErrTransientResolution, err)
	}
	if sf == nil {
		return model.TenantContext{}, fmt.Errorf("%w: %s", ErrInvalidSubdomain, host)
	}

	t, err := r.dir.TenantByID(ctx, sf.TenantID)
	if err != nil {
		log.Warn().Err(err).Str("host", host).Str("tenant_id", sf.TenantID.String()).Msg("Tenant lookup failed")
		return model.TenantContext{}, fmt.Errorf("%w: %v", ErrTransientResolution, err)
	}
	switch {
	case t == nil:
		return model.TenantContext{}, fmt.Errorf("%w: %s", ErrInvalidTenant, sf.TenantID)
	case !t.IsActive() || !t.StorefrontEnabled:
		return model.TenantContext{}, fmt.Errorf("%w: %s", ErrInactiveTenant, t.ID)
	case t.MaintenanceMode:
		return model.TenantContext{}, fmt.Errorf("%w: %s", ErrMaintenanceMode, t.ID)
	}

	tc := model.NewTenantContext(t, sf)
	r.cache.Put(host, tc)
	log.Debug().Str("host", host).Str("tenant_id", t.ID.String()).Msg("Tenant resolved")
	return tc, nil
}

// findStorefront tries the verified custom domain first, then the subdomain.
func (r *Resolver) findStorefront(ctx context.Context, host string) (*model.Storefront, error) {
	sf, err := r.dir.StorefrontByCustomDomain(ctx, host)
	if err != nil {
		return nil, err
	}
	if sf != nil && sf.CustomDomainVerified {
		return sf, nil
	}

	label, ok := subdomainLabel(host, r.baseDomain)
	if !ok {
		return nil, nil
	}
	return r.dir.StorefrontBySubdomain(ctx, label)
}

// Invalidate drops a cached host.
func (r *Resolver) Invalidate(host string) {
	if key, err := NormalizeHost(host); err == nil {
		r.cache.Invalidate(key)
	}
}

// InvalidateTenant drops every cached host of a tenant.
func (r *Resolver) InvalidateTenant(tenantID uuid.UUID) {
	if n := r.cache.InvalidateTenant(tenantID); n > 0 {
		log.Info().Str("tenant_id", tenantID.String()).Int("hosts", n).Msg("Tenant cache invalidated")
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSubdomain):
		return "invalid_subdomain"
	case errors.Is(err, ErrInvalidTenant):
		return "invalid_tenant"
	case errors.Is(err, ErrInactiveTenant):
		return "inactive"
	case errors.Is(err, ErrMaintenanceMode):
		return "maintenance"
	default:
		return "transient"
	}
}
