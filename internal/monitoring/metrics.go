package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TenantResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolutions_total",
			Help: "Total number of tenant resolutions by outcome",
		},
		[]string{"outcome"},
	)
	TenantCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_cache_lookups_total",
			Help: "Tenant directory cache lookups by result",
		},
		[]string{"result"},
	)
	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_resolution_duration_seconds",
			Help:    "Duration of tenant resolution in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)
	ContextSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_sessions_total",
			Help: "Context sessions issued by context type",
		},
		[]string{"kind"},
	)
	Impersonations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impersonations_total",
			Help: "Impersonation transitions by event",
		},
		[]string{"event"},
	)
	AdminOverrides = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_overrides_total",
			Help: "Admin override events",
		},
		[]string{"event"},
	)
	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit records that fell back to the local log",
		},
	)
	IsolationScopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isolation_scopes_total",
			Help: "Database units of work by isolation mode",
		},
		[]string{"mode"},
	)
)

func InitMetrics() {
	collectors := map[string]prometheus.Collector{
		"TenantResolutions":  TenantResolutions,
		"TenantCacheLookups": TenantCacheLookups,
		"ResolutionDuration": ResolutionDuration,
		"ContextSessions":    ContextSessions,
		"Impersonations":     Impersonations,
		"AdminOverrides":     AdminOverrides,
		"AuditWriteFailures": AuditWriteFailures,
		"IsolationScopes":    IsolationScopes,
	}
	for name, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}
