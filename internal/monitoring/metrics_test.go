package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInitMetrics_RegistersOnce(t *testing.T) {
	InitMetrics()
	// A second registration is logged, not fatal.
	InitMetrics()

	before := testutil.ToFloat64(TenantResolutions.WithLabelValues("resolved"))
	TenantResolutions.WithLabelValues("resolved").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TenantResolutions.WithLabelValues("resolved")))
}
