package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTolerantToDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestRecordHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	before := testutil.ToFloat64(AuthAttempts.WithLabelValues("2", "ok"))
	ObserveAuth(2, "ok", 40*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(AuthAttempts.WithLabelValues("2", "ok")))

	hits := testutil.ToFloat64(TokenValidationCache.WithLabelValues("hit"))
	RecordValidation("valid", true)
	assert.Equal(t, hits+1, testutil.ToFloat64(TokenValidationCache.WithLabelValues("hit")))

	grants := testutil.ToFloat64(OIDCGrants.WithLabelValues("authorization_code", "ok"))
	RecordGrant("authorization_code", "ok")
	assert.Equal(t, grants+1, testutil.ToFloat64(OIDCGrants.WithLabelValues("authorization_code", "ok")))

	events := testutil.ToFloat64(SecurityEvents.WithLabelValues("nonce_replay", "high"))
	RecordSecurityEvent("nonce_replay", "high")
	assert.Equal(t, events+1, testutil.ToFloat64(SecurityEvents.WithLabelValues("nonce_replay", "high")))

	purged := testutil.ToFloat64(SweepPurged.WithLabelValues("websession"))
	RecordSweep("websession", 3)
	RecordSweep("websession", 0) // cero no suma serie
	assert.Equal(t, purged+3, testutil.ToFloat64(SweepPurged.WithLabelValues("websession")))
}
