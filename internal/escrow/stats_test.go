package escrow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/propertyescrow/internal/metrics"
)

func TestStatsCollector_SetsActiveGauge(t *testing.T) {
	h := newHarness(t)
	h.list(t)
	metrics.ActiveEscrows.Set(42)

	c := NewStatsCollector(h.store, slog.Default()).WithInterval(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveEscrows) == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.Running())

	c.Stop()
	require.Eventually(t, func() bool { return !c.Running() }, time.Second, 5*time.Millisecond)
}
