package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"equipviz/internal/analysis"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "canceled", Outcome(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, "unauthorized", Outcome(&analysis.StatusError{StatusCode: 401}))
	assert.Equal(t, "not_found", Outcome(&analysis.StatusError{StatusCode: 404}))
	assert.Equal(t, "unavailable", Outcome(&analysis.NetworkError{Op: "x", Err: errors.New("refused")}))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestObserveBackend(t *testing.T) {
	before := testutil.ToFloat64(BackendRequests.WithLabelValues("metrics_test", "success"))
	ObserveBackend("metrics_test", nil, 15*time.Millisecond)
	after := testutil.ToFloat64(BackendRequests.WithLabelValues("metrics_test", "success"))
	assert.Equal(t, before+1, after)
}
