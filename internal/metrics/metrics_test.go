package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandCounting(t *testing.T) {
	m := New("backend", "pdf")

	m.Command("STORE", nil)
	m.Command("STORE", nil)
	m.Command("GET", errors.New("boom"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CommandsTotal.WithLabelValues("STORE", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CommandsTotal.WithLabelValues("GET", "error")))
}

func TestIndependentRegistries(t *testing.T) {
	// Two servers in one process must not collide on registration.
	a := New("dispatcher", "")
	b := New("backend", "text")
	a.BytesSent.Add(10)
	b.BytesSent.Add(20)
	assert.Equal(t, float64(10), testutil.ToFloat64(a.BytesSent))
	assert.Equal(t, float64(20), testutil.ToFloat64(b.BytesSent))
}

func TestHandler(t *testing.T) {
	m := New("dispatcher", "")
	m.ConnectionsTotal.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "filetier_connections_total")
}
