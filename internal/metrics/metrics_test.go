package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.Event("agent_message")
	m.Event("agent_message")
	m.ToolFinished("Bash", "completed")
	m.Permission("deny")
	m.Sessions(3)
	m.ParseMiss("context_usage")
	m.SendFailure("send_prompt")

	require.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("agent_message")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.tools.WithLabelValues("Bash", "completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.permissions.WithLabelValues("deny")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.parseMisses.WithLabelValues("context_usage")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures.WithLabelValues("send_prompt")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.Event("x")
		m.ToolFinished("Bash", "error")
		m.Permission("approve")
		m.Sessions(1)
		m.ParseMiss("todo")
		m.SendFailure("ping")
	})
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Event("session_created")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `ccterm_events_dispatched_total{type="session_created"} 1`)
}
