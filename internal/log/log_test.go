package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskToken(t *testing.T) {
	t.Parallel()

	require.Equal(t, "***EMPTY***", MaskToken(""))
	require.Equal(t, "***", MaskToken("abc"))
	require.Equal(t, "ab****gh", MaskToken("abcdefgh"))
	require.Equal(t, "abcde**vwxyz", MaskToken("Bearer abcdeXYvwxyz"))
}

func TestNewHandlerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, false))
	logger.Debug("hidden")
	logger.Info("Dispatched event", "session_id", "s1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "Dispatched event", entry["msg"])
	require.Equal(t, "s1", entry["session_id"])

	buf.Reset()
	slog.New(NewHandler(&buf, true)).Debug("shown")
	require.Contains(t, buf.String(), "shown")
}
