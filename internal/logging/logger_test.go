package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": Debug, "": Info, "WARNING": Warn, " error ": Error}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestTextLoggerFiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	l := Named(New(Info, Text, &buf), "channel")
	l.Debug("hidden")
	l.Info("acquired", F("prn", 7), Err(nil))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] acquired subsystem=channel prn=7")
	assert.NotContains(t, out, "error=")
}

func TestJSONLoggerPayload(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf).With(F("channel", 3))
	l.Error("pcps failed", Err(errors.New("boom")))

	line := buf.String()
	idx := strings.Index(line, "{")
	require.GreaterOrEqual(t, idx, 0)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(line[idx:]), &payload))
	assert.Equal(t, "ERROR", payload["level"])
	assert.Equal(t, "pcps failed", payload["msg"])
	assert.Equal(t, "boom", payload["error"])
	assert.EqualValues(t, 3, payload["channel"])
}
