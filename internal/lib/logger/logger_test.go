package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/config"
)

func TestNew(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(config.EnvProd, &buf).Debug("hidden")
	assert.Empty(t, buf.String(), "prod drops debug")

	New(config.EnvProd, &buf).Info("shown", "op", "test")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])

	buf.Reset()
	New(config.EnvLocal, &buf).Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
