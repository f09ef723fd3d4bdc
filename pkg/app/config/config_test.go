package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("ZAPAI_CONFIG_DIR", t.TempDir()) // keep any real .env out
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "zapai", cfg.AppName)
	assert.Equal(t, int64(20), cfg.DMCost)
	assert.Equal(t, int64(50), cfg.PublicCost)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Equal(t, 10000, cfg.MaxQueueSize)
	assert.Equal(t, 3, cfg.BreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.BreakerResetTimeout)
	assert.Equal(t, 50, cfg.RateMaxTokens)
	assert.Equal(t, 1000, cfg.DedupMaxIDs)
	assert.Equal(t, 5*time.Minute, cfg.FingerprintTTL)
	assert.Equal(t, 5, cfg.ReconnectMax)
	assert.Equal(t, 3337, cfg.WebPort)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestEnvironmentOverridesAndRelayParsing(t *testing.T) {
	t.Setenv("ZAPAI_CONFIG_DIR", t.TempDir())
	t.Setenv("ZAPAI_DM_COST", "33")
	t.Setenv("ZAPAI_RELAYS", "wss://a.example, wss://b.example ,")
	t.Setenv("ZAPAI_RESPONSE_DELAY", "750ms")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, int64(33), cfg.DMCost)
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.Relays)
	assert.Equal(t, 750*time.Millisecond, cfg.ResponseDelay)
}

func TestValidate(t *testing.T) {
	t.Setenv("ZAPAI_CONFIG_DIR", t.TempDir())
	cfg, err := New()
	require.NoError(t, err)

	assert.ErrorContains(t, cfg.Validate(), "ZAPAI_SECRET_KEY")
	cfg.SecretKey = "aa"
	assert.ErrorContains(t, cfg.Validate(), "ZAPAI_AI_API_KEY")
	cfg.AIAPIKey = "key"
	assert.ErrorContains(t, cfg.Validate(), "ZAPAI_RELAYS")
	cfg.Relays = []string{"wss://a"}
	assert.NoError(t, cfg.Validate())
}

func TestPrintEnvRoundtrips(t *testing.T) {
	t.Setenv("ZAPAI_CONFIG_DIR", t.TempDir())
	cfg, err := New()
	require.NoError(t, err)

	var buf bytes.Buffer
	PrintEnv(cfg, &buf)
	out := buf.String()
	assert.Contains(t, out, "ZAPAI_DM_COST=20")
	assert.Contains(t, out, "ZAPAI_BOT_NAME=ZapAI")
}
