package config

import (
	"context"
	"testing"
	"time"

	"logship/internal/overflow"
	"logship/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("LOGSHIP_SERVICE__ENVIRONMENT", "dev")
	t.Setenv("LOGSHIP_SERVICE__SYSTEM", "billing")
	t.Setenv("LOGSHIP_SERVICE__NAME", "invoices")
	t.Setenv("LOGSHIP_STREAM__KIND", "console")
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Service.Environment)
	assert.NotEmpty(t, cfg.Service.NodeName)
	assert.Equal(t, "console", cfg.Stream.Kind)
	assert.Equal(t, 1, cfg.Overflow.ThresholdMB)
	assert.Equal(t, overflow.DefaultSuccessTemplate, cfg.Overflow.SuccessTemplate)
	assert.Equal(t, "json", cfg.Overflow.Extension)
	assert.Equal(t, 30*time.Second, cfg.Overflow.Timeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)

	p, err := cfg.Policy(context.Background())
	require.NoError(t, err)
	assert.False(t, p.Enabled)
	assert.Nil(t, p.Auth)
}

func TestLoadOverrides(t *testing.T) {
	setBase(t)
	t.Setenv("LOGSHIP_SERVICE__NODE_NAME", "node-7")
	t.Setenv("LOGSHIP_SERVICE__DEFAULT_LEVEL", "warn")
	t.Setenv("LOGSHIP_SERVICE__LEVELS", "Billing.Jobs=Error, Noisy=None")
	t.Setenv("LOGSHIP_STREAM__KIND", "kafka")
	t.Setenv("LOGSHIP_STREAM__BROKERS", "k1:9092, k2:9092")
	t.Setenv("LOGSHIP_STREAM__TOPIC", "logs")
	t.Setenv("LOGSHIP_OVERFLOW__ENABLED", "true")
	t.Setenv("LOGSHIP_OVERFLOW__THRESHOLD_MB", "2")
	t.Setenv("LOGSHIP_OVERFLOW__CONTAINER_URL", "https://acct.blob.example.net/overflow?sig=abc")
	t.Setenv("LOGSHIP_OVERFLOW__COMPRESS", "true")
	t.Setenv("LOGSHIP_OVERFLOW__TIMEOUT", "5s")
	t.Setenv("LOGSHIP_OVERFLOW__CANCELLABLE", "true")
	t.Setenv("LOGSHIP_LOG__SAMPLE_N", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Stream.BrokerList())
	assert.EqualValues(t, 10, cfg.Log.SampleN)

	so := cfg.ShipperOptions()
	assert.Equal(t, 2, so.ThresholdMB)
	assert.Equal(t, 5*time.Second, so.StorageTimeout)
	assert.True(t, so.CancellableWrites)
	assert.Equal(t, "invoices", so.Service)

	po, err := cfg.ProviderOptions()
	require.NoError(t, err)
	assert.Equal(t, "node-7", po.NodeName)
	assert.Equal(t, provider.LevelWarning, po.DefaultMinimumLevel)
	assert.Equal(t, map[string]provider.Level{"Billing.Jobs": provider.LevelError, "Noisy": provider.LevelNone}, po.MinimumLevels)
	require.NoError(t, po.Validate())

	p, err := cfg.Policy(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Enabled)
	assert.Equal(t, overflow.ContainerURL{URL: "https://acct.blob.example.net/overflow?sig=abc"}, p.Auth)
	assert.Equal(t, "json.gz", p.BlobExtension())
}

func TestPolicyWithStaticCredentials(t *testing.T) {
	setBase(t)
	t.Setenv("LOGSHIP_OVERFLOW__ENABLED", "true")
	t.Setenv("LOGSHIP_OVERFLOW__BUCKET", "overflow")
	t.Setenv("LOGSHIP_OVERFLOW__ENDPOINT", "http://127.0.0.1:9000")
	t.Setenv("LOGSHIP_OVERFLOW__ACCESS_KEY_ID", "AKID")
	t.Setenv("LOGSHIP_OVERFLOW__SECRET_ACCESS_KEY", "SECRET")

	cfg, err := Load()
	require.NoError(t, err)

	p, err := cfg.Policy(context.Background())
	require.NoError(t, err)

	id, ok := p.Auth.(overflow.Identity)
	require.True(t, ok)
	assert.Equal(t, "overflow", id.Bucket)
	assert.Equal(t, "http://127.0.0.1:9000", id.Endpoint)

	creds, err := id.Credential.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "SECRET", creds.SecretAccessKey)
}

func TestLoadOverrideAppliesBeforeValidation(t *testing.T) {
	setBase(t)
	t.Setenv("LOGSHIP_STREAM__KIND", "kafka")

	_, err := Load()
	require.ErrorIs(t, err, ErrInvalid)

	cfg, err := Load(func(c *Config) { c.Stream.Kind = "console" })
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Stream.Kind)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing service name", map[string]string{"LOGSHIP_SERVICE__NAME": ""}, "Name"},
		{"unknown stream kind", map[string]string{"LOGSHIP_STREAM__KIND": "carrier-pigeon"}, "Kind"},
		{"kafka without brokers", map[string]string{"LOGSHIP_STREAM__KIND": "kafka"}, "brokers and topic"},
		{"enabled without storage", map[string]string{"LOGSHIP_OVERFLOW__ENABLED": "true"}, "container_url or bucket"},
		{"bad default level", map[string]string{"LOGSHIP_SERVICE__DEFAULT_LEVEL": "loud"}, "unknown level"},
		{"bad levels entry", map[string]string{"LOGSHIP_SERVICE__LEVELS": "NoEquals"}, "malformed entry"},
		{"half credentials", map[string]string{"LOGSHIP_OVERFLOW__ACCESS_KEY_ID": "AKID"}, "must be set together"},
		{"zero threshold", map[string]string{"LOGSHIP_OVERFLOW__THRESHOLD_MB": "0"}, "ThresholdMB"},
		{"relative container url", map[string]string{"LOGSHIP_OVERFLOW__CONTAINER_URL": "not a url"}, "ContainerURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
