package config_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agubarev/ztcp/pkg/config"
	"github.com/agubarev/ztcp/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	a := assert.New(t)

	c := config.Default()
	a.NoError(c.Validate())
	a.Equal(365, c.Identity.ValidityDays)
	a.Equal(time.Hour, c.Session.TTL)
	a.Equal(trust.DefaultScoring(), c.Scoring())
	a.Equal("memory", c.Audit.Backend)

	l, err := c.MinimumLevel()
	a.NoError(err)
	a.Equal(trust.LevelMedium, l)
}

func TestLoadFile(t *testing.T) {
	a := assert.New(t)

	path := filepath.Join(t.TempDir(), "ztcp.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
log:
  debug: true
identity:
  validity_days: 30
session:
  ttl: 15m
trust:
  anomaly_latency: 250ms
  thresholds:
    full: 90
    high: 70
    medium: 50
    low: 30
authorization:
  minimum_level: high
audit:
  backend: SQLite
  path: /tmp/ztcp-audit.db
`), 0600))

	c, err := config.Load(path)
	require.NoError(t, err)
	a.True(c.Log.Debug)
	a.Equal(30, c.Identity.ValidityDays)
	a.Equal(15*time.Minute, c.Session.TTL)
	a.Equal(250*time.Millisecond, c.Trust.AnomalyLatency)
	a.Equal(trust.Thresholds{Full: 90, High: 70, Medium: 50, Low: 30}, c.Trust.Thresholds)
	a.Equal("HIGH", c.Authorization.MinimumLevel)
	a.Equal("sqlite", c.Audit.Backend)

	// untouched keys keep their defaults
	a.Equal(10.0, c.Trust.FailurePenalty)
}

func TestEnvironmentOverrides(t *testing.T) {
	a := assert.New(t)

	require.NoError(t, os.Setenv("ZTCP_SESSION_TTL", "2h"))
	require.NoError(t, os.Setenv("ZTCP_TRUST_THRESHOLDS_LOW", "25"))
	defer os.Unsetenv("ZTCP_SESSION_TTL")
	defer os.Unsetenv("ZTCP_TRUST_THRESHOLDS_LOW")

	c, err := config.Load("")
	require.NoError(t, err)
	a.Equal(2*time.Hour, c.Session.TTL)
	a.Equal(25.0, c.Trust.Thresholds.Low)
}

func TestValidate(t *testing.T) {
	a := assert.New(t)

	c := config.Default()
	c.Trust.Thresholds.High = c.Trust.Thresholds.Full
	a.ErrorIs(c.Validate(), config.ErrInvalidConfig)

	c = config.Default()
	c.Session.TTL = 0
	a.ErrorIs(c.Validate(), config.ErrInvalidConfig)

	c = config.Default()
	c.Authorization.MinimumLevel = "SUPREME"
	a.ErrorIs(c.Validate(), config.ErrInvalidConfig)

	c = config.Default()
	c.Audit.Backend = "badger"
	a.ErrorIs(c.Validate(), config.ErrInvalidConfig)
	c.Audit.Path = "/tmp/ztcp-badger"
	a.NoError(c.Validate())

	c.Audit.Backend = "etcd"
	a.ErrorIs(c.Validate(), config.ErrInvalidConfig)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	a.Error(err)
}
