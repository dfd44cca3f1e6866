package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reporting-dashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: test-secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Bind)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTimeout)
	assert.Equal(t, "http://localhost:9200", cfg.Reporting.Downloads.DataURL)
	assert.Equal(t, DefaultProjectsList, cfg.Reporting.Downloads.ProjectsList)
	assert.Equal(t, 15*time.Minute, cfg.Reporting.Jira.ScanInterval)
	assert.Equal(t, 90, cfg.Reporting.Jira.ScanDays)
	assert.Equal(t, 120, cfg.Reporting.Jira.RetentionDays)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  bind: 127.0.0.1
  port: 9090
auth:
  secret: test-secret
nats:
  url: nats://localhost:4222
reporting:
  jira:
    api_url: https://issues.example.org/rest/api/2/
    project: INFRA
    slas:
      Blocker:
        respond: 4
        resolve: 24
    sla_apply_statuses: ["waiting for infra", "open"]
    sla_discount_weekend: true
  mailstats:
    hosts: [mx1.example.org, mx2.example.org]
  uptime:
    series:
      mail: [host-a, host-b]
github:
  read_token: ghtoken
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, SLA{Respond: 4, Resolve: 24}, cfg.Reporting.Jira.SLAs["Blocker"])
	assert.True(t, cfg.Reporting.Jira.SLADiscountWeekend)
	assert.Len(t, cfg.Reporting.MailStats.Hosts, 2)
	assert.Equal(t, []string{"host-a", "host-b"}, cfg.Reporting.Uptime.Series["mail"])
	assert.Equal(t, "ghtoken", cfg.GitHub.ReadToken)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadRejectsBadSLA(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: s
reporting:
  jira:
    slas:
      Minor:
        respond: 0
        resolve: 24
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
