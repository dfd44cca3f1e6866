// Package config loads and validates the dashboard configuration from a
// single YAML file (reporting-dashboard.yaml by default).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/pkg/tlsutil"
)

// DefaultProjectsList is the public project list used when none is configured.
const DefaultProjectsList = "https://whimsy.apache.org/public/public_ldap_projects.json"

// Config is the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	NATS      NATSConfig      `yaml:"nats"`
	Auth      AuthConfig      `yaml:"auth"`
	Reporting ReportingConfig `yaml:"reporting"`
	GitHub    GitHubConfig    `yaml:"github"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Bind string               `yaml:"bind"`
	Port int                  `yaml:"port"`
	TLS  tlsutil.ServerConfig `yaml:"tls"`
}

// NATSConfig holds the event-stream connection settings
type NATSConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds session settings
type AuthConfig struct {
	// Secret signs session cookies. Required when the server is enabled.
	Secret         string        `yaml:"secret"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// ReportingConfig groups the per-scanner settings
type ReportingConfig struct {
	Downloads DownloadsConfig `yaml:"downloads"`
	Jira      JiraConfig      `yaml:"jira"`
	MailStats MailStatsConfig `yaml:"mailstats"`
	Uptime    UptimeConfig    `yaml:"uptime"`
	Machines  MachinesConfig  `yaml:"machines"`
}

// DownloadsConfig configures the download-statistics aggregator
type DownloadsConfig struct {
	DataURL      string `yaml:"dataurl"`       // search backend URL
	DataDir      string `yaml:"datadir"`       // persistent monthly reports, empty disables
	ProjectsList string `yaml:"projects_list"` // project list URL
}

// SLA holds the response/resolution thresholds for one priority, in hours
type SLA struct {
	Respond int `yaml:"respond"`
	Resolve int `yaml:"resolve"`
}

// JiraConfig configures the issue scanner and SLA model
type JiraConfig struct {
	APIURL             string         `yaml:"api_url"`
	Token              string         `yaml:"token"`
	Project            string         `yaml:"project"`
	TicketURL          string         `yaml:"ticket_url"`
	SLAs               map[string]SLA `yaml:"slas"`
	NoSLAs             []string       `yaml:"no_slas"`             // SLA-exempt issue types
	SLAApplyStatuses   []string       `yaml:"sla_apply_statuses"`  // statuses during which SLA time counts
	SLADiscountWeekend bool           `yaml:"sla_discount_weekend"`
	PubSubSubject      string         `yaml:"pubsub_subject"` // extra scan triggers, empty disables
	ScanInterval       time.Duration  `yaml:"scan_interval"`
	ScanDays           int            `yaml:"scan_days"`
	RetentionDays      int            `yaml:"retention_days"`
}

// MailStatsConfig configures the mail-queue scanner
type MailStatsConfig struct {
	Hosts []string `yaml:"hosts"`
}

// UptimeConfig configures the uptime scanner
type UptimeConfig struct {
	SummaryURL string              `yaml:"summary_url"`
	HostURL    string              `yaml:"host_url"`    // contains {uuid} placeholder
	ResultsURL string              `yaml:"results_url"` // contains {uuid} placeholder
	Series     map[string][]string `yaml:"series"`
}

// MachinesConfig configures the fingerprint scanner
type MachinesConfig struct {
	IPDataURL   string   `yaml:"ipdata_url"`
	IgnoreHosts []string `yaml:"ignore_hosts"`
	Domain      string   `yaml:"domain"`
}

// GitHubConfig configures build-run capture
type GitHubConfig struct {
	ReadToken     string `yaml:"read_token"`
	DataDir       string `yaml:"datadir"`
	PubSubSubject string `yaml:"pubsub_subject"`
}

// Load reads, parses, validates and defaults the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "parse config file")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in values the file may omit.
func (c *Config) applyDefaults() {
	if c.Server.Bind == "" {
		c.Server.Bind = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Auth.SessionTimeout == 0 {
		c.Auth.SessionTimeout = 24 * time.Hour
	}
	if c.Reporting.Downloads.DataURL == "" {
		c.Reporting.Downloads.DataURL = "http://localhost:9200"
	}
	if c.Reporting.Downloads.ProjectsList == "" {
		c.Reporting.Downloads.ProjectsList = DefaultProjectsList
	}
	if c.Reporting.Jira.ScanInterval == 0 {
		c.Reporting.Jira.ScanInterval = 15 * time.Minute
	}
	if c.Reporting.Jira.ScanDays == 0 {
		c.Reporting.Jira.ScanDays = 90
	}
	if c.Reporting.Jira.RetentionDays == 0 {
		c.Reporting.Jira.RetentionDays = 120
	}
	if c.Reporting.Machines.Domain == "" {
		c.Reporting.Machines.Domain = "apache.org"
	}
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("server port %d out of range", c.Server.Port))
	}
	if c.Auth.Secret == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"auth.secret is required")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate",
			"server.tls needs cert_file and key_file when enabled")
	}
	for priority, sla := range c.Reporting.Jira.SLAs {
		if sla.Respond <= 0 || sla.Resolve <= 0 {
			return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("jira SLA for priority %q must have positive respond/resolve hours", priority))
		}
	}
	return nil
}
