// Package configs loads the control plane's YAML configuration.
// Everything is read once at startup and passed down; there is no
// global settings object.
package configs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	DB      DBConfig      `yaml:"db"`
	Cluster ClusterConfig `yaml:"cluster"`
	Builder BuilderConfig `yaml:"builder"`
	Release ReleaseConfig `yaml:"release"`
	Metrics MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig   `yaml:"watch"`
	Auth    AuthConfig    `yaml:"auth"`
}

type ServerConfig struct {
	Port int32 `yaml:"port"`
}

type DBConfig struct {
	// URI is a postgres connection string.
	URI string `yaml:"uri"`
}

type ClusterConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

type BuilderConfig struct {
	Image           string        `yaml:"image"`
	SlugRunnerImage string        `yaml:"slug_runner_image"`
	PipIndexURL     string        `yaml:"pip_index_url"`
	SlugPrefix      string        `yaml:"slug_prefix"`
	ReadinessWait   time.Duration `yaml:"readiness_wait"`
	LogsWait        time.Duration `yaml:"logs_wait"`
}

type ReleaseConfig struct {
	Retryable    bool   `yaml:"retryable"`
	ITSMURL      string `yaml:"itsm_url"`
	DeployAPIURL string `yaml:"deploy_api_url"`
}

type MetricsConfig struct {
	// Backend selects "prometheus" or "bkmonitor".
	Backend           string `yaml:"backend"`
	PrometheusAddress string `yaml:"prometheus_address"`
	BKMonitorURL      string `yaml:"bkmonitor_url"`
	BKMonitorBizId    string `yaml:"bkmonitor_biz_id"`
}

type WatchConfig struct {
	SessionLimit  int           `yaml:"session_limit"`
	SessionWindow time.Duration `yaml:"session_window"`
}

type AuthConfig struct {
	// JWTSecret verifies service tokens issued by the apiserver.
	JWTSecret string `yaml:"jwt_secret"`

	// PermissionsURL is the external capability-check callback.
	PermissionsURL string `yaml:"permissions_url"`
}

// Load reads and seals the config file.
func Load(filepath string) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(content []byte) (*Config, error) {
	conf := &Config{}
	if err := yaml.Unmarshal(content, conf); err != nil {
		return nil, err
	}
	conf.fillDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) fillDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Cluster.ConnectTimeout == 0 {
		c.Cluster.ConnectTimeout = 5 * time.Second
	}
	if c.Cluster.ReadTimeout == 0 {
		c.Cluster.ReadTimeout = 60 * time.Second
	}
	if c.Builder.Image == "" {
		c.Builder.Image = "bkpaas/slug-builder:latest"
	}
	if c.Builder.SlugRunnerImage == "" {
		c.Builder.SlugRunnerImage = "bkpaas/slug-runner:latest"
	}
	if c.Builder.SlugPrefix == "" {
		c.Builder.SlugPrefix = "home/slug"
	}
	if c.Builder.ReadinessWait == 0 {
		c.Builder.ReadinessWait = 300 * time.Second
	}
	if c.Builder.LogsWait == 0 {
		c.Builder.LogsWait = 300 * time.Second
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "prometheus"
	}
	if c.Watch.SessionLimit == 0 {
		c.Watch.SessionLimit = 8
	}
	if c.Watch.SessionWindow == 0 {
		c.Watch.SessionWindow = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.DB.URI == "" {
		return fmt.Errorf("config: db.uri is required")
	}
	switch c.Metrics.Backend {
	case "prometheus", "bkmonitor":
	default:
		return fmt.Errorf("config: unknown metrics backend %q", c.Metrics.Backend)
	}
	return nil
}
