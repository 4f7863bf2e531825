package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Feed      FeedConfig      `yaml:"feed"`
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`
	Process   ProcessConfig   `yaml:"process_monitor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ExchangeConfig struct {
	APIBase             string        `yaml:"api_base"`
	WSBase              string        `yaml:"ws_base"`
	Channels            []string      `yaml:"channels"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	TokenExtendInterval time.Duration `yaml:"token_extend_interval"`

	// Credentials come from the environment only, never the config file.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type FeedConfig struct {
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	Watchdog       time.Duration `yaml:"watchdog"`
	StabilityReset time.Duration `yaml:"stability_reset"`
}

type PagerDutyConfig struct {
	EventsAPIURL string `yaml:"events_api_url"`
	Source       string `yaml:"source"`
	Severity     string `yaml:"severity"`
	DryRun       bool   `yaml:"dry_run"`

	RoutingKey string `yaml:"-"`
}

type ProcessConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Patterns      []string      `yaml:"patterns"`
	CheckInterval time.Duration `yaml:"check_interval"`
	IdleThreshold time.Duration `yaml:"idle_threshold"`
}

type MetricsConfig struct {
	// Addr is the listen address for the Prometheus endpoint.
	// Empty disables the listener.
	Addr string `yaml:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			APIBase:             "https://api.coin.z.com/private",
			WSBase:              "wss://api.coin.z.com/ws/private/v1",
			Channels:            []string{"executionEvents"},
			HTTPTimeout:         10 * time.Second,
			TokenExtendInterval: 50 * time.Minute,
		},
		Feed: FeedConfig{
			BackoffBase:    time.Second,
			BackoffMax:     30 * time.Second,
			Watchdog:       150 * time.Second,
			StabilityReset: 30 * time.Second,
		},
		PagerDuty: PagerDutyConfig{
			EventsAPIURL: "https://events.pagerduty.com/v2/enqueue",
			Source:       "fillwatch",
			Severity:     "critical",
		},
		Process: ProcessConfig{
			Patterns:      []string{"uv run atc"},
			CheckInterval: 5 * time.Second,
			IdleThreshold: 60 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return nil, err
}

// ApplyEnv overlays environment variables on top of whatever the file
// provided. Duration variables keep their historical *_SEC names and
// take a whole number of seconds.
func (c *Config) ApplyEnv() error {
	setString(&c.Exchange.APIKey, "GMOCOIN_API_KEY")
	setString(&c.Exchange.APISecret, "GMOCOIN_API_SECRET")
	setString(&c.Exchange.APIBase, "GMOCOIN_PRIVATE_API_BASE")
	setString(&c.Exchange.WSBase, "GMOCOIN_PRIVATE_WS_BASE")
	if v, ok := os.LookupEnv("ALERT_CHANNELS"); ok {
		c.Exchange.Channels = splitList(v)
	}

	setString(&c.PagerDuty.RoutingKey, "PAGERDUTY_ROUTING_KEY")
	setString(&c.PagerDuty.EventsAPIURL, "PAGERDUTY_EVENTS_API_URL")
	setString(&c.PagerDuty.Source, "PAGERDUTY_SOURCE")
	setString(&c.PagerDuty.Severity, "PAGERDUTY_SEVERITY")
	if err := setBool(&c.PagerDuty.DryRun, "PAGERDUTY_DRY_RUN"); err != nil {
		return err
	}

	if err := setSeconds(&c.Exchange.HTTPTimeout, "HTTP_TIMEOUT_SEC"); err != nil {
		return err
	}
	if err := setSeconds(&c.Exchange.TokenExtendInterval, "WS_AUTH_EXTEND_INTERVAL_SEC"); err != nil {
		return err
	}
	if err := setSeconds(&c.Feed.BackoffBase, "RECONNECT_BACKOFF_BASE_SEC"); err != nil {
		return err
	}
	if err := setSeconds(&c.Feed.BackoffMax, "RECONNECT_BACKOFF_MAX_SEC"); err != nil {
		return err
	}
	if err := setSeconds(&c.Feed.Watchdog, "WS_WATCHDOG_SEC"); err != nil {
		return err
	}
	if err := setSeconds(&c.Feed.StabilityReset, "WS_STABILITY_RESET_SEC"); err != nil {
		return err
	}

	if err := setBool(&c.Process.Enabled, "PROCESS_MONITOR_ENABLED"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("PROCESS_MONITOR_PATTERN"); ok && v != "" {
		c.Process.Patterns = []string{v}
	}
	if err := setSeconds(&c.Process.CheckInterval, "PROCESS_MONITOR_CHECK_INTERVAL_SEC"); err != nil {
		return err
	}
	if err := setSeconds(&c.Process.IdleThreshold, "PROCESS_MONITOR_IDLE_THRESHOLD_SEC"); err != nil {
		return err
	}

	setString(&c.Metrics.Addr, "METRICS_ADDR")
	return nil
}

// Validate normalizes the endpoint bases and rejects configurations the
// daemon cannot run with. It is meant to run once at startup, after
// ApplyEnv.
func (c *Config) Validate() error {
	c.Exchange.APIBase = strings.TrimRight(c.Exchange.APIBase, "/")
	c.Exchange.WSBase = strings.TrimRight(c.Exchange.WSBase, "/")
	c.PagerDuty.EventsAPIURL = strings.TrimRight(c.PagerDuty.EventsAPIURL, "/")

	if c.Exchange.APIKey == "" {
		return fmt.Errorf("missing required env var: GMOCOIN_API_KEY")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("missing required env var: GMOCOIN_API_SECRET")
	}
	if c.PagerDuty.RoutingKey == "" {
		return fmt.Errorf("missing required env var: PAGERDUTY_ROUTING_KEY")
	}
	if len(c.Exchange.Channels) == 0 {
		return fmt.Errorf("no alert channels configured")
	}
	if c.Process.Enabled {
		if len(c.Process.Patterns) == 0 {
			return fmt.Errorf("process monitor enabled with no patterns")
		}
		for _, p := range c.Process.Patterns {
			// An empty pattern would substring-match every process.
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("process_monitor.patterns contains an empty pattern")
			}
		}
	}

	durations := []struct {
		name string
		val  time.Duration
	}{
		{"exchange.http_timeout", c.Exchange.HTTPTimeout},
		{"exchange.token_extend_interval", c.Exchange.TokenExtendInterval},
		{"feed.backoff_base", c.Feed.BackoffBase},
		{"feed.backoff_max", c.Feed.BackoffMax},
		{"feed.watchdog", c.Feed.Watchdog},
		{"feed.stability_reset", c.Feed.StabilityReset},
		{"process_monitor.check_interval", c.Process.CheckInterval},
		{"process_monitor.idle_threshold", c.Process.IdleThreshold},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.val)
		}
	}
	if c.Feed.BackoffMax < c.Feed.BackoffBase {
		return fmt.Errorf("feed.backoff_max (%v) below feed.backoff_base (%v)",
			c.Feed.BackoffMax, c.Feed.BackoffBase)
	}

	return nil
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setSeconds(dst *time.Duration, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid int env var %s=%q", name, v)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

func setBool(dst *bool, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		*dst = true
	case "0", "false", "no", "n", "off":
		*dst = false
	default:
		return fmt.Errorf("invalid bool env var %s=%q", name, v)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
