package types

import (
	"strings"
	"time"
)

// DefaultTargets are probed when no target URL is configured.
var DefaultTargets = []string{
	"https://api.ipify.org?format=json",
	"https://httpbin.org/get",
	"https://icanhazip.com",
}

const (
	DefaultGeoEndpoint     = "https://ipapi.co/json/"
	DefaultExpectedCountry = "IR"
	DefaultConcurrency     = 16
	DefaultLogCapacity     = 500
	DefaultOutputFile      = "working_proxies.json"
	DefaultSourcesFile     = "sources.yaml"
)

// LogConf contains logging specific configuration
type LogConf struct {
	Level   string `ini:"level"`
	NoColor bool   `ini:"no_color"`
}

// WebConf controls the HTTP front end.
type WebConf struct {
	Host      string `ini:"host"`
	Port      int    `ini:"port"`
	Autostart bool   `ini:"autostart"`
}

// RunConf holds the values consumed by one validation pass.
// Non-positive caps mean "no cap".
type RunConf struct {
	Targets            []string `ini:"targets" delim:","`
	MaxProxies         int      `ini:"max_proxies"`
	MaxPerTarget       int      `ini:"max_per_target"`
	Concurrency        int      `ini:"concurrency"`
	TestTimeoutSeconds int      `ini:"test_timeout_seconds"`
	LogCapacity        int      `ini:"log_capacity"`
}

// GeoConf controls the optional exit-country verification.
type GeoConf struct {
	Verify          bool   `ini:"verify"`
	ExpectedCountry string `ini:"expected_country"`
	Endpoint        string `ini:"endpoint"`
	TimeoutSeconds  int    `ini:"timeout_seconds"`
}

// ScrapeConf controls source discovery.
type ScrapeConf struct {
	SourcesFile         string `ini:"sources_file"`
	FetchTimeoutSeconds int    `ini:"fetch_timeout_seconds"`
}

// OutputConf controls the result store.
type OutputConf struct {
	File string `ini:"file"`
}

// Config 是统一配置结构体
type Config struct {
	LogConf    `ini:"log"`
	WebConf    `ini:"web"`
	RunConf    `ini:"run"`
	GeoConf    `ini:"geo"`
	ScrapeConf `ini:"scrape"`
	OutputConf `ini:"output"`
}

// NewDefaultConfig returns a Config usable without any ini file.
func NewDefaultConfig() *Config {
	return &Config{
		LogConf: LogConf{Level: "info"},
		WebConf: WebConf{Host: "0.0.0.0", Port: 5000, Autostart: true},
		RunConf: RunConf{
			Targets:            append([]string(nil), DefaultTargets...),
			Concurrency:        DefaultConcurrency,
			TestTimeoutSeconds: 8,
			LogCapacity:        DefaultLogCapacity,
		},
		GeoConf: GeoConf{
			ExpectedCountry: DefaultExpectedCountry,
			Endpoint:        DefaultGeoEndpoint,
			TimeoutSeconds:  6,
		},
		ScrapeConf: ScrapeConf{
			SourcesFile:         DefaultSourcesFile,
			FetchTimeoutSeconds: 15,
		},
		OutputConf: OutputConf{File: DefaultOutputFile},
	}
}

// RunOptions is the value object handed to the orchestrator.
type RunOptions struct {
	Targets      []string
	MaxProxies   int
	MaxPerTarget int
	Concurrency  int
}

// GeoOptions is the value object handed to the proxy tester.
type GeoOptions struct {
	Enabled         bool
	ExpectedCountry string
	Endpoint        string
	Timeout         time.Duration
}

// RunOptions normalizes the [run] section. Invalid caps fall back to "no cap".
func (c *Config) RunOptions() RunOptions {
	opts := RunOptions{
		Targets:      nonEmpty(c.Targets),
		MaxProxies:   positiveOrZero(c.MaxProxies),
		MaxPerTarget: positiveOrZero(c.MaxPerTarget),
		Concurrency:  c.Concurrency,
	}
	if len(opts.Targets) == 0 {
		opts.Targets = append([]string(nil), DefaultTargets...)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return opts
}

// GeoOptions normalizes the [geo] section.
func (c *Config) GeoOptions() GeoOptions {
	opts := GeoOptions{
		Enabled:         c.Verify,
		ExpectedCountry: c.ExpectedCountry,
		Endpoint:        c.Endpoint,
		Timeout:         seconds(c.GeoConf.TimeoutSeconds, 6),
	}
	if opts.ExpectedCountry == "" {
		opts.ExpectedCountry = DefaultExpectedCountry
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultGeoEndpoint
	}
	return opts
}

// TestTimeout is the per-request timeout of a proxy test.
func (c *Config) TestTimeout() time.Duration {
	return seconds(c.TestTimeoutSeconds, 8)
}

// FetchTimeout is the per-request timeout of a source fetch.
func (c *Config) FetchTimeout() time.Duration {
	return seconds(c.FetchTimeoutSeconds, 15)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func positiveOrZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
