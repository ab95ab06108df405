package model

import (
	"fmt"
	"math"
	"time"
)

// Candidate is an unvalidated "host:port" string scraped from a listing source.
// It is used as a value and never mutated after extraction.
type Candidate string

func (c Candidate) String() string {
	return string(c)
}

// Strategy selects how a source's raw body is turned into candidates.
type Strategy string

const (
	StrategyLineList          Strategy = "line-list"
	StrategyTableRegex        Strategy = "table-regex"
	StrategyTablePairedIPPort Strategy = "table-paired-ip-port"
)

// Valid reports whether s is one of the known extraction strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLineList, StrategyTableRegex, StrategyTablePairedIPPort:
		return true
	}
	return false
}

// Source is one listing endpoint together with the strategy used to parse it.
type Source struct {
	Name     string   `yaml:"name" json:"name"`
	URL      string   `yaml:"url" json:"url"`
	Strategy Strategy `yaml:"strategy" json:"strategy"`
}

func (s Source) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.URL
}

// Scheme is the connection mode used to talk to the proxy itself,
// independent of the target URL's own scheme.
type Scheme string

const (
	SchemePlain     Scheme = "http"
	SchemeEncrypted Scheme = "https"
)

// TestOutcome describes a successful test. A failed test produces no outcome at all.
type TestOutcome struct {
	Latency time.Duration
	Scheme  Scheme
}

// LatencySeconds returns the latency in seconds rounded to millisecond precision.
func (o *TestOutcome) LatencySeconds() float64 {
	return math.Round(o.Latency.Seconds()*1000) / 1000
}

// WorkingProxyRecord is the unit persisted to the result store.
type WorkingProxyRecord struct {
	Proxy   Candidate `json:"proxy"`
	Latency float64   `json:"latency"` // seconds, millisecond precision
	Scheme  Scheme    `json:"scheme"`
	Target  string    `json:"target"`
}

// NewWorkingProxyRecord builds the persisted record for a successful outcome.
func NewWorkingProxyRecord(c Candidate, target string, o *TestOutcome) WorkingProxyRecord {
	return WorkingProxyRecord{
		Proxy:   c,
		Latency: o.LatencySeconds(),
		Scheme:  o.Scheme,
		Target:  target,
	}
}

func (r WorkingProxyRecord) String() string {
	return fmt.Sprintf("%s via %s - %.3fs (%s)", r.Proxy, r.Scheme, r.Latency, r.Target)
}

// RunState is the lifecycle state of the validation orchestrator.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StateStopping
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
