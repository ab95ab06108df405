package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"proxyfinder/internal/shared/logger"
	"proxyfinder/internal/shared/types"
	"proxyfinder/proxypool/model"
	"proxyfinder/proxypool/runlog"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("scan already running")
	// ErrNotRunning is returned by RequestStop while no run is in progress.
	ErrNotRunning = errors.New("no scan running")
)

// CatalogBuilder produces the deduplicated candidate list of one discovery pass.
type CatalogBuilder interface {
	Build(ctx context.Context, sink runlog.Sink) []model.Candidate
}

// Tester checks one candidate against one target. A nil outcome means failure.
type Tester interface {
	Test(ctx context.Context, candidate model.Candidate, target string) (*model.TestOutcome, error)
}

// ResultStore receives the accumulated records once per run.
type ResultStore interface {
	Save(records []model.WorkingProxyRecord) error
	Path() string
}

// Status is a point-in-time view of the run lifecycle. Persisted reports
// whether the last finished run reached the result store.
type Status struct {
	Running      bool       `json:"running"`
	Stopping     bool       `json:"stopping"`
	State        string     `json:"state"`
	RunID        string     `json:"run_id,omitempty"`
	LastStarted  *time.Time `json:"last_started"`
	LastFinished *time.Time `json:"last_finished"`
	WorkingCount int        `json:"working_count"`
	Persisted    bool       `json:"persisted"`
}

// Manager owns the single-run lifecycle: it builds the catalog, tests every
// candidate against every target through a bounded pool and persists the
// working proxies once per run.
type Manager struct {
	opts    types.RunOptions
	catalog CatalogBuilder
	tester  Tester
	store   ResultStore
	sink    runlog.Sink

	// mu guards the fields below and is held only for state transitions.
	mu           sync.Mutex
	state        model.RunState
	stop         context.CancelFunc
	done         chan struct{}
	runID        string
	lastStarted  time.Time
	lastFinished time.Time
	results      []model.WorkingProxyRecord
	persisted    bool
}

// NewManager creates the orchestrator. A nil sink discards run lines.
func NewManager(opts types.RunOptions, catalog CatalogBuilder, tester Tester, store ResultStore, sink runlog.Sink) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = types.DefaultConcurrency
	}
	if len(opts.Targets) == 0 {
		opts.Targets = append([]string(nil), types.DefaultTargets...)
	}
	if sink == nil {
		sink = runlog.Discard
	}
	return &Manager{
		opts:    opts,
		catalog: catalog,
		tester:  tester,
		store:   store,
		sink:    sink,
		state:   model.StateIdle,
	}
}

// Start launches a run in the background. Empty targets select the configured ones.
func (m *Manager) Start(targets []string) error {
	stopCtx, done, err := m.begin(context.Background())
	if err != nil {
		return err
	}
	go m.run(context.Background(), stopCtx, m.targetsOrDefault(targets), done)
	return nil
}

// Run executes one pass synchronously and returns its working proxies.
// Cancelling ctx behaves like RequestStop.
func (m *Manager) Run(ctx context.Context, targets []string) ([]model.WorkingProxyRecord, error) {
	stopCtx, done, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	m.run(context.WithoutCancel(ctx), stopCtx, m.targetsOrDefault(targets), done)
	return m.Results(), nil
}

// RequestStop raises the stop token of the current run. Tests already
// dispatched finish normally; nothing new is dispatched.
func (m *Manager) RequestStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == model.StateIdle {
		return ErrNotRunning
	}
	if m.state == model.StateRunning {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Info().Str("run_id", m.runID).Msg("Stop requested.")
		m.state = model.StateStopping
		m.stop()
	}
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Shutdown stops the current run and waits for it to persist, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.RequestStop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	finished := make(chan struct{})
	go func() {
		m.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the lifecycle and the last run.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Running:      m.state != model.StateIdle,
		Stopping:     m.state == model.StateStopping,
		State:        m.state.String(),
		RunID:        m.runID,
		WorkingCount: len(m.results),
		Persisted:    m.persisted,
	}
	if !m.lastStarted.IsZero() {
		t := m.lastStarted
		s.LastStarted = &t
	}
	if !m.lastFinished.IsZero() {
		t := m.lastFinished
		s.LastFinished = &t
	}
	return s
}

// Results returns the working proxies of the last finished run. It is the
// fallback read path when persisting fails.
func (m *Manager) Results() []model.WorkingProxyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WorkingProxyRecord, len(m.results))
	copy(out, m.results)
	return out
}

func (m *Manager) targetsOrDefault(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return m.opts.Targets
	}
	return out
}

// begin performs the Idle -> Running transition. The returned context is the
// run's stop token.
func (m *Manager) begin(parent context.Context) (context.Context, chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateIdle {
		return nil, nil, ErrAlreadyRunning
	}
	stopCtx, cancel := context.WithCancel(parent)
	m.state = model.StateRunning
	m.stop = cancel
	m.done = make(chan struct{})
	m.runID = uuid.NewString()
	m.lastStarted = time.Now().UTC()
	return stopCtx, m.done, nil
}

// finish performs the transition back to Idle and publishes the results.
func (m *Manager) finish(records []model.WorkingProxyRecord, persisted bool, done chan struct{}) {
	m.mu.Lock()
	m.state = model.StateIdle
	m.stop()
	m.results = records
	m.persisted = persisted
	m.lastFinished = time.Now().UTC()
	m.mu.Unlock()
	close(done)
}

func (m *Manager) emit(format string, args ...interface{}) {
	m.sink.Emit(fmt.Sprintf(format, args...))
}

// run drives one pass. testCtx bounds the network calls and is never cancelled
// by a stop request; stopCtx is the token checked before every dispatch.
func (m *Manager) run(testCtx, stopCtx context.Context, targets []string, done chan struct{}) {
	l := logger.WithComponent("ProxyPool/Manager")
	m.mu.Lock()
	runID := m.runID
	m.mu.Unlock()
	l.Info().Str("run_id", runID).Int("targets", len(targets)).Msg("Validation run started.")

	var (
		records []model.WorkingProxyRecord
		saved   bool
	)
	defer func() { m.finish(records, saved, done) }()

	m.emit("Scraping proxies...")
	candidates := m.catalog.Build(stopCtx, m.sink)
	m.emit("Total proxies found: %d", len(candidates))

	if m.opts.MaxProxies > 0 && len(candidates) > m.opts.MaxProxies {
		candidates = candidates[:m.opts.MaxProxies]
		m.emit("Testing first %d proxies due to MAX_PROXIES", len(candidates))
	}

	records = make([]model.WorkingProxyRecord, 0)
	for _, target := range targets {
		if stopCtx.Err() != nil {
			break
		}
		m.emit("Testing target: %s", target)

		batch := candidates
		if m.opts.MaxPerTarget > 0 && len(batch) > m.opts.MaxPerTarget {
			batch = batch[:m.opts.MaxPerTarget]
		}
		found, complete := m.testTarget(testCtx, stopCtx, target, batch)
		records = append(records, found...)
		if !complete {
			break
		}
	}

	saved = m.persist(records)

	if stopCtx.Err() != nil {
		m.emit("Stopped")
	}
	m.emit("Summary:")
	m.emit("Working proxies: %d", len(records))
	if saved {
		m.emit("Results saved to %s", m.store.Path())
	} else {
		m.emit("Results kept in memory only")
	}
	l.Info().Str("run_id", runID).Int("working", len(records)).Msg("Validation run finished.")
}

// testTarget fans the batch out to at most opts.Concurrency workers and waits
// for every dispatched test. Results keep candidate order, so a run stopped
// after k dispatches yields exactly the successes among the first k candidates.
// complete is false when the stop token cut the batch short.
func (m *Manager) testTarget(testCtx, stopCtx context.Context, target string, batch []model.Candidate) ([]model.WorkingProxyRecord, bool) {
	sem := semaphore.NewWeighted(int64(m.opts.Concurrency))
	slots := make([]*model.WorkingProxyRecord, len(batch))
	var wg sync.WaitGroup

	dispatched := 0
	for i, candidate := range batch {
		if stopCtx.Err() != nil {
			break
		}
		if err := sem.Acquire(testCtx, 1); err != nil {
			break
		}
		// The stop may have been raised while waiting for a free worker.
		if stopCtx.Err() != nil {
			sem.Release(1)
			break
		}
		dispatched++
		wg.Add(1)
		go func(i int, candidate model.Candidate) {
			defer func() {
				sem.Release(1)
				wg.Done()
			}()
			slots[i] = m.testOne(testCtx, candidate, target)
		}(i, candidate)
	}
	wg.Wait()

	found := make([]model.WorkingProxyRecord, 0)
	for _, rec := range slots[:dispatched] {
		if rec != nil {
			found = append(found, *rec)
		}
	}
	return found, dispatched == len(batch)
}

// testOne runs a single test and emits exactly one line for it.
func (m *Manager) testOne(ctx context.Context, candidate model.Candidate, target string) *model.WorkingProxyRecord {
	outcome, err := m.tester.Test(ctx, candidate, target)
	if err != nil || outcome == nil {
		m.emit("[FAIL] %s", candidate)
		return nil
	}
	rec := model.NewWorkingProxyRecord(candidate, target, outcome)
	m.emit("[OK] %s via %s - %.3fs", candidate, outcome.Scheme, outcome.Latency.Seconds())
	return &rec
}

// persist calls the result store exactly once. On failure the records are
// dumped to the run log and remain available through Results.
func (m *Manager) persist(records []model.WorkingProxyRecord) bool {
	if m.store == nil {
		return false
	}
	if err := m.store.Save(records); err != nil {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Error().Err(err).Str("path", m.store.Path()).Msg("Failed to save results.")
		m.emit("Error saving results to %s: %v", m.store.Path(), err)
		m.emit("Printing working proxies as backup:")
		for _, line := range backupDump(records) {
			m.emit("%s", line)
		}
		return false
	}
	return true
}

// backupDump renders records as an indented JSON array. If encoding fails the
// records are rendered one per line instead.
func backupDump(records []model.WorkingProxyRecord) []string {
	dump, err := json.MarshalIndent(records, "", "  ")
	if err == nil {
		return []string{string(dump)}
	}
	l := logger.WithComponent("ProxyPool/Manager")
	l.Error().Err(err).Int("records", len(records)).Msg("Failed to encode backup dump, falling back to plain lines.")
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, rec.String())
	}
	return lines
}
