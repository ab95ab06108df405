package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proxyfinder/internal/shared/types"
	"proxyfinder/proxypool/model"
	"proxyfinder/proxypool/runlog"
	"proxyfinder/proxypool/scraper"
	"proxyfinder/proxypool/storage"
)

// mockCatalog returns a fixed candidate list.
type mockCatalog struct {
	candidates []model.Candidate
}

func (m *mockCatalog) Build(_ context.Context, _ runlog.Sink) []model.Candidate {
	return append([]model.Candidate(nil), m.candidates...)
}

type testCall struct {
	candidate model.Candidate
	target    string
}

// mockTester succeeds for the candidates listed in ok, or for every
// candidate when ok is nil. onTest runs before the outcome is returned.
type mockTester struct {
	ok      map[model.Candidate]*model.TestOutcome
	onTest  func(c model.Candidate, target string)
	mu      sync.Mutex
	calls   []testCall
	active  int32
	maxSeen int32
}

func (m *mockTester) Test(_ context.Context, c model.Candidate, target string) (*model.TestOutcome, error) {
	n := atomic.AddInt32(&m.active, 1)
	defer atomic.AddInt32(&m.active, -1)
	for {
		seen := atomic.LoadInt32(&m.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&m.maxSeen, seen, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, testCall{candidate: c, target: target})
	m.mu.Unlock()

	if m.onTest != nil {
		m.onTest(c, target)
	}
	if m.ok == nil {
		return &model.TestOutcome{Latency: 50 * time.Millisecond, Scheme: model.SchemePlain}, nil
	}
	if o, found := m.ok[c]; found {
		return o, nil
	}
	return nil, fmt.Errorf("mock: %s unreachable", c)
}

func (m *mockTester) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockStore records every Save call.
type mockStore struct {
	err   error
	mu    sync.Mutex
	saves [][]model.WorkingProxyRecord
}

func (m *mockStore) Save(records []model.WorkingProxyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, records)
	return m.err
}

func (m *mockStore) Path() string { return "/mock/working_proxies.json" }

// mockFetcher serves canned source bodies.
type mockFetcher map[string]string

func (m mockFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := m[url]
	if !ok {
		return nil, &scraper.FetchError{URL: url, StatusCode: 404}
	}
	return []byte(body), nil
}

func candidates(n int) []model.Candidate {
	out := make([]model.Candidate, n)
	for i := range out {
		out[i] = model.Candidate(fmt.Sprintf("10.0.0.%d:8080", i+1))
	}
	return out
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func contains(lines []string, want string) bool {
	for _, line := range lines {
		if line == want {
			return true
		}
	}
	return false
}

func TestManager_EndToEnd(t *testing.T) {
	const target = "https://target.test/ip"
	fetcher := mockFetcher{
		"https://list.test/http.txt": "10.0.0.1:3128\n10.0.0.2:8080\n",
		"https://html.test/":         "<table><tr><td>10.0.0.1:3128</td></tr></table>",
	}
	catalog := scraper.NewCatalog(scraper.ScrapersFor([]model.Source{
		{Name: "list", URL: "https://list.test/http.txt", Strategy: model.StrategyLineList},
		{Name: "html", URL: "https://html.test/", Strategy: model.StrategyTableRegex},
	}, fetcher)...)
	tester := &mockTester{ok: map[model.Candidate]*model.TestOutcome{
		"10.0.0.2:8080": {Latency: 123 * time.Millisecond, Scheme: model.SchemePlain},
	}}
	path := filepath.Join(t.TempDir(), "working_proxies.json")
	store := storage.NewFileStorage(path)
	logs := runlog.NewBuffer(100)

	m := NewManager(types.RunOptions{Targets: []string{target}, Concurrency: 4}, catalog, tester, store, logs)
	if _, err := m.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}

	if tester.callCount() != 2 {
		t.Errorf("Expected 2 tests after dedup, got %d", tester.callCount())
	}
	saved, err := store.Load()
	if err != nil {
		t.Fatalf("Failed to load saved results: %v", err)
	}
	want := model.WorkingProxyRecord{Proxy: "10.0.0.2:8080", Latency: 0.123, Scheme: model.SchemePlain, Target: target}
	if len(saved) != 1 || saved[0] != want {
		t.Fatalf("Expected [%+v], got %+v", want, saved)
	}

	lines := logs.Snapshot()
	for _, line := range []string{
		"Total proxies found: 2",
		"Testing target: " + target,
		"[OK] 10.0.0.2:8080 via http - 0.123s",
		"[FAIL] 10.0.0.1:3128",
		"Summary:",
		"Working proxies: 1",
		"Results saved to " + path,
	} {
		if !contains(lines, line) {
			t.Errorf("Expected log line %q, got %v", line, lines)
		}
	}
	if contains(lines, "Stopped") {
		t.Error("Did not expect a Stopped line for a complete run")
	}
}

func TestManager_SingleRunExclusivity(t *testing.T) {
	release := make(chan struct{})
	tester := &mockTester{onTest: func(model.Candidate, string) { <-release }}
	m := NewManager(types.RunOptions{Targets: []string{"t"}}, &mockCatalog{candidates: candidates(2)}, tester, &mockStore{}, nil)

	first := m.Start(nil)
	second := m.Start(nil)
	if first != nil {
		t.Fatalf("Expected the first Start to be accepted, got %v", first)
	}
	if !errors.Is(second, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", second)
	}
	if _, err := m.Run(context.Background(), nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected Run to be rejected while running, got %v", err)
	}
	if !m.Status().Running {
		t.Error("Expected status to report a running scan")
	}

	close(release)
	m.Wait()

	status := m.Status()
	if status.Running || status.Stopping {
		t.Errorf("Expected idle status after the run, got %+v", status)
	}
	if status.RunID == "" || status.LastStarted == nil || status.LastFinished == nil {
		t.Errorf("Expected run id and timestamps to be set, got %+v", status)
	}
	if err := m.Start(nil); err != nil {
		t.Errorf("Expected a new run to be accepted after completion, got %v", err)
	}
	m.Wait()
}

func TestManager_StopWhileIdle(t *testing.T) {
	m := NewManager(types.RunOptions{}, &mockCatalog{}, &mockTester{}, &mockStore{}, nil)
	if err := m.RequestStop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

func TestManager_StopYieldsPrefix(t *testing.T) {
	cands := candidates(10)
	targets := []string{"https://a.test", "https://b.test"}
	opts := types.RunOptions{Targets: targets, Concurrency: 1}

	full := NewManager(opts, &mockCatalog{candidates: cands}, &mockTester{}, &mockStore{}, nil)
	complete, err := full.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if len(complete) != 20 {
		t.Fatalf("Expected 20 records for the uncancelled run, got %d", len(complete))
	}

	var m *Manager
	tester := &mockTester{onTest: func(c model.Candidate, _ string) {
		if c == cands[3] {
			m.RequestStop()
			if !m.Status().Stopping {
				t.Error("Expected status to report stopping")
			}
		}
	}}
	store := &mockStore{}
	logs := runlog.NewBuffer(100)
	m = NewManager(opts, &mockCatalog{candidates: cands}, tester, store, logs)

	if err := m.Start(nil); err != nil {
		t.Fatalf("Start() returned an error: %v", err)
	}
	m.Wait()

	got := m.Results()
	if len(got) != 4 {
		t.Fatalf("Expected the 4 tests dispatched before the stop, got %d: %v", len(got), got)
	}
	for i := range got {
		if got[i] != complete[i] {
			t.Errorf("Record %d: expected %+v, got %+v", i, complete[i], got[i])
		}
	}
	if tester.callCount() != 4 {
		t.Errorf("Expected no test after the stop was observed, got %d calls", tester.callCount())
	}
	if len(store.saves) != 1 || len(store.saves[0]) != 4 {
		t.Errorf("Expected exactly one save with 4 records, got %v", store.saves)
	}
	lines := logs.Snapshot()
	if !contains(lines, "Stopped") {
		t.Errorf("Expected a Stopped line, got %v", lines)
	}
	if contains(lines, "Testing target: https://b.test") {
		t.Error("Expected the stop to skip the remaining targets")
	}
}

func TestManager_PerTargetCap(t *testing.T) {
	tester := &mockTester{}
	logs := runlog.NewBuffer(100)
	m := NewManager(types.RunOptions{
		Targets:      []string{"https://a.test", "https://b.test"},
		MaxPerTarget: 2,
		Concurrency:  4,
	}, &mockCatalog{candidates: candidates(5)}, tester, &mockStore{}, logs)

	got, err := m.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if tester.callCount() != 4 {
		t.Errorf("Expected 2 tests per target, got %d", tester.callCount())
	}
	want := []string{"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.1:8080", "10.0.0.2:8080"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %v", len(want), got)
	}
	for i := range want {
		if string(got[i].Proxy) != want[i] {
			t.Errorf("Record %d: expected %s, got %s", i, want[i], got[i].Proxy)
		}
	}
	if got[2].Target != "https://b.test" {
		t.Errorf("Expected records of the second target last, got %+v", got[2])
	}
	if n := countPrefix(logs.Snapshot(), "[OK] "); n != 4 {
		t.Errorf("Expected exactly one log line per test, got %d", n)
	}
}

func TestManager_GlobalCapAppliesBeforeTesting(t *testing.T) {
	tester := &mockTester{}
	logs := runlog.NewBuffer(100)
	m := NewManager(types.RunOptions{
		Targets:    []string{"https://a.test", "https://b.test"},
		MaxProxies: 3,
	}, &mockCatalog{candidates: candidates(8)}, tester, &mockStore{}, logs)

	if _, err := m.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if tester.callCount() != 6 {
		t.Errorf("Expected 3 candidates per target, got %d tests", tester.callCount())
	}
	if !contains(logs.Snapshot(), "Testing first 3 proxies due to MAX_PROXIES") {
		t.Errorf("Expected the cap to be logged, got %v", logs.Snapshot())
	}
}

func TestManager_PersistenceFailureKeepsResults(t *testing.T) {
	store := &mockStore{err: errors.New("disk full")}
	logs := runlog.NewBuffer(100)
	tester := &mockTester{ok: map[model.Candidate]*model.TestOutcome{
		"10.0.0.2:8080": {Latency: time.Second, Scheme: model.SchemeEncrypted},
	}}
	m := NewManager(types.RunOptions{Targets: []string{"https://a.test"}}, &mockCatalog{candidates: candidates(3)}, tester, store, logs)

	got, err := m.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if len(got) != 1 || got[0].Scheme != model.SchemeEncrypted {
		t.Fatalf("Expected the in-memory results to survive, got %v", got)
	}
	if len(store.saves) != 1 {
		t.Errorf("Expected exactly one save attempt, got %d", len(store.saves))
	}

	lines := logs.Snapshot()
	if countPrefix(lines, "Error saving results to /mock/working_proxies.json") != 1 {
		t.Errorf("Expected the failure to be logged, got %v", lines)
	}
	dumped := false
	for _, line := range lines {
		if strings.Contains(line, `"proxy": "10.0.0.2:8080"`) {
			dumped = true
		}
	}
	if !dumped {
		t.Errorf("Expected the records to be dumped to the log, got %v", lines)
	}
	if !contains(lines, "Working proxies: 1") {
		t.Errorf("Expected the summary to still be emitted, got %v", lines)
	}
	if status := m.Status(); status.Persisted || status.WorkingCount != 1 {
		t.Errorf("Expected an unpersisted run holding one record, got %+v", status)
	}
}

func TestManager_PersistedFlagFollowsLastRun(t *testing.T) {
	store := &mockStore{}
	m := NewManager(types.RunOptions{Targets: []string{"t"}}, &mockCatalog{candidates: candidates(2)}, &mockTester{}, store, nil)

	if _, err := m.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if !m.Status().Persisted {
		t.Fatal("Expected the first run to be persisted")
	}

	store.err = errors.New("no space left on device")
	if _, err := m.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if m.Status().Persisted {
		t.Error("Expected the failed save to clear the persisted flag")
	}
}

func TestBackupDump_FallsBackToPlainLines(t *testing.T) {
	records := []model.WorkingProxyRecord{
		{Proxy: "10.0.0.1:8080", Latency: math.NaN(), Scheme: model.SchemePlain, Target: "t"},
		{Proxy: "10.0.0.2:8080", Latency: 0.25, Scheme: model.SchemeEncrypted, Target: "t"},
	}

	lines := backupDump(records)
	if len(lines) != 2 {
		t.Fatalf("Expected one line per record, got %v", lines)
	}
	if lines[1] != "10.0.0.2:8080 via https - 0.250s (t)" {
		t.Errorf("Unexpected fallback line: %q", lines[1])
	}

	lines = backupDump(records[1:])
	if len(lines) != 1 || !strings.Contains(lines[0], `"proxy": "10.0.0.2:8080"`) {
		t.Errorf("Expected an indented JSON dump, got %v", lines)
	}
}

func TestManager_BoundedPoolKeepsCandidateOrder(t *testing.T) {
	cands := candidates(20)
	tester := &mockTester{onTest: func(c model.Candidate, _ string) {
		// Later candidates finish first.
		var n int
		fmt.Sscanf(string(c), "10.0.0.%d", &n)
		time.Sleep(time.Duration(21-n) * time.Millisecond)
	}}
	m := NewManager(types.RunOptions{Targets: []string{"https://a.test"}, Concurrency: 3}, &mockCatalog{candidates: cands}, tester, &mockStore{}, nil)

	got, err := m.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if peak := atomic.LoadInt32(&tester.maxSeen); peak > 3 {
		t.Errorf("Expected at most 3 tests in flight, saw %d", peak)
	}
	if len(got) != len(cands) {
		t.Fatalf("Expected %d records, got %d", len(cands), len(got))
	}
	for i := range cands {
		if got[i].Proxy != cands[i] {
			t.Errorf("Record %d: expected %s, got %s", i, cands[i], got[i].Proxy)
		}
	}
}

func TestManager_StartUsesGivenTargets(t *testing.T) {
	tester := &mockTester{}
	m := NewManager(types.RunOptions{Targets: []string{"https://default.test"}}, &mockCatalog{candidates: candidates(1)}, tester, &mockStore{}, nil)

	if err := m.Start([]string{"", "https://custom.test"}); err != nil {
		t.Fatalf("Start() returned an error: %v", err)
	}
	m.Wait()

	if tester.callCount() != 1 || tester.calls[0].target != "https://custom.test" {
		t.Errorf("Expected the custom target to be probed, got %+v", tester.calls)
	}
}

func TestManager_ShutdownWaitsForRun(t *testing.T) {
	release := make(chan struct{})
	store := &mockStore{}
	tester := &mockTester{onTest: func(model.Candidate, string) { <-release }}
	m := NewManager(types.RunOptions{Targets: []string{"t"}, Concurrency: 1}, &mockCatalog{candidates: candidates(5)}, tester, store, nil)

	if err := m.Start(nil); err != nil {
		t.Fatalf("Start() returned an error: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() returned an error: %v", err)
	}
	if len(store.saves) != 1 {
		t.Errorf("Expected the run to persist before Shutdown returned, got %d saves", len(store.saves))
	}
	if tester.callCount() >= 5 {
		t.Errorf("Expected the stop to cut the run short, got %d tests", tester.callCount())
	}
}
