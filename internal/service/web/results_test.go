package web

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"proxyfinder/internal/shared/types"
	manager "proxyfinder/proxypool"
	"proxyfinder/proxypool/model"
	"proxyfinder/proxypool/runlog"
	"proxyfinder/proxypool/storage"
)

type fixedCatalog []model.Candidate

func (c fixedCatalog) Build(context.Context, runlog.Sink) []model.Candidate {
	return c
}

type alwaysOK struct{}

func (alwaysOK) Test(context.Context, model.Candidate, string) (*model.TestOutcome, error) {
	return &model.TestOutcome{Latency: 100 * time.Millisecond, Scheme: model.SchemePlain}, nil
}

// fullDiskStore reports its path like the file store but refuses every write.
type fullDiskStore struct {
	path string
}

func (s fullDiskStore) Save([]model.WorkingProxyRecord) error {
	return errors.New("no space left on device")
}

func (s fullDiskStore) Path() string { return s.path }

func TestHandler_ResultsAfterFailedSaveSkipsOlderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "working_proxies.json")
	file := storage.NewFileStorage(path)
	older := model.WorkingProxyRecord{Proxy: "1.1.1.1:80", Latency: 0.5, Scheme: model.SchemePlain, Target: "t"}
	if err := file.Save([]model.WorkingProxyRecord{older}); err != nil {
		t.Fatalf("Failed to seed the result file: %v", err)
	}

	m := manager.NewManager(types.RunOptions{Targets: []string{"t"}}, fixedCatalog{"9.9.9.9:8080"}, alwaysOK{}, fullDiskStore{path: path}, nil)
	if _, err := m.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}

	mux, err := NewMux(NewHandler(m, runlog.NewBuffer(1), file, nil), nil)
	if err != nil {
		t.Fatalf("NewMux() returned an error: %v", err)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got := decodeResults(t, srv.URL)
	want := model.WorkingProxyRecord{Proxy: "9.9.9.9:8080", Latency: 0.1, Scheme: model.SchemePlain, Target: "t"}
	if len(got) != 1 || got[0] != want {
		t.Errorf("Expected the unsaved run's records %v, got %v", want, got)
	}
}
