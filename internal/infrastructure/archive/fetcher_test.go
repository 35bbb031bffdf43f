package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"roadwatch/internal/domain"
)

func newTestFetcher(client *http.Client, attempts int) *Fetcher {
	f := NewFetcher(client, 2, attempts, nil)
	f.backoffBase = time.Millisecond
	return f
}

func TestFetchAllWritesFiles(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload for " + r.URL.Path))
	}))
	defer server.Close()

	dir := t.TempDir()
	jobs := []domain.FetchJob{
		{URL: server.URL + "/a.osc.gz", Path: filepath.Join(dir, "a.osc.gz")},
		{URL: server.URL + "/b.osc.gz", Path: filepath.Join(dir, "b.osc.gz")},
	}

	f := newTestFetcher(server.Client(), 3)
	if err := f.FetchAll(context.Background(), jobs); err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}

	for _, job := range jobs {
		raw, err := os.ReadFile(job.Path)
		if err != nil {
			t.Fatalf("read %s: %v", job.Path, err)
		}
		if len(raw) == 0 {
			t.Fatalf("empty file %s", job.Path)
		}
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("finally"))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "file.gz")
	f := newTestFetcher(server.Client(), 3)

	err := f.FetchAll(context.Background(), []domain.FetchJob{{URL: server.URL, Path: path}})
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", calls.Load())
	}

	raw, err := os.ReadFile(path)
	if err != nil || string(raw) != "finally" {
		t.Fatalf("unexpected file content %q (err %v)", raw, err)
	}
}

func TestFetchSkipsExistingFile(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "file.gz")
	if err := os.WriteFile(path, []byte("already here"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f := newTestFetcher(server.Client(), 3)
	if err := f.FetchAll(context.Background(), []domain.FetchJob{{URL: server.URL, Path: path}}); err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}

	if calls.Load() != 0 {
		t.Fatalf("expected no requests for existing file, got %d", calls.Load())
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "already here" {
		t.Fatalf("existing file was overwritten: %q", raw)
	}
}

func TestFetchTerminalFailureAfterExhaustion(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "missing.gz")
	f := newTestFetcher(server.Client(), 2)

	err := f.FetchAll(context.Background(), []domain.FetchJob{{URL: server.URL, Path: path}})
	if err == nil {
		t.Fatal("expected terminal error for persistent 404")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("no file should exist after failure, stat err: %v", statErr)
	}
}
