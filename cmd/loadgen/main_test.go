package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"relentless-frontier/internal/logging"
)

var testLog = logging.Component(logging.Discard(), "loadgen-test")

// mockTransport records request bodies and returns a configurable status.
type mockTransport struct {
	mu       sync.Mutex
	status   int
	bodies   []string
	paths    []string
	methods  []string
	reqCount int
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	var batch []string
	_ = json.Unmarshal(body, &batch)

	m.mu.Lock()
	m.bodies = append(m.bodies, string(body))
	m.paths = append(m.paths, req.URL.Path)
	m.methods = append(m.methods, req.Method)
	m.reqCount++
	m.mu.Unlock()

	respBody := `{"status":"received","accepted":` + strconv.Itoa(len(batch)) + `,"duplicates":0,"rejected":0}`
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(respBody)),
		Header:     make(http.Header),
	}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	yamlPath := writeFile(t, dir, "seeds.yaml", "seeds:\n  - https://example.com/\n  - https://example.org/\n")
	jsonPath := writeFile(t, dir, "seeds.json", `{"seeds":["https://example.com/"]}`)
	emptyPath := writeFile(t, dir, "empty.yaml", "seeds: []\n")
	badPath := writeFile(t, dir, "bad.yaml", "seeds: [unterminated\n")

	tests := []struct {
		name    string
		path    string
		wantErr bool
		seeds   int
	}{
		{"yaml", yamlPath, false, 2},
		{"json", jsonPath, false, 1},
		{"missing", filepath.Join(dir, "missing.yaml"), true, 0},
		{"empty seeds", emptyPath, true, 0},
		{"invalid yaml", badPath, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(cfg.Seeds) != tt.seeds {
				t.Errorf("len(Seeds) = %d, want %d", len(cfg.Seeds), tt.seeds)
			}
			if tt.name == "empty seeds" && err != errNoSeeds {
				t.Errorf("empty seeds: err = %v, want errNoSeeds", err)
			}
		})
	}
}

func TestSplitBatches(t *testing.T) {
	seeds := []string{"a", "b", "c", "d", "e"}
	got := splitBatches(seeds, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("unexpected batches: %v", got)
	}
	if got := splitBatches(seeds, 0); len(got) != 5 {
		t.Fatalf("size 0 should fall back to 1, got %d batches", len(got))
	}
	if got := splitBatches(nil, 3); len(got) != 0 {
		t.Fatalf("expected no batches, got %v", got)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "seeds.yaml", "seeds: [a, b, c, d, e]\n")

	transport := &mockTransport{status: http.StatusOK}
	client := &http.Client{Transport: transport}

	opts := options{configPath: configPath, apiBase: "http://api.test", batchSize: 2, workers: 3}
	if err := run(context.Background(), opts, client, testLog); err != nil {
		t.Fatalf("run() err = %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.reqCount != 3 {
		t.Errorf("request count = %d, want 3", transport.reqCount)
	}
	seen := 0
	for i, body := range transport.bodies {
		if transport.methods[i] != http.MethodPost || transport.paths[i] != "/crawl" {
			t.Errorf("request %d: %s %s, want POST /crawl", i, transport.methods[i], transport.paths[i])
		}
		var batch []string
		if err := json.Unmarshal([]byte(body), &batch); err != nil {
			t.Fatalf("body %q is not a JSON array: %v", body, err)
		}
		seen += len(batch)
	}
	if seen != 5 {
		t.Errorf("submitted %d urls, want 5", seen)
	}
}

func TestRun_apiBaseWithPathPrefix(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "seeds.yaml", "seeds: [a]\n")

	transport := &mockTransport{status: http.StatusOK}
	opts := options{configPath: configPath, apiBase: "http://api.test/frontier/", batchSize: 1, workers: 1}
	if err := run(context.Background(), opts, &http.Client{Transport: transport}, testLog); err != nil {
		t.Fatalf("run() err = %v", err)
	}
	if len(transport.paths) != 1 || transport.paths[0] != "/frontier/crawl" {
		t.Fatalf("paths = %v, want [/frontier/crawl]", transport.paths)
	}
}

func TestRun_failedBatches(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "seeds.yaml", "seeds: [a, b]\n")

	transport := &mockTransport{status: http.StatusBadRequest}
	opts := options{configPath: configPath, apiBase: "http://api.test", batchSize: 1, workers: 1}
	err := run(context.Background(), opts, &http.Client{Transport: transport}, testLog)
	if err == nil || !strings.Contains(err.Error(), "2 of 2 batches failed") {
		t.Fatalf("run() err = %v, want batch failure", err)
	}
}

func TestRun_badConfigPath(t *testing.T) {
	opts := options{configPath: "/nonexistent/seeds.yaml", apiBase: "http://localhost:8081"}
	if err := run(context.Background(), opts, nil, testLog); err == nil {
		t.Fatal("run() expected error for missing config")
	}
}

func TestRun_invalidAPIBase(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "seeds.yaml", "seeds: [a]\n")
	opts := options{configPath: configPath, apiBase: "://invalid"}
	if err := run(context.Background(), opts, nil, testLog); err == nil {
		t.Fatal("run() expected error for invalid api base")
	}
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"-c", "x.yaml", "--batch", "7", "-m", "3"}); err != nil {
		t.Fatal(err)
	}
	opts, err := optionsFromFlags(cmd.Flags())
	if err != nil {
		t.Fatal(err)
	}
	if opts.configPath != "x.yaml" || opts.batchSize != 7 || opts.timeout.Seconds() != 3 || opts.workers != 4 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}
