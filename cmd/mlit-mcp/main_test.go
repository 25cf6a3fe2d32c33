package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/audit"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/config"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/normalize"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// fakeUpstream serves a two-page keyword search, the prefecture table and a
// 404 for unknown data ids.
type fakeUpstream struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	if r.Header.Get("apikey") != "test-key" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/search":
		if r.URL.Query().Get("page") == "1" {
			io.WriteString(w, `{"total":2,"features":[
				{"type":"Feature","id":"b1","properties":{"title":"日本橋","prefecture_code":"13"},"geometry":{"type":"Point","coordinates":[139.77,35.68]}},
				{"type":"Feature","id":"b2","properties":{"title":"天満橋","prefecture_code":"27"}}]}`)
			return
		}
		io.WriteString(w, `{"total":2,"features":[]}`)
	case "/prefectures":
		io.WriteString(w, `{"items":[{"code":"13","name":"東京都"},{"code":"27","name":"大阪府"}]}`)
	case "/municipalities":
		io.WriteString(w, `{"items":[{"code":"13101","name":"千代田区"}]}`)
	default:
		http.NotFound(w, r)
	}
}

// lockedBuffer is written by background goroutines and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T, upstreamURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Upstream.APIKey = "test-key"
	cfg.Upstream.RequestsPerSecond = 0
	cfg.Retry.MaxAttempts = 1
	cfg.Audit.Enabled = true
	cfg.Audit.DSN = filepath.Join(t.TempDir(), "audit.db")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestApp_SearchEndToEnd(t *testing.T) {
	up := httptest.NewServer(&fakeUpstream{})
	defer up.Close()
	cfg := testConfig(t, up.URL)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg.Log, io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.codes.Warm(ctx); err != nil {
		t.Fatal(err)
	}

	result := a.server.CallTool(ctx, "search", map[string]any{"keyword": "橋"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content[0].Text)
	}
	var res normalize.Result
	if err := json.Unmarshal([]byte(result.Content[0].Text), &res); err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 || res.Total != 2 || res.Truncated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Records[0]["prefecture_name"] != "東京都" || res.Records[1]["prefecture_name"] != "大阪府" {
		t.Fatalf("records not enriched: %+v", res.Records)
	}

	notFound := a.server.CallTool(ctx, "get_data", map[string]any{"data_id": "X123"})
	if notFound.ErrorKind() != apperr.KindNotFound {
		t.Fatalf("expected not_found, got %s", notFound.Content[0].Text)
	}

	entries, err := a.audit.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %+v", entries)
	}
}

func TestApp_AuthFailureIsStructured(t *testing.T) {
	up := httptest.NewServer(&fakeUpstream{})
	defer up.Close()
	cfg := testConfig(t, up.URL)
	cfg.Upstream.APIKey = "wrong"
	cfg.Audit.Enabled = false

	a, err := newApp(context.Background(), cfg, newLogger(cfg.Log, io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	result := a.server.CallTool(context.Background(), "get_prefecture_data", nil)
	if result.ErrorKind() != apperr.KindAuth {
		t.Fatalf("expected auth error, got %s", result.Content[0].Text)
	}
}

func TestRunServe_Stdio(t *testing.T) {
	up := httptest.NewServer(&fakeUpstream{})
	defer up.Close()
	cfg := testConfig(t, up.URL)

	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_municipality_data","arguments":{"prefecture_code":"13"}}}`,
	}, "\n") + "\n")
	var out bytes.Buffer
	var logs lockedBuffer

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runServe(ctx, cfg, in, &out, &logs); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 responses, got %d: %s", len(lines), out.String())
	}
	if !strings.Contains(out.String(), "千代田区") {
		t.Fatalf("municipality missing from output: %s", out.String())
	}
	if strings.Contains(logs.String(), "test-key") {
		t.Fatal("API key leaked into logs")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mlit-mcp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI_Call(t *testing.T) {
	up := httptest.NewServer(&fakeUpstream{})
	defer up.Close()
	path := writeConfigFile(t, "upstream:\n  base_url: "+up.URL+"\n  api_key: test-key\nlog:\n  level: error\n")

	out, err := runCLI(t, "--config", path, "call", "get_prefecture_data")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "東京都") || !strings.Contains(out, `"count":2`) {
		t.Fatalf("unexpected output: %s", out)
	}

	out, err = runCLI(t, "--config", path, "call", "search", "--args", `{"keyword":""}`)
	if err == nil || !strings.Contains(out, `"kind":"validation"`) {
		t.Fatalf("expected validation failure, got %v: %s", err, out)
	}
}

func TestCLI_ToolsWithoutAPIKey(t *testing.T) {
	path := writeConfigFile(t, "log:\n  level: error\n")
	t.Setenv("MLIT_API_KEY", "")

	out, err := runCLI(t, "--config", path, "tools")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"search_by_location_rectangle", "get_municipality_data", "codes"} {
		if !strings.Contains(out, name) {
			t.Fatalf("%s missing from listing:\n%s", name, out)
		}
	}
}

func TestCLI_TokenCommands(t *testing.T) {
	path := writeConfigFile(t, "server:\n  jwt_secret: s3cret\n")

	out, err := runCLI(t, "--config", path, "token", "--subject", "agent")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out)
	}

	out, err = runCLI(t, "hash-token", "let-me-in")
	if err != nil {
		t.Fatal(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("let-me-in")); err != nil {
		t.Fatalf("hash does not match token: %v", err)
	}
}

func TestCLI_Audit(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	store, err := audit.Open(context.Background(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	store.Record(context.Background(), audit.Entry{
		ID: "c1", Tool: "search", StartedAt: time.Now(), Duration: time.Second, Outcome: audit.OutcomeOK,
	})
	store.Close()

	path := writeConfigFile(t, "audit:\n  dsn: "+dsn+"\n")
	out, err := runCLI(t, "--config", path, "audit")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "search") || !strings.Contains(out, "c1") {
		t.Fatalf("unexpected audit output:\n%s", out)
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil || !strings.HasPrefix(out, "mlit-mcp ") {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}
