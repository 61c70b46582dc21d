package feedrefresh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-feed-refresh/command"
	"github.com/goliatone/go-feed-refresh/core"
	"github.com/goliatone/go-feed-refresh/query"
	sqlstore "github.com/goliatone/go-feed-refresh/store/sql"
)

const pageTemplate = `<html><script>
    TellerConnect.setup({
        environment: ENVIRONMENT,
        onSuccess: save,
    });
</script></html>
`

func newAccountsAPI(t *testing.T) *httptest.Server {
	t.Helper()
	api := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, _ := r.BasicAuth()
		switch token {
		case "good":
			_, _ = w.Write([]byte(`[{"id":"acc_gold","name":"American Express Gold Card"}]`))
		case "fresh":
			_, _ = w.Write([]byte(`[{"id":"acc_free","name":"Freedom"}]`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"enrollment.disconnected"}}`))
		}
	}))
	t.Cleanup(api.Close)
	return api
}

func newWorkDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"enrollment-a.json": `{"accessToken":"good","enrollment":{"id":"e_good"}}`,
		"enrollment-b.json": `{"accessToken":"stale","enrollment":{"id":"e_stale"}}`,
		"index.html":        pageTemplate,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func testConfig(dir string, apiURL string) Config {
	cfg := DefaultConfig()
	cfg.WorkDir = dir
	cfg.API.BaseURL = apiURL
	cfg.Callback.Addr = "127.0.0.1:0"
	cfg.Feeds.OutputPath = "out/teller-feeds.json"
	cfg.Feeds.BackupPattern = "out/teller-feeds_{date}_backup.json"
	return cfg
}

func TestNewService_ResolvesPathsAgainstWorkDir(t *testing.T) {
	api := newAccountsAPI(t)
	dir := newWorkDir(t)

	svc, err := NewService(context.Background(), testConfig(dir, api.URL), WithHTTPClient(api.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = svc.Close() }()

	cfg := svc.Config()
	if cfg.Feeds.OutputPath != filepath.Join(dir, "out", "teller-feeds.json") {
		t.Fatalf("expected output path under work dir, got %q", cfg.Feeds.OutputPath)
	}
	if cfg.Callback.TemplatePath != filepath.Join(dir, "index.html") {
		t.Fatalf("expected template path under work dir, got %q", cfg.Callback.TemplatePath)
	}
	if svc.JournalReader() != nil {
		t.Fatalf("expected no journal reader without a dsn")
	}
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feeds.BackupPattern = "no-date.json"
	if _, err := NewService(context.Background(), cfg, WithHTTPClient(http.DefaultClient)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNewService_MissingCertificatesFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()
	cfg.API.CertPath = "missing-cert.pem"
	cfg.API.KeyPath = "missing-key.pem"
	if _, err := NewService(context.Background(), cfg); err == nil {
		t.Fatalf("expected certificate load error")
	}
}

func TestFacade_DryRunThroughCommandWithJournal(t *testing.T) {
	api := newAccountsAPI(t)
	dir := newWorkDir(t)
	cfg := testConfig(dir, api.URL)
	cfg.Journal = core.JournalConfig{
		Driver: "sqlite3",
		DSN:    fmt.Sprintf("file:facade-journal-%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}

	svc, err := NewService(context.Background(), cfg, WithHTTPClient(api.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = svc.Close() }()
	if _, ok := svc.JournalReader().(*sqlstore.CachedRunJournal); !ok {
		t.Fatalf("expected cached journal reader by default, got %T", svc.JournalReader())
	}

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Commands().Refresh == nil || facade.Queries().RunHistory == nil {
		t.Fatalf("expected refresh command and journal queries to be wired")
	}

	collector := gocmd.NewResult[core.BatchReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := facade.Commands().Refresh.Execute(ctx, command.RefreshMessage{DryRun: true}); err != nil {
		t.Fatalf("execute refresh: %v", err)
	}
	report, ok := collector.Load()
	if !ok {
		t.Fatalf("expected report in result collector")
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected two outcomes, got %#v", report.Outcomes)
	}
	if report.Outcomes[0].State != core.RecordStateVerifiedOK || report.Outcomes[1].State != core.RecordStateVerifiedBad {
		t.Fatalf("unexpected dry run states %#v", report.Outcomes)
	}
	if !report.Failed() || report.Merged {
		t.Fatalf("expected failed unmerged dry run report, got %#v", report)
	}
	if _, err := os.Stat(svc.Config().Feeds.OutputPath); !os.IsNotExist(err) {
		t.Fatalf("expected dry run not to write the registry, stat err %v", err)
	}

	entries, err := facade.Queries().RunOutcomes.Query(context.Background(), query.RunOutcomesMessage{RunID: report.RunID})
	if err != nil {
		t.Fatalf("query run outcomes: %v", err)
	}
	if len(entries) != 2 || entries[1].ErrorCode != core.ErrorTokenValidationFailed {
		t.Fatalf("expected journaled outcomes, got %#v", entries)
	}
}

func TestService_RefreshRunsCallbackSessionAndMerges(t *testing.T) {
	api := newAccountsAPI(t)
	dir := newWorkDir(t)

	listener := func(addr string) {
		go func() {
			res, err := http.Post("http://"+addr+core.DefaultSavePath, "application/json",
				strings.NewReader(`{"accessToken":"fresh","enrollment":{"id":"e_stale"}}`))
			if err == nil {
				_ = res.Body.Close()
			}
		}()
	}
	svc, err := NewService(context.Background(), testConfig(dir, api.URL),
		WithHTTPClient(api.Client()),
		WithCallbackListener(listener),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = svc.Close() }()

	report, err := svc.Refresh(context.Background(), RefreshRequest{})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if report.Failed() || !report.Merged {
		t.Fatalf("expected clean merged run, got %#v", report)
	}
	if report.Outcomes[1].State != core.RecordStateCollected || report.Outcomes[1].Entries != 1 {
		t.Fatalf("expected stale record collected, got %#v", report.Outcomes[1])
	}

	data, err := os.ReadFile(svc.Config().Feeds.OutputPath)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	if !strings.Contains(string(data), `"feedName": "CHASE_FREEDOM"`) || !strings.Contains(string(data), `"accessToken": "fresh"`) {
		t.Fatalf("expected refreshed feed in registry, got %s", data)
	}
}

func TestService_RefreshRecordPatternOverride(t *testing.T) {
	api := newAccountsAPI(t)
	dir := newWorkDir(t)

	svc, err := NewService(context.Background(), testConfig(dir, api.URL), WithHTTPClient(api.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	report, err := svc.Refresh(context.Background(), RefreshRequest{DryRun: true, RecordPattern: "enrollment-a.json"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Failed() {
		t.Fatalf("expected only the valid record, got %#v", report.Outcomes)
	}
	if svc.Config().RecordPattern != core.DefaultRecordPattern {
		t.Fatalf("expected override not to leak into service config")
	}
}

func TestLoadConfig_FileAndRuntimeLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed-refresh.yaml")
	content := `
work_dir: /srv/enrollments
api:
  base_url: https://api.example.test
feeds:
  account_feed_names:
    Brokerage: SCHWAB_BROKERAGE
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(context.Background(), path, Config{DryRun: true})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.WorkDir != "/srv/enrollments" || cfg.API.BaseURL != "https://api.example.test" {
		t.Fatalf("expected file layer applied, got %#v", cfg)
	}
	if !cfg.DryRun {
		t.Fatalf("expected runtime layer applied")
	}
	if cfg.Callback.Addr != core.DefaultCallbackAddr {
		t.Fatalf("expected defaults preserved, got %q", cfg.Callback.Addr)
	}
	mapping := cfg.FeedNameMapping()
	if len(mapping) != 1 || mapping["Brokerage"] != "SCHWAB_BROKERAGE" {
		t.Fatalf("expected configured mapping to replace defaults, got %#v", mapping)
	}

	cfg, err = LoadConfig(context.Background(), "", Config{})
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.RecordPattern != core.DefaultRecordPattern {
		t.Fatalf("expected default record pattern, got %q", cfg.RecordPattern)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected missing service error")
	}
}

func TestNewService_JournalOnlySkipsCertificates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()
	cfg.API.CertPath = "missing-cert.pem"
	cfg.API.KeyPath = "missing-key.pem"
	cfg.Journal = core.JournalConfig{
		Driver: "sqlite3",
		DSN:    fmt.Sprintf("file:journal-only-%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}

	svc, err := NewService(context.Background(), cfg, WithJournalOnly())
	if err != nil {
		t.Fatalf("new journal-only service: %v", err)
	}
	defer func() { _ = svc.Close() }()

	if svc.JournalReader() == nil {
		t.Fatalf("expected journal reader")
	}
	entries, err := svc.JournalReader().History(context.Background(), "", 10)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty history, got %#v %v", entries, err)
	}
	if _, err := svc.Refresh(context.Background(), RefreshRequest{DryRun: true}); err == nil {
		t.Fatalf("expected refresh to be rejected on a journal-only service")
	}
}
