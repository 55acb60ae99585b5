package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/llm"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// allowAnyHost disables the SSRF guard so tests can hit httptest loopback
// servers.
func allowAnyHost(c *Collector) *Collector {
	c.checkHost = func(string) error { return nil }
	return c
}

const rssFixture = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item><title>First</title><link>https://example.com/1</link><description>Body one</description><pubDate>Mon, 01 Jan 2026 08:00:00 GMT</pubDate></item>
  <item><title>Second</title><link>https://example.com/2</link><description>Body two</description></item>
</channel></rss>`

const atomFixture = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry><title>Atom one</title><link href="https://example.com/a1"/><summary>Atom body</summary><updated>2026-01-01T08:00:00Z</updated></entry>
</feed>`

func TestParseFeed_RSS(t *testing.T) {
	items, err := parseFeed([]byte(rssFixture))
	if err != nil {
		t.Fatalf("parseFeed error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Title != "First" || items[0].Link != "https://example.com/1" {
		t.Errorf("first item = %+v", items[0])
	}
}

func TestParseFeed_Atom(t *testing.T) {
	items, err := parseFeed([]byte(atomFixture))
	if err != nil {
		t.Fatalf("parseFeed error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Link != "https://example.com/a1" {
		t.Errorf("link = %q", items[0].Link)
	}
}

func TestParseFeed_NotAFeed(t *testing.T) {
	if _, err := parseFeed([]byte("<html><body>nope</body></html>")); err == nil {
		t.Fatal("expected error for non-feed document")
	}
}

func TestCollector_Dedup(t *testing.T) {
	c := NewCollector(Config{}, testLogger())

	added := c.store(1, []Item{{Title: "First", Link: "https://example.com/1"}})
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	// Same link again: not new.
	added = c.store(1, []Item{{Title: "First", Link: "https://example.com/1"}})
	if added != 0 {
		t.Fatalf("re-added = %d, want 0", added)
	}
	// Different bot: independent dedup state.
	added = c.store(2, []Item{{Title: "First", Link: "https://example.com/1"}})
	if added != 1 {
		t.Fatalf("other bot added = %d, want 1", added)
	}
	if got := len(c.Items(1)); got != 1 {
		t.Errorf("cached items = %d, want 1", got)
	}
}

func TestCollector_CacheBounded(t *testing.T) {
	c := NewCollector(Config{MaxItemsPerBot: 3}, testLogger())
	for i := 0; i < 10; i++ {
		c.store(1, []Item{{Title: "t", Link: "https://example.com/" + strings.Repeat("x", i+1)}})
	}
	if got := len(c.Items(1)); got != 3 {
		t.Errorf("cached items = %d, want 3", got)
	}
}

func TestCollector_AllSourcesFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := allowAnyHost(NewCollector(Config{}, testLogger()))
	bot := &domain.Bot{ID: 1, UserID: "u1"}
	_, err := c.Collect(context.Background(), bot, []domain.Source{{ID: 1, URL: srv.URL}})
	if err == nil {
		t.Fatal("expected error when every source fails")
	}
}

func TestCollector_PartialFailureTolerated(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(rssFixture))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	c := allowAnyHost(NewCollector(Config{}, testLogger()))
	bot := &domain.Bot{ID: 1, UserID: "u1"}
	out, err := c.Collect(context.Background(), bot, []domain.Source{
		{ID: 1, URL: bad.URL},
		{ID: 2, URL: good.URL},
	})
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if out.SourcesTried != 2 {
		t.Errorf("sources tried = %d, want 2", out.SourcesTried)
	}
	if out.NewItems != 2 {
		t.Errorf("new items = %d, want 2", out.NewItems)
	}
}

// --- Analyzer ---

type stubItems struct{ items []Item }

func (s stubItems) Items(int64) []Item { return s.items }

type stubProvider struct {
	lastPrompt string
	resp       *llm.Response
	err        error
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.lastPrompt = req.Messages[0].Content
	return s.resp, s.err
}

func TestAnalyzer_EgressNone(t *testing.T) {
	a := NewAnalyzer(stubItems{items: []Item{{Title: "x"}}}, testLogger())
	_, err := a.Analyze(context.Background(), &domain.Bot{ID: 1}, &domain.ReportProfile{Topic: "ai"}, &stubProvider{}, permission.EgressNone.String())
	if err == nil {
		t.Fatal("expected error under egress none")
	}
}

func TestAnalyzer_NoItems(t *testing.T) {
	p := &stubProvider{resp: &llm.Response{Content: "should not be called"}}
	a := NewAnalyzer(stubItems{}, testLogger())
	out, err := a.Analyze(context.Background(), &domain.Bot{ID: 1}, &domain.ReportProfile{Topic: "ai"}, p, permission.EgressMetadataOnly.String())
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if out.ItemCount != 0 {
		t.Errorf("item count = %d, want 0", out.ItemCount)
	}
	if p.lastPrompt != "" {
		t.Error("provider should not be called with no items")
	}
}

func TestAnalyzer_MetadataOnlyOmitsBodies(t *testing.T) {
	items := []Item{{Title: "Headline", Link: "https://example.com/1", Description: "SECRET-BODY"}}
	p := &stubProvider{resp: &llm.Response{Content: "summary", TokensUsed: 10}}
	a := NewAnalyzer(stubItems{items: items}, testLogger())

	out, err := a.Analyze(context.Background(), &domain.Bot{ID: 1}, &domain.ReportProfile{Topic: "ai"}, p, permission.EgressMetadataOnly.String())
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if out.ItemCount != 1 {
		t.Errorf("item count = %d, want 1", out.ItemCount)
	}
	if strings.Contains(p.lastPrompt, "SECRET-BODY") {
		t.Error("item body leaked under metadata_only egress")
	}
	if !strings.Contains(p.lastPrompt, "Headline") {
		t.Error("item title missing from prompt")
	}
}

func TestAnalyzer_FullContentIncludesBodies(t *testing.T) {
	items := []Item{{Title: "Headline", Description: "the full body"}}
	p := &stubProvider{resp: &llm.Response{Content: "summary"}}
	a := NewAnalyzer(stubItems{items: items}, testLogger())

	if _, err := a.Analyze(context.Background(), &domain.Bot{ID: 1}, &domain.ReportProfile{Topic: "ai"}, p, permission.EgressFullContent.String()); err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if !strings.Contains(p.lastPrompt, "the full body") {
		t.Error("item body missing under full_content egress")
	}
}

func TestAnalyzer_ProviderError(t *testing.T) {
	p := &stubProvider{err: errors.New("rate limited")}
	a := NewAnalyzer(stubItems{items: []Item{{Title: "x"}}}, testLogger())
	if _, err := a.Analyze(context.Background(), &domain.Bot{ID: 1}, &domain.ReportProfile{Topic: "ai"}, p, permission.EgressFullContent.String()); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

// --- Reporter ---

type stubReportStore struct {
	created *domain.Report
	err     error
}

func (s *stubReportStore) Create(_ context.Context, r *domain.Report) error {
	s.created = r
	return s.err
}

func TestReporter_Generate(t *testing.T) {
	store := &stubReportStore{}
	r := NewReporter(store, testLogger())
	r.now = func() time.Time { return time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC) }

	bot := &domain.Bot{ID: 7, UserID: "u1"}
	profile := &domain.ReportProfile{ID: 3, BotID: 7, Topic: "ai policy"}
	report, err := r.Generate(context.Background(), bot, profile, &pipeline.AnalysisOutput{Summary: "all quiet", ItemCount: 4})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if store.created == nil {
		t.Fatal("report not persisted")
	}
	if report.Title != "ai policy - 2026-02-03" {
		t.Errorf("title = %q", report.Title)
	}
	if report.ProfileID != 3 || report.BotID != 7 || report.UserID != "u1" {
		t.Errorf("report identity fields = %+v", report)
	}
	if report.Body != "all quiet" || report.ItemCount != 4 {
		t.Errorf("report content = %+v", report)
	}
}

func TestReporter_StoreError(t *testing.T) {
	r := NewReporter(&stubReportStore{err: errors.New("disk full")}, testLogger())
	_, err := r.Generate(context.Background(), &domain.Bot{ID: 1}, &domain.ReportProfile{ID: 1}, &pipeline.AnalysisOutput{})
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}
