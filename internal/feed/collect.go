// Package feed implements the pipeline collaborators for RSS-backed bots:
// the collector fetches and parses feed documents, the analyzer runs the
// collected items through the LLM, and the reporter persists the result.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/pipeline"
	"github.com/feedhive/feedhive/internal/tools/web"
)

// Item is one entry parsed from a feed document.
type Item struct {
	Title       string
	Link        string
	Description string
	Published   string
	SourceID    int64
}

// Config tunes feed fetching.
type Config struct {
	MaxResponseBytes int64 // 0 = 5 MB
	TimeoutSeconds   int   // 0 = 10s
	MaxItemsPerBot   int   // 0 = 100. Oldest cached items are dropped first.
}

const (
	defaultMaxResponseBytes = 5 << 20
	defaultTimeoutSeconds   = 10
	defaultMaxItemsPerBot   = 100
)

func (c Config) maxBytes() int64 {
	if c.MaxResponseBytes > 0 {
		return c.MaxResponseBytes
	}
	return defaultMaxResponseBytes
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeoutSeconds * time.Second
}

func (c Config) maxItems() int {
	if c.MaxItemsPerBot > 0 {
		return c.MaxItemsPerBot
	}
	return defaultMaxItemsPerBot
}

// Collector fetches a bot's RSS sources and keeps the most recent items in
// memory, deduplicated by link. A source that fails to fetch is skipped; the
// collect pass only errors when every source failed, so one dead feed does
// not halt the pipeline.
type Collector struct {
	config    Config
	client    *http.Client
	logger    *slog.Logger
	checkHost func(hostname string) error // SSRF guard, injectable for tests

	mu    sync.Mutex
	seen  map[int64]map[string]bool // botID -> item link -> known
	items map[int64][]Item          // botID -> cached items, oldest first
}

var _ pipeline.Collector = (*Collector)(nil)

// NewCollector creates a feed collector.
func NewCollector(cfg Config, logger *slog.Logger) *Collector {
	return &Collector{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.timeout()},
		logger:    logger,
		checkHost: web.CheckSSRF,
		seen:      make(map[int64]map[string]bool),
		items:     make(map[int64][]Item),
	}
}

// Collect fetches every enabled source and caches new items for the analyzer.
func (c *Collector) Collect(ctx context.Context, bot *domain.Bot, sources []domain.Source) (*pipeline.CollectOutput, error) {
	out := &pipeline.CollectOutput{}
	var lastErr error
	failed := 0

	for _, src := range sources {
		out.SourcesTried++
		items, err := c.fetchSource(ctx, src)
		if err != nil {
			failed++
			lastErr = err
			c.logger.WarnContext(ctx, "source fetch failed",
				slog.Int64("bot_id", bot.ID),
				slog.String("url", src.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		out.NewItems += c.store(bot.ID, items)
	}

	if failed == len(sources) && len(sources) > 0 {
		return nil, fmt.Errorf("all %d sources failed, last error: %w", len(sources), lastErr)
	}
	return out, nil
}

// Items returns the cached items for a bot, oldest first.
func (c *Collector) Items(botID int64) []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := c.items[botID]
	cp := make([]Item, len(cached))
	copy(cp, cached)
	return cp
}

func (c *Collector) fetchSource(ctx context.Context, src domain.Source) ([]Item, error) {
	parsed, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL %q: %w", src.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("only http/https feeds allowed, got %q", parsed.Scheme)
	}
	if err := c.checkHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "feedhive/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: status %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.maxBytes()))
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}

	items, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", src.URL, err)
	}
	for i := range items {
		items[i].SourceID = src.ID
	}
	return items, nil
}

// store caches items not seen before and returns how many were new.
func (c *Collector) store(botID int64, items []Item) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := c.seen[botID]
	if known == nil {
		known = make(map[string]bool)
		c.seen[botID] = known
	}

	added := 0
	for _, it := range items {
		key := it.Link
		if key == "" {
			key = it.Title
		}
		if key == "" || known[key] {
			continue
		}
		known[key] = true
		c.items[botID] = append(c.items[botID], it)
		added++
	}

	// Keep the cache bounded; dedup keys stay so old items do not recount.
	if limit := c.config.maxItems(); len(c.items[botID]) > limit {
		c.items[botID] = c.items[botID][len(c.items[botID])-limit:]
	}
	return added
}

// rssDocument covers both RSS 2.0 (<rss><channel><item>) and Atom
// (<feed><entry>) in one shape. Unknown elements are ignored.
type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomEntry struct {
	Title   string     `xml:"title"`
	Links   []atomLink `xml:"link"`
	Summary string     `xml:"summary"`
	Updated string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
}

func parseFeed(body []byte) ([]Item, error) {
	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	var items []Item
	for _, it := range doc.Channel.Items {
		items = append(items, Item{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
			Published:   it.PubDate,
		})
	}
	for _, e := range doc.Entries {
		link := ""
		if len(e.Links) > 0 {
			link = e.Links[0].Href
		}
		items = append(items, Item{
			Title:       e.Title,
			Link:        link,
			Description: e.Summary,
			Published:   e.Updated,
		})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no recognizable feed items")
	}
	return items, nil
}
