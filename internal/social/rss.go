package social

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/fetch"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/ratelimit"
)

// rssFeed is the subset of RSS 2.0 we read from news outlets.
type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Author      string `xml:"author"`
	Creator     string `xml:"creator"` // dc:creator, common in news feeds
}

// rssDateLayouts covers the pubDate formats seen across major outlets.
var rssDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// RSSSource searches a set of public news RSS feeds for keyword matches.
// Feeds need no credentials, so the source is always enabled when any feed
// is configured.
type RSSSource struct {
	feeds      map[string]string // outlet name -> feed URL
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	log        *logrus.Logger
}

// NewRSSSource creates an RSS news source from the configured feed list
func NewRSSSource(cfg *config.Config, log *logrus.Logger) *RSSSource {
	return &RSSSource{
		feeds:      cfg.RSSFeeds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    ratelimit.New(cfg.SocialRPS),
		log:        log,
	}
}

func (s *RSSSource) Name() string {
	return "rss"
}

func (s *RSSSource) Enabled() bool {
	return len(s.feeds) > 0
}

// Search fetches every configured feed and returns items newer than since
// whose title or description mentions any keyword. A feed that fails to
// fetch or parse is logged and skipped; the remaining feeds still count.
func (s *RSSSource) Search(ctx context.Context, keywords []string, since time.Time, limit int) ([]Post, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	// Deterministic feed order keeps logs and tests stable.
	names := make([]string, 0, len(s.feeds))
	for name := range s.feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	var posts []Post
	for _, name := range names {
		feed, err := s.fetchFeed(ctx, name, s.feeds[name])
		if err != nil {
			if ctx.Err() != nil {
				return posts, ctx.Err()
			}
			s.log.WithError(err).WithField("feed", name).Warn("Failed to fetch RSS feed, skipping")
			continue
		}

		for _, item := range feed.Channel.Items {
			published := parseRSSDate(item.PubDate)
			if !published.IsZero() && published.Before(since) {
				continue
			}
			if !matchesAny(item.Title+" "+item.Description, lowered) {
				continue
			}

			author := item.Creator
			if author == "" {
				author = item.Author
			}
			if author == "" {
				author = name
			}

			posts = append(posts, Post{
				Platform: "rss",
				Author:   author,
				Content:  strings.TrimSpace(item.Title + " " + stripTags(item.Description)),
				URL:      item.Link,
				PostedAt: publishedOrNow(published),
			})
			if limit > 0 && len(posts) >= limit {
				return posts, nil
			}
		}
	}
	return posts, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, name, feedURL string) (*rssFeed, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	metrics.RecordAPIRequest("rss", name, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("feed %s: %w", name, fetch.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return &feed, nil
}

func matchesAny(text string, loweredKeywords []string) bool {
	lowered := strings.ToLower(text)
	for _, k := range loweredKeywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

func parseRSSDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range rssDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func publishedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// stripTags removes HTML markup that some outlets embed in descriptions.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
