package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/fetch"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/ratelimit"
)

// BlueskySource searches posts via the AT Protocol API. Requires a handle
// plus app password; authentication happens lazily on first search and
// again when the token expires. The base URL includes the /xrpc prefix;
// method names are appended to it directly.
type BlueskySource struct {
	baseURL     string
	handle      string
	appPassword string
	httpClient  *http.Client
	limiter     *ratelimit.Limiter
	log         *logrus.Logger
	accessJWT   string
}

// NewBlueskySource creates a Bluesky source
func NewBlueskySource(cfg *config.Config, log *logrus.Logger) *BlueskySource {
	return &BlueskySource{
		baseURL:     cfg.BlueskyBaseURL,
		handle:      cfg.BlueskyHandle,
		appPassword: cfg.BlueskyAppPassword,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     ratelimit.New(cfg.SocialRPS),
		log:         log,
	}
}

func (s *BlueskySource) Name() string {
	return "bluesky"
}

func (s *BlueskySource) Enabled() bool {
	return s.handle != "" && s.appPassword != ""
}

// Search queries app.bsky.feed.searchPosts once per keyword and merges the
// results, deduplicating by post URI.
func (s *BlueskySource) Search(ctx context.Context, keywords []string, since time.Time, limit int) ([]Post, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if s.accessJWT == "" {
		if err := s.authenticate(ctx); err != nil {
			return nil, fmt.Errorf("bluesky auth: %w", err)
		}
	}

	seen := make(map[string]struct{})
	var posts []Post

	for _, keyword := range keywords {
		batch, err := s.searchPosts(ctx, keyword, since, limit)
		if err != nil {
			return posts, err
		}
		for _, p := range batch {
			if _, dup := seen[p.URL]; dup {
				continue
			}
			seen[p.URL] = struct{}{}
			posts = append(posts, p)
			if limit > 0 && len(posts) >= limit {
				return posts, nil
			}
		}
	}
	return posts, nil
}

func (s *BlueskySource) authenticate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"identifier": s.handle,
		"password":   s.appPassword,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		s.baseURL+"/com.atproto.server.createSession", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	metrics.RecordAPIRequest("bluesky", "createSession", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var session struct {
		AccessJWT string `json:"accessJwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if session.AccessJWT == "" {
		return fmt.Errorf("empty access token")
	}

	s.accessJWT = session.AccessJWT
	s.log.WithField("handle", s.handle).Info("Bluesky session established")
	return nil
}

func (s *BlueskySource) searchPosts(ctx context.Context, query string, since time.Time, limit int) ([]Post, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(s.baseURL + "/app.bsky.feed.searchPosts")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("sort", "latest")
	if limit > 0 {
		if limit > 100 {
			limit = 100
		}
		q.Set("limit", strconv.Itoa(limit))
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format("2006-01-02T15:04:05Z"))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessJWT)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	metrics.RecordAPIRequest("bluesky", "searchPosts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("searchPosts: %w", fetch.ErrRateLimited)
	case http.StatusUnauthorized:
		// Token expired; re-authenticate and let the caller retry next time.
		s.accessJWT = ""
		if err := s.authenticate(ctx); err != nil {
			return nil, fmt.Errorf("re-auth after 401: %w", err)
		}
		return nil, fmt.Errorf("searchPosts: token expired, session refreshed")
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Posts []blueskyPost `json:"posts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	posts := make([]Post, 0, len(result.Posts))
	for _, raw := range result.Posts {
		if p, ok := raw.normalize(); ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

type blueskyPost struct {
	URI    string `json:"uri"`
	Author struct {
		Handle string `json:"handle"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	LikeCount   int `json:"likeCount"`
	RepostCount int `json:"repostCount"`
	ReplyCount  int `json:"replyCount"`
}

// normalize converts an AT Protocol post into the shared Post shape. The
// at:// URI becomes a public web URL.
func (p blueskyPost) normalize() (Post, bool) {
	if p.Record.Text == "" {
		return Post{}, false
	}

	rkey := p.URI[strings.LastIndex(p.URI, "/")+1:]
	if rkey == "" {
		return Post{}, false
	}

	postedAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, p.Record.CreatedAt); err == nil {
		postedAt = t.UTC()
	}

	return Post{
		Platform: "bluesky",
		Author:   p.Author.Handle,
		Content:  p.Record.Text,
		URL:      fmt.Sprintf("https://bsky.app/profile/%s/post/%s", p.Author.Handle, rkey),
		// Reposts and replies weigh more than likes
		EngagementScore: p.LikeCount + p.RepostCount*3 + p.ReplyCount*2,
		PostedAt:        postedAt,
	}, true
}
