package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/fetch"
)

const sampleSearchResponse = `{
  "posts": [
    {
      "uri": "at://did:plc:abc123/app.bsky.feed.post/3kxyz",
      "author": {"handle": "trader.bsky.social"},
      "record": {"text": "Bitcoin is breaking out", "createdAt": "2026-08-31T09:00:00Z"},
      "likeCount": 4,
      "repostCount": 2,
      "replyCount": 1
    }
  ]
}`

func newBlueskyTestSource(t *testing.T, baseURL string) *BlueskySource {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	cfg := &config.Config{
		BlueskyBaseURL:     baseURL,
		BlueskyHandle:      "scanner.bsky.social",
		BlueskyAppPassword: "app-pass",
		SocialRPS:          1000,
	}
	return NewBlueskySource(cfg, log)
}

// The configured base URL carries the /xrpc prefix, so the client must
// append bare method names to it.
func TestBlueskySearchJoinsMethodPaths(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("decoding credentials: %v", err)
		}
		if creds["identifier"] != "scanner.bsky.social" {
			t.Errorf("identifier = %q, want scanner.bsky.social", creds["identifier"])
		}
		json.NewEncoder(w).Encode(map[string]string{"accessJwt": "token-1"})
	})
	mux.HandleFunc("/xrpc/app.bsky.feed.searchPosts", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q, want Bearer token-1", got)
		}
		if got := r.URL.Query().Get("q"); got != "bitcoin" {
			t.Errorf("q = %q, want bitcoin", got)
		}
		w.Write([]byte(sampleSearchResponse))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request hit unexpected path %q", r.URL.Path)
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := newBlueskyTestSource(t, server.URL+"/xrpc")

	posts, err := s.Search(context.Background(), []string{"bitcoin"}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantPaths := []string{
		"/xrpc/com.atproto.server.createSession",
		"/xrpc/app.bsky.feed.searchPosts",
	}
	if len(paths) != len(wantPaths) {
		t.Fatalf("server saw %d requests (%v), want %d", len(paths), paths, len(wantPaths))
	}
	for i, want := range wantPaths {
		if paths[i] != want {
			t.Errorf("request %d path = %q, want %q", i, paths[i], want)
		}
	}

	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.Platform != "bluesky" {
		t.Errorf("Platform = %q, want bluesky", p.Platform)
	}
	if p.Author != "trader.bsky.social" {
		t.Errorf("Author = %q", p.Author)
	}
	if p.URL != "https://bsky.app/profile/trader.bsky.social/post/3kxyz" {
		t.Errorf("URL = %q", p.URL)
	}
	if p.EngagementScore != 4+2*3+1*2 {
		t.Errorf("EngagementScore = %d, want 12", p.EngagementScore)
	}
}

func TestBlueskySearchDeduplicatesAcrossKeywords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"accessJwt": "token-1"})
	})
	mux.HandleFunc("/xrpc/app.bsky.feed.searchPosts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleSearchResponse))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := newBlueskyTestSource(t, server.URL+"/xrpc")

	posts, err := s.Search(context.Background(), []string{"bitcoin", "crypto"}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("expected 1 post after dedup, got %d", len(posts))
	}
}

func TestBlueskySearchRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"accessJwt": "token-1"})
	})
	mux.HandleFunc("/xrpc/app.bsky.feed.searchPosts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := newBlueskyTestSource(t, server.URL+"/xrpc")

	_, err := s.Search(context.Background(), []string{"bitcoin"}, time.Time{}, 10)
	if !errors.Is(err, fetch.ErrRateLimited) {
		t.Errorf("error = %v, want wrapped ErrRateLimited", err)
	}
}

func TestBlueskySearchDisabledWithoutCredentials(t *testing.T) {
	s := newBlueskyTestSource(t, "http://unused/xrpc")
	s.appPassword = ""

	posts, err := s.Search(context.Background(), []string{"bitcoin"}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts != nil {
		t.Errorf("expected no posts from a disabled source, got %d", len(posts))
	}
}
