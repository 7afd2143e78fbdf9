// Package social collects posts about market contracts from news feeds and
// social platforms.
package social

import (
	"context"
	"time"
)

// Post is a normalized social item before persistence.
type Post struct {
	Platform        string
	Author          string
	Content         string
	URL             string
	EngagementScore int
	PostedAt        time.Time
}

// Source searches one platform for posts matching keywords.
//
// Search returns fetch.ErrRateLimited (possibly wrapped) when the platform
// throttled the request, so callers can back off and retry.
type Source interface {
	Name() string
	Enabled() bool
	Search(ctx context.Context, keywords []string, since time.Time, limit int) ([]Post, error)
}
