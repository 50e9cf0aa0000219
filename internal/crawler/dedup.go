package crawler

import (
	"context"
	"fmt"
)

// DefaultSeenThreshold is the number of consecutive already-crawled torrent
// links after which a run stops.
const DefaultSeenThreshold = 10

// StreakPolicy stops a run once Threshold consecutive torrent links are
// already known to the record store. Any unseen link resets the streak.
type StreakPolicy struct {
	store     RecordStore
	threshold int
	streak    int
}

// NewStreakPolicy returns a policy backed by store. A threshold <= 0 selects
// DefaultSeenThreshold.
func NewStreakPolicy(store RecordStore, threshold int) *StreakPolicy {
	if threshold <= 0 {
		threshold = DefaultSeenThreshold
	}
	return &StreakPolicy{store: store, threshold: threshold}
}

// Observe records one torrent link and reports whether the run should stop.
func (p *StreakPolicy) Observe(ctx context.Context, torrentURL string) (bool, error) {
	seen, err := p.store.CrawlLinkExists(ctx, torrentURL)
	if err != nil {
		return false, fmt.Errorf("check crawl link: %w", err)
	}
	if seen {
		p.streak++
	} else {
		p.streak = 0
	}
	return p.streak >= p.threshold, nil
}

// Streak returns the current run of consecutive seen links.
func (p *StreakPolicy) Streak() int {
	return p.streak
}
