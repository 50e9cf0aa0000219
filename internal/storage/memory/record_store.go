package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

// RecordStore keeps ingested torrents in maps keyed by info-hash and crawl
// link.
type RecordStore struct {
	mu      sync.RWMutex
	byHash  map[string]crawler.IngestRecord
	byLink  map[string]string
	ordered []string
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		byHash: make(map[string]crawler.IngestRecord),
		byLink: make(map[string]string),
	}
}

// InfoHashExists reports whether a record with infoHash is stored.
func (s *RecordStore) InfoHashExists(_ context.Context, infoHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[infoHash]
	return ok, nil
}

// CrawlLinkExists reports whether any stored record came from link.
func (s *RecordStore) CrawlLinkExists(_ context.Context, link string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byLink[link]
	return ok, nil
}

// Insert stores record, returning crawler.ErrDuplicate if the info-hash is
// taken.
func (s *RecordStore) Insert(_ context.Context, record crawler.IngestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[record.InfoHash]; ok {
		return crawler.ErrDuplicate
	}
	record.IsUpload = false
	s.byHash[record.InfoHash] = record
	if record.CrawlLink != "" {
		s.byLink[record.CrawlLink] = record.InfoHash
	}
	s.ordered = append(s.ordered, record.InfoHash)
	return nil
}

// Records returns the stored records in insertion order.
func (s *RecordStore) Records() []crawler.IngestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.IngestRecord, 0, len(s.ordered))
	for _, h := range s.ordered {
		out = append(out, s.byHash[h])
	}
	return out
}
