package crawler

import (
	"net/http"
	"time"

	"github.com/JakeFAU/pt-crawler/internal/torrent"
)

// IngestRecord is one ingested torrent as persisted by the record store.
type IngestRecord struct {
	InfoHash       string         `json:"info_hash"`
	MetaVersion    string         `json:"meta_version"`
	Name           string         `json:"name"`
	Title          string         `json:"title"`
	Introduction   string         `json:"introduction"`
	Description    string         `json:"description"`
	Tags           string         `json:"tags"`
	Category       string         `json:"category"`
	Medium         string         `json:"medium"`
	VideoCodec     string         `json:"video_codec"`
	AudioCodec     string         `json:"audiocodec"`
	Standard       string         `json:"standard"`
	ProductionTeam string         `json:"production_team"`
	Size           int64          `json:"size"`
	IsSingleFile   bool           `json:"is_single_file"`
	IsUpload       bool           `json:"is_upload"`
	Files          []torrent.File `json:"multi_file_list"`
	CrawlSite      string         `json:"crawl_site"`
	CrawlLink      string         `json:"crawl_link"`
	SavedPath      string         `json:"saved_path"`
	CrawledAt      time.Time      `json:"crawled_at"`
}

// IngestEvent is published for every newly stored record.
type IngestEvent struct {
	InfoHash  string `json:"info_hash"`
	Title     string `json:"title"`
	SavedPath string `json:"saved_path"`
	CrawlSite string `json:"crawl_site"`
}

// Summary is the outcome of one run.
type Summary struct {
	Created       int  `json:"created"`
	Skipped       int  `json:"skipped"`
	Duplicates    int  `json:"duplicates"`
	Pages         int  `json:"pages"`
	StoppedOnSeen bool `json:"stopped_on_seen"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the bookkeeping row for one invocation of a task.
type Run struct {
	ID        string     `json:"id"`
	Task      string     `json:"task"`
	Trigger   string     `json:"trigger"`
	Status    RunStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Summary   Summary    `json:"summary"`
}
