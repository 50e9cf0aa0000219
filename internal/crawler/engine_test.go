package crawler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/pt-crawler/internal/publisher/memory"
	"github.com/JakeFAU/pt-crawler/internal/storage/memory"
)

// fakeTracker serves a NexusPHP-shaped site: torrents.php listings, detail
// pages and download.php torrent files.
type fakeTracker struct {
	pages      map[int][]int
	v2         map[int]bool
	noTorrent  map[int]bool
	badTorrent map[int]bool
	userLinks  map[int]bool
	listStatus int

	mu      sync.Mutex
	hits    map[string]int
	cookies []string
	agents  []string
}

func newFakeTracker(pages map[int][]int) *fakeTracker {
	return &fakeTracker{
		pages:      pages,
		v2:         map[int]bool{},
		noTorrent:  map[int]bool{},
		badTorrent: map[int]bool{},
		userLinks:  map[int]bool{},
		hits:       map[string]int{},
	}
}

func (f *fakeTracker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.RequestURI()]++
	f.cookies = append(f.cookies, r.Header.Get("Cookie"))
	f.agents = append(f.agents, r.Header.Get("User-Agent"))
	pages := f.pages
	userLinks := f.userLinks
	f.mu.Unlock()

	switch r.URL.Path {
	case "/torrents.php":
		if f.listStatus != 0 {
			w.WriteHeader(f.listStatus)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var b strings.Builder
		b.WriteString(`<html><body>`)
		if userLinks[page] {
			b.WriteString(`<div id="info_block"><a href="userdetails.php?id=1">me</a></div>`)
		}
		b.WriteString(`<table class="torrents">`)
		for _, id := range pages[page] {
			fmt.Fprintf(&b, `<tr><td><a href="details.php?id=%d&hit=1">t%d</a></td></tr>`, id, id)
		}
		b.WriteString(`<tr><td><a href="user.php?id=1">uploader</a></td></tr></table></body></html>`)
		_, _ = io.WriteString(w, b.String())
	case "/details.php":
		id, _ := strconv.Atoi(r.URL.Query().Get("id"))
		_, _ = io.WriteString(w, detailPage(id, !f.noTorrent[id]))
	case "/download.php":
		id, _ := strconv.Atoi(r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/x-bittorrent")
		switch {
		case f.badTorrent[id]:
			_, _ = io.WriteString(w, "<html>login required</html>")
		case f.v2[id]:
			_, _ = io.WriteString(w, torrentV2(id))
		default:
			_, _ = io.WriteString(w, torrentV1(id))
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTracker) setPages(pages map[int][]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = pages
}

func (f *fakeTracker) setUserLinks(pages ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pages {
		f.userLinks[p] = true
	}
}

func (f *fakeTracker) headersSeen() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cookies...), append([]string(nil), f.agents...)
}

func (f *fakeTracker) hitCount(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[uri]
}

func (f *fakeTracker) countPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for uri, c := range f.hits {
		if strings.HasPrefix(uri, prefix) {
			n += c
		}
	}
	return n
}

func detailPage(id int, withTorrent bool) string {
	download := ""
	if withTorrent {
		download = fmt.Sprintf(`<a href="download.php?id=%d">download</a>`, id)
	}
	return fmt.Sprintf(`<html><body>
<h1 id="top">Release.%d.1080p [免费] 剩余时间：2天</h1>
<table><tbody>
<tr><td class="rowhead">下载</td><td class="rowfollow">%s</td></tr>
<tr><td class="rowhead">副标题</td><td class="rowfollow">Subtitle %d</td></tr>
<tr><td class="rowhead">标签</td><td class="rowfollow"><span>中字</span></td></tr>
<tr><td class="rowhead">基本信息</td><td class="rowfollow"><b>大小：</b>1.5 GB <b>类型：</b>Movie <b>制作组：</b>GRP</td></tr>
</tbody></table>
<div id="kdescr">desc %d</div>
</body></html>`, id, download, id, id)
}

func torrentV1(id int) string {
	name := fmt.Sprintf("release-%d.mkv", id)
	return fmt.Sprintf("d8:announce3:url4:infod6:lengthi%de4:name%d:%s12:piece lengthi16384eee", 1000+id, len(name), name)
}

func torrentV2(id int) string {
	name := fmt.Sprintf("v2-%d.mkv", id)
	return fmt.Sprintf("d4:infod6:lengthi%de12:meta versioni2e4:name%d:%s12:piece lengthi16384eee", 1000+id, len(name), name)
}

// httpFetcher is a plain net/http Fetcher for exercising the engine.
type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	r.Header = req.Headers.Clone()
	resp, err := f.client.Do(r)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

type harness struct {
	tracker   *fakeTracker
	server    *httptest.Server
	records   *memory.RecordStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	cfg       crawler.CrawlConfig
}

func newHarness(t *testing.T, pages map[int][]int) *harness {
	t.Helper()
	tracker := newFakeTracker(pages)
	srv := httptest.NewServer(tracker)
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	return &harness{
		tracker:   tracker,
		server:    srv,
		records:   memory.NewRecordStore(),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		cfg: crawler.CrawlConfig{
			Site:       "fake",
			BaseURL:    srv.URL,
			ListPath:   "torrents.php",
			Cookie:     "uid=1; pass=secret",
			UserAgent:  "test-agent/1.0",
			OutputDir:  filepath.Join(dir, "out"),
			TorrentDir: filepath.Join(dir, "torrents"),
		},
	}
}

func (h *harness) engine() *crawler.Engine {
	return crawler.NewEngine(h.cfg, crawler.Dependencies{
		Fetcher:   httpFetcher{client: h.server.Client()},
		Records:   h.records,
		Blobs:     h.blobs,
		Publisher: h.publisher,
		Topic:     "ingest",
		Logger:    zap.NewNop(),
	})
}

func idRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func readAudit(t *testing.T, dir string) []crawler.IngestRecord {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "metadata.jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var out []crawler.IngestRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec crawler.IngestRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestEngineIngestsListing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2, 3}})

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, crawler.Summary{Created: 3, Skipped: 1, Pages: 2}, summary)

	records := h.records.Records()
	require.Len(t, records, 3)
	first := records[0]
	assert.Equal(t, "Release.1.1080p", first.Title)
	assert.Equal(t, "Subtitle 1", first.Introduction)
	assert.Equal(t, "中字", first.Tags)
	assert.Equal(t, "Movie", first.Category)
	assert.Equal(t, "GRP", first.ProductionTeam)
	assert.Equal(t, "desc 1", first.Description)
	assert.Equal(t, int64(1610612736), first.Size, "page size overrides descriptor size")
	assert.Equal(t, "release-1.mkv", first.Name)
	assert.Equal(t, "v1", first.MetaVersion)
	assert.Len(t, first.InfoHash, 40)
	assert.True(t, first.IsSingleFile)
	assert.False(t, first.IsUpload)
	assert.Equal(t, h.server.URL, first.CrawlSite)
	assert.Equal(t, h.server.URL+"/download.php?id=1", first.CrawlLink)
	assert.Equal(t, "memory://"+first.InfoHash+".torrent", first.SavedPath)

	stored, ok := h.blobs.Object(first.InfoHash + ".torrent")
	require.True(t, ok)
	assert.Equal(t, torrentV1(1), string(stored))

	audit := readAudit(t, h.cfg.OutputDir)
	require.Len(t, audit, 3)
	assert.Equal(t, first.InfoHash, audit[0].InfoHash)

	snapshot, err := os.ReadFile(filepath.Join(h.cfg.OutputDir, "first_torrent_detail_page.html"))
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), "Release.1.1080p")

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "ingest", msgs[0].Topic)
	event, ok := msgs[0].Payload.(crawler.IngestEvent)
	require.True(t, ok)
	assert.Equal(t, first.InfoHash, event.InfoHash)

	cookies, agents := h.tracker.headersSeen()
	require.NotEmpty(t, cookies)
	for _, c := range cookies {
		assert.Equal(t, "uid=1; pass=secret", c)
	}
	for _, ua := range agents {
		assert.Equal(t, "test-agent/1.0", ua)
	}
	assert.Equal(t, 1, h.tracker.hitCount("/torrents.php?page=2"))
}

func TestEngineSecondPassCreatesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2, 3}})

	_, err := h.engine().Run(context.Background())
	require.NoError(t, err)

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Skipped: 1, Duplicates: 3, Pages: 2}, summary)
	assert.Len(t, h.records.Records(), 3)
	assert.Len(t, h.publisher.Messages(), 3, "duplicates publish nothing")
	assert.Len(t, readAudit(t, h.cfg.OutputDir), 6)
}

func TestEngineListingErrorEndsRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2}})
	h.tracker.listStatus = http.StatusInternalServerError

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Skipped: 1}, summary)
	assert.Equal(t, 0, h.tracker.countPrefix("/details.php"))
	assert.Empty(t, h.records.Records())
}

func TestEngineStopsAfterSeenStreak(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: idRange(1, 12), 2: idRange(13, 17)})

	first, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.Summary{Created: 17, Skipped: 1, Pages: 3}, first)

	second, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Duplicates: 9, Pages: 1, StoppedOnSeen: true}, second)
	assert.Equal(t, 1, h.tracker.hitCount("/torrents.php?page=2"), "second run never reaches page 2")
	assert.Equal(t, 1, h.tracker.hitCount("/download.php?id=10"), "tenth seen link is not downloaded again")
	assert.Equal(t, 1, h.tracker.hitCount("/details.php?id=11&hit=1"))
}

func TestEngineUnseenLinkResetsStreak(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: append(idRange(1, 9), idRange(11, 19)...)})
	_, err := h.engine().Run(context.Background())
	require.NoError(t, err)

	// Nine known links, one new one, then nine known again never reaches ten.
	h.tracker.setPages(map[int][]int{1: append(append(idRange(1, 9), 100), idRange(11, 19)...)})
	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 1, Skipped: 1, Duplicates: 18, Pages: 2}, summary)
}

func TestEngineTestModeLimitsLinks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2, 3}, 2: {4, 5, 6}})
	h.cfg.TestMode = true
	h.cfg.TestLimit = 2

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 4, Skipped: 1, Pages: 3}, summary)
	assert.Equal(t, 0, h.tracker.hitCount("/details.php?id=3&hit=1"))
}

func TestEngineSkipsPerItemFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2, 3, 4}})
	h.tracker.noTorrent[1] = true
	h.tracker.badTorrent[2] = true
	h.tracker.v2[3] = true

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 1, Skipped: 4, Pages: 2}, summary, "three bad items plus the empty second listing")
	assert.Equal(t, 1, h.blobs.Len())
}

func TestEngineAllowsV2WhenConfigured(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {7}})
	h.tracker.v2[7] = true
	h.cfg.AllowV2 = true

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 1, Skipped: 1, Pages: 2}, summary)
	records := h.records.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "v2", records[0].MetaVersion)
	assert.Len(t, records[0].InfoHash, 64)
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1}})
	h.cfg.ListPath = " "

	_, err := h.engine().Run(context.Background())
	var cfgErr *crawler.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "list_path", cfgErr.Field)
	assert.Equal(t, 0, h.tracker.countPrefix("/"))
}

func TestEngineRunsWithoutCookie(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1}})
	h.cfg.Cookie = ""

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 1, Skipped: 1, Pages: 2}, summary)

	cookies, _ := h.tracker.headersSeen()
	require.NotEmpty(t, cookies)
	for _, c := range cookies {
		assert.Empty(t, c, "no Cookie header without a configured cookie")
	}
}

func TestEngineKeepsPagingPastUserLinks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1}})
	// Pages 1 and 2 carry the account header link, which matches the detail
	// marker; page 2 has nothing else. Only page 3, with no match at all,
	// ends the run.
	h.tracker.setUserLinks(1, 2)

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 1, Skipped: 3, Pages: 3}, summary)
	assert.Equal(t, 2, h.tracker.hitCount("/userdetails.php?id=1"))
	assert.Equal(t, 1, h.tracker.hitCount("/torrents.php?page=3"))
	assert.Equal(t, 0, h.tracker.hitCount("/torrents.php?page=4"))
}

func TestEngineHonoursCancellationDuringDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2, 3}})
	h.cfg.Delay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	summary, err := h.engine().Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, crawler.Summary{Created: 1, Pages: 1}, summary)
}

type failingRecords struct {
	*memory.RecordStore
}

func (failingRecords) Insert(context.Context, crawler.IngestRecord) error {
	return errors.New("connection reset")
}

func TestEngineAbortsOnStoreFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2}})
	eng := crawler.NewEngine(h.cfg, crawler.Dependencies{
		Fetcher: httpFetcher{client: h.server.Client()},
		Records: failingRecords{memory.NewRecordStore()},
		Blobs:   h.blobs,
	})

	summary, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, crawler.Summary{Pages: 1}, summary)
	assert.Equal(t, 0, h.tracker.hitCount("/details.php?id=2&hit=1"))
}

type racingRecords struct {
	*memory.RecordStore
}

func (racingRecords) Insert(context.Context, crawler.IngestRecord) error {
	return fmt.Errorf("insert: %w", crawler.ErrDuplicate)
}

func TestEngineTreatsUniqueViolationAsDuplicate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1}})
	eng := crawler.NewEngine(h.cfg, crawler.Dependencies{
		Fetcher: httpFetcher{client: h.server.Client()},
		Records: racingRecords{memory.NewRecordStore()},
		Blobs:   h.blobs,
	})

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Skipped: 1, Duplicates: 1, Pages: 2}, summary)
}

func TestEngineIgnoresPublishFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1, 2}})
	h.publisher.FailWith(errors.New("pubsub unavailable"))

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 2, Skipped: 1, Pages: 2}, summary)
	assert.Empty(t, h.publisher.Messages())
}

func TestEngineSnapshotsFirstDetailResponseOnError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, map[int][]int{1: {1}})
	h.tracker.setUserLinks(1)

	summary, err := h.engine().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Summary{Created: 1, Skipped: 2, Pages: 2}, summary)

	snapshot, err := os.ReadFile(filepath.Join(h.cfg.OutputDir, "first_torrent_detail_page.html"))
	require.NoError(t, err)
	assert.Equal(t, "404 page not found\n", string(snapshot))
	assert.NotContains(t, string(snapshot), "Release.1.1080p")

	audit := readAudit(t, h.cfg.OutputDir)
	require.Len(t, audit, 1)
	raw, err := os.ReadFile(filepath.Join(h.cfg.OutputDir, "metadata.jsonl"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "imdb_url")
}
