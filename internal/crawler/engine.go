package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/JakeFAU/pt-crawler/internal/classify"
	"github.com/JakeFAU/pt-crawler/internal/extract"
	"github.com/JakeFAU/pt-crawler/internal/metrics"
	"github.com/JakeFAU/pt-crawler/internal/torrent"
)

// Item outcomes reported to metrics.
const (
	outcomeCreated   = "created"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
)

// Dependencies are the collaborators an Engine drives. Fetcher, Records and
// Blobs are required; the rest have defaults.
type Dependencies struct {
	Fetcher   Fetcher
	Records   RecordStore
	Blobs     BlobStore
	Audit     AuditLog
	Publisher Publisher
	Topic     string
	Policy    TerminationPolicy
	Clock     Clock
	Logger    *zap.Logger
}

// Engine runs one crawl of one site. It is not safe for concurrent use; build
// a new Engine per run.
type Engine struct {
	cfg  CrawlConfig
	deps Dependencies
	log  *zap.Logger

	summary     Summary
	snapshotted bool
}

// NewEngine wires an Engine for cfg.
func NewEngine(cfg CrawlConfig, deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:  cfg,
		deps: deps,
		log:  logger.Named("crawler").With(zap.String("site", cfg.siteLabel())),
	}
}

// Run crawls listing pages from the start page until the site runs out of
// detail links, a listing fetch fails, or the termination policy fires.
// Per-item failures are counted as skips. An error is returned only for an
// invalid configuration, a record-store failure or cancellation; the
// summary accumulated so far is returned with it.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if err := e.prepare(); err != nil {
		return Summary{}, err
	}
	e.log.Info("crawl started",
		zap.String("base_url", e.cfg.BaseURL),
		zap.String("list_path", e.cfg.ListPath),
		zap.Int("start_page", e.cfg.startPage()),
		zap.Bool("test_mode", e.cfg.TestMode),
	)

	for page := e.cfg.startPage(); ; page++ {
		stop, err := e.crawlPage(ctx, page)
		if err != nil {
			return e.summary, err
		}
		if stop {
			break
		}
	}

	e.log.Info("crawl finished",
		zap.Int("created", e.summary.Created),
		zap.Int("skipped", e.summary.Skipped),
		zap.Int("duplicates", e.summary.Duplicates),
		zap.Int("pages", e.summary.Pages),
		zap.Bool("stopped_on_seen", e.summary.StoppedOnSeen),
	)
	return e.summary, nil
}

func (e *Engine) prepare() error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	switch {
	case e.deps.Fetcher == nil:
		return errors.New("crawler: fetcher is required")
	case e.deps.Records == nil:
		return errors.New("crawler: record store is required")
	case e.deps.Blobs == nil:
		return errors.New("crawler: blob store is required")
	}
	if e.deps.Audit == nil {
		sink, err := NewFileSystemSink(e.cfg.OutputDir)
		if err != nil {
			return fmt.Errorf("crawler: audit log: %w", err)
		}
		e.deps.Audit = sink
	}
	if e.deps.Policy == nil {
		e.deps.Policy = NewStreakPolicy(e.deps.Records, DefaultSeenThreshold)
	}
	if e.deps.Clock == nil {
		e.deps.Clock = utcClock{}
	}
	return nil
}

// crawlPage processes one listing page and reports whether the run is over.
func (e *Engine) crawlPage(ctx context.Context, page int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, fmt.Errorf("crawl canceled: %w", err)
	}
	listURL := listingURL(e.cfg.BaseURL, e.cfg.ListPath, page)
	log := e.log.With(zap.Int("page", page), zap.String("url", listURL))

	body, err := e.get(ctx, listURL)
	if err != nil {
		if ctx.Err() != nil {
			return true, fmt.Errorf("crawl canceled: %w", ctx.Err())
		}
		log.Warn("listing fetch failed, ending run", zap.Error(err))
		e.summary.Skipped++
		return true, nil
	}
	e.summary.Pages++

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Warn("listing parse failed, ending run", zap.Error(err))
		e.summary.Skipped++
		return true, nil
	}
	links := classify.FindDetailLinks(doc, e.cfg.BaseURL)
	if len(links) == 0 {
		log.Info("no detail links on listing, ending run")
		e.summary.Skipped++
		return true, nil
	}
	links = links[:e.cfg.linkLimit(len(links))]
	log.Debug("listing parsed", zap.Int("detail_links", len(links)))

	for i, link := range links {
		stop, ingested, err := e.processItem(ctx, page, link)
		if err != nil {
			return true, err
		}
		if stop {
			e.summary.StoppedOnSeen = true
			log.Info("consecutive torrent links already crawled, ending run", zap.String("detail_url", link))
			return true, nil
		}
		if ingested && i < len(links)-1 {
			if err := e.pause(ctx); err != nil {
				return true, err
			}
		}
	}
	return false, nil
}

// processItem handles one detail link. It reports whether the termination
// policy fired and whether the item reached the record store.
func (e *Engine) processItem(ctx context.Context, page int, detailURL string) (stop bool, ingested bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, false, fmt.Errorf("crawl canceled: %w", err)
	}
	log := e.log.With(zap.Int("page", page), zap.String("detail_url", detailURL))

	skip := func(reason string, fields ...zap.Field) (bool, bool, error) {
		if ctx.Err() != nil {
			return false, false, fmt.Errorf("crawl canceled: %w", ctx.Err())
		}
		e.summary.Skipped++
		metrics.ObserveItem(e.cfg.siteLabel(), outcomeSkipped)
		log.Warn(reason, fields...)
		return false, false, nil
	}

	resp, err := e.fetch(ctx, detailURL)
	if err != nil {
		return skip("detail fetch failed", zap.Error(err))
	}
	e.snapshot(ctx, resp.Body, log)
	detailBody, err := okBody(detailURL, resp)
	if err != nil {
		return skip("detail fetch failed", zap.Error(err))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(detailBody))
	if err != nil {
		return skip("detail parse failed", zap.Error(err))
	}
	torrentURL, ok := classify.FindTorrentLink(doc, e.cfg.BaseURL)
	if !ok {
		return skip("no torrent link on detail page")
	}
	log = log.With(zap.String("torrent_url", torrentURL))

	stop, err = e.deps.Policy.Observe(ctx, torrentURL)
	if err != nil {
		return false, false, fmt.Errorf("termination policy: %w", err)
	}
	if stop {
		return true, false, nil
	}

	raw, err := e.get(ctx, torrentURL)
	if err != nil {
		return skip("torrent fetch failed", zap.Error(err))
	}
	desc, err := torrent.Decode(raw)
	if err != nil {
		return skip("torrent decode failed", zap.Error(err))
	}
	if desc.MetaVersion == torrent.MetaV2 && !e.cfg.AllowV2 {
		return skip("v2 torrent not allowed", zap.String("info_hash", desc.InfoHash))
	}

	savedPath, err := e.deps.Blobs.PutObject(ctx, desc.InfoHash+".torrent", "application/x-bittorrent", raw)
	if err != nil {
		return skip("torrent write failed", zap.String("info_hash", desc.InfoHash), zap.Error(err))
	}

	log.Debug("detail parsed", zap.Int("descr_html_bytes", len(extract.DescrHTML(doc))))
	record := e.buildRecord(doc, desc, torrentURL, savedPath)
	outcome, err := e.store(ctx, record)
	if err != nil {
		return false, false, err
	}
	metrics.ObserveItem(e.cfg.siteLabel(), outcome)

	if err := e.deps.Audit.AppendRecord(ctx, record); err != nil {
		log.Error("audit log append failed", zap.String("info_hash", record.InfoHash), zap.Error(err))
	}
	log.Info("torrent ingested",
		zap.String("outcome", outcome),
		zap.String("info_hash", record.InfoHash),
		zap.String("name", record.Name),
		zap.String("size", humanize.IBytes(uint64(max(record.Size, 0)))),
	)
	return false, true, nil
}

// store inserts record unless its info-hash is already known.
func (e *Engine) store(ctx context.Context, record IngestRecord) (string, error) {
	exists, err := e.deps.Records.InfoHashExists(ctx, record.InfoHash)
	if err != nil {
		return "", fmt.Errorf("check info hash %s: %w", record.InfoHash, err)
	}
	if exists {
		e.summary.Duplicates++
		return outcomeDuplicate, nil
	}
	if err := e.deps.Records.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicate) {
			e.summary.Duplicates++
			return outcomeDuplicate, nil
		}
		return "", fmt.Errorf("insert %s: %w", record.InfoHash, err)
	}
	e.summary.Created++
	e.publish(ctx, record)
	return outcomeCreated, nil
}

func (e *Engine) publish(ctx context.Context, record IngestRecord) {
	if e.deps.Publisher == nil {
		return
	}
	event := IngestEvent{
		InfoHash:  record.InfoHash,
		Title:     record.Title,
		SavedPath: record.SavedPath,
		CrawlSite: record.CrawlSite,
	}
	if _, err := e.deps.Publisher.Publish(ctx, e.deps.Topic, event); err != nil {
		e.log.Warn("ingest event publish failed", zap.String("info_hash", record.InfoHash), zap.Error(err))
	}
}

func (e *Engine) buildRecord(doc *goquery.Document, desc torrent.Descriptor, torrentURL, savedPath string) IngestRecord {
	fields := extract.Fields(doc)
	record := IngestRecord{
		InfoHash:       desc.InfoHash,
		MetaVersion:    string(desc.MetaVersion),
		Name:           desc.Name,
		Category:       deref(fields.Category),
		Medium:         deref(fields.Medium),
		VideoCodec:     deref(fields.VideoCodec),
		AudioCodec:     deref(fields.AudioCodec),
		Standard:       deref(fields.Standard),
		ProductionTeam: deref(fields.ProductionTeam),
		Size:           desc.TotalSize,
		IsSingleFile:   desc.SingleFile(),
		Files:          desc.Files,
		CrawlSite:      e.cfg.BaseURL,
		CrawlLink:      torrentURL,
		SavedPath:      savedPath,
		CrawledAt:      e.deps.Clock.Now(),
	}
	if fields.SizeBytes != nil && *fields.SizeBytes > 0 {
		record.Size = *fields.SizeBytes
	}
	record.Title, _ = extract.Title(doc)
	record.Introduction, _ = extract.Subtitle(doc)
	record.Description, _ = extract.Description(doc)
	record.Tags, _ = extract.Tags(doc)
	return record
}

// snapshot keeps the first detail response of the output directory's
// lifetime for selector debugging, error pages included.
func (e *Engine) snapshot(ctx context.Context, body []byte, log *zap.Logger) {
	if e.snapshotted {
		return
	}
	e.snapshotted = true
	written, err := e.deps.Audit.SaveSnapshot(ctx, snapshotName, body)
	if err != nil {
		log.Warn("detail snapshot failed", zap.Error(err))
		return
	}
	if written {
		log.Info("saved detail page snapshot", zap.String("file", snapshotName))
	}
}

// get fetches url and returns the body of a 200 response. Anything else is
// a *FetchError.
func (e *Engine) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := e.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return okBody(url, resp)
}

// fetch returns the response whatever its status; only transport failures
// are errors.
func (e *Engine) fetch(ctx context.Context, url string) (FetchResponse, error) {
	resp, err := e.deps.Fetcher.Fetch(ctx, FetchRequest{URL: url, Headers: e.headers()})
	if err != nil {
		metrics.ObservePage(e.cfg.siteLabel(), "error", 0)
		return FetchResponse{}, &FetchError{URL: url, Err: err}
	}
	metrics.ObservePage(e.cfg.siteLabel(), strconv.Itoa(resp.StatusCode), len(resp.Body))
	return resp, nil
}

func okBody(url string, resp FetchResponse) ([]byte, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func (e *Engine) headers() http.Header {
	h := http.Header{}
	ua := e.cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	h.Set("User-Agent", ua)
	if e.cfg.Cookie != "" {
		h.Set("Cookie", e.cfg.Cookie)
	}
	return h
}

func (e *Engine) pause(ctx context.Context) error {
	if e.cfg.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(e.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("crawl canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// listingURL appends the page parameter to the resolved listing path.
func listingURL(baseURL, listPath string, page int) string {
	u := classify.AbsoluteURL(baseURL, listPath)
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "page=" + strconv.Itoa(page)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
