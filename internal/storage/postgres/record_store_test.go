package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
	"github.com/JakeFAU/pt-crawler/internal/torrent"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *RecordStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewRecordStore(mock, "torrents")
	require.NoError(t, err)
	return mock, store
}

func sampleRecord() crawler.IngestRecord {
	return crawler.IngestRecord{
		InfoHash:     "0123456789abcdef0123456789abcdef01234567",
		MetaVersion:  "v1",
		Name:         "release.mkv",
		Title:        "Release",
		Category:     "Movie",
		Size:         1610612736,
		IsSingleFile: true,
		IsUpload:     true,
		Files:        []torrent.File{{Path: "release.mkv", Length: 1024}},
		CrawlSite:    "https://pt.example",
		CrawlLink:    "https://pt.example/download.php?id=1",
		SavedPath:    "/data/torrents/0123.torrent",
		CrawledAt:    time.Unix(1700000000, 0).UTC(),
		Tags:         "中字",
	}
}

func TestInsertWritesRow(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectExec("INSERT INTO torrents").
		WithArgs(
			rec.InfoHash,
			rec.Name,
			rec.Title,
			rec.Introduction,
			rec.Description,
			rec.Category,
			rec.Medium,
			rec.VideoCodec,
			rec.AudioCodec,
			rec.Standard,
			rec.ProductionTeam,
			rec.Size,
			true,
			false,
			`[{"path":"release.mkv","length":1024}]`,
			rec.CrawlSite,
			rec.CrawlLink,
			rec.SavedPath,
			rec.MetaVersion,
			rec.CrawledAt,
			rec.Tags,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectExec("INSERT INTO torrents").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := store.Insert(context.Background(), sampleRecord())
	assert.True(t, errors.Is(err, crawler.ErrDuplicate))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPropagatesOtherErrors(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectExec("INSERT INTO torrents").WillReturnError(errors.New("conn closed"))

	err := store.Insert(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.False(t, errors.Is(err, crawler.ErrDuplicate))
}

func TestExistsLookups(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM torrents WHERE info_hash = \$1\)`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM torrents WHERE crawl_link = \$1\)`).
		WithArgs("https://pt.example/download.php?id=9").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	found, err := store.InfoHashExists(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.CrawlLinkExists(context.Background(), "https://pt.example/download.php?id=9")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS torrents").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreValidatesTable(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordStore(mock, "torrents; DROP TABLE x")
	assert.Error(t, err)
	_, err = NewRecordStore(nil, "")
	assert.Error(t, err)
}

func TestRecordStoreCloseReleasesPool(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewRecordStore(mock, "")
	require.NoError(t, err)

	mock.ExpectClose()
	store.Close()
	require.NoError(t, mock.ExpectationsWereMet())

	var nilStore *RecordStore
	assert.NotPanics(t, nilStore.Close)
}
