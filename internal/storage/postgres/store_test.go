package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func strPtr(s string) *string { return &s }

func TestInsertRecordReturnsID(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRecordStore(mock)
	record := crawler.Record{
		Source:     "sg-caselaw",
		Locator:    "/gd/s/2024_SGCA_1",
		Country:    "Singapore",
		NaturalKey: "[2024] SGCA 1",
		Title:      "Tan v Lim",
		Body:       "The appeal is dismissed.",
		Fields:     map[string]any{"court_name": "Court of Appeal"},
	}

	mock.ExpectQuery("INSERT INTO case_law").
		WithArgs(
			record.Source,
			record.Locator,
			strPtr("Singapore"),
			strPtr("[2024] SGCA 1"),
			record.Title,
			record.Body,
			pgxmock.AnyArg(),
			(*string)(nil),
			(*string)(nil),
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("rec-1"))

	id, err := store.InsertRecord(context.Background(), "case_law", record)
	require.NoError(t, err)
	require.Equal(t, "rec-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordUniqueViolation(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRecordStore(mock)
	mock.ExpectQuery("INSERT INTO case_law").
		WithArgs(
			"s",
			"/doc",
			pgxmock.AnyArg(),
			strPtr("k"),
			pgxmock.AnyArg(),
			"x",
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	_, err := store.InsertRecord(context.Background(), "case_law", crawler.Record{Source: "s", Locator: "/doc", Body: "x", NaturalKey: "k"})
	require.ErrorIs(t, err, crawler.ErrDuplicateRecord)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordRejectsBadTable(t *testing.T) {
	t.Parallel()

	store := NewRecordStore(newMock(t))
	_, err := store.InsertRecord(context.Background(), "case_law; DROP TABLE x", crawler.Record{})
	require.ErrorIs(t, err, crawler.ErrFatalConfiguration)
	_, err = store.NaturalKeyExists(context.Background(), "bad-name", "s", "k")
	require.ErrorIs(t, err, crawler.ErrFatalConfiguration)
}

func TestNaturalKeyExists(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRecordStore(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("sg-caselaw", "[2024] SGCA 1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.NaturalKeyExists(context.Background(), "case_law", "sg-caselaw", "[2024] SGCA 1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLedger(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewLedgerStore(mock, "")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	msg := "last status 404"
	entry := crawler.LedgerEntry{
		Source:       "sg-caselaw",
		Locator:      "/gd/s/2024_SGCA_2",
		Status:       crawler.LedgerError,
		ErrorMessage: &msg,
		ProcessedAt:  at,
	}
	mock.ExpectExec("INSERT INTO caselaw_scraping_urls").
		WithArgs(entry.Locator, entry.Source, (*string)(nil), false, "error", (*string)(nil), &msg, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertLedger(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLedger(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewLedgerStore(mock, "caselaw_scraping_urls")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT url, source").
		WithArgs("/done").
		WillReturnRows(pgxmock.NewRows([]string{
			"url", "source", "country", "processed", "status", "case_id", "error_message", "attempts", "processing_date",
		}).AddRow("/done", "sg-caselaw", strPtr("Singapore"), true, "success", strPtr("rec-1"), (*string)(nil), 2, at))

	entry, err := store.GetLedger(context.Background(), "/done")
	require.NoError(t, err)
	require.True(t, entry.Processed)
	require.Equal(t, crawler.LedgerSuccess, entry.Status)
	require.Equal(t, "Singapore", entry.Country)
	require.Equal(t, "rec-1", *entry.RecordRef)
	require.Equal(t, 2, entry.Attempts)
	require.Equal(t, at, entry.ProcessedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLedgerNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewLedgerStore(mock, "")
	require.NoError(t, err)
	mock.ExpectQuery("SELECT url, source").
		WithArgs("/new").
		WillReturnRows(pgxmock.NewRows([]string{"url"}))

	_, err = store.GetLedger(context.Background(), "/new")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestNewLedgerStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	_, err := NewLedgerStore(newMock(t), "urls;--")
	require.Error(t, err)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRunStore(mock)
	ctx := context.Background()
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)

	mock.ExpectQuery("INSERT INTO cron_job_runs").
		WithArgs("sg-caselaw-crawl", start, "started").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("run-1"))
	mock.ExpectExec("UPDATE cron_job_runs").
		WithArgs(end, "completed", 4, 2, (*string)(nil), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := store.StartRun(ctx, "sg-caselaw-crawl", start)
	require.NoError(t, err)
	require.Equal(t, "run-1", id)
	require.NoError(t, store.CompleteRun(ctx, id, end, crawler.RunSummary{NewRecordsFound: 4, PagesProcessed: 2}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailRunUnknownID(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRunStore(mock)
	end := time.Unix(1700000000, 0).UTC()
	msg := "listing down"
	mock.ExpectExec("UPDATE cron_job_runs").
		WithArgs(end, "failed", 0, 0, &msg, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.FailRun(context.Background(), "missing", end, crawler.RunSummary{}, msg)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func runRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "job_name", "start_time", "end_time", "status", "new_cases_found", "pages_processed", "error_message",
	})
}

func TestGetAndListRuns(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRunStore(mock)
	ctx := context.Background()
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)

	mock.ExpectQuery("FROM cron_job_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRows().AddRow("run-1", "job", start, &end, "completed", 3, 1, (*string)(nil)))
	mock.ExpectQuery("ORDER BY start_time DESC").
		WithArgs("job", 10, 0).
		WillReturnRows(runRows().
			AddRow("run-2", "job", end, (*time.Time)(nil), "started", 0, 0, (*string)(nil)).
			AddRow("run-1", "job", start, &end, "completed", 3, 1, (*string)(nil)))
	mock.ExpectQuery("ORDER BY start_time DESC").
		WithArgs("", nil, 0).
		WillReturnRows(runRows())

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunCompleted, run.Status)
	require.Equal(t, 3, run.NewRecordsFound)
	require.Equal(t, end, *run.FinishedAt)

	runs, err := store.ListRuns(ctx, "job", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Nil(t, runs[0].FinishedAt)

	all, err := store.ListRuns(ctx, "", 0, -5)
	require.NoError(t, err)
	require.Empty(t, all)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store := NewRunStore(mock)
	mock.ExpectQuery("FROM cron_job_runs WHERE id").
		WithArgs("nope").
		WillReturnRows(runRows())

	_, err := store.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS caselaw_scraping_urls").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS case_law").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock, "case_law"))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, Migrate(context.Background(), newMockWithSchema(t), "bad table"))
}

func newMockWithSchema(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS caselaw_scraping_urls").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	return mock
}
