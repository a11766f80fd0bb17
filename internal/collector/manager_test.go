package collector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/havenclimb/coursecup/internal/config"
	"github.com/havenclimb/coursecup/internal/domain"
	"github.com/havenclimb/coursecup/internal/storage"
)

const testLogPath = "/var/log/game/server.log"

func newTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{}
	cfg.Log.Path = testLogPath
	cfg.Log.AutoCreateCourses = true

	return NewManager(cfg, store), store
}

func sclogLine(payload string, offset int64) Line {
	return Line{
		Text: fmt.Sprintf("12:34 console: --SCLOG-START-- %s --SCLOG-END--", payload),
		Cursor: domain.IngestCursor{
			FilePath: testLogPath,
			Offset:   offset,
			Identity: "1:42",
		},
		ReadAt: time.Now().UTC(),
	}
}

func TestHandleLineMergesCourseAdded(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartSeason(ctx, 1, "")
	require.NoError(t, err)

	expiry := time.Now().Add(48 * time.Hour).Unix()
	m.handleLine(ctx, sclogLine(fmt.Sprintf("COURSE_ADDED: racearena_pro (dash1) | %d", expiry), 100))

	course, err := store.CourseByFullName(ctx, 1, "racearena_pro (dash1)")
	require.NoError(t, err)
	require.Equal(t, "dash1", course.Slug)
	require.Equal(t, domain.CourseActive, course.Status)
	require.NotNil(t, course.ExpiresAt)

	// Cursor committed after the merge
	cursor, err := store.IngestCursor(ctx, testLogPath)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	require.Equal(t, int64(100), cursor.Offset)

	require.Equal(t, int64(1), m.counters.EventsMerged)
}

func TestHandleLineFinishIsIdempotent(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartSeason(ctx, 1, "")
	require.NoError(t, err)

	line := sclogLine("COURSE_FINISH: racearena_pro (dash1) | speedy | 61500 | 1758066000", 50)
	m.handleLine(ctx, line)
	// Crash-replay: the same line arrives again
	m.handleLine(ctx, line)

	course, err := store.CourseByFullName(ctx, 1, "racearena_pro (dash1)")
	require.NoError(t, err) // auto-created
	finishes, err := store.CourseFinishes(ctx, course.ID)
	require.NoError(t, err)
	require.Len(t, finishes, 1)
	require.Equal(t, "speedy", finishes[0].Player)
}

func TestHandleLineNoActiveSeasonDrops(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	m.handleLine(ctx, sclogLine("COURSE_FINISH: x (x) | speedy | 61500 | 1758066000", 30))

	require.Equal(t, int64(1), m.counters.EventsDropped)
	require.Equal(t, int64(0), m.counters.EventsMerged)

	// Dropped events still advance the cursor
	cursor, err := store.IngestCursor(ctx, testLogPath)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	require.Equal(t, int64(30), cursor.Offset)
}

func TestHandleLineMalformedCountsSkip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.handleLine(ctx, sclogLine(`{"event":"secret_course_expired","standings":[]}`, 10))

	require.Equal(t, int64(1), m.counters.ParseSkips)
	require.Len(t, m.skipped, 1)
	require.Equal(t, int64(1), m.counters.LinesSeen)
}

func TestHandleLinePlainLinesNotRecorded(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.handleLine(ctx, Line{
		Text:   "12:34 ClientConnect: 4",
		Cursor: domain.IngestCursor{FilePath: testLogPath, Offset: 5, Identity: "1:42"},
		ReadAt: time.Now().UTC(),
	})

	require.Equal(t, int64(0), m.counters.ParseSkips)
	require.Empty(t, m.skipped)
	require.Equal(t, int64(1), m.counters.LinesSeen)
}

func TestFinishForExpiredCourseDropped(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartSeason(ctx, 1, "")
	require.NoError(t, err)
	course, err := store.AddCourse(ctx, 1, "summit run (summit)", nil)
	require.NoError(t, err)
	_, err = store.ExpireCourse(ctx, 1, "summit run (summit)", "")
	require.NoError(t, err)

	m.handleLine(ctx, sclogLine("COURSE_FINISH: summit run (summit) | speedy | 61500 | 1758066000", 70))

	finishes, err := store.CourseFinishes(ctx, course.ID)
	require.NoError(t, err)
	require.Empty(t, finishes)
	require.Equal(t, int64(1), m.counters.EventsDropped)
}

func TestExpiryPayloadBackfillsFinishes(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartSeason(ctx, 1, "")
	require.NoError(t, err)
	expiry := time.Now().UTC().Add(time.Hour)
	course, err := store.AddCourse(ctx, 1, "racearena_pro (dash1)", &expiry)
	require.NoError(t, err)

	payload := `{"event":"secret_course_expired","coursename":"racearena_pro (dash1)","standings":[` +
		`{"rank":1,"username":"speedy","duration_ms":61500,"time_str":"1:01.500"},` +
		`{"rank":2,"username":"slowpoke","duration_ms":75000,"time_str":"1:15.000"}]}`

	line := sclogLine(payload, 200)
	m.handleLine(ctx, line)
	// Replay must not duplicate the backfilled finishes
	m.handleLine(ctx, line)

	got, err := store.CourseByFullName(ctx, 1, "racearena_pro (dash1)")
	require.NoError(t, err)
	require.Equal(t, domain.CourseExpired, got.Status)

	finishes, err := store.CourseFinishes(ctx, course.ID)
	require.NoError(t, err)
	require.Len(t, finishes, 2)
}

func TestSeasonEndRequiresMatchingToken(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, err := store.StartSeason(ctx, 1, "")
	require.NoError(t, err)

	_, err = m.ConfirmEndSeason(ctx, "never-issued")
	require.True(t, domain.IsNotFound(err))

	token, season, err := m.BeginEndSeason(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, season.Number)

	ended, err := m.ConfirmEndSeason(ctx, token)
	require.NoError(t, err)
	require.Equal(t, domain.SeasonEnded, ended.Status)

	// Token is single use
	_, err = m.ConfirmEndSeason(ctx, token)
	require.True(t, domain.IsNotFound(err))
}

func TestSnapshotReflectsState(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, snap.Season)
	require.True(t, snap.Toggles[domain.ViewSummary])

	_, err = store.StartSeason(ctx, 2, "Second")
	require.NoError(t, err)
	course, err := store.AddCourse(ctx, 2, "canyon dash (canyon)", nil)
	require.NoError(t, err)
	_, err = store.UpsertFinish(ctx, course.ID, "alice", 9000, time.Now().UTC())
	require.NoError(t, err)

	snap, err = m.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Season)
	require.Equal(t, 2, snap.Season.Number)
	require.Len(t, snap.Courses, 1)
	require.Len(t, snap.Finishes, 1)
}

func TestMergeFailureNeverAdvancesCursor(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	_, err := store.StartSeason(ctx, 1, "First")
	require.NoError(t, err)

	// A cancelled context makes every store call fail, standing in for
	// a transient database error.
	failing, cancel := context.WithCancel(ctx)
	cancel()

	first := sclogLine("COURSE_FINISH: racearena_pro (dash1) | alice | 61500 | 1758066000", 50)
	m.handleLine(failing, first)

	cur, err := store.IngestCursor(ctx, testLogPath)
	require.NoError(t, err)
	require.Nil(t, cur)
	require.Equal(t, int64(0), m.counters.EventsMerged)

	// The line replays once the store recovers; only then may the
	// cursor move, and never past an unmerged event.
	m.handleLine(ctx, first)
	cur, err = store.IngestCursor(ctx, testLogPath)
	require.NoError(t, err)
	require.Equal(t, int64(50), cur.Offset)

	m.handleLine(ctx, sclogLine("COURSE_FINISH: racearena_pro (dash1) | bob | 59000 | 1758066100", 100))
	cur, err = store.IngestCursor(ctx, testLogPath)
	require.NoError(t, err)
	require.Equal(t, int64(100), cur.Offset)
	require.Equal(t, int64(2), m.counters.EventsMerged)

	finishes, err := store.SeasonFinishes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, finishes, 2)
}

func TestDiagnosticsIncludesSeasonCounts(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	diag, err := m.Diagnostics(ctx)
	require.NoError(t, err)
	require.Nil(t, diag.Season)

	_, err = store.StartSeason(ctx, 1, "First")
	require.NoError(t, err)

	m.handleLine(ctx, sclogLine("COURSE_FINISH: canyon dash (canyon) | alice | 61500 | 1773100800", 40))

	diag, err = m.Diagnostics(ctx)
	require.NoError(t, err)
	require.NotNil(t, diag.Season)
	require.Equal(t, 1, diag.Season.Season.Number)
	require.Equal(t, 1, diag.Season.Players)
	require.Equal(t, 1, diag.Season.Finishes)
	require.NotNil(t, diag.Cursor)
	require.Equal(t, int64(40), diag.Cursor.Offset)
	require.Equal(t, int64(1), m.counters.EventsMerged)
}
