package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/havenclimb/coursecup/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the Go sqlite driver parses it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Setting keys
const (
	SettingMinCourses = "scoring.min_courses_to_qualify"
	SettingBestN      = "scoring.best_n_courses"
	settingTogglePfx  = "publish.toggle."
)

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Season methods ---

// StartSeason creates a new active season. Returns domain.ErrConflict if a
// season is already active or the number is taken.
func (s *Store) StartSeason(ctx context.Context, number int, title string) (*domain.Season, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM seasons WHERE status = ?", domain.SeasonActive).Scan(&active); err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, fmt.Errorf("a season is already active: %w", domain.ErrConflict)
	}

	// Season numbers only move forward
	var highest int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(number), 0) FROM seasons").Scan(&highest); err != nil {
		return nil, err
	}
	if number <= highest {
		return nil, fmt.Errorf("season number %d not above %d: %w", number, highest, domain.ErrConflict)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO seasons (number, title, status, started_at)
		VALUES (?, ?, ?, ?)
	`, number, title, domain.SeasonActive, formatTimestamp(now))
	if err != nil {
		return nil, fmt.Errorf("creating season: %w", err)
	}
	id, _ := result.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return &domain.Season{
		ID:        id,
		Number:    number,
		Title:     title,
		Status:    domain.SeasonActive,
		StartedAt: now,
	}, nil
}

// ActiveSeason returns the currently active season. domain.ErrNotFound when
// none is active; domain.ErrInvariant when more than one is.
func (s *Store) ActiveSeason(ctx context.Context) (*domain.Season, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, title, status, started_at, ended_at
		FROM seasons WHERE status = ?
	`, domain.SeasonActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seasons []domain.Season
	for rows.Next() {
		season, err := scanSeason(rows)
		if err != nil {
			return nil, err
		}
		seasons = append(seasons, *season)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(seasons) {
	case 0:
		return nil, fmt.Errorf("no active season: %w", domain.ErrNotFound)
	case 1:
		return &seasons[0], nil
	default:
		return nil, fmt.Errorf("%d active seasons: %w", len(seasons), domain.ErrInvariant)
	}
}

// SeasonByNumber returns a season by its number
func (s *Store) SeasonByNumber(ctx context.Context, number int) (*domain.Season, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, title, status, started_at, ended_at
		FROM seasons WHERE number = ?
	`, number)
	season, err := scanSeason(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("season %d: %w", number, domain.ErrNotFound)
	}
	return season, err
}

// EndSeason ends the active season (terminal). Returns domain.ErrNotFound
// if none is active.
func (s *Store) EndSeason(ctx context.Context) (*domain.Season, error) {
	season, err := s.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE seasons SET status = ?, ended_at = ? WHERE id = ?
	`, domain.SeasonEnded, formatTimestamp(now), season.ID); err != nil {
		return nil, fmt.Errorf("ending season: %w", err)
	}

	season.Status = domain.SeasonEnded
	season.EndedAt = &now
	return season, nil
}

// SeasonSummary returns a season with its course and participation counts
func (s *Store) SeasonSummary(ctx context.Context, number int) (*domain.SeasonSummary, error) {
	season, err := s.SeasonByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	sum := &domain.SeasonSummary{Season: *season}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'active' THEN 1 END),
			COUNT(CASE WHEN status = 'expired' THEN 1 END)
		FROM courses WHERE season_number = ?
	`, number).Scan(&sum.ActiveCourses, &sum.ExpiredCourses)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT f.player)
		FROM finishes f
		JOIN courses c ON c.id = f.course_id
		WHERE c.season_number = ?
	`, number).Scan(&sum.Finishes, &sum.Players)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// --- Course methods ---

// AddCourse creates a course in the given season, or refreshes its expiry
// if it already exists and has not expired. Upsert by (season, full name)
// keeps re-ingestion after rotation idempotent.
func (s *Store) AddCourse(ctx context.Context, seasonNumber int, fullName string, expiresAt *time.Time) (*domain.Course, error) {
	now := time.Now().UTC()
	var expires interface{}
	if expiresAt != nil {
		expires = formatTimestamp(*expiresAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (season_number, full_name, slug, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(season_number, full_name) DO UPDATE SET
			expires_at = CASE WHEN courses.status = 'active' THEN excluded.expires_at ELSE courses.expires_at END
	`, seasonNumber, fullName, domain.CourseSlug(fullName), domain.CourseActive, formatTimestamp(now), expires)
	if err != nil {
		return nil, fmt.Errorf("adding course: %w", err)
	}

	return s.CourseByFullName(ctx, seasonNumber, fullName)
}

// CourseByFullName returns a course by season and full name
func (s *Store) CourseByFullName(ctx context.Context, seasonNumber int, fullName string) (*domain.Course, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, season_number, full_name, slug, status, created_at, expires_at, final_standings
		FROM courses WHERE season_number = ? AND full_name = ?
	`, seasonNumber, fullName)
	course, err := scanCourse(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("course %q: %w", fullName, domain.ErrNotFound)
	}
	return course, err
}

// CoursesBySeason returns all courses for a season, active first by
// soonest expiry, expired last
func (s *Store) CoursesBySeason(ctx context.Context, seasonNumber int) ([]domain.Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, season_number, full_name, slug, status, created_at, expires_at, final_standings
		FROM courses WHERE season_number = ?
		ORDER BY status = 'expired', expires_at, id
	`, seasonNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []domain.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, *course)
	}
	return courses, rows.Err()
}

// ExpireCourse marks a course expired (terminal) and stores the final
// standings payload. Expiring an already-expired course is a no-op so the
// merge stays idempotent under replay.
func (s *Store) ExpireCourse(ctx context.Context, seasonNumber int, fullName, finalStandings string) (*domain.Course, error) {
	course, err := s.CourseByFullName(ctx, seasonNumber, fullName)
	if err != nil {
		return nil, err
	}
	if course.Expired() {
		return course, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE courses SET status = ?, final_standings = ? WHERE id = ?
	`, domain.CourseExpired, nullIfEmpty(finalStandings), course.ID); err != nil {
		return nil, fmt.Errorf("expiring course: %w", err)
	}

	course.Status = domain.CourseExpired
	course.FinalStandings = finalStandings
	return course, nil
}

// ExpireOverdueCourses marks active courses whose expiry has passed.
// Returns the courses transitioned by this sweep.
func (s *Store) ExpireOverdueCourses(ctx context.Context, now time.Time) ([]domain.Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, season_number, full_name, slug, status, created_at, expires_at, final_standings
		FROM courses
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= ?
	`, formatTimestamp(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []domain.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		overdue = append(overdue, *course)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range overdue {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE courses SET status = ? WHERE id = ?", domain.CourseExpired, overdue[i].ID); err != nil {
			return nil, fmt.Errorf("expiring course %d: %w", overdue[i].ID, err)
		}
		overdue[i].Status = domain.CourseExpired
	}
	return overdue, nil
}

// --- Finish methods ---

// UpsertFinish merges one finish record. The natural key
// (course, player, time, observed_at) makes re-submission of the same
// tuple a no-op, which combined with the at-least-once tail gives
// effectively-exactly-once observable state. Returns whether a new row
// was inserted.
func (s *Store) UpsertFinish(ctx context.Context, courseID int64, player string, timeMillis int64, observedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO finishes (course_id, player, time_ms, observed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(course_id, player, time_ms, observed_at) DO NOTHING
	`, courseID, player, timeMillis, formatTimestamp(observedAt))
	if err != nil {
		return false, fmt.Errorf("merging finish: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// SeasonFinishes returns every finish record in a season joined with its
// course slug, ordered deterministically for the scoring engine
func (s *Store) SeasonFinishes(ctx context.Context, seasonNumber int) ([]domain.SeasonFinish, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.course_id, c.slug, f.player, f.time_ms, f.observed_at
		FROM finishes f
		JOIN courses c ON c.id = f.course_id
		WHERE c.season_number = ?
		ORDER BY f.course_id, f.player, f.time_ms, f.observed_at
	`, seasonNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var finishes []domain.SeasonFinish
	for rows.Next() {
		var f domain.SeasonFinish
		if err := rows.Scan(&f.CourseID, &f.Slug, &f.Player, &f.TimeMillis, &f.ObservedAt); err != nil {
			return nil, err
		}
		finishes = append(finishes, f)
	}
	return finishes, rows.Err()
}

// CourseFinishes returns all finishes for one course ordered by best time
func (s *Store) CourseFinishes(ctx context.Context, courseID int64) ([]domain.FinishRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, player, time_ms, observed_at
		FROM finishes WHERE course_id = ?
		ORDER BY time_ms, observed_at, player
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var finishes []domain.FinishRecord
	for rows.Next() {
		var f domain.FinishRecord
		if err := rows.Scan(&f.ID, &f.CourseID, &f.Player, &f.TimeMillis, &f.ObservedAt); err != nil {
			return nil, err
		}
		finishes = append(finishes, f)
	}
	return finishes, rows.Err()
}

// --- Settings ---

// Setting returns a raw setting value, or "" when unset
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting stores a setting value
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// SeedSetting stores a setting only if unset (first-run defaults)
func (s *Store) SeedSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, value)
	return err
}

// ScoringConfig returns the current scoring rules
func (s *Store) ScoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	var cfg domain.ScoringConfig
	minStr, err := s.Setting(ctx, SettingMinCourses)
	if err != nil {
		return cfg, err
	}
	bestStr, err := s.Setting(ctx, SettingBestN)
	if err != nil {
		return cfg, err
	}
	if minStr != "" {
		cfg.MinCoursesToQualify, _ = strconv.Atoi(minStr)
	}
	if bestStr != "" {
		cfg.BestNCourses, _ = strconv.Atoi(bestStr)
	}
	return cfg, nil
}

// ViewToggle reports whether a view kind is enabled. Unset means enabled.
func (s *Store) ViewToggle(ctx context.Context, kind string) (bool, error) {
	value, err := s.Setting(ctx, settingTogglePfx+kind)
	if err != nil {
		return false, err
	}
	return value != "off", nil
}

// SetViewToggle enables or disables a view kind
func (s *Store) SetViewToggle(ctx context.Context, kind string, on bool) error {
	value := "on"
	if !on {
		value = "off"
	}
	return s.SetSetting(ctx, settingTogglePfx+kind, value)
}

// --- Published messages ---

// PublishedMessage returns the tracked message for a view kind
func (s *Store) PublishedMessage(ctx context.Context, kind string) (*domain.PublishedMessage, error) {
	var pm domain.PublishedMessage
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, channel_id, handle, content_hash, updated_at
		FROM published_messages WHERE kind = ?
	`, kind).Scan(&pm.Kind, &pm.ChannelID, &pm.Handle, &pm.ContentHash, &pm.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("published message %q: %w", kind, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

// SavePublishedMessage upserts the tracked message for a view kind
func (s *Store) SavePublishedMessage(ctx context.Context, pm *domain.PublishedMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_messages (kind, channel_id, handle, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			channel_id = excluded.channel_id,
			handle = excluded.handle,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`, pm.Kind, pm.ChannelID, pm.Handle, pm.ContentHash, formatTimestamp(time.Now()))
	return err
}

// ClearPublishedHandle forgets a dangling message handle so the next tick
// recreates the message
func (s *Store) ClearPublishedHandle(ctx context.Context, kind string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE published_messages SET handle = '', content_hash = '' WHERE kind = ?
	`, kind)
	return err
}

// DeletePublishedMessage drops tracking for a view kind (toggle off)
func (s *Store) DeletePublishedMessage(ctx context.Context, kind string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM published_messages WHERE kind = ?", kind)
	return err
}

// --- Ingest cursor ---

// IngestCursor returns the stored cursor for a log file, or nil when the
// file has never been read (first run)
func (s *Store) IngestCursor(ctx context.Context, filePath string) (*domain.IngestCursor, error) {
	var cur domain.IngestCursor
	err := s.db.QueryRowContext(ctx, `
		SELECT file_path, offset, identity, updated_at
		FROM ingest_cursor WHERE file_path = ?
	`, filePath).Scan(&cur.FilePath, &cur.Offset, &cur.Identity, &cur.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

// SaveCursor persists the reader position. For an unchanged file identity
// the offset only moves forward; an identity change (rotation) may reset it.
func (s *Store) SaveCursor(ctx context.Context, cur domain.IngestCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_cursor (file_path, offset, identity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			offset = excluded.offset,
			identity = excluded.identity,
			updated_at = excluded.updated_at
		WHERE excluded.identity != ingest_cursor.identity
		   OR excluded.offset >= ingest_cursor.offset
	`, cur.FilePath, cur.Offset, cur.Identity, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// --- User methods ---

// User represents an API account
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"is_admin"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// CreateUser adds a new user account
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*User, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin, created_at)
		VALUES (?, ?, ?, ?)
	`, username, passwordHash, isAdmin, formatTimestamp(now))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	id, _ := result.LastInsertId()
	return &User{ID: id, Username: username, PasswordHash: passwordHash, IsAdmin: isAdmin, CreatedAt: now}, nil
}

// UserByUsername returns a user by name
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at, last_login
		FROM users WHERE username = ?
	`, username)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", username, domain.ErrNotFound)
	}
	return user, err
}

// ListUsers returns all users
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at, last_login
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// DeleteUser removes a user account
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %q: %w", username, domain.ErrNotFound)
	}
	return nil
}

// SetUserPassword replaces a user's password hash
func (s *Store) SetUserPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE username = ?", passwordHash, username)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %q: %w", username, domain.ErrNotFound)
	}
	return nil
}

// TouchLastLogin records a successful login
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login = ? WHERE id = ?", formatTimestamp(time.Now()), userID)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
