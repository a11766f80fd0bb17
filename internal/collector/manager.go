package collector

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/havenclimb/coursecup/internal/config"
	"github.com/havenclimb/coursecup/internal/domain"
	"github.com/havenclimb/coursecup/internal/storage"
)

const (
	skippedLineCap   = 50
	endConfirmWindow = 5 * time.Minute
	expirySweepEvery = time.Minute
	mergeRetryEvery  = 5 * time.Second
)

// Manager owns the ingestion pipeline and the command surface. All state
// mutations - log event merges, admin commands, the time-based expiry
// sweep - and the snapshot reads used by the publisher run under one
// mutex, so standings never observe a half-applied merge.
type Manager struct {
	cfg    *config.Config
	store  *storage.Store
	events chan domain.Event
	tailer *Tailer

	mu         sync.Mutex
	counters   Counters
	skipped    []SkippedLine
	pendingEnd *endConfirmation

	done chan struct{}
	wg   sync.WaitGroup
}

// Counters are ingestion diagnostics
type Counters struct {
	LinesSeen     int64 `json:"lines_seen"`
	EventsParsed  int64 `json:"events_parsed"`
	EventsMerged  int64 `json:"events_merged"`
	EventsDropped int64 `json:"events_dropped"`
	ParseSkips    int64 `json:"parse_skips"`
}

// SkippedLine is one line that carried an SCLOG frame but was not merged
type SkippedLine struct {
	Text   string    `json:"text"`
	Reason string    `json:"reason"`
	ReadAt time.Time `json:"read_at"`
}

// Diagnostics is the operational snapshot served by the API
type Diagnostics struct {
	Cursor       *domain.IngestCursor  `json:"cursor,omitempty"`
	Season       *domain.SeasonSummary `json:"season,omitempty"`
	Counters     Counters              `json:"counters"`
	SkippedLines []SkippedLine         `json:"skipped_lines"`
}

// endConfirmation is a pending two-phase season end
type endConfirmation struct {
	token   string
	expires time.Time
}

// NewManager creates a new manager
func NewManager(cfg *config.Config, store *storage.Store) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		events: make(chan domain.Event, 100),
		done:   make(chan struct{}),
	}
}

// Events returns the event channel for WebSocket broadcasting
func (m *Manager) Events() <-chan domain.Event {
	return m.events
}

// Start seeds first-run settings and begins tailing the game log
func (m *Manager) Start(ctx context.Context) error {
	if err := m.store.SeedSetting(ctx, storage.SettingMinCourses,
		strconv.Itoa(m.cfg.Scoring.MinCoursesToQualify)); err != nil {
		return err
	}
	if err := m.store.SeedSetting(ctx, storage.SettingBestN,
		strconv.Itoa(m.cfg.Scoring.BestNCourses)); err != nil {
		return err
	}

	if m.cfg.Log.Path != "" {
		cursor, err := m.store.IngestCursor(ctx, m.cfg.Log.Path)
		if err != nil {
			return fmt.Errorf("loading cursor: %w", err)
		}
		if cursor != nil {
			log.Printf("Resuming log ingestion at offset %d (%s)", cursor.Offset, cursor.Identity)
		} else {
			log.Printf("First run: tailing %s from end of file", m.cfg.Log.Path)
		}

		m.tailer = NewTailer(m.cfg.Log.Path, cursor, m.cfg.Log.PollInterval.Std(), m.cfg.Log.RetryBackoff.Std())
		m.tailer.Start()

		m.wg.Add(1)
		go m.processLines(ctx)
	}

	m.wg.Add(1)
	go m.expiryLoop(ctx)

	return nil
}

// Stop stops tailing and waits for in-flight merges to finish
func (m *Manager) Stop() {
	log.Println("Manager: stopping...")
	close(m.done)
	if m.tailer != nil {
		m.tailer.Stop()
	}
	m.wg.Wait()
	log.Println("Manager: shutdown complete")
}

// processLines consumes tailed lines and merges their events
func (m *Manager) processLines(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case err := <-m.tailer.Errors:
			log.Printf("Log tail error: %v", err)
		case line := <-m.tailer.Lines:
			m.handleLine(ctx, line)
		}
	}
}

// handleLine parses one line and, if it carries an event, merges it and
// commits the cursor. The cursor is only persisted after a successful
// merge: a crash in between replays the line, and merges are idempotent.
func (m *Manager) handleLine(ctx context.Context, line Line) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters.LinesSeen++

	event, err := ParseLine(line.Text)
	if err != nil {
		m.counters.ParseSkips++
		m.recordSkip(line, err.Error())
		log.Printf("Dropping malformed event: %v", err)
		m.saveCursor(ctx, line.Cursor)
		return
	}
	if event == nil {
		if hasSCLOGFrame(line.Text) {
			m.counters.ParseSkips++
			m.recordSkip(line, "unrecognized payload")
		}
		m.saveCursor(ctx, line.Cursor)
		return
	}

	m.counters.EventsParsed++

	// The cursor must never pass an unmerged event. A transient store
	// failure blocks this line until the merge lands or shutdown; after
	// a restart the line replays from the last committed cursor.
	for {
		err := m.mergeEvent(ctx, event, line.ReadAt)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("Failed to merge %s event, retrying in %s: %v", event.Type, mergeRetryEvery, err)
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			m.mu.Lock()
			return
		case <-time.After(mergeRetryEvery):
		}
		m.mu.Lock()
	}
	m.saveCursor(ctx, line.Cursor)
}

func (m *Manager) saveCursor(ctx context.Context, cur domain.IngestCursor) {
	if err := m.store.SaveCursor(ctx, cur); err != nil {
		log.Printf("Failed to persist cursor: %v", err)
	}
}

func (m *Manager) recordSkip(line Line, reason string) {
	m.skipped = append(m.skipped, SkippedLine{Text: line.Text, Reason: reason, ReadAt: line.ReadAt})
	if len(m.skipped) > skippedLineCap {
		m.skipped = m.skipped[len(m.skipped)-skippedLineCap:]
	}
}

// mergeEvent applies one parsed event to the store. Events that cannot be
// attributed (no active season, unknown course) are dropped with a
// counter, never treated as fatal.
func (m *Manager) mergeEvent(ctx context.Context, event *ParsedEvent, readAt time.Time) error {
	season, err := m.store.ActiveSeason(ctx)
	if err != nil {
		if domain.IsNotFound(err) {
			m.counters.EventsDropped++
			log.Printf("No active season, dropping %s event", event.Type)
			return nil
		}
		return err
	}

	switch data := event.Data.(type) {
	case CourseAddedData:
		expires := data.ExpiresAt
		course, err := m.store.AddCourse(ctx, season.Number, data.FullName, &expires)
		if err != nil {
			return err
		}
		m.counters.EventsMerged++
		log.Printf("Course added: %s, expires %s", data.FullName, expires.Format(time.RFC3339))
		m.emitEvent(domain.Event{
			Type:      domain.EventCourseAdded,
			Timestamp: readAt,
			Data: domain.CourseAddedEvent{
				FullName:  course.FullName,
				Slug:      course.Slug,
				ExpiresAt: expires,
			},
		})
		return nil

	case CourseRemovedData:
		course, err := m.store.ExpireCourse(ctx, season.Number, data.FullName, "")
		if err != nil {
			if domain.IsNotFound(err) {
				m.counters.EventsDropped++
				log.Printf("Course removed for unknown course %q, dropping", data.FullName)
				return nil
			}
			return err
		}
		m.counters.EventsMerged++
		log.Printf("Course removed: %s", data.FullName)
		m.emitEvent(domain.Event{
			Type:      domain.EventCourseRemoved,
			Timestamp: readAt,
			Data:      domain.CourseRemovedEvent{FullName: course.FullName, Slug: course.Slug},
		})
		return nil

	case CourseExpiredData:
		course, err := m.store.ExpireCourse(ctx, season.Number, data.FullName, data.RawPayload)
		if err != nil {
			if domain.IsNotFound(err) {
				m.counters.EventsDropped++
				log.Printf("Expiry for unknown course %q, dropping", data.FullName)
				return nil
			}
			return err
		}

		// The expiry payload doubles as a finish backfill for runs the
		// tail may have missed. observed_at must be stable across
		// replays, so the course's own timestamps are used.
		observedAt := course.CreatedAt
		if course.ExpiresAt != nil {
			observedAt = *course.ExpiresAt
		}
		for _, st := range data.Standings {
			if st.Username == "" || st.DurationMs <= 0 {
				continue
			}
			if _, err := m.store.UpsertFinish(ctx, course.ID, st.Username, st.DurationMs, observedAt); err != nil {
				return err
			}
		}

		m.counters.EventsMerged++
		log.Printf("Course expired: %s with %d results", data.FullName, len(data.Standings))
		m.emitEvent(domain.Event{
			Type:      domain.EventCourseExpired,
			Timestamp: readAt,
			Data: domain.CourseExpiredEvent{
				FullName: course.FullName,
				Slug:     course.Slug,
				Results:  len(data.Standings),
			},
		})
		return nil

	case CourseFinishData:
		course, err := m.store.CourseByFullName(ctx, season.Number, data.FullName)
		if err != nil {
			if !domain.IsNotFound(err) {
				return err
			}
			if !m.cfg.Log.AutoCreateCourses {
				m.counters.EventsDropped++
				log.Printf("Finish for unknown course %q, dropping", data.FullName)
				return nil
			}
			course, err = m.store.AddCourse(ctx, season.Number, data.FullName, nil)
			if err != nil {
				return err
			}
		}
		if course.Expired() {
			m.counters.EventsDropped++
			log.Printf("Finish for expired course %q, dropping", data.FullName)
			return nil
		}

		inserted, err := m.store.UpsertFinish(ctx, course.ID, data.Player, data.TimeMillis, data.ObservedAt)
		if err != nil {
			return err
		}
		m.counters.EventsMerged++
		if inserted {
			m.emitEvent(domain.Event{
				Type:      domain.EventCourseFinish,
				Timestamp: readAt,
				Data: domain.CourseFinishEvent{
					FullName:   course.FullName,
					Slug:       course.Slug,
					Player:     data.Player,
					TimeMillis: data.TimeMillis,
				},
			})
		}
		return nil

	default:
		m.counters.EventsDropped++
		return nil
	}
}

// expiryLoop periodically expires courses whose deadline has passed
func (m *Manager) expiryLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(expirySweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			expired, err := m.store.ExpireOverdueCourses(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("Expiry sweep failed: %v", err)
			}
			for _, course := range expired {
				log.Printf("Course expired by clock: %s", course.FullName)
				m.emitEvent(domain.Event{
					Type:      domain.EventCourseExpired,
					Timestamp: time.Now().UTC(),
					Data:      domain.CourseExpiredEvent{FullName: course.FullName, Slug: course.Slug},
				})
			}
			m.mu.Unlock()
		}
	}
}

// emitEvent sends an event for broadcast without blocking ingestion
func (m *Manager) emitEvent(event domain.Event) {
	select {
	case m.events <- event:
	default:
		log.Printf("Event channel full, dropping %s event", event.Type)
	}
}

// --- Command surface ---

// StartSeason begins a new season. Fails with domain.ErrConflict while a
// season is active.
func (m *Manager) StartSeason(ctx context.Context, number int, title string) (*domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	season, err := m.store.StartSeason(ctx, number, title)
	if err != nil {
		return nil, err
	}
	log.Printf("Season %d started", number)
	m.emitEvent(domain.Event{
		Type:      domain.EventSeasonStart,
		Timestamp: time.Now().UTC(),
		Data:      domain.SeasonEvent{Number: number, Title: title},
	})
	return season, nil
}

// BeginEndSeason starts the two-phase season end and returns a
// confirmation token valid for a short window.
func (m *Manager) BeginEndSeason(ctx context.Context) (string, *domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	season, err := m.store.ActiveSeason(ctx)
	if err != nil {
		return "", nil, err
	}

	token := uuid.NewString()
	m.pendingEnd = &endConfirmation{token: token, expires: time.Now().Add(endConfirmWindow)}
	return token, season, nil
}

// ConfirmEndSeason completes the two-phase end with the token from
// BeginEndSeason
func (m *Manager) ConfirmEndSeason(ctx context.Context, token string) (*domain.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingEnd == nil || m.pendingEnd.token != token || time.Now().After(m.pendingEnd.expires) {
		return nil, fmt.Errorf("no matching end confirmation: %w", domain.ErrNotFound)
	}
	m.pendingEnd = nil

	season, err := m.store.EndSeason(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("Season %d ended", season.Number)
	m.emitEvent(domain.Event{
		Type:      domain.EventSeasonEnd,
		Timestamp: time.Now().UTC(),
		Data:      domain.SeasonEvent{Number: season.Number, Title: season.Title},
	})
	return season, nil
}

// AddCourse registers a course in the active season by admin action
func (m *Manager) AddCourse(ctx context.Context, fullName string, expiresAt *time.Time) (*domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	season, err := m.store.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}
	course, err := m.store.AddCourse(ctx, season.Number, fullName, expiresAt)
	if err != nil {
		return nil, err
	}
	m.emitEvent(domain.Event{
		Type:      domain.EventCourseAdded,
		Timestamp: time.Now().UTC(),
		Data:      domain.CourseAddedEvent{FullName: course.FullName, Slug: course.Slug},
	})
	return course, nil
}

// ExpireCourse force-expires a course in the active season by admin action
func (m *Manager) ExpireCourse(ctx context.Context, fullName string) (*domain.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	season, err := m.store.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}
	course, err := m.store.ExpireCourse(ctx, season.Number, fullName, "")
	if err != nil {
		return nil, err
	}
	m.emitEvent(domain.Event{
		Type:      domain.EventCourseExpired,
		Timestamp: time.Now().UTC(),
		Data:      domain.CourseExpiredEvent{FullName: course.FullName, Slug: course.Slug},
	})
	return course, nil
}

// SetScoringValue updates one scoring rule
func (m *Manager) SetScoringValue(ctx context.Context, key string, value int) error {
	if key != storage.SettingMinCourses && key != storage.SettingBestN {
		return fmt.Errorf("unknown scoring setting %q: %w", key, domain.ErrNotFound)
	}
	if value < 0 {
		return fmt.Errorf("scoring setting %q must be >= 0: %w", key, domain.ErrConflict)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.SetSetting(ctx, key, strconv.Itoa(value))
}

// SetViewToggle enables or disables a published view. Disabling drops the
// stored message handle so a later enable posts a fresh message.
func (m *Manager) SetViewToggle(ctx context.Context, kind string, on bool) error {
	valid := false
	for _, k := range domain.ViewKinds {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown view kind %q: %w", kind, domain.ErrNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetViewToggle(ctx, kind, on); err != nil {
		return err
	}
	if !on {
		return m.store.DeletePublishedMessage(ctx, kind)
	}
	return nil
}

// --- Read surface ---

// Snapshot is a consistent read of everything the publisher needs for one
// reconciliation tick
type Snapshot struct {
	Season   *domain.Season
	Courses  []domain.Course
	Finishes []domain.SeasonFinish
	Scoring  domain.ScoringConfig
	Toggles  map[string]bool
}

// Snapshot reads season, courses, finishes, and config under the merge
// mutex so the publisher never sees a half-applied event
func (m *Manager) Snapshot(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{Toggles: make(map[string]bool)}

	season, err := m.store.ActiveSeason(ctx)
	if err != nil {
		if !domain.IsNotFound(err) {
			return nil, err
		}
	} else {
		snap.Season = season
		if snap.Courses, err = m.store.CoursesBySeason(ctx, season.Number); err != nil {
			return nil, err
		}
		if snap.Finishes, err = m.store.SeasonFinishes(ctx, season.Number); err != nil {
			return nil, err
		}
	}

	if snap.Scoring, err = m.store.ScoringConfig(ctx); err != nil {
		return nil, err
	}
	for _, kind := range domain.ViewKinds {
		on, err := m.store.ViewToggle(ctx, kind)
		if err != nil {
			return nil, err
		}
		snap.Toggles[kind] = on
	}
	return snap, nil
}

// Diagnostics returns the operational snapshot for the API
func (m *Manager) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	diag := &Diagnostics{
		Counters:     m.counters,
		SkippedLines: append([]SkippedLine(nil), m.skipped...),
	}
	if m.cfg.Log.Path != "" {
		cursor, err := m.store.IngestCursor(ctx, m.cfg.Log.Path)
		if err != nil {
			return nil, err
		}
		diag.Cursor = cursor
	}
	season, err := m.store.ActiveSeason(ctx)
	if err != nil {
		if !domain.IsNotFound(err) {
			return nil, err
		}
	} else {
		summary, err := m.store.SeasonSummary(ctx, season.Number)
		if err != nil {
			return nil, err
		}
		diag.Season = summary
	}
	return diag, nil
}
