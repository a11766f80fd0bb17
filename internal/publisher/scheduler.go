package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/havenclimb/coursecup/internal/collector"
	"github.com/havenclimb/coursecup/internal/config"
	"github.com/havenclimb/coursecup/internal/domain"
	"github.com/havenclimb/coursecup/internal/render"
	"github.com/havenclimb/coursecup/internal/scoring"
	"github.com/havenclimb/coursecup/internal/storage"
)

// Scheduler drives the periodic view sync. Each tick it snapshots the
// season, renders the enabled views, and pushes only the ones whose
// content hash changed since the last publish.
type Scheduler struct {
	cfg     config.PublishConfig
	store   *storage.Store
	manager *collector.Manager
	msgr    Messenger

	done chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(cfg config.PublishConfig, store *storage.Store, manager *collector.Manager, msgr Messenger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		manager: manager,
		msgr:    msgr,
		done:    make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.syncLoop()
	log.Printf("Publisher started (interval %s, channel %s)", s.cfg.Interval.Std(), s.cfg.ChannelID)
}

func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	log.Printf("Publisher stopped")
}

func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval.Std())
	defer ticker.Stop()

	// First sync immediately rather than waiting a full interval
	if err := s.SyncOnce(context.Background()); err != nil {
		log.Printf("View sync failed: %v", err)
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.SyncOnce(context.Background()); err != nil {
				log.Printf("View sync failed: %v", err)
			}
		}
	}
}

// SyncOnce performs a single sync pass. Per-view failures are logged and
// do not block the remaining views; the first error is returned.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	snap, err := s.manager.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if snap.Season == nil {
		// Nothing to publish between seasons. Existing messages stay
		// up showing the last season's final state.
		return nil
	}

	var firstErr error
	for _, kind := range domain.ViewKinds {
		if !snap.Toggles[kind] {
			continue
		}
		content := RenderView(kind, snap, s.cfg.CoursesPerRow)
		if err := s.publishView(ctx, kind, content); err != nil {
			log.Printf("Publish %s view: %v", kind, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RenderView renders one view kind from a season snapshot. Shared with
// the API's view preview endpoint.
func RenderView(kind string, snap *collector.Snapshot, perRow int) string {
	switch kind {
	case domain.ViewStandings:
		return render.Standings(*snap.Season, scoring.Rank(snap.Finishes, snap.Scoring))
	case domain.ViewGrid:
		return render.Grid(*snap.Season, buildGridCourses(snap), perRow)
	default:
		return render.Summary(*snap.Season, scoring.Rank(snap.Finishes, snap.Scoring))
	}
}

// publishView creates or edits the message backing one view. A vanished
// message drops its stored handle so the next pass recreates it.
func (s *Scheduler) publishView(ctx context.Context, kind, content string) error {
	hash := render.ContentHash(content)

	pm, err := s.store.PublishedMessage(ctx, kind)
	if err != nil && !domain.IsNotFound(err) {
		return err
	}

	if pm == nil || pm.Handle == "" {
		handle, err := s.msgr.CreateMessage(ctx, s.cfg.ChannelID, content)
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return s.store.SavePublishedMessage(ctx, &domain.PublishedMessage{
			Kind:        kind,
			ChannelID:   s.cfg.ChannelID,
			Handle:      handle,
			ContentHash: hash,
		})
	}

	if pm.ContentHash == hash {
		return nil
	}

	if err := s.msgr.EditMessage(ctx, pm.Handle, content); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			log.Printf("Published %s message vanished, will recreate", kind)
			return s.store.ClearPublishedHandle(ctx, kind)
		}
		return fmt.Errorf("edit message: %w", err)
	}

	pm.ContentHash = hash
	return s.store.SavePublishedMessage(ctx, pm)
}

// buildGridCourses assembles per-course leaderboards from the snapshot.
// Courses arrive already ordered: active by soonest expiry, expired last.
func buildGridCourses(snap *collector.Snapshot) []render.GridCourse {
	byCourse := make(map[int64][]domain.SeasonFinish)
	for _, f := range snap.Finishes {
		byCourse[f.CourseID] = append(byCourse[f.CourseID], f)
	}

	out := make([]render.GridCourse, 0, len(snap.Courses))
	for _, c := range snap.Courses {
		gc := render.GridCourse{Course: c}
		for _, e := range bestEntries(byCourse[c.ID]) {
			gc.Entries = append(gc.Entries, e)
		}
		out = append(out, gc)
	}
	return out
}

func bestEntries(finishes []domain.SeasonFinish) []render.GridEntry {
	best := make(map[string]domain.SeasonFinish)
	for _, f := range finishes {
		cur, ok := best[f.Player]
		if !ok || f.TimeMillis < cur.TimeMillis ||
			(f.TimeMillis == cur.TimeMillis && f.ObservedAt.Before(cur.ObservedAt)) {
			best[f.Player] = f
		}
	}

	ordered := make([]domain.SeasonFinish, 0, len(best))
	for _, f := range best {
		ordered = append(ordered, f)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].TimeMillis != ordered[j].TimeMillis {
			return ordered[i].TimeMillis < ordered[j].TimeMillis
		}
		if !ordered[i].ObservedAt.Equal(ordered[j].ObservedAt) {
			return ordered[i].ObservedAt.Before(ordered[j].ObservedAt)
		}
		return ordered[i].Player < ordered[j].Player
	})

	entries := make([]render.GridEntry, len(ordered))
	for i, f := range ordered {
		entries[i] = render.GridEntry{Position: i + 1, Player: f.Player, TimeMillis: f.TimeMillis}
	}
	return entries
}
