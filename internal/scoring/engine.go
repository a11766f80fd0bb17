// Package scoring ranks season standings from raw finish records.
// Everything here is a pure function of its inputs: calling Rank twice on
// the same data yields identical output, which the publisher relies on
// for its content-hash diffing.
package scoring

import (
	"sort"

	"github.com/havenclimb/coursecup/internal/domain"
)

// Rank computes the ordered season standings. Per player, the best
// (minimum) time per course is taken; players below the qualification
// minimum are excluded entirely; the scoring value is the sum of the
// player's best-N lowest course times (all courses when BestNCourses is
// zero). Lower totals rank first; ties break by qualifying course count
// descending, then player name ascending. Ranks are dense.
func Rank(finishes []domain.SeasonFinish, cfg domain.ScoringConfig) []domain.Standing {
	bests := bestPerCourse(finishes)

	var standings []domain.Standing
	for player, courses := range bests {
		qualifying := len(courses)
		if cfg.MinCoursesToQualify > 0 && qualifying < cfg.MinCoursesToQualify {
			continue
		}

		counted := countedCourses(courses, cfg.BestNCourses)
		var total int64
		for _, cb := range counted {
			total += cb.TimeMillis
		}

		standings = append(standings, domain.Standing{
			Player:          player,
			QualifyingCount: qualifying,
			TotalTimeMillis: total,
			CountedCourses:  counted,
		})
	}

	sort.Slice(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.TotalTimeMillis != b.TotalTimeMillis {
			return a.TotalTimeMillis < b.TotalTimeMillis
		}
		if a.QualifyingCount != b.QualifyingCount {
			return a.QualifyingCount > b.QualifyingCount
		}
		return a.Player < b.Player
	})

	// Dense ranks: equal (total, qualifying count) share a rank
	rank := 0
	for i := range standings {
		if i == 0 ||
			standings[i].TotalTimeMillis != standings[i-1].TotalTimeMillis ||
			standings[i].QualifyingCount != standings[i-1].QualifyingCount {
			rank++
		}
		standings[i].Rank = rank
	}

	return standings
}

// bestPerCourse reduces finishes to each player's best time per course.
// Equal times keep the earliest observation.
func bestPerCourse(finishes []domain.SeasonFinish) map[string]map[int64]domain.CourseBest {
	bests := make(map[string]map[int64]domain.CourseBest)
	for _, f := range finishes {
		courses, ok := bests[f.Player]
		if !ok {
			courses = make(map[int64]domain.CourseBest)
			bests[f.Player] = courses
		}
		cur, ok := courses[f.CourseID]
		if !ok || f.TimeMillis < cur.TimeMillis ||
			(f.TimeMillis == cur.TimeMillis && f.ObservedAt.Before(cur.ObservedAt)) {
			courses[f.CourseID] = domain.CourseBest{
				CourseID:   f.CourseID,
				Slug:       f.Slug,
				TimeMillis: f.TimeMillis,
				ObservedAt: f.ObservedAt,
			}
		}
	}
	return bests
}

// countedCourses selects the bestN lowest course times in a deterministic
// order. Ties among equal times break by earliest observation, then by
// course id for full determinism.
func countedCourses(courses map[int64]domain.CourseBest, bestN int) []domain.CourseBest {
	all := make([]domain.CourseBest, 0, len(courses))
	for _, cb := range courses {
		all = append(all, cb)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].TimeMillis != all[j].TimeMillis {
			return all[i].TimeMillis < all[j].TimeMillis
		}
		if !all[i].ObservedAt.Equal(all[j].ObservedAt) {
			return all[i].ObservedAt.Before(all[j].ObservedAt)
		}
		return all[i].CourseID < all[j].CourseID
	})
	if bestN > 0 && len(all) > bestN {
		all = all[:bestN]
	}
	return all
}

// BestPerCourse exposes a per-course leaderboard: each player's best time
// on one course, fastest first. Used by the grid view.
func BestPerCourse(finishes []domain.FinishRecord) []domain.FinishRecord {
	best := make(map[string]domain.FinishRecord)
	for _, f := range finishes {
		cur, ok := best[f.Player]
		if !ok || f.TimeMillis < cur.TimeMillis ||
			(f.TimeMillis == cur.TimeMillis && f.ObservedAt.Before(cur.ObservedAt)) {
			best[f.Player] = f
		}
	}

	out := make([]domain.FinishRecord, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeMillis != out[j].TimeMillis {
			return out[i].TimeMillis < out[j].TimeMillis
		}
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.Before(out[j].ObservedAt)
		}
		return out[i].Player < out[j].Player
	})
	return out
}
