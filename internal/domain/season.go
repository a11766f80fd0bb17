package domain

import "time"

// Season status values
const (
	SeasonActive = "active"
	SeasonEnded  = "ended"
)

// Season represents one time-boxed competition period. At most one season
// is active at any time.
type Season struct {
	ID        int64      `json:"id"`
	Number    int        `json:"number"`
	Title     string     `json:"title,omitempty"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the season is still running.
func (s *Season) Active() bool {
	return s.Status == SeasonActive
}

// SeasonSummary is the season plus its course counts, as served by the API.
type SeasonSummary struct {
	Season         Season `json:"season"`
	ActiveCourses  int    `json:"active_courses"`
	ExpiredCourses int    `json:"expired_courses"`
	Players        int    `json:"players"`
	Finishes       int    `json:"finishes"`
}
