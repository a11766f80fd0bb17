package domain

import (
	"strings"
	"time"
)

// Course status values
const (
	CourseActive  = "active"
	CourseExpired = "expired"
)

// Course represents a single timed challenge within a season. The full name
// is the server's identifier ("racearena_pro (dash1)"); the slug is the
// part in parentheses used for display.
type Course struct {
	ID             int64      `json:"id"`
	SeasonNumber   int        `json:"season_number"`
	FullName       string     `json:"full_name"`
	Slug           string     `json:"slug"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	FinalStandings string     `json:"-"` // raw expiry payload, kept for audit
}

// Expired reports whether the course has reached its terminal state.
func (c *Course) Expired() bool {
	return c.Status == CourseExpired
}

// CourseSlug extracts the display slug from a full course name. The server
// logs courses as "mapname (slug)"; without parentheses the full name is
// the slug.
func CourseSlug(fullName string) string {
	open := strings.Index(fullName, "(")
	if open == -1 {
		return fullName
	}
	close := strings.Index(fullName[open:], ")")
	if close == -1 {
		return fullName
	}
	return fullName[open+1 : open+close]
}

// FinishRecord is one player's completion of one course. Append-only; a
// player may finish a course many times and only the best time counts
// toward scoring.
type FinishRecord struct {
	ID         int64     `json:"id"`
	CourseID   int64     `json:"course_id"`
	Player     string    `json:"player"`
	TimeMillis int64     `json:"time_ms"`
	ObservedAt time.Time `json:"observed_at"`
}
