package domain

import "time"

// ScoringConfig controls qualification and best-N rules for a season.
// Zero values disable the respective rule.
type ScoringConfig struct {
	MinCoursesToQualify int `json:"min_courses_to_qualify" yaml:"min_courses_to_qualify"`
	BestNCourses        int `json:"best_n_courses" yaml:"best_n_courses"`
}

// SeasonFinish is one finish record joined with its course, the raw input
// to the scoring engine.
type SeasonFinish struct {
	CourseID   int64     `json:"course_id"`
	Slug       string    `json:"slug"`
	Player     string    `json:"player"`
	TimeMillis int64     `json:"time_ms"`
	ObservedAt time.Time `json:"observed_at"`
}

// CourseBest is a player's best time on one course.
type CourseBest struct {
	CourseID   int64     `json:"course_id"`
	Slug       string    `json:"slug"`
	TimeMillis int64     `json:"time_ms"`
	ObservedAt time.Time `json:"observed_at"`
}

// Standing is one row of the ranked season output.
type Standing struct {
	Rank            int          `json:"rank"`
	Player          string       `json:"player"`
	QualifyingCount int          `json:"qualifying_courses"`
	TotalTimeMillis int64        `json:"total_time_ms"`
	CountedCourses  []CourseBest `json:"counted_courses,omitempty"`
}

// View kinds published to the messaging surface
const (
	ViewSummary   = "summary"
	ViewStandings = "standings"
	ViewGrid      = "grid"
)

// ViewKinds lists all publishable views in a fixed order.
var ViewKinds = []string{ViewSummary, ViewStandings, ViewGrid}

// PublishedMessage tracks one live message on the messaging surface.
type PublishedMessage struct {
	Kind        string    `json:"kind"`
	ChannelID   string    `json:"channel_id"`
	Handle      string    `json:"handle"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IngestCursor is the durable position of the log reader.
type IngestCursor struct {
	FilePath  string    `json:"file_path"`
	Offset    int64     `json:"offset"`
	Identity  string    `json:"identity"`
	UpdatedAt time.Time `json:"updated_at"`
}
