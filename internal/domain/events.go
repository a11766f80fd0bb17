package domain

import "time"

// Event types for WebSocket notifications
const (
	EventCourseAdded   = "course_added"
	EventCourseRemoved = "course_removed"
	EventCourseExpired = "course_expired"
	EventCourseFinish  = "course_finish"
	EventSeasonStart   = "season_start"
	EventSeasonEnd     = "season_end"
)

// Event represents a real-time event for WebSocket broadcast
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// CourseAddedEvent is sent when the server announces a new secret course
type CourseAddedEvent struct {
	FullName  string    `json:"full_name"`
	Slug      string    `json:"slug"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CourseRemovedEvent is sent when a course is withdrawn by the server
type CourseRemovedEvent struct {
	FullName string `json:"full_name"`
	Slug     string `json:"slug"`
}

// CourseExpiredEvent is sent when a course reaches its expiry
type CourseExpiredEvent struct {
	FullName string `json:"full_name"`
	Slug     string `json:"slug"`
	Results  int    `json:"results"`
}

// CourseFinishEvent is sent when a player completes a course
type CourseFinishEvent struct {
	FullName   string `json:"full_name"`
	Slug       string `json:"slug"`
	Player     string `json:"player"`
	TimeMillis int64  `json:"time_ms"`
}

// SeasonEvent is sent on season start and end
type SeasonEvent struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
}
