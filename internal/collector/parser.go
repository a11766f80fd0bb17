package collector

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParsedEvent represents a recognized event from the log
type ParsedEvent struct {
	Type string
	Data interface{}
}

// Event types
const (
	EventTypeCourseAdded   = "course_added"
	EventTypeCourseRemoved = "course_removed"
	EventTypeCourseExpired = "course_expired"
	EventTypeCourseFinish  = "course_finish"
)

// Event data structures
type CourseAddedData struct {
	FullName  string
	ExpiresAt time.Time
}

type CourseRemovedData struct {
	FullName string
}

// CourseExpiredData carries the server's final standings for an expired
// course. RawPayload is the verbatim JSON, retained for audit.
type CourseExpiredData struct {
	FullName   string
	Standings  []ExpiryStanding
	RawPayload string
}

type ExpiryStanding struct {
	Rank       int    `json:"rank"`
	Username   string `json:"username"`
	DurationMs int64  `json:"duration_ms"`
	TimeStr    string `json:"time_str"`
}

type CourseFinishData struct {
	FullName   string
	Player     string
	TimeMillis int64
	ObservedAt time.Time
}

// expiryPayload matches the JSON emitted by the game on course expiry
type expiryPayload struct {
	Event      string           `json:"event"`
	CourseName string           `json:"coursename"`
	Standings  []ExpiryStanding `json:"standings"`
}

// Regular expressions for parsing log lines
var (
	// SCLOG events are framed inside an ordinary log line:
	//   ... --SCLOG-START-- COURSE_ADDED: racearena_pro (dash1) | 1758066824 --SCLOG-END-- ...
	sclogRegex = regexp.MustCompile(`--SCLOG-START--(.+?)--SCLOG-END--`)

	// Terminal color codes leak into the log on some servers
	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[mK]`)

	// Payload patterns (after SCLOG framing is stripped)
	courseAddedRegex   = regexp.MustCompile(`^COURSE_ADDED:\s*(.+?)\s*\|\s*(\d+)\s*$`)
	courseRemovedRegex = regexp.MustCompile(`^COURSE_REMOVED:\s*(.+?)\s*$`)
	courseFinishRegex  = regexp.MustCompile(`^COURSE_FINISH:\s*(.+?)\s*\|\s*(.+?)\s*\|\s*(\S+)\s*\|\s*(\d+)\s*$`)
)

// hasSCLOGFrame reports whether a line carries an SCLOG frame marker
func hasSCLOGFrame(line string) bool {
	return strings.Contains(line, "--SCLOG-START--")
}

// ParseLine parses a single log line into an event. Lines that carry no
// SCLOG frame, and frames of unknown shape, return (nil, nil): the caller
// skips them and the pipeline continues. A non-nil error means the frame
// was recognized but its payload is malformed; the caller should count it.
func ParseLine(line string) (*ParsedEvent, error) {
	if !strings.Contains(line, "--SCLOG-START--") {
		return nil, nil
	}

	clean := ansiRegex.ReplaceAllString(line, "")
	match := sclogRegex.FindStringSubmatch(clean)
	if match == nil {
		// Frame marker present but unterminated (e.g. split mid-write);
		// treat as unrecognized rather than malformed.
		return nil, nil
	}
	payload := strings.TrimSpace(match[1])

	if m := courseAddedRegex.FindStringSubmatch(payload); m != nil {
		secs, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("course added expiry %q: %w", m[2], err)
		}
		return &ParsedEvent{
			Type: EventTypeCourseAdded,
			Data: CourseAddedData{
				FullName:  m[1],
				ExpiresAt: time.Unix(secs, 0).UTC(),
			},
		}, nil
	}

	if m := courseFinishRegex.FindStringSubmatch(payload); m != nil {
		ms, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("course finish time %q: not a millisecond value", m[3])
		}
		secs, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("course finish timestamp %q: %w", m[4], err)
		}
		return &ParsedEvent{
			Type: EventTypeCourseFinish,
			Data: CourseFinishData{
				FullName:   m[1],
				Player:     m[2],
				TimeMillis: ms,
				ObservedAt: time.Unix(secs, 0).UTC(),
			},
		}, nil
	}

	if m := courseRemovedRegex.FindStringSubmatch(payload); m != nil {
		return &ParsedEvent{
			Type: EventTypeCourseRemoved,
			Data: CourseRemovedData{FullName: m[1]},
		}, nil
	}

	if strings.HasPrefix(payload, "{") {
		var p expiryPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("expiry payload: %w", err)
		}
		if p.Event != "secret_course_expired" {
			return nil, nil
		}
		if p.CourseName == "" {
			return nil, fmt.Errorf("expiry payload: missing coursename")
		}
		return &ParsedEvent{
			Type: EventTypeCourseExpired,
			Data: CourseExpiredData{
				FullName:   p.CourseName,
				Standings:  p.Standings,
				RawPayload: payload,
			},
		}, nil
	}

	// Unknown payload shape
	return nil, nil
}
