// Package render builds the published chat views as plain text. Every
// renderer is a pure function of its inputs; rendering the same state
// twice produces byte-identical output, so the publisher can hash the
// result to detect real changes. Expiry countdowns use the chat
// platform's client-side timestamp markup rather than a server-side
// clock for the same reason.
package render

import (
	"fmt"
	"strings"

	"github.com/havenclimb/coursecup/internal/domain"
	"github.com/havenclimb/coursecup/internal/scoring"
)

const (
	summaryTopCount    = 5
	standingsRowLimit  = 20
	gridEntriesPerCell = 10
	gridCellWidth      = 25
)

// GridEntry is one player's best result on a single course.
type GridEntry struct {
	Position   int
	Player     string
	TimeMillis int64
}

// GridCourse pairs a course with its current leaderboard.
type GridCourse struct {
	Course  domain.Course
	Entries []GridEntry
}

func seasonHeading(icon string, season domain.Season, suffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **Season %d %s**\n", icon, season.Number, suffix)
	if season.Title != "" {
		fmt.Fprintf(&b, "*%s*\n", season.Title)
	}
	return b.String()
}

// Summary renders the compact leaderboard view: top five with medals,
// remainder behind a spoiler.
func Summary(season domain.Season, standings []domain.Standing) string {
	var b strings.Builder
	b.WriteString(seasonHeading("\U0001F3C6", season, "- Live Standings"))
	b.WriteString("\n")

	if len(standings) == 0 {
		b.WriteString("No results yet\n")
		return b.String()
	}

	b.WriteString("**Top 5**\n")
	for _, s := range standings {
		if s.Rank > summaryTopCount {
			break
		}
		fmt.Fprintf(&b, "%s %s - %s (%d courses)\n",
			medal(s.Rank), s.Player, FormatMillis(s.TotalTimeMillis), s.QualifyingCount)
	}

	var rest []string
	for _, s := range standings {
		if s.Rank <= summaryTopCount {
			continue
		}
		rest = append(rest, fmt.Sprintf("%d. %s - %s", s.Rank, s.Player, FormatMillis(s.TotalTimeMillis)))
	}
	if len(rest) > 0 {
		b.WriteString("\n**Full Rankings**\n")
		fmt.Fprintf(&b, "||%s||\n", strings.Join(rest, "\n"))
	}

	return b.String()
}

func medal(rank int) string {
	switch rank {
	case 1:
		return "\U0001F947"
	case 2:
		return "\U0001F948"
	case 3:
		return "\U0001F949"
	default:
		return fmt.Sprintf("%d.", rank)
	}
}

// Standings renders the detailed fixed-width table view.
func Standings(season domain.Season, standings []domain.Standing) string {
	var b strings.Builder
	b.WriteString(seasonHeading("\U0001F4CA", season, "Standings"))
	b.WriteString("\n")

	if len(standings) == 0 {
		b.WriteString("No results yet\n")
		return b.String()
	}

	b.WriteString("```\n")
	b.WriteString("Pos | Player     | Total Time   | Courses\n")
	b.WriteString("----|------------|--------------|--------\n")

	shown := len(standings)
	if shown > standingsRowLimit {
		shown = standingsRowLimit
	}
	for _, s := range standings[:shown] {
		fmt.Fprintf(&b, " %2d | %-10s | %-12s | %6d\n",
			s.Rank, truncate(s.Player, 10), FormatMillis(s.TotalTimeMillis), s.QualifyingCount)
	}
	b.WriteString("```\n")

	if len(standings) > shown {
		fmt.Fprintf(&b, "%d players competing\n", len(standings))
	}

	return b.String()
}

// Grid renders the per-course progress view: courses laid out in columns,
// active courses first by soonest expiry, each with its top results and
// the points those positions are worth.
func Grid(season domain.Season, courses []GridCourse, perRow int) string {
	if perRow < 1 {
		perRow = 1
	}

	var b strings.Builder
	b.WriteString(seasonHeading("\U0001F5FA️", season, "- Course Progress"))
	b.WriteString("\n")

	if len(courses) == 0 {
		b.WriteString("No courses available\n")
		return b.String()
	}

	for start := 0; start < len(courses); start += perRow {
		end := start + perRow
		if end > len(courses) {
			end = len(courses)
		}
		b.WriteString(renderGridRow(courses[start:end]))
	}

	return b.String()
}

func renderGridRow(row []GridCourse) string {
	columns := make([][]string, len(row))
	maxLines := 0
	for i, gc := range row {
		columns[i] = renderGridColumn(gc)
		if len(columns[i]) > maxLines {
			maxLines = len(columns[i])
		}
	}

	var b strings.Builder
	b.WriteString("```\n")
	for line := 0; line < maxLines; line++ {
		parts := make([]string, len(columns))
		for i, col := range columns {
			content := ""
			if line < len(col) {
				content = col[line]
			}
			parts[i] = fmt.Sprintf("%-*s", gridCellWidth, content)
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}

func renderGridColumn(gc GridCourse) []string {
	status := "EXPIRED"
	if !gc.Course.Expired() && gc.Course.ExpiresAt != nil {
		status = fmt.Sprintf("Expires: <t:%d:R>", gc.Course.ExpiresAt.Unix())
	}

	lines := []string{titleCase(gc.Course.Slug), status, "-----"}

	entries := gc.Entries
	if len(entries) > gridEntriesPerCell {
		entries = entries[:gridEntriesPerCell]
	}
	for _, e := range entries {
		points := scoring.PointsForPosition(e.Position)
		if gc.Course.Expired() {
			lines = append(lines, fmt.Sprintf("%-3s %-6s - %-2dpts - %-7s",
				fmt.Sprintf("%d.", e.Position), truncate(e.Player, 6), points, truncate(FormatMillis(e.TimeMillis), 7)))
		} else {
			lines = append(lines, fmt.Sprintf("%-3s %-10s %s",
				fmt.Sprintf("%d.", e.Position), truncate(e.Player, 10), FormatMillis(e.TimeMillis)))
		}
	}
	if len(entries) == 0 {
		lines = append(lines, "-")
	}
	return lines
}

// truncate cuts s to at most n runes. Player names come from the game
// server and may hold multi-byte characters.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		words[i] = strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
	return strings.Join(words, " ")
}
