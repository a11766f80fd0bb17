package render

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/havenclimb/coursecup/internal/domain"
)

func testSeason() domain.Season {
	return domain.Season{ID: 1, Number: 3, Title: "Spring Cup", Status: domain.SeasonActive}
}

func standing(rank int, player string, total int64, count int) domain.Standing {
	return domain.Standing{Rank: rank, Player: player, TotalTimeMillis: total, QualifyingCount: count}
}

func TestFormatMillis(t *testing.T) {
	require.Equal(t, "0:05.250", FormatMillis(5250))
	require.Equal(t, "2:03.007", FormatMillis(123007))
	require.Equal(t, "1:01:01.000", FormatMillis(3661000))
	require.Equal(t, "0:00.000", FormatMillis(-5))
}

func TestFormatTimeRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "2d 3h 5m", FormatTimeRemaining(now.Add(51*time.Hour+5*time.Minute), now))
	require.Equal(t, "45m", FormatTimeRemaining(now.Add(45*time.Minute), now))
	require.Equal(t, "< 1m", FormatTimeRemaining(now.Add(30*time.Second), now))
	require.Equal(t, "EXPIRED", FormatTimeRemaining(now.Add(-time.Minute), now))
}

func TestSummaryEmpty(t *testing.T) {
	out := Summary(testSeason(), nil)
	require.Contains(t, out, "Season 3")
	require.Contains(t, out, "Spring Cup")
	require.Contains(t, out, "No results yet")
}

func TestSummaryTopFiveAndSpoiler(t *testing.T) {
	var standings []domain.Standing
	players := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace"}
	for i, p := range players {
		standings = append(standings, standing(i+1, p, int64((i+1)*10000), 3))
	}

	out := Summary(testSeason(), standings)
	require.Contains(t, out, "\U0001F947 alice")
	require.Contains(t, out, "\U0001F948 bob")
	require.Contains(t, out, "\U0001F949 carol")
	require.Contains(t, out, "4. dave")
	require.Contains(t, out, "Full Rankings")
	require.Contains(t, out, "||6. frank")
	require.NotContains(t, out, "||alice")
}

func TestStandingsTable(t *testing.T) {
	standings := []domain.Standing{
		standing(1, "averylongusername", 65000, 4),
		standing(2, "bob", 90000, 3),
	}

	out := Standings(testSeason(), standings)
	require.Contains(t, out, "Pos | Player")
	require.Contains(t, out, "averylongu") // truncated to 10
	require.NotContains(t, out, "averylongusername")
	require.Contains(t, out, "1:05.000")
	require.Contains(t, out, "1:30.000")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "héllo", truncate("héllo", 10))
	require.Equal(t, "天下無双のコース走者が来", truncate("天下無双のコース走者が来た", 12))

	out := Standings(testSeason(), []domain.Standing{
		standing(1, "Пётр Великий Царь", 65000, 4),
	})
	require.True(t, utf8.ValidString(out))
	require.Contains(t, out, "Пётр Велик")
}

func TestTitleCaseMultibyte(t *testing.T) {
	require.Equal(t, "Über Alles", titleCase("über alles"))
	require.Equal(t, "Canyon Dash", titleCase("canyon dash"))
}

func TestStandingsRowLimit(t *testing.T) {
	var standings []domain.Standing
	for i := 0; i < 25; i++ {
		standings = append(standings, standing(i+1, "player", int64(10000+i), 1))
	}

	out := Standings(testSeason(), standings)
	require.Contains(t, out, "25 players competing")
	require.NotContains(t, out, " 21 |")
}

func TestGridColumns(t *testing.T) {
	expiry := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	courses := []GridCourse{
		{
			Course: domain.Course{Slug: "canyon run", Status: domain.CourseActive, ExpiresAt: &expiry},
			Entries: []GridEntry{
				{Position: 1, Player: "alice", TimeMillis: 61500},
			},
		},
		{
			Course: domain.Course{Slug: "summit", Status: domain.CourseExpired},
			Entries: []GridEntry{
				{Position: 1, Player: "bobbington", TimeMillis: 59000},
			},
		},
	}

	out := Grid(testSeason(), courses, 2)
	require.Contains(t, out, "Canyon Run")
	require.Contains(t, out, "Expires: <t:1773100800:R>")
	require.Contains(t, out, "EXPIRED")
	require.Contains(t, out, "1.  alice")
	// expired cell shows truncated name, points and time
	require.Contains(t, out, "bobbin")
	require.Contains(t, out, "30pts")
}

func TestGridEmptyCourse(t *testing.T) {
	courses := []GridCourse{
		{Course: domain.Course{Slug: "ravine", Status: domain.CourseExpired}},
	}
	out := Grid(testSeason(), courses, 2)
	lines := strings.Split(out, "\n")
	found := false
	for _, l := range lines {
		if strings.HasPrefix(l, "-") && strings.TrimSpace(l) == "-" {
			found = true
		}
	}
	require.True(t, found, "empty course should render a dash placeholder")
}

func TestRenderDeterministic(t *testing.T) {
	standings := []domain.Standing{standing(1, "alice", 10000, 2), standing(2, "bob", 20000, 2)}
	first := Summary(testSeason(), standings)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Summary(testSeason(), standings))
	}
	require.Equal(t, ContentHash(first), ContentHash(Summary(testSeason(), standings)))
}
