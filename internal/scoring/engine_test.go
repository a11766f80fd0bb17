package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/havenclimb/coursecup/internal/domain"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func finish(course int64, slug, player string, ms int64, offsetMin int) domain.SeasonFinish {
	return domain.SeasonFinish{
		CourseID:   course,
		Slug:       slug,
		Player:     player,
		TimeMillis: ms,
		ObservedAt: baseTime.Add(time.Duration(offsetMin) * time.Minute),
	}
}

func TestRankBestTimePerCourse(t *testing.T) {
	finishes := []domain.SeasonFinish{
		finish(1, "canyon", "alice", 12000, 0),
		finish(1, "canyon", "alice", 10000, 5), // improvement
		finish(1, "canyon", "alice", 11000, 10),
		finish(1, "canyon", "bob", 9000, 2),
	}

	standings := Rank(finishes, domain.ScoringConfig{})
	require.Len(t, standings, 2)
	require.Equal(t, "bob", standings[0].Player)
	require.Equal(t, int64(9000), standings[0].TotalTimeMillis)
	require.Equal(t, "alice", standings[1].Player)
	require.Equal(t, int64(10000), standings[1].TotalTimeMillis)
}

func TestRankMinCoursesExcludes(t *testing.T) {
	finishes := []domain.SeasonFinish{
		finish(1, "canyon", "alice", 10000, 0),
		finish(2, "summit", "alice", 20000, 1),
		finish(1, "canyon", "bob", 5000, 2),
	}

	standings := Rank(finishes, domain.ScoringConfig{MinCoursesToQualify: 2})
	require.Len(t, standings, 1)
	require.Equal(t, "alice", standings[0].Player)
	require.Equal(t, 1, standings[0].Rank)
}

func TestRankBestNSumsLowest(t *testing.T) {
	finishes := []domain.SeasonFinish{
		finish(1, "canyon", "alice", 10000, 0),
		finish(2, "summit", "alice", 20000, 1),
		finish(3, "ravine", "alice", 5000, 2),
	}

	standings := Rank(finishes, domain.ScoringConfig{BestNCourses: 2})
	require.Len(t, standings, 1)
	require.Equal(t, int64(15000), standings[0].TotalTimeMillis)
	require.Equal(t, 3, standings[0].QualifyingCount)
	require.Len(t, standings[0].CountedCourses, 2)
	require.Equal(t, "ravine", standings[0].CountedCourses[0].Slug)
	require.Equal(t, "canyon", standings[0].CountedCourses[1].Slug)
}

func TestRankBestNTieBreaksByObservation(t *testing.T) {
	// Two courses with identical best times; only one counts.
	// The earlier observation wins the slot.
	finishes := []domain.SeasonFinish{
		finish(1, "canyon", "alice", 10000, 30),
		finish(2, "summit", "alice", 10000, 5),
	}

	standings := Rank(finishes, domain.ScoringConfig{BestNCourses: 1})
	require.Len(t, standings[0].CountedCourses, 1)
	require.Equal(t, "summit", standings[0].CountedCourses[0].Slug)
}

func TestRankOrderingAndDenseRanks(t *testing.T) {
	finishes := []domain.SeasonFinish{
		finish(1, "canyon", "alice", 10000, 0),
		finish(1, "canyon", "bob", 10000, 1),
		finish(2, "summit", "bob", 8000, 2),
		finish(1, "canyon", "carol", 10000, 3),
		finish(1, "canyon", "dave", 30000, 4),
	}

	// bob has two courses but the same total as nobody; order is
	// total asc, then qualifying count desc, then name asc.
	standings := Rank(finishes, domain.ScoringConfig{})
	require.Len(t, standings, 4)
	require.Equal(t, "alice", standings[0].Player)
	require.Equal(t, 1, standings[0].Rank)
	require.Equal(t, "carol", standings[1].Player)
	require.Equal(t, 1, standings[1].Rank) // same total and count as alice
	require.Equal(t, "bob", standings[2].Player)
	require.Equal(t, int64(18000), standings[2].TotalTimeMillis)
	require.Equal(t, 2, standings[2].Rank)
	require.Equal(t, "dave", standings[3].Player)
	require.Equal(t, 3, standings[3].Rank)
}

func TestRankDeterministic(t *testing.T) {
	finishes := []domain.SeasonFinish{
		finish(1, "canyon", "alice", 10000, 0),
		finish(2, "summit", "alice", 12000, 1),
		finish(1, "canyon", "bob", 10000, 2),
		finish(2, "summit", "bob", 12000, 3),
		finish(3, "ravine", "carol", 7000, 4),
	}

	first := Rank(finishes, domain.ScoringConfig{BestNCourses: 1})
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Rank(finishes, domain.ScoringConfig{BestNCourses: 1}))
	}
}

func TestRankEmpty(t *testing.T) {
	require.Empty(t, Rank(nil, domain.ScoringConfig{}))
}

func TestBestPerCourse(t *testing.T) {
	at := func(min int) time.Time { return baseTime.Add(time.Duration(min) * time.Minute) }
	recs := []domain.FinishRecord{
		{CourseID: 1, Player: "alice", TimeMillis: 9000, ObservedAt: at(0)},
		{CourseID: 1, Player: "alice", TimeMillis: 8000, ObservedAt: at(1)},
		{CourseID: 1, Player: "bob", TimeMillis: 8000, ObservedAt: at(2)},
	}

	board := BestPerCourse(recs)
	require.Len(t, board, 2)
	require.Equal(t, "alice", board[0].Player) // tie broken by earlier run
	require.Equal(t, "bob", board[1].Player)
}

func TestPointsForPosition(t *testing.T) {
	require.Equal(t, 30, PointsForPosition(1))
	require.Equal(t, 6, PointsForPosition(10))
	require.Equal(t, 4, PointsForPosition(11))
	require.Equal(t, 4, PointsForPosition(15))
	require.Equal(t, 3, PointsForPosition(16))
	require.Equal(t, 2, PointsForPosition(21))
	require.Equal(t, 1, PointsForPosition(30))
	require.Equal(t, 0, PointsForPosition(31))
	require.Equal(t, 0, PointsForPosition(0))
}
