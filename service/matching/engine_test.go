package matching

import (
	"testing"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/stretchr/testify/require"
)

func testScoring() config.ScoringConfig {
	return config.ScoringConfig{
		PerTagPoints:      30,
		TagCap:            60,
		AvailabilityBonus: 15,
		RatingCap:         25,
		ExperienceCap:     20,
		PriorityBonus:     1000,
	}
}

// Wednesday noon UTC.
var fixedNow = time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestRankScoresFullMatch(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	pool := []Candidate{
		{
			ConsultantID:      1,
			Tags:              []string{"React", "PostgreSQL", "AWS"},
			CompletedSessions: 10,
			MeanRating:        5,
			Windows: []models.AvailabilityWindow{
				{DayOfWeek: 3, StartTime: "09:00", EndTime: "17:00", Timezone: "UTC"},
			},
		},
		{
			ConsultantID:      2,
			Tags:              []string{"Rust", "Embedded"},
			CompletedSessions: 50,
			MeanRating:        5,
		},
	}

	ranked := engine.Rank([]string{"React", "PostgreSQL"}, pool, false)
	require.Len(t, ranked, 1, "zero-overlap consultant must be excluded")
	require.Equal(t, uint(1), ranked[0].Candidate.ConsultantID)

	// tag cap + availability bonus + rating cap + completed sessions
	require.Equal(t, 60+15+25+10, ranked[0].Score)
}

func TestRankTagMatchingIsCaseInsensitive(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	pool := []Candidate{
		{ConsultantID: 1, Tags: []string{"react", "postgresql"}},
	}

	ranked := engine.Rank([]string{"React", "PostgreSQL"}, pool, false)
	require.Len(t, ranked, 1)
	require.Equal(t, 60, ranked[0].Score)
}

func TestRankCapsComponents(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	pool := []Candidate{
		{
			ConsultantID:      1,
			Tags:              []string{"go", "postgres", "redis", "kafka", "grpc"},
			CompletedSessions: 500,
			MeanRating:        5,
		},
	}

	ranked := engine.Rank([]string{"go", "postgres", "redis", "kafka", "grpc"}, pool, false)
	require.Len(t, ranked, 1)
	// 5 tags would be 150 uncapped; experience clamps at its cap.
	require.Equal(t, 60+25+20, ranked[0].Score)
}

func TestRankTieBreaksByConsultantID(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	pool := []Candidate{
		{ConsultantID: 9, Tags: []string{"go"}},
		{ConsultantID: 3, Tags: []string{"go"}},
		{ConsultantID: 7, Tags: []string{"go"}},
	}

	ranked := engine.Rank([]string{"go"}, pool, false)
	require.Len(t, ranked, 3)
	require.Equal(t, uint(3), ranked[0].Candidate.ConsultantID)
	require.Equal(t, uint(7), ranked[1].Candidate.ConsultantID)
	require.Equal(t, uint(9), ranked[2].Candidate.ConsultantID)
}

func TestRankIsDeterministic(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	pool := []Candidate{
		{ConsultantID: 5, Tags: []string{"go", "postgres"}, MeanRating: 4.2, CompletedSessions: 7},
		{ConsultantID: 2, Tags: []string{"go"}, MeanRating: 3.9, CompletedSessions: 12},
		{ConsultantID: 8, Tags: []string{"postgres"}, MeanRating: 5, CompletedSessions: 3},
	}

	first := engine.Rank([]string{"go", "postgres"}, pool, false)
	for i := 0; i < 10; i++ {
		again := engine.Rank([]string{"go", "postgres"}, pool, false)
		require.Equal(t, first, again)
	}
}

func TestRankPriorityAffectsOrderingNotEligibility(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	pool := []Candidate{
		{ConsultantID: 1, Tags: []string{"go"}},
		{ConsultantID: 2, Tags: []string{"java"}},
	}

	plain := engine.Rank([]string{"go"}, pool, false)
	prioritized := engine.Rank([]string{"go"}, pool, true)

	require.Len(t, prioritized, 1, "priority must not make zero-overlap candidates eligible")
	require.Equal(t, plain[0].Candidate.ConsultantID, prioritized[0].Candidate.ConsultantID)
	require.Equal(t, plain[0].Score+1000, prioritized[0].Score)
}

func TestWindowCoverageUsesTimezone(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	// 12:00 UTC is 07:00 in New York on that Wednesday; a window
	// from 09:00 NY time must not count as live.
	pool := []Candidate{
		{
			ConsultantID: 1,
			Tags:         []string{"go"},
			Windows: []models.AvailabilityWindow{
				{DayOfWeek: 3, StartTime: "09:00", EndTime: "17:00", Timezone: "America/New_York"},
			},
		},
		{
			ConsultantID: 2,
			Tags:         []string{"go"},
			Windows: []models.AvailabilityWindow{
				{DayOfWeek: 3, StartTime: "06:00", EndTime: "08:00", Timezone: "America/New_York"},
			},
		},
	}

	ranked := engine.Rank([]string{"go"}, pool, false)
	require.Len(t, ranked, 2)
	// Consultant 2's window covers 07:00 local, consultant 1's does not.
	require.Equal(t, uint(2), ranked[0].Candidate.ConsultantID)
	require.Equal(t, 30+15, ranked[0].Score)
	require.Equal(t, 30, ranked[1].Score)
}

func TestWindowWrongDayDoesNotCount(t *testing.T) {
	engine := NewEngine(testScoring(), fixedClock)

	pool := []Candidate{
		{
			ConsultantID: 1,
			Tags:         []string{"go"},
			Windows: []models.AvailabilityWindow{
				{DayOfWeek: 4, StartTime: "00:00", EndTime: "23:59", Timezone: "UTC"},
			},
		},
	}

	ranked := engine.Rank([]string{"go"}, pool, false)
	require.Len(t, ranked, 1)
	require.Equal(t, 30, ranked[0].Score)
}
