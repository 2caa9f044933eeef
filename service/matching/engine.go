package matching

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
)

// Candidate is a snapshot of one eligible consultant taken at ranking
// time. The engine never reads storage itself; callers hand it the
// pool (see service/consultant.EligiblePool).
type Candidate struct {
	ConsultantID      uint
	UserID            uint
	Tags              []string
	Windows           []models.AvailabilityWindow
	CompletedSessions int
	MeanRating        float64
}

type Scored struct {
	Candidate Candidate
	Score     int
}

// Engine ranks candidates for a request. It is pure: same snapshot,
// same clock, same result.
type Engine struct {
	cfg config.ScoringConfig
	now func() time.Time
}

func NewEngine(cfg config.ScoringConfig, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, now: now}
}

// Rank scores the pool against the request's required tags and returns
// candidates ordered by score descending, consultant ID ascending on
// ties. Candidates with zero tag overlap are excluded: the other
// bonuses reward quality among relevant consultants, they never make
// an irrelevant one eligible. The priority flag adds a constant bonus
// that reorders who gets invited first without affecting eligibility.
func (e *Engine) Rank(requiredTags []string, pool []Candidate, priority bool) []Scored {
	now := e.now()

	ranked := make([]Scored, 0, len(pool))
	for _, c := range pool {
		tagScore := e.tagOverlapScore(requiredTags, c.Tags)
		if tagScore == 0 {
			continue
		}

		score := tagScore
		if windowCoversInstant(c.Windows, now) {
			score += e.cfg.AvailabilityBonus
		}
		score += e.ratingScore(c.MeanRating)
		score += e.experienceScore(c.CompletedSessions)
		if priority {
			score += e.cfg.PriorityBonus
		}

		ranked = append(ranked, Scored{Candidate: c, Score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Candidate.ConsultantID < ranked[j].Candidate.ConsultantID
	})

	return ranked
}

func (e *Engine) tagOverlapScore(required, offered []string) int {
	offeredSet := make(map[string]struct{}, len(offered))
	for _, tag := range offered {
		offeredSet[strings.ToLower(strings.TrimSpace(tag))] = struct{}{}
	}

	matched := 0
	for _, tag := range required {
		if _, ok := offeredSet[strings.ToLower(strings.TrimSpace(tag))]; ok {
			matched++
		}
	}

	score := matched * e.cfg.PerTagPoints
	if score > e.cfg.TagCap {
		score = e.cfg.TagCap
	}
	return score
}

func (e *Engine) ratingScore(meanRating float64) int {
	if meanRating <= 0 {
		return 0
	}
	if meanRating > 5 {
		meanRating = 5
	}
	return int(math.Round(meanRating / 5 * float64(e.cfg.RatingCap)))
}

func (e *Engine) experienceScore(completed int) int {
	if completed < 0 {
		return 0
	}
	if completed > e.cfg.ExperienceCap {
		return e.cfg.ExperienceCap
	}
	return completed
}

// windowCoversInstant reports whether any weekly window covers the
// given instant, evaluated in the window's own timezone. Windows with
// an unloadable timezone or malformed times are skipped.
func windowCoversInstant(windows []models.AvailabilityWindow, instant time.Time) bool {
	for _, w := range windows {
		loc, err := time.LoadLocation(w.Timezone)
		if err != nil {
			continue
		}
		local := instant.In(loc)
		if int(local.Weekday()) != w.DayOfWeek {
			continue
		}

		start, err := time.Parse("15:04", w.StartTime)
		if err != nil {
			continue
		}
		end, err := time.Parse("15:04", w.EndTime)
		if err != nil {
			continue
		}

		minute := local.Hour()*60 + local.Minute()
		startMin := start.Hour()*60 + start.Minute()
		endMin := end.Hour()*60 + end.Minute()
		if minute >= startMin && minute < endMin {
			return true
		}
	}
	return false
}
