package consultant

import (
	"fmt"
	"time"

	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/service/matching"
	"gorm.io/gorm"
)

// EligiblePool snapshots every consultant who may receive invitations:
// approved, currently flagged available, and not in the exclusion set.
func EligiblePool(db *gorm.DB, excluded []int64) ([]matching.Candidate, error) {
	query := db.Model(&models.Consultant{}).
		Preload("AvailabilityWindows").
		Where("approval_status = ? AND available = ?", models.ConsultantApproved, true)
	if len(excluded) > 0 {
		query = query.Where("id NOT IN ?", excluded)
	}

	var consultants []models.Consultant
	if err := query.Find(&consultants).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	pool := make([]matching.Candidate, 0, len(consultants))
	for _, c := range consultants {
		pool = append(pool, matching.Candidate{
			ConsultantID:      c.ID,
			UserID:            c.UserID,
			Tags:              c.Specializations,
			Windows:           c.AvailabilityWindows,
			CompletedSessions: c.CompletedSessions,
			MeanRating:        c.AverageRating,
		})
	}
	return pool, nil
}

// ReplaceWindows swaps a consultant's weekly availability wholesale.
// Partial edits are not supported; the client always sends the full
// set.
func ReplaceWindows(db *gorm.DB, consultantID uint, windows []models.AvailabilityWindow) error {
	for _, w := range windows {
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return fmt.Errorf("%w: day_of_week must be 0-6", models.ErrValidation)
		}
		if _, err := time.Parse("15:04", w.StartTime); err != nil {
			return fmt.Errorf("%w: invalid start_time %q", models.ErrValidation, w.StartTime)
		}
		if _, err := time.Parse("15:04", w.EndTime); err != nil {
			return fmt.Errorf("%w: invalid end_time %q", models.ErrValidation, w.EndTime)
		}
		if w.EndTime <= w.StartTime {
			return fmt.Errorf("%w: end_time must be after start_time", models.ErrValidation)
		}
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", models.ErrValidation, w.Timezone)
		}
	}

	tx := db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	if err := tx.Where("consultant_id = ?", consultantID).
		Delete(&models.AvailabilityWindow{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	for i := range windows {
		windows[i].ID = 0
		windows[i].ConsultantID = consultantID
		if windows[i].Timezone == "" {
			windows[i].Timezone = "UTC"
		}
		if err := tx.Create(&windows[i]).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: %v", models.ErrStorage, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return nil
}
