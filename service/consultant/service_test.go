package consultant

import (
	"fmt"
	"testing"

	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Consultant{},
		&models.AvailabilityWindow{},
	))
	return db
}

func seed(t *testing.T, db *gorm.DB, userID uint, status string, available bool) *models.Consultant {
	t.Helper()
	c := models.Consultant{
		UserID:          userID,
		Specializations: []string{"go"},
		ApprovalStatus:  status,
		Available:       available,
	}
	require.NoError(t, db.Create(&c).Error)
	return &c
}

func TestEligiblePoolFiltersApprovalAndAvailability(t *testing.T) {
	db := setupTestDB(t)

	eligible := seed(t, db, 1, models.ConsultantApproved, true)
	seed(t, db, 2, models.ConsultantApproved, false)
	seed(t, db, 3, models.ConsultantPending, true)
	seed(t, db, 4, models.ConsultantSuspended, true)

	pool, err := EligiblePool(db, nil)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	require.Equal(t, eligible.ID, pool[0].ConsultantID)
	require.Equal(t, eligible.UserID, pool[0].UserID)
}

func TestEligiblePoolHonoursExclusions(t *testing.T) {
	db := setupTestDB(t)

	excluded := seed(t, db, 1, models.ConsultantApproved, true)
	kept := seed(t, db, 2, models.ConsultantApproved, true)

	pool, err := EligiblePool(db, []int64{int64(excluded.ID)})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	require.Equal(t, kept.ID, pool[0].ConsultantID)
}

func TestEligiblePoolCarriesWindows(t *testing.T) {
	db := setupTestDB(t)

	c := seed(t, db, 1, models.ConsultantApproved, true)
	require.NoError(t, db.Create(&models.AvailabilityWindow{
		ConsultantID: c.ID,
		DayOfWeek:    1,
		StartTime:    "09:00",
		EndTime:      "17:00",
		Timezone:     "UTC",
	}).Error)

	pool, err := EligiblePool(db, nil)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	require.Len(t, pool[0].Windows, 1)
	require.Equal(t, "09:00", pool[0].Windows[0].StartTime)
}

func TestReplaceWindowsSwapsWholesale(t *testing.T) {
	db := setupTestDB(t)
	c := seed(t, db, 1, models.ConsultantApproved, true)

	require.NoError(t, ReplaceWindows(db, c.ID, []models.AvailabilityWindow{
		{DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", Timezone: "UTC"},
		{DayOfWeek: 3, StartTime: "13:00", EndTime: "17:00", Timezone: "Europe/Berlin"},
	}))

	require.NoError(t, ReplaceWindows(db, c.ID, []models.AvailabilityWindow{
		{DayOfWeek: 5, StartTime: "10:00", EndTime: "11:00"},
	}))

	var windows []models.AvailabilityWindow
	require.NoError(t, db.Where("consultant_id = ?", c.ID).Find(&windows).Error)
	require.Len(t, windows, 1)
	require.Equal(t, 5, windows[0].DayOfWeek)
	require.Equal(t, "UTC", windows[0].Timezone, "missing timezone defaults to UTC")
}

func TestReplaceWindowsValidates(t *testing.T) {
	db := setupTestDB(t)
	c := seed(t, db, 1, models.ConsultantApproved, true)

	cases := []models.AvailabilityWindow{
		{DayOfWeek: 7, StartTime: "09:00", EndTime: "10:00"},
		{DayOfWeek: 1, StartTime: "9am", EndTime: "10:00"},
		{DayOfWeek: 1, StartTime: "09:00", EndTime: "25:00"},
		{DayOfWeek: 1, StartTime: "10:00", EndTime: "09:00"},
		{DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00", Timezone: "Mars/Olympus"},
	}
	for _, w := range cases {
		err := ReplaceWindows(db, c.ID, []models.AvailabilityWindow{w})
		require.ErrorIs(t, err, models.ErrValidation)
	}

	var count int64
	require.NoError(t, db.Model(&models.AvailabilityWindow{}).Count(&count).Error)
	require.Zero(t, count, "rejected sets must not write")
}
