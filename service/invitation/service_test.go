package invitation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
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
		&models.ConsultationRequest{},
		&models.Invitation{},
	))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		InvitationWindowHours: 24,
		InvitationBatchSize:   5,
		MaxShuffles:           3,
		MaxProposalRounds:     10,
		SurgeMultiplier:       1.2,
		SubmissionFeeTokens:   10,
	}
}

func seedConsultant(t *testing.T, db *gorm.DB, userID uint) *models.Consultant {
	t.Helper()
	user := models.User{
		FullName:     fmt.Sprintf("Consultant %d", userID),
		Email:        fmt.Sprintf("consultant%d@example.com", userID),
		PasswordHash: "x",
		Role:         models.RoleConsultant,
	}
	user.ID = userID
	require.NoError(t, db.Create(&user).Error)

	consultant := models.Consultant{
		UserID:          userID,
		Specializations: []string{"go"},
		ApprovalStatus:  models.ConsultantApproved,
		Available:       true,
	}
	require.NoError(t, db.Create(&consultant).Error)
	return &consultant
}

func seedRequest(t *testing.T, db *gorm.DB, status string) *models.ConsultationRequest {
	t.Helper()
	req := models.ConsultationRequest{
		RequesterID:  1000,
		Problem:      "Panic in the payment worker",
		RequiredTags: []string{"go"},
		Status:       status,
	}
	require.NoError(t, db.Create(&req).Error)
	return &req
}

func TestCreateRejectsDuplicatePendingInvitation(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	consultant := seedConsultant(t, db, 1)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.NoError(t, err)
	require.Equal(t, models.InvitationPending, inv.Status)
	require.Equal(t, 1.0, inv.PayMultiplier)

	_, err = svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.ErrorIs(t, err, models.ErrDuplicateInvitation)
}

func TestCreateSurgeCarriesMultiplier(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	consultant := seedConsultant(t, db, 1)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, true)
	require.NoError(t, err)
	require.True(t, inv.Surge)
	require.Equal(t, 1.2, inv.PayMultiplier)
	require.Equal(t, inv.InvitedAt.Add(24*time.Hour), inv.ExpiresAt)
}

func TestAcceptAdvancesRequestAndExpiresSiblings(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	winner := seedConsultant(t, db, 1)
	loser := seedConsultant(t, db, 2)
	req := seedRequest(t, db, models.RequestInvited)

	winInv, err := svc.Create(nil, req, winner.ID, req.RequesterID, false)
	require.NoError(t, err)
	loseInv, err := svc.Create(nil, req, loser.ID, req.RequesterID, false)
	require.NoError(t, err)

	proposed := time.Now().Add(48 * time.Hour)
	updated, err := svc.Accept(winInv.ID, winner.UserID, &proposed, "Tomorrow works")
	require.NoError(t, err)
	require.Equal(t, models.RequestTimeProposed, updated.Status)
	require.NotNil(t, updated.MatchedConsultantID)
	require.Equal(t, winner.ID, *updated.MatchedConsultantID)
	require.NotNil(t, updated.ProposedTime)
	require.NotNil(t, updated.ProposedBy)
	require.Equal(t, winner.UserID, *updated.ProposedBy)

	var sibling models.Invitation
	require.NoError(t, db.First(&sibling, loseInv.ID).Error)
	require.Equal(t, models.InvitationExpired, sibling.Status)

	// The superseded consultant's response now bounces.
	_, err = svc.Decline(loseInv.ID, loser.UserID, "")
	require.ErrorIs(t, err, models.ErrNotRespondable)
}

func TestAcceptWithoutTimeParksAtMatched(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	consultant := seedConsultant(t, db, 1)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.NoError(t, err)

	updated, err := svc.Accept(inv.ID, consultant.UserID, nil, "")
	require.NoError(t, err)
	require.Equal(t, models.RequestMatched, updated.Status)
	require.Nil(t, updated.ProposedTime)
}

func TestAcceptSingleWinnerUnderContention(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	req := seedRequest(t, db, models.RequestInvited)

	const contenders = 8
	consultants := make([]*models.Consultant, contenders)
	invitations := make([]*models.Invitation, contenders)
	for i := 0; i < contenders; i++ {
		consultants[i] = seedConsultant(t, db, uint(i+1))
		inv, err := svc.Create(nil, req, consultants[i].ID, req.RequesterID, false)
		require.NoError(t, err)
		invitations[i] = inv
	}

	proposed := time.Now().Add(24 * time.Hour)
	var wg sync.WaitGroup
	winners := make(chan uint, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Accept(invitations[i].ID, consultants[i].UserID, &proposed, ""); err == nil {
				winners <- consultants[i].ID
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	require.Equal(t, 1, len(winners), "exactly one accept may commit")
	winnerID := <-winners

	var updated models.ConsultationRequest
	require.NoError(t, db.First(&updated, req.ID).Error)
	require.Equal(t, models.RequestTimeProposed, updated.Status)
	require.Equal(t, winnerID, *updated.MatchedConsultantID)

	var pending int64
	require.NoError(t, db.Model(&models.Invitation{}).
		Where("request_id = ? AND status = ?", req.ID, models.InvitationPending).
		Count(&pending).Error)
	require.Zero(t, pending)
}

func TestAcceptRejectsPastProposedTime(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	consultant := seedConsultant(t, db, 1)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	_, err = svc.Accept(inv.ID, consultant.UserID, &past, "")
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestAcceptAfterExpiryIsNotRespondable(t *testing.T) {
	db := setupTestDB(t)

	clock := time.Now()
	svc := NewService(db, testConfig(), func() time.Time { return clock }, nil)

	consultant := seedConsultant(t, db, 1)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.NoError(t, err)

	// Move the clock past the response window.
	clock = clock.Add(25 * time.Hour)

	_, err = svc.Accept(inv.ID, consultant.UserID, nil, "")
	require.ErrorIs(t, err, models.ErrNotRespondable)

	var unchanged models.ConsultationRequest
	require.NoError(t, db.First(&unchanged, req.ID).Error)
	require.Equal(t, models.RequestInvited, unchanged.Status)
}

func TestAcceptByWrongUserIsForbidden(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	consultant := seedConsultant(t, db, 1)
	other := seedConsultant(t, db, 2)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.NoError(t, err)

	_, err = svc.Accept(inv.ID, other.UserID, nil, "")
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestAcceptOnCancelledRequestRollsBack(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	consultant := seedConsultant(t, db, 1)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.ConsultationRequest{}).
		Where("id = ?", req.ID).
		Update("status", models.RequestCancelled).Error)

	_, err = svc.Accept(inv.ID, consultant.UserID, nil, "")
	require.ErrorIs(t, err, models.ErrNotRespondable)

	// The rollback must leave the invitation pending, not accepted.
	var reloaded models.Invitation
	require.NoError(t, db.First(&reloaded, inv.ID).Error)
	require.Equal(t, models.InvitationPending, reloaded.Status)
}

func TestDeclineLastPendingRevertsRequest(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	first := seedConsultant(t, db, 1)
	second := seedConsultant(t, db, 2)
	req := seedRequest(t, db, models.RequestInvited)

	firstInv, err := svc.Create(nil, req, first.ID, req.RequesterID, false)
	require.NoError(t, err)
	secondInv, err := svc.Create(nil, req, second.ID, req.RequesterID, false)
	require.NoError(t, err)

	updated, err := svc.Decline(firstInv.ID, first.UserID, "Overbooked")
	require.NoError(t, err)
	require.Equal(t, models.RequestInvited, updated.Status, "one pending sibling keeps the request invited")

	updated, err = svc.Decline(secondInv.ID, second.UserID, "Not my stack")
	require.NoError(t, err)
	require.Equal(t, models.RequestPending, updated.Status, "last decline re-opens the request")

	var declined models.Invitation
	require.NoError(t, db.First(&declined, secondInv.ID).Error)
	require.Equal(t, models.InvitationDeclined, declined.Status)
	require.Equal(t, "Not my stack", declined.DeclineReason)
	require.NotNil(t, declined.RespondedAt)
}

func TestDeclineTwiceIsNotRespondable(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testConfig(), nil, nil)

	consultant := seedConsultant(t, db, 1)
	req := seedRequest(t, db, models.RequestInvited)

	inv, err := svc.Create(nil, req, consultant.ID, req.RequesterID, false)
	require.NoError(t, err)

	_, err = svc.Decline(inv.ID, consultant.UserID, "")
	require.NoError(t, err)

	_, err = svc.Decline(inv.ID, consultant.UserID, "")
	require.ErrorIs(t, err, models.ErrNotRespondable)
}
