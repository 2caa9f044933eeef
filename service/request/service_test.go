package request

import (
	"fmt"
	"testing"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/service/invitation"
	"github.com/devmatch/devmatch-server/service/ledger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
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
		&models.Session{},
		&models.TokenBalance{},
		&models.TokenTransaction{},
	))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		InvitationWindowHours: 24,
		InvitationBatchSize:   2,
		MaxShuffles:           3,
		MaxProposalRounds:     10,
		SurgeMultiplier:       1.2,
		SubmissionFeeTokens:   10,
		Scoring: config.ScoringConfig{
			PerTagPoints:      30,
			TagCap:            60,
			AvailabilityBonus: 15,
			RatingCap:         25,
			ExperienceCap:     20,
			PriorityBonus:     1000,
		},
	}
}

type testStack struct {
	db      *gorm.DB
	ledger  *ledger.Service
	service *Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := setupTestDB(t)
	cfg := testConfig()
	ledgerSvc := ledger.NewService(db)
	invitationSvc := invitation.NewService(db, cfg, nil, nil)
	svc := NewService(db, cfg, ledgerSvc, invitationSvc, nil, zap.NewNop(), nil)
	return &testStack{db: db, ledger: ledgerSvc, service: svc}
}

func seedConsultant(t *testing.T, db *gorm.DB, userID uint, tags []string) *models.Consultant {
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
		Specializations: tags,
		ApprovalStatus:  models.ConsultantApproved,
		Available:       true,
	}
	require.NoError(t, db.Create(&consultant).Error)
	return &consultant
}

func fundRequester(t *testing.T, stack *testStack, userID uint, tokens int64) {
	t.Helper()
	_, err := stack.ledger.Credit(userID, tokens, models.TxPurchase, "Test top up", "", nil, nil)
	require.NoError(t, err)
}

func TestSubmitHoldsFee(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	req, err := stack.service.Submit(1, "Deadlock in checkout", []string{"go", "postgres"}, "goroutine dump...")
	require.NoError(t, err)
	require.Equal(t, models.RequestPending, req.Status)
	require.Equal(t, []string{"go", "postgres"}, []string(req.RequiredTags))

	balance, err := stack.ledger.Balance(1)
	require.NoError(t, err)
	require.Equal(t, int64(15), balance)
}

func TestSubmitWithInsufficientBalanceCreatesNothing(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 8)

	_, err := stack.service.Submit(1, "Deadlock in checkout", []string{"go"}, "")
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	balance, err := stack.ledger.Balance(1)
	require.NoError(t, err)
	require.Equal(t, int64(8), balance)

	var count int64
	require.NoError(t, stack.db.Model(&models.ConsultationRequest{}).Count(&count).Error)
	require.Zero(t, count, "failed submission must not leave a request behind")
}

func TestSubmitValidatesBeforeCharging(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	_, err := stack.service.Submit(1, "   ", []string{"go"}, "")
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = stack.service.Submit(1, "No tags at all", nil, "")
	require.ErrorIs(t, err, models.ErrValidation)

	balance, err := stack.ledger.Balance(1)
	require.NoError(t, err)
	require.Equal(t, int64(25), balance, "rejected submissions must not charge the fee")
}

func TestMatchAndInviteFansOutToTopCandidates(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	// Three eligible candidates; the batch size of two keeps the
	// weakest one out.
	seedConsultant(t, stack.db, 10, []string{"go", "postgres"})
	seedConsultant(t, stack.db, 11, []string{"go"})
	seedConsultant(t, stack.db, 12, []string{"go", "postgres"})
	seedConsultant(t, stack.db, 13, []string{"cobol"})

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go", "postgres"}, "")
	require.NoError(t, err)

	created, err := stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.NoError(t, err)
	require.Len(t, created, 2)

	var reloaded models.ConsultationRequest
	require.NoError(t, stack.db.First(&reloaded, req.ID).Error)
	require.Equal(t, models.RequestInvited, reloaded.Status)

	var invitations []models.Invitation
	require.NoError(t, stack.db.Where("request_id = ?", req.ID).Find(&invitations).Error)
	require.Len(t, invitations, 2)
	for _, inv := range invitations {
		require.Equal(t, models.InvitationPending, inv.Status)
	}
}

func TestMatchAndInviteWithEmptyPoolRevertsToPending(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	seedConsultant(t, stack.db, 10, []string{"cobol"})

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go"}, "")
	require.NoError(t, err)

	created, err := stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.NoError(t, err)
	require.Empty(t, created)

	var reloaded models.ConsultationRequest
	require.NoError(t, stack.db.First(&reloaded, req.ID).Error)
	require.Equal(t, models.RequestPending, reloaded.Status, "no candidates means the request stays open")
}

func TestMatchAndInviteRequiresPendingState(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	seedConsultant(t, stack.db, 10, []string{"go"})

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go"}, "")
	require.NoError(t, err)

	_, err = stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.NoError(t, err)

	// A second trigger hits the invited request and bounces.
	_, err = stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.ErrorIs(t, err, models.ErrNotRespondable)

	_, err = stack.service.MatchAndInvite(9999, 1, false, false)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestShuffleExcludesTriedConsultants(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	first := seedConsultant(t, stack.db, 10, []string{"go", "postgres"})
	second := seedConsultant(t, stack.db, 11, []string{"go", "postgres"})
	third := seedConsultant(t, stack.db, 12, []string{"go"})

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go", "postgres"}, "")
	require.NoError(t, err)

	created, err := stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.NoError(t, err)
	require.Len(t, created, 2)

	shuffled, err := stack.service.Shuffle(req.ID, 1)
	require.NoError(t, err)
	require.Len(t, shuffled, 1, "only the untried consultant is left")

	var reloaded models.ConsultationRequest
	require.NoError(t, stack.db.First(&reloaded, req.ID).Error)
	require.Equal(t, models.RequestInvited, reloaded.Status)
	require.Equal(t, 1, reloaded.ShuffleCount)
	require.True(t, reloaded.Excluded(first.ID))
	require.True(t, reloaded.Excluded(second.ID))
	require.False(t, reloaded.Excluded(third.ID))

	var expired int64
	require.NoError(t, stack.db.Model(&models.Invitation{}).
		Where("request_id = ? AND status = ?", req.ID, models.InvitationExpired).
		Count(&expired).Error)
	require.Equal(t, int64(2), expired, "the discarded batch goes terminal")

	var pending []models.Invitation
	require.NoError(t, stack.db.Where("request_id = ? AND status = ?", req.ID, models.InvitationPending).
		Find(&pending).Error)
	require.Len(t, pending, 1)
	require.Equal(t, third.ID, pending[0].ConsultantID)
}

func TestShuffleIsBounded(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	seedConsultant(t, stack.db, 10, []string{"go"})

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go"}, "")
	require.NoError(t, err)
	_, err = stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.NoError(t, err)

	require.NoError(t, stack.db.Model(&models.ConsultationRequest{}).
		Where("id = ?", req.ID).
		Update("shuffle_count", 3).Error)

	_, err = stack.service.Shuffle(req.ID, 1)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestShuffleIsRequesterOnly(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	seedConsultant(t, stack.db, 10, []string{"go"})

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go"}, "")
	require.NoError(t, err)
	_, err = stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.NoError(t, err)

	_, err = stack.service.Shuffle(req.ID, 99)
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestCancelExpiresInvitationsAndRefundsFee(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	seedConsultant(t, stack.db, 10, []string{"go"})

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go"}, "")
	require.NoError(t, err)
	_, err = stack.service.MatchAndInvite(req.ID, 1, false, false)
	require.NoError(t, err)

	cancelled, err := stack.service.Cancel(req.ID, 1, "Solved it myself")
	require.NoError(t, err)
	require.Equal(t, models.RequestCancelled, cancelled.Status)
	require.Equal(t, "Solved it myself", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledBy)
	require.Equal(t, uint(1), *cancelled.CancelledBy)

	var pending int64
	require.NoError(t, stack.db.Model(&models.Invitation{}).
		Where("request_id = ? AND status = ?", req.ID, models.InvitationPending).
		Count(&pending).Error)
	require.Zero(t, pending)

	balance, err := stack.ledger.Balance(1)
	require.NoError(t, err)
	require.Equal(t, int64(25), balance, "cancellation returns the submission fee")
}

func TestCancelIsIdempotentlyRejected(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go"}, "")
	require.NoError(t, err)

	_, err = stack.service.Cancel(req.ID, 1, "")
	require.NoError(t, err)

	_, err = stack.service.Cancel(req.ID, 1, "")
	require.ErrorIs(t, err, models.ErrNotRespondable)

	// The fee comes back exactly once.
	balance, err := stack.ledger.Balance(1)
	require.NoError(t, err)
	require.Equal(t, int64(25), balance)
}

func TestCancelByStrangerIsForbidden(t *testing.T) {
	stack := newTestStack(t)
	fundRequester(t, stack, 1, 25)

	req, err := stack.service.Submit(1, "Slow query on orders", []string{"go"}, "")
	require.NoError(t, err)

	_, err = stack.service.Cancel(req.ID, 99, "")
	require.ErrorIs(t, err, models.ErrForbidden)
}
