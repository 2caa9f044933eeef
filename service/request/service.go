package request

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/service/consultant"
	"github.com/devmatch/devmatch-server/service/invitation"
	"github.com/devmatch/devmatch-server/service/ledger"
	"github.com/devmatch/devmatch-server/service/matching"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service drives the consultation request state machine. The ledger
// and the request tables are independent atomic domains; this service
// sequences them (fee before create, refund after cancel) but never
// spans both in one transaction.
type Service struct {
	db          *gorm.DB
	cfg         *config.Config
	engine      *matching.Engine
	ledger      *ledger.Service
	invitations *invitation.Service
	notifier    invitation.Notifier
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(db *gorm.DB, cfg *config.Config, ledgerSvc *ledger.Service, invitationSvc *invitation.Service, notifier invitation.Notifier, logger *zap.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:          db,
		cfg:         cfg,
		engine:      matching.NewEngine(cfg.Scoring, now),
		ledger:      ledgerSvc,
		invitations: invitationSvc,
		notifier:    notifier,
		logger:      logger,
		now:         now,
	}
}

// Submit creates a new request after holding the submission fee. On a
// failed debit no request exists; on a failed create the fee is
// reversed.
func (s *Service) Submit(requesterID uint, problem string, requiredTags []string, errorLog string) (*models.ConsultationRequest, error) {
	if strings.TrimSpace(problem) == "" {
		return nil, fmt.Errorf("%w: problem description is required", models.ErrValidation)
	}
	if len(requiredTags) == 0 {
		return nil, fmt.Errorf("%w: at least one required technology tag", models.ErrValidation)
	}

	fee := s.cfg.SubmissionFeeTokens
	if fee > 0 {
		if _, err := s.ledger.Debit(requesterID, fee, "Consultation request submission fee", nil); err != nil {
			return nil, err
		}
	}

	req := models.ConsultationRequest{
		RequesterID:  requesterID,
		Problem:      problem,
		RequiredTags: pq.StringArray(requiredTags),
		ErrorLog:     errorLog,
		Status:       models.RequestPending,
	}
	if err := s.db.Create(&req).Error; err != nil {
		if fee > 0 {
			if _, cerr := s.ledger.Credit(requesterID, fee, models.TxAdjustment,
				"Submission fee reversal", "", nil, nil); cerr != nil {
				s.logger.Error("failed to reverse submission fee",
					zap.Uint("requester_id", requesterID), zap.Error(cerr))
			}
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return &req, nil
}

// MatchAndInvite ranks the eligible pool and fans invitations out to
// the top candidates. The pending-to-matching flip is status-guarded
// so two concurrent triggers cannot both fan out.
func (s *Service) MatchAndInvite(requestID, inviterID uint, surge, priority bool) ([]uint, error) {
	result := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status = ?", requestID, models.RequestPending).
		Update("status", models.RequestMatching)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		if err := s.db.First(&models.ConsultationRequest{}, requestID).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %d", models.ErrNotFound, requestID)
		}
		return nil, models.ErrNotRespondable
	}

	var req models.ConsultationRequest
	if err := s.db.First(&req, requestID).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	pool, err := consultant.EligiblePool(s.db, req.ExcludedConsultants)
	if err != nil {
		s.revertToPending(requestID)
		return nil, err
	}

	ranked := s.engine.Rank(req.RequiredTags, pool, priority)
	if len(ranked) > s.cfg.InvitationBatchSize {
		ranked = ranked[:s.cfg.InvitationBatchSize]
	}
	if len(ranked) == 0 {
		s.revertToPending(requestID)
		return []uint{}, nil
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		s.revertToPending(requestID)
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	created := make([]uint, 0, len(ranked))
	invited := make([]uint, 0, len(ranked))
	for _, scored := range ranked {
		inv, err := s.invitations.Create(tx, &req, scored.Candidate.ConsultantID, inviterID, surge)
		if errors.Is(err, models.ErrDuplicateInvitation) {
			continue
		}
		if err != nil {
			tx.Rollback()
			s.revertToPending(requestID)
			return nil, err
		}
		created = append(created, inv.ID)
		invited = append(invited, scored.Candidate.UserID)
	}

	if len(created) == 0 {
		tx.Rollback()
		s.revertToPending(requestID)
		return []uint{}, nil
	}

	if err := tx.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status = ?", requestID, models.RequestMatching).
		Update("status", models.RequestInvited).Error; err != nil {
		tx.Rollback()
		s.revertToPending(requestID)
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if err := tx.Commit().Error; err != nil {
		s.revertToPending(requestID)
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if s.notifier != nil {
		for _, userID := range invited {
			s.notifier.Notify(userID, "invitation.created", map[string]interface{}{
				"request_id": requestID,
			})
		}
	}
	return created, nil
}

// Shuffle discards the current invitation set, excludes every
// consultant it touched, and re-runs matching. Bounded by the
// configured maximum.
func (s *Service) Shuffle(requestID, actorID uint) ([]uint, error) {
	var req models.ConsultationRequest
	if err := s.db.First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %d", models.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if req.RequesterID != actorID {
		return nil, models.ErrForbidden
	}
	if req.Status != models.RequestInvited && req.Status != models.RequestMatched {
		return nil, models.ErrNotRespondable
	}
	if req.ShuffleCount >= s.cfg.MaxShuffles {
		return nil, fmt.Errorf("%w: shuffle limit of %d reached", models.ErrValidation, s.cfg.MaxShuffles)
	}

	var invitations []models.Invitation
	if err := s.db.Where("request_id = ?", requestID).Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	excluded := req.ExcludedConsultants
	for _, inv := range invitations {
		if !req.Excluded(inv.ConsultantID) {
			excluded = append(excluded, int64(inv.ConsultantID))
		}
	}
	if req.MatchedConsultantID != nil && !req.Excluded(*req.MatchedConsultantID) {
		excluded = append(excluded, int64(*req.MatchedConsultantID))
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	if err := tx.Model(&models.Invitation{}).
		Where("request_id = ? AND status = ?", requestID, models.InvitationPending).
		Update("status", models.InvitationExpired).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	result := tx.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status IN ?", requestID,
			[]string{models.RequestInvited, models.RequestMatched}).
		Updates(map[string]interface{}{
			"status":                models.RequestPending,
			"matched_consultant_id": nil,
			"proposed_time":         nil,
			"proposed_by":           nil,
			"excluded_consultants":  excluded,
			"shuffle_count":         gorm.Expr("shuffle_count + 1"),
		})
	if result.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, models.ErrNotRespondable
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	return s.MatchAndInvite(requestID, actorID, false, false)
}

// Cancel moves a non-terminal request to cancelled, forces its
// remaining pending invitations terminal, and refunds the submission
// fee. Works from any non-terminal state without leaving a dangling
// accepted invitation behind.
func (s *Service) Cancel(requestID, actorID uint, reason string) (*models.ConsultationRequest, error) {
	var req models.ConsultationRequest
	if err := s.db.First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %d", models.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if !s.isParty(&req, actorID) {
		return nil, models.ErrForbidden
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	result := tx.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status NOT IN ?", requestID,
			[]string{models.RequestCompleted, models.RequestCancelled}).
		Updates(map[string]interface{}{
			"status":        models.RequestCancelled,
			"cancel_reason": reason,
			"cancelled_by":  actorID,
		})
	if result.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, models.ErrNotRespondable
	}

	if err := tx.Model(&models.Invitation{}).
		Where("request_id = ? AND status = ?", requestID, models.InvitationPending).
		Update("status", models.InvitationExpired).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if s.cfg.SubmissionFeeTokens > 0 {
		if _, err := s.ledger.Credit(req.RequesterID, s.cfg.SubmissionFeeTokens, models.TxRefund,
			"Submission fee refund, request cancelled", "", nil, nil); err != nil {
			s.logger.Error("failed to refund submission fee",
				zap.Uint("request_id", requestID), zap.Error(err))
		}
	}

	if err := s.db.First(&req, requestID).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return &req, nil
}

func (s *Service) isParty(req *models.ConsultationRequest, actorID uint) bool {
	if req.RequesterID == actorID {
		return true
	}
	if req.MatchedConsultantID == nil {
		return false
	}
	var c models.Consultant
	if err := s.db.First(&c, *req.MatchedConsultantID).Error; err != nil {
		return false
	}
	return c.UserID == actorID
}

func (s *Service) revertToPending(requestID uint) {
	if err := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status = ?", requestID, models.RequestMatching).
		Update("status", models.RequestPending).Error; err != nil {
		s.logger.Error("failed to revert request to pending",
			zap.Uint("request_id", requestID), zap.Error(err))
	}
}
