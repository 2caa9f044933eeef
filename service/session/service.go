package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/service/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns billable sessions. A session is created when a request
// reaches scheduled, gains a meeting reference at provisioning, and is
// billed per minute at completion through the token ledger.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service, logger *zap.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, ledger: ledgerSvc, logger: logger, now: now}
}

// CreateForRequest provisions the session record behind a freshly
// scheduled request. Idempotent per request.
func (s *Service) CreateForRequest(request *models.ConsultationRequest) error {
	if request.MatchedConsultantID == nil || request.AgreedTime == nil {
		return fmt.Errorf("%w: request %d has no agreed match", models.ErrValidation, request.ID)
	}

	var existing models.Session
	err := s.db.Where("request_id = ?", request.ID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	session := models.Session{
		RequestID:    request.ID,
		RequesterID:  request.RequesterID,
		ConsultantID: *request.MatchedConsultantID,
		ScheduledAt:  *request.AgreedTime,
		Status:       models.SessionCreated,
	}
	if err := s.db.Create(&session).Error; err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return nil
}

// Provision attaches an external meeting reference and marks both the
// session and its request ready.
func (s *Service) Provision(sessionID uint) (*models.Session, error) {
	meetingRef := "meet-" + uuid.NewString()

	result := s.db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionCreated).
		Updates(map[string]interface{}{
			"status":      models.SessionReady,
			"meeting_ref": meetingRef,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotRespondable
	}

	session, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status = ?", session.RequestID, models.RequestScheduled).
		Updates(map[string]interface{}{
			"status":      models.RequestReady,
			"meeting_ref": meetingRef,
		}).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return session, nil
}

// Start marks the meeting as begun.
func (s *Service) Start(sessionID, actorID uint) (*models.Session, error) {
	session, err := s.loadForParty(sessionID, actorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := s.db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionReady).
		Updates(map[string]interface{}{
			"status":     models.SessionInProgress,
			"started_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotRespondable
	}

	if err := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status = ?", session.RequestID, models.RequestReady).
		Update("status", models.RequestInProgress).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return s.load(sessionID)
}

// Complete closes the session and bills the requester one token per
// minute. The in-progress-to-completed flip is the mutex: of two
// concurrent completes only one proceeds to bill. If the debit is
// rejected the session stays completed with zero charged tokens and
// the failure is logged for reconciliation.
func (s *Service) Complete(sessionID, actorID uint, minutes int) (*models.Session, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", models.ErrValidation)
	}

	session, err := s.loadForParty(sessionID, actorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := s.db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionInProgress).
		Updates(map[string]interface{}{
			"status":   models.SessionCompleted,
			"ended_at": now,
			"minutes":  minutes,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotRespondable
	}

	charge := int64(minutes)
	if _, err := s.ledger.Debit(session.RequesterID, charge,
		fmt.Sprintf("Consultation session %d, %d minutes", sessionID, minutes), &session.ID); err != nil {
		s.logger.Error("failed to bill completed session",
			zap.Uint("session_id", sessionID), zap.Error(err))
	} else {
		if err := s.db.Model(&models.Session{}).Where("id = ?", sessionID).
			Update("charged_tokens", charge).Error; err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
		}
	}

	if err := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status = ?", session.RequestID, models.RequestInProgress).
		Update("status", models.RequestCompleted).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if err := s.db.Model(&models.Consultant{}).
		Where("id = ?", session.ConsultantID).
		Update("completed_sessions", gorm.Expr("completed_sessions + 1")).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	return s.load(sessionID)
}

// Refund reverses a completed session's charge and marks the session
// refunded.
func (s *Service) Refund(sessionID, actorID uint) (*models.Session, error) {
	if _, err := s.loadForParty(sessionID, actorID); err != nil {
		return nil, err
	}

	if _, err := s.ledger.RefundSession(sessionID, ""); err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionCompleted).
		Update("status", models.SessionRefunded).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return s.load(sessionID)
}

// Rate records the requester's 1-5 rating for a completed session and
// folds it into the consultant's cached aggregates.
func (s *Service) Rate(sessionID, actorID uint, rating float64, comment string) (*models.Rating, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", models.ErrValidation)
	}

	session, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	if session.RequesterID != actorID {
		return nil, models.ErrForbidden
	}
	if session.Status != models.SessionCompleted {
		return nil, models.ErrNotRespondable
	}

	var existing models.Rating
	if err := s.db.Where("session_id = ?", sessionID).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("%w: session already rated", models.ErrValidation)
	}

	entry := models.Rating{
		UserID:       actorID,
		ConsultantID: session.ConsultantID,
		SessionID:    sessionID,
		Rating:       rating,
		Comment:      comment,
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}
	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if err := tx.Model(&models.Consultant{}).
		Where("id = ?", session.ConsultantID).
		Updates(map[string]interface{}{
			"average_rating": gorm.Expr("(average_rating * total_ratings + ?) / (total_ratings + 1)", rating),
			"total_ratings":  gorm.Expr("total_ratings + 1"),
		}).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	return &entry, nil
}

func (s *Service) load(sessionID uint) (*models.Session, error) {
	var session models.Session
	if err := s.db.First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %d", models.ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return &session, nil
}

func (s *Service) loadForParty(sessionID, actorID uint) (*models.Session, error) {
	session, err := s.load(sessionID)
	if err != nil {
		return nil, err
	}
	if session.RequesterID == actorID {
		return session, nil
	}
	var c models.Consultant
	if err := s.db.First(&c, session.ConsultantID).Error; err == nil && c.UserID == actorID {
		return session, nil
	}
	return nil, models.ErrForbidden
}
