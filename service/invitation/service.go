package invitation

import (
	"errors"
	"fmt"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"gorm.io/gorm"
)

// Notifier delivers best-effort event notifications. Implementations
// must never block the calling transition.
type Notifier interface {
	Notify(userID uint, event string, payload map[string]interface{})
}

// Service owns the invitation lifecycle: pending is the only live
// state, and every transition out of it is a status-guarded update so
// concurrent responders and the expiry sweep serialize on the row
// itself.
type Service struct {
	db       *gorm.DB
	cfg      *config.Config
	now      func() time.Time
	notifier Notifier
}

func NewService(db *gorm.DB, cfg *config.Config, now func() time.Time, notifier Notifier) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, cfg: cfg, now: now, notifier: notifier}
}

// Create fans one invitation out to one consultant. A second live
// invitation for the same (request, consultant) pair is rejected.
// Surge invitations carry the configured pay multiplier.
func (s *Service) Create(tx *gorm.DB, request *models.ConsultationRequest, consultantID, inviterID uint, surge bool) (*models.Invitation, error) {
	if tx == nil {
		tx = s.db
	}

	var existing models.Invitation
	err := tx.Where("request_id = ? AND consultant_id = ? AND status = ?",
		request.ID, consultantID, models.InvitationPending).First(&existing).Error
	if err == nil {
		return nil, models.ErrDuplicateInvitation
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	now := s.now()
	inv := models.Invitation{
		RequestID:     request.ID,
		ConsultantID:  consultantID,
		InviterID:     inviterID,
		Status:        models.InvitationPending,
		Surge:         surge,
		PayMultiplier: 1.0,
		InvitedAt:     now,
		ExpiresAt:     now.Add(time.Duration(s.cfg.InvitationWindowHours) * time.Hour),
	}
	if surge {
		inv.PayMultiplier = s.cfg.SurgeMultiplier
	}

	if err := tx.Create(&inv).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return &inv, nil
}

// Accept converts a pending invitation into the request's match. In
// one transaction it flips the invitation to accepted, expires every
// pending sibling, and advances the request. The invitation flip is
// conditioned on its current status, so of N concurrent accepts on
// the same request exactly one commits; the rest observe
// ErrNotRespondable. With a proposed time the request enters
// negotiation directly; without one it parks at matched until a first
// proposal arrives.
func (s *Service) Accept(invitationID, actorID uint, proposedTime *time.Time, message string) (*models.ConsultationRequest, error) {
	var inv models.Invitation
	if err := s.db.Preload("Consultant").First(&inv, invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invitation %d", models.ErrNotFound, invitationID)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if inv.Consultant == nil || inv.Consultant.UserID != actorID {
		return nil, models.ErrForbidden
	}

	now := s.now()
	if proposedTime != nil && !proposedTime.After(now) {
		return nil, fmt.Errorf("%w: proposed time must be in the future", models.ErrValidation)
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	updates := map[string]interface{}{
		"status":           models.InvitationAccepted,
		"responded_at":     now,
		"proposal_message": message,
	}
	if proposedTime != nil {
		updates["proposed_time"] = *proposedTime
	}

	result := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ? AND expires_at > ?", inv.ID, models.InvitationPending, now).
		Updates(updates)
	if result.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, models.ErrNotRespondable
	}

	// The winner supersedes every pending sibling.
	if err := tx.Model(&models.Invitation{}).
		Where("request_id = ? AND id != ? AND status = ?", inv.RequestID, inv.ID, models.InvitationPending).
		Update("status", models.InvitationExpired).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	requestUpdates := map[string]interface{}{
		"matched_consultant_id": inv.ConsultantID,
	}
	if proposedTime != nil {
		requestUpdates["status"] = models.RequestTimeProposed
		requestUpdates["proposed_time"] = *proposedTime
		requestUpdates["proposed_by"] = actorID
	} else {
		requestUpdates["status"] = models.RequestMatched
	}

	result = tx.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status IN ?", inv.RequestID,
			[]string{models.RequestInvited, models.RequestMatched}).
		Updates(requestUpdates)
	if result.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		// Request was cancelled out from under the invitation.
		tx.Rollback()
		return nil, models.ErrNotRespondable
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	var request models.ConsultationRequest
	if err := s.db.First(&request, inv.RequestID).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if s.notifier != nil {
		s.notifier.Notify(request.RequesterID, "invitation.accepted", map[string]interface{}{
			"request_id":    request.ID,
			"invitation_id": inv.ID,
			"consultant_id": inv.ConsultantID,
		})
	}
	return &request, nil
}

// Decline turns a pending invitation down. When the last pending
// sibling goes, the request drops back to pending so it can be
// re-matched; an exhausted invitation set is the retry path, not an
// error.
func (s *Service) Decline(invitationID, actorID uint, reason string) (*models.ConsultationRequest, error) {
	var inv models.Invitation
	if err := s.db.Preload("Consultant").First(&inv, invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invitation %d", models.ErrNotFound, invitationID)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if inv.Consultant == nil || inv.Consultant.UserID != actorID {
		return nil, models.ErrForbidden
	}

	now := s.now()

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, tx.Error)
	}

	result := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ? AND expires_at > ?", inv.ID, models.InvitationPending, now).
		Updates(map[string]interface{}{
			"status":         models.InvitationDeclined,
			"responded_at":   now,
			"decline_reason": reason,
		})
	if result.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, models.ErrNotRespondable
	}

	var pending int64
	if err := tx.Model(&models.Invitation{}).
		Where("request_id = ? AND status = ?", inv.RequestID, models.InvitationPending).
		Count(&pending).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if pending == 0 {
		if err := tx.Model(&models.ConsultationRequest{}).
			Where("id = ? AND status = ?", inv.RequestID, models.RequestInvited).
			Update("status", models.RequestPending).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	var request models.ConsultationRequest
	if err := s.db.First(&request, inv.RequestID).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if s.notifier != nil {
		s.notifier.Notify(request.RequesterID, "invitation.declined", map[string]interface{}{
			"request_id":    request.ID,
			"invitation_id": inv.ID,
			"consultant_id": inv.ConsultantID,
		})
	}
	return &request, nil
}
