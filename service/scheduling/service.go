package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/service/invitation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionCreator provisions the billable session once both parties
// agree on a time. Wired to the session service; the negotiation
// itself never bills.
type SessionCreator interface {
	CreateForRequest(request *models.ConsultationRequest) error
}

// Service runs the time negotiation between the requester and the
// matched consultant. Every transition is a status-guarded update on
// the request row.
type Service struct {
	db       *gorm.DB
	cfg      *config.Config
	now      func() time.Time
	sessions SessionCreator
	notifier invitation.Notifier
	logger   *zap.Logger
}

func NewService(db *gorm.DB, cfg *config.Config, now func() time.Time, sessions SessionCreator, notifier invitation.Notifier, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, cfg: cfg, now: now, sessions: sessions, notifier: notifier, logger: logger}
}

// Propose sets the first meeting time on a request that was matched
// without one.
func (s *Service) Propose(requestID, actorID uint, newTime time.Time, message string) (*models.ConsultationRequest, error) {
	req, err := s.loadForParty(requestID, actorID)
	if err != nil {
		return nil, err
	}
	if !newTime.After(s.now()) {
		return nil, fmt.Errorf("%w: proposed time must be in the future", models.ErrValidation)
	}

	result := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status = ?", requestID, models.RequestMatched).
		Updates(map[string]interface{}{
			"status":        models.RequestTimeProposed,
			"proposed_time": newTime,
			"proposed_by":   actorID,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotRespondable
	}

	s.notifyOther(req, actorID, "time.proposed", newTime)
	return s.reload(requestID)
}

// CounterPropose replaces the live proposal with a new time and
// increments the round counter. Rounds are capped; past the cap the
// parties either accept what is on the table or cancel.
func (s *Service) CounterPropose(requestID, actorID uint, newTime time.Time, reason string) (*models.ConsultationRequest, error) {
	req, err := s.loadForParty(requestID, actorID)
	if err != nil {
		return nil, err
	}
	if !newTime.After(s.now()) {
		return nil, fmt.Errorf("%w: proposed time must be in the future", models.ErrValidation)
	}
	if req.ProposalRounds >= s.cfg.MaxProposalRounds {
		return nil, fmt.Errorf("%w: negotiation round limit of %d reached", models.ErrValidation, s.cfg.MaxProposalRounds)
	}

	result := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status IN ? AND proposal_rounds < ?", requestID,
			[]string{models.RequestTimeProposed, models.RequestTimeCounterProposed},
			s.cfg.MaxProposalRounds).
		Updates(map[string]interface{}{
			"status":          models.RequestTimeCounterProposed,
			"proposed_time":   newTime,
			"proposed_by":     actorID,
			"proposal_rounds": gorm.Expr("proposal_rounds + 1"),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotRespondable
	}

	s.notifyOther(req, actorID, "time.counter_proposed", newTime)
	return s.reload(requestID)
}

// AcceptProposed locks in the time on the table. Only the party who
// did not make the live proposal can accept it. The update is pinned
// to the proposal that was read, so an accept racing a
// counter-proposal loses rather than locking in a superseded time.
// Agreement moves the request to scheduled and provisions the
// billable session.
func (s *Service) AcceptProposed(requestID, actorID uint) (*models.ConsultationRequest, error) {
	req, err := s.loadForParty(requestID, actorID)
	if err != nil {
		return nil, err
	}
	if req.ProposedBy == nil || req.ProposedTime == nil {
		return nil, models.ErrNotRespondable
	}
	if *req.ProposedBy == actorID {
		return nil, models.ErrNotRespondable
	}

	result := s.db.Model(&models.ConsultationRequest{}).
		Where("id = ? AND status IN ? AND proposed_by = ? AND proposal_rounds = ?", requestID,
			[]string{models.RequestTimeProposed, models.RequestTimeCounterProposed},
			*req.ProposedBy, req.ProposalRounds).
		Updates(map[string]interface{}{
			"status":               models.RequestScheduled,
			"agreed_time":          *req.ProposedTime,
			"requester_confirmed":  true,
			"consultant_confirmed": true,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrNotRespondable
	}

	scheduled, err := s.reload(requestID)
	if err != nil {
		return nil, err
	}

	if s.sessions != nil {
		if err := s.sessions.CreateForRequest(scheduled); err != nil {
			s.logger.Error("failed to provision session for scheduled request",
				zap.Uint("request_id", requestID), zap.Error(err))
		}
	}

	s.notifyOther(scheduled, actorID, "time.agreed", *req.ProposedTime)
	return scheduled, nil
}

// loadForParty fetches the request and verifies the actor is one of
// its two parties. Anyone else is a Forbidden, logged by the caller.
func (s *Service) loadForParty(requestID, actorID uint) (*models.ConsultationRequest, error) {
	var req models.ConsultationRequest
	if err := s.db.First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %d", models.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if req.RequesterID == actorID {
		return &req, nil
	}
	if req.MatchedConsultantID != nil {
		var c models.Consultant
		if err := s.db.First(&c, *req.MatchedConsultantID).Error; err == nil && c.UserID == actorID {
			return &req, nil
		}
	}
	return nil, models.ErrForbidden
}

func (s *Service) reload(requestID uint) (*models.ConsultationRequest, error) {
	var req models.ConsultationRequest
	if err := s.db.First(&req, requestID).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return &req, nil
}

func (s *Service) notifyOther(req *models.ConsultationRequest, actorID uint, event string, t time.Time) {
	if s.notifier == nil {
		return
	}
	payload := map[string]interface{}{
		"request_id": req.ID,
		"time":       t,
	}
	if req.RequesterID != actorID {
		s.notifier.Notify(req.RequesterID, event, payload)
		return
	}
	if req.MatchedConsultantID != nil {
		var c models.Consultant
		if err := s.db.First(&c, *req.MatchedConsultantID).Error; err == nil {
			s.notifier.Notify(c.UserID, event, payload)
		}
	}
}
