package sweeper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sweeper is the sole expiry trigger for invitations. It runs on a
// fixed cadence; its cadence is also its retry mechanism. Each
// transition is conditioned on current status, so concurrent sweeps,
// and a sweep racing a consultant's accept, serialize on the rows.
type Sweeper struct {
	db       *gorm.DB
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	stopChan chan struct{}
}

func New(db *gorm.DB, interval time.Duration, now func() time.Time, logger *zap.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		db:       db,
		interval: interval,
		now:      now,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context ends.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting invitation expiry sweeper",
		zap.Duration("interval", s.interval))
	go s.run(ctx)
}

func (s *Sweeper) Stop() {
	s.logger.Info("Stopping invitation expiry sweeper")
	close(s.stopChan)
}

func (s *Sweeper) run(ctx context.Context) {
	s.sweepAndLog()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepAndLog()
		case <-s.stopChan:
			s.logger.Info("Sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Sweeper cancelled")
			return
		}
	}
}

func (s *Sweeper) sweepAndLog() {
	expired, reverted, err := s.Sweep()
	if err != nil {
		s.logger.Error("Invitation sweep failed", zap.Error(err))
		return
	}
	if expired > 0 || reverted > 0 {
		s.logger.Info("Invitation sweep completed",
			zap.Int64("expired", expired),
			zap.Int64("requests_reverted", reverted))
	}
}

// Sweep expires every stale pending invitation, then drops any invited
// request whose invitation set became fully terminal without a winner
// back to pending. Idempotent: a second run over the same rows is a
// no-op.
func (s *Sweeper) Sweep() (expired int64, reverted int64, err error) {
	now := s.now()

	result := s.db.Model(&models.Invitation{}).
		Where("status = ? AND expires_at < ?", models.InvitationPending, now).
		Update("status", models.InvitationExpired)
	if result.Error != nil {
		return 0, 0, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	expired = result.RowsAffected

	result = s.db.Model(&models.ConsultationRequest{}).
		Where("status = ? AND NOT EXISTS (SELECT 1 FROM invitations WHERE invitations.request_id = consultation_requests.id AND invitations.status = ?)",
			models.RequestInvited, models.InvitationPending).
		Update("status", models.RequestPending)
	if result.Error != nil {
		return expired, 0, fmt.Errorf("%w: %v", models.ErrStorage, result.Error)
	}
	reverted = result.RowsAffected

	return expired, reverted, nil
}

// Handler exposes the sweep to the admin surface for out-of-cadence
// runs.
type Handler struct {
	sweeper *Sweeper
}

func NewHandler(sweeper *Sweeper) *Handler {
	return &Handler{sweeper: sweeper}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invitations/sweep", utils.AuthMiddleware(h.SweepNow)).Methods("POST")
}

func (h *Handler) SweepNow(w http.ResponseWriter, r *http.Request) {
	expired, reverted, err := h.sweeper.Sweep()
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"expired":           expired,
		"requests_reverted": reverted,
	})
}
