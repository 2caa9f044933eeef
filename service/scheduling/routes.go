package scheduling

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/devmatch/devmatch-server/service/invitation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(db *gorm.DB, cfg *config.Config, sessions SessionCreator, notifier invitation.Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    NewService(db, cfg, nil, sessions, notifier, logger),
		logger: logger,
	}
}

func (h *Handler) Service() *Service {
	return h.svc
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/requests/{id}/propose", utils.AuthMiddleware(h.Propose)).Methods("POST")
	router.HandleFunc("/requests/{id}/counter-propose", utils.AuthMiddleware(h.CounterPropose)).Methods("POST")
	router.HandleFunc("/requests/{id}/accept-time", utils.AuthMiddleware(h.AcceptProposed)).Methods("POST")
}

func (h *Handler) Propose(w http.ResponseWriter, r *http.Request) {
	h.negotiate(w, r, func(requestID, actorID uint, body negotiationBody) (*models.ConsultationRequest, error) {
		if body.Time == nil {
			return nil, nil
		}
		return h.svc.Propose(requestID, actorID, *body.Time, body.Message)
	})
}

func (h *Handler) CounterPropose(w http.ResponseWriter, r *http.Request) {
	h.negotiate(w, r, func(requestID, actorID uint, body negotiationBody) (*models.ConsultationRequest, error) {
		if body.Time == nil {
			return nil, nil
		}
		return h.svc.CounterPropose(requestID, actorID, *body.Time, body.Reason)
	})
}

func (h *Handler) AcceptProposed(w http.ResponseWriter, r *http.Request) {
	h.negotiate(w, r, func(requestID, actorID uint, body negotiationBody) (*models.ConsultationRequest, error) {
		return h.svc.AcceptProposed(requestID, actorID)
	})
}

type negotiationBody struct {
	Time    *time.Time `json:"time"`
	Message string     `json:"message"`
	Reason  string     `json:"reason"`
}

func (h *Handler) negotiate(w http.ResponseWriter, r *http.Request, op func(uint, uint, negotiationBody) (*models.ConsultationRequest, error)) {
	actorID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	requestID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}

	var body negotiationBody
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	request, err := op(uint(requestID), actorID, body)
	if err != nil {
		if utils.ErrorStatus(err) == http.StatusForbidden {
			h.logger.Warn("negotiation attempt by non-party",
				zap.Uint64("request_id", requestID), zap.Uint("actor_id", actorID))
		}
		utils.WriteServiceError(w, err)
		return
	}
	if request == nil {
		http.Error(w, "A proposed time is required", http.StatusBadRequest)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":      request.ID,
		"request_state":   request.Status,
		"proposed_time":   request.ProposedTime,
		"agreed_time":     request.AgreedTime,
		"proposal_rounds": request.ProposalRounds,
	})
}
