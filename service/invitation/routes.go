package invitation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	svc    *Service
	logger *zap.Logger
}

func NewHandler(db *gorm.DB, cfg *config.Config, logger *zap.Logger, notifier Notifier) *Handler {
	return &Handler{
		db:     db,
		svc:    NewService(db, cfg, nil, notifier),
		logger: logger,
	}
}

func (h *Handler) Service() *Service {
	return h.svc
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invitations/{id}", utils.AuthMiddleware(h.GetInvitation)).Methods("GET")
	router.HandleFunc("/invitations/{id}/respond", utils.AuthMiddleware(h.Respond)).Methods("POST")
	router.HandleFunc("/consultants/{consultantId}/invitations", utils.AuthMiddleware(h.GetConsultantInvitations)).Methods("GET")
}

func (h *Handler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	invitationID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid invitation ID", http.StatusBadRequest)
		return
	}

	var inv models.Invitation
	if err := h.db.Preload("Consultant").First(&inv, invitationID).Error; err != nil {
		http.Error(w, "Invitation not found", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, http.StatusOK, inv)
}

// Respond handles a consultant's answer to an invitation. Decision is
// "accept" or "decline"; accept may carry a first proposed meeting
// time plus a message, decline a reason.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	invitationID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid invitation ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Decision     string     `json:"decision"`
		ProposedTime *time.Time `json:"proposed_time"`
		Message      string     `json:"message"`
		Reason       string     `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var request *models.ConsultationRequest
	switch req.Decision {
	case "accept":
		request, err = h.svc.Accept(uint(invitationID), actorID, req.ProposedTime, req.Message)
	case "decline":
		request, err = h.svc.Decline(uint(invitationID), actorID, req.Reason)
	default:
		http.Error(w, "Decision must be accept or decline", http.StatusBadRequest)
		return
	}

	if err != nil {
		if utils.ErrorStatus(err) == http.StatusForbidden {
			h.logger.Warn("invitation response by non-party",
				zap.Uint64("invitation_id", invitationID), zap.Uint("actor_id", actorID))
		}
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":    request.ID,
		"request_state": request.Status,
	})
}

func (h *Handler) GetConsultantInvitations(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["consultantId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var consultant models.Consultant
	if err := h.db.First(&consultant, consultantID).Error; err != nil {
		http.Error(w, "Consultant not found", http.StatusNotFound)
		return
	}
	if consultant.UserID != actorID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	query := h.db.Model(&models.Invitation{}).
		Where("consultant_id = ?", consultantID).
		Preload("Request")
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var invitations []models.Invitation
	if err := query.Order("invited_at DESC").Find(&invitations).Error; err != nil {
		http.Error(w, "Error retrieving invitations", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, invitations)
}
