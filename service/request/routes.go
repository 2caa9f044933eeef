package request

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/devmatch/devmatch-server/service/invitation"
	"github.com/devmatch/devmatch-server/service/ledger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	svc    *Service
	logger *zap.Logger
}

func NewHandler(db *gorm.DB, cfg *config.Config, ledgerSvc *ledger.Service, invitationSvc *invitation.Service, notifier invitation.Notifier, logger *zap.Logger) *Handler {
	return &Handler{
		db:     db,
		svc:    NewService(db, cfg, ledgerSvc, invitationSvc, notifier, logger, nil),
		logger: logger,
	}
}

func (h *Handler) Service() *Service {
	return h.svc
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/requests", utils.AuthMiddleware(h.SubmitRequest)).Methods("POST")
	router.HandleFunc("/requests", utils.AuthMiddleware(h.GetRequests)).Methods("GET")
	router.HandleFunc("/requests/{id}", utils.AuthMiddleware(h.GetRequest)).Methods("GET")
	router.HandleFunc("/requests/{id}/match", utils.AuthMiddleware(h.MatchAndInvite)).Methods("POST")
	router.HandleFunc("/requests/{id}/shuffle", utils.AuthMiddleware(h.Shuffle)).Methods("POST")
	router.HandleFunc("/requests/{id}/cancel", utils.AuthMiddleware(h.Cancel)).Methods("POST")
	router.HandleFunc("/requests/{id}/invitations", utils.AuthMiddleware(h.GetRequestInvitations)).Methods("GET")
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	requesterID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Problem      string   `json:"problem"`
		RequiredTags []string `json:"required_tags"`
		ErrorLog     string   `json:"error_log"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.svc.Submit(requesterID, req.Problem, req.RequiredTags, req.ErrorLog)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetRequests(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.ConsultationRequest{}).Where("requester_id = ?", userID)
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var requests []models.ConsultationRequest
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("created_at DESC").Find(&requests).Error; err != nil {
		http.Error(w, "Error retrieving requests", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"requests":    requests,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}

	var req models.ConsultationRequest
	if err := h.db.Preload("Invitations").Preload("MatchedConsultant").
		First(&req, requestID).Error; err != nil {
		http.Error(w, "Request not found", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, http.StatusOK, req)
}

// MatchAndInvite runs the matching engine over the eligible pool and
// fans out invitations. Surge asks for boosted-pay invitations;
// priority callers get their fan-out computed first.
func (h *Handler) MatchAndInvite(w http.ResponseWriter, r *http.Request) {
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

	surge := r.URL.Query().Get("surge") == "true"
	priority := r.URL.Query().Get("priority") == "true"

	invitationIDs, err := h.svc.MatchAndInvite(uint(requestID), actorID, surge, priority)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":     requestID,
		"invitation_ids": invitationIDs,
		"invited":        len(invitationIDs),
	})
}

func (h *Handler) Shuffle(w http.ResponseWriter, r *http.Request) {
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

	invitationIDs, err := h.svc.Shuffle(uint(requestID), actorID)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":     requestID,
		"invitation_ids": invitationIDs,
		"invited":        len(invitationIDs),
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cancelled, err := h.svc.Cancel(uint(requestID), actorID, req.Reason)
	if err != nil {
		if utils.ErrorStatus(err) == http.StatusForbidden {
			h.logger.Warn("cancel attempt by non-party",
				zap.Uint64("request_id", requestID), zap.Uint("actor_id", actorID))
		}
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":    cancelled.ID,
		"request_state": cancelled.Status,
	})
}

func (h *Handler) GetRequestInvitations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid request ID", http.StatusBadRequest)
		return
	}

	var invitations []models.Invitation
	if err := h.db.Where("request_id = ?", requestID).
		Order("invited_at ASC").Find(&invitations).Error; err != nil {
		http.Error(w, "Error retrieving invitations", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, invitations)
}
