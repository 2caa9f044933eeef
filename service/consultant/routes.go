package consultant

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewHandler(db *gorm.DB, logger *zap.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/consultants", utils.AuthMiddleware(h.CreateConsultant)).Methods("POST")
	router.HandleFunc("/consultants", h.GetConsultants).Methods("GET")
	router.HandleFunc("/consultants/{id}", h.GetConsultant).Methods("GET")
	router.HandleFunc("/consultants/{id}", utils.AuthMiddleware(h.UpdateConsultant)).Methods("PUT")
	router.HandleFunc("/consultants/{id}/approve", utils.AuthMiddleware(h.ApproveConsultant)).Methods("POST")
	router.HandleFunc("/consultants/{id}/availability", utils.AuthMiddleware(h.SetAvailable)).Methods("PATCH")
	router.HandleFunc("/consultants/{id}/windows", utils.AuthMiddleware(h.ReplaceWindows)).Methods("PUT")
	router.HandleFunc("/consultants/{id}/windows", h.GetWindows).Methods("GET")
}

func (h *Handler) CreateConsultant(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Specializations []string `json:"specializations"`
		Bio             string   `json:"bio"`
		SurgeEligible   bool     `json:"surge_eligible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Specializations) == 0 {
		http.Error(w, "At least one specialization is required", http.StatusBadRequest)
		return
	}

	var existing models.Consultant
	if err := h.db.Where("user_id = ?", userID).First(&existing).Error; err == nil {
		http.Error(w, "Consultant profile already exists", http.StatusConflict)
		return
	}

	consultant := models.Consultant{
		UserID:          userID,
		Specializations: pq.StringArray(req.Specializations),
		Bio:             req.Bio,
		ApprovalStatus:  models.ConsultantPending,
		SurgeEligible:   req.SurgeEligible,
	}
	if err := h.db.Create(&consultant).Error; err != nil {
		http.Error(w, "Error creating consultant", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, consultant)
}

func (h *Handler) GetConsultants(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.Consultant{}).Preload("AvailabilityWindows")

	if status := r.URL.Query().Get("approval_status"); status != "" {
		query = query.Where("approval_status = ?", status)
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		query = query.Where("? = ANY(specializations)", tag)
	}
	if available := r.URL.Query().Get("available"); available != "" {
		query = query.Where("available = ?", available == "true")
	}

	var total int64
	query.Count(&total)

	var consultants []models.Consultant
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("average_rating DESC, id ASC").Find(&consultants).Error; err != nil {
		http.Error(w, "Error retrieving consultants", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"consultants": consultants,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *Handler) GetConsultant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var consultant models.Consultant
	if err := h.db.Preload("AvailabilityWindows").First(&consultant, consultantID).Error; err != nil {
		http.Error(w, "Consultant not found", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, http.StatusOK, consultant)
}

func (h *Handler) UpdateConsultant(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var consultant models.Consultant
	if err := h.db.First(&consultant, consultantID).Error; err != nil {
		http.Error(w, "Consultant not found", http.StatusNotFound)
		return
	}
	if consultant.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req struct {
		Specializations []string `json:"specializations"`
		Bio             string   `json:"bio"`
		SurgeEligible   *bool    `json:"surge_eligible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Specializations) > 0 {
		consultant.Specializations = pq.StringArray(req.Specializations)
	}
	if req.Bio != "" {
		consultant.Bio = req.Bio
	}
	if req.SurgeEligible != nil {
		consultant.SurgeEligible = *req.SurgeEligible
	}

	if err := h.db.Save(&consultant).Error; err != nil {
		http.Error(w, "Error updating consultant", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, consultant)
}

// ApproveConsultant flips a pending consultant to approved. Exposed to
// the admin surface; the matching pool only ever sees approved
// consultants.
func (h *Handler) ApproveConsultant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		req.Status = models.ConsultantApproved
	}
	if req.Status != models.ConsultantApproved && req.Status != models.ConsultantSuspended {
		http.Error(w, "Status must be approved or suspended", http.StatusBadRequest)
		return
	}

	result := h.db.Model(&models.Consultant{}).Where("id = ?", consultantID).
		Update("approval_status", req.Status)
	if result.Error != nil {
		http.Error(w, "Error updating consultant", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Consultant not found", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Consultant status updated",
	})
}

func (h *Handler) SetAvailable(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := h.db.Model(&models.Consultant{}).
		Where("id = ? AND user_id = ?", consultantID, userID).
		Update("available", req.Available)
	if result.Error != nil {
		http.Error(w, "Error updating availability", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Consultant not found", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"consultant_id": consultantID,
		"available":     req.Available,
	})
}

func (h *Handler) ReplaceWindows(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var consultant models.Consultant
	if err := h.db.First(&consultant, consultantID).Error; err != nil {
		http.Error(w, "Consultant not found", http.StatusNotFound)
		return
	}
	if consultant.UserID != userID {
		h.logger.Warn("window replacement by non-owner",
			zap.Uint("consultant_id", consultant.ID), zap.Uint("actor_id", userID))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var windows []models.AvailabilityWindow
	if err := json.NewDecoder(r.Body).Decode(&windows); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := ReplaceWindows(h.db, consultant.ID, windows); err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	var saved []models.AvailabilityWindow
	h.db.Where("consultant_id = ?", consultant.ID).Find(&saved)
	utils.WriteJSON(w, http.StatusOK, saved)
}

func (h *Handler) GetWindows(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	consultantID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid consultant ID", http.StatusBadRequest)
		return
	}

	var windows []models.AvailabilityWindow
	if err := h.db.Where("consultant_id = ?", consultantID).Find(&windows).Error; err != nil {
		http.Error(w, "Error retrieving windows", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, windows)
}
