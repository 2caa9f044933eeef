package session

import (
	"encoding/json"
	"net/http"
	"strconv"

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

func NewHandler(db *gorm.DB, svc *Service, logger *zap.Logger) *Handler {
	return &Handler{db: db, svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions/{id}", utils.AuthMiddleware(h.GetSession)).Methods("GET")
	router.HandleFunc("/sessions/{id}/provision", utils.AuthMiddleware(h.Provision)).Methods("POST")
	router.HandleFunc("/sessions/{id}/start", utils.AuthMiddleware(h.Start)).Methods("POST")
	router.HandleFunc("/sessions/{id}/complete", utils.AuthMiddleware(h.Complete)).Methods("POST")
	router.HandleFunc("/sessions/{id}/refund", utils.AuthMiddleware(h.Refund)).Methods("POST")
	router.HandleFunc("/sessions/{id}/rate", utils.AuthMiddleware(h.Rate)).Methods("POST")
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var session models.Session
	if err := h.db.Preload("Request").Preload("Consultant").First(&session, sessionID).Error; err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	session, err := h.svc.Provision(uint(sessionID))
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Start)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	sessionID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.svc.Complete(uint(sessionID), actorID, req.Minutes)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Refund)
}

func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	sessionID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Rating  float64 `json:"rating"`
		Comment string  `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rating, err := h.svc.Rate(uint(sessionID), actorID, req.Rating, req.Comment)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, rating)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(uint, uint) (*models.Session, error)) {
	actorID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	sessionID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	session, err := op(uint(sessionID), actorID)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, session)
}
