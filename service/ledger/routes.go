package ledger

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	svc    *Service
	logger *zap.Logger
}

func NewHandler(db *gorm.DB, logger *zap.Logger) *Handler {
	return &Handler{db: db, svc: NewService(db), logger: logger}
}

func (h *Handler) Service() *Service {
	return h.svc
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/wallet", utils.AuthMiddleware(h.GetWallet)).Methods("GET")
	router.HandleFunc("/wallet/transactions", utils.AuthMiddleware(h.GetTransactions)).Methods("GET")
	router.HandleFunc("/ledger/credit", utils.AuthMiddleware(h.Credit)).Methods("POST")
	router.HandleFunc("/ledger/debit", utils.AuthMiddleware(h.Debit)).Methods("POST")
	router.HandleFunc("/ledger/refund", utils.AuthMiddleware(h.Refund)).Methods("POST")
	router.HandleFunc("/ledger/{userId}/verify", utils.AuthMiddleware(h.VerifyLedger)).Methods("GET")
	router.HandleFunc("/packages", h.GetPackages).Methods("GET")
	router.HandleFunc("/packages/{id}/purchase", utils.AuthMiddleware(h.PurchasePackage)).Methods("POST")
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := h.svc.Balance(userID)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
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

	query := h.db.Model(&models.TokenTransaction{}).Where("user_id = ?", userID)

	if kind := r.URL.Query().Get("kind"); kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var total int64
	query.Count(&total)

	var transactions []models.TokenTransaction
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("id DESC").Find(&transactions).Error; err != nil {
		http.Error(w, "Error retrieving transactions", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// requireAdmin authorizes the raw ledger mutations. Regular users
// touch balances only through the purchase and session flows.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil || user.Role != models.RoleAdmin {
		h.logger.Warn("ledger mutation by non-admin", zap.Uint("user_id", userID))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req struct {
		UserID      uint   `json:"user_id"`
		Amount      int64  `json:"amount"`
		Kind        string `json:"kind"`
		Description string `json:"description"`
		Reference   string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.svc.Credit(req.UserID, req.Amount, req.Kind, req.Description, req.Reference, nil, nil)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req struct {
		UserID      uint   `json:"user_id"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.svc.Debit(req.UserID, req.Amount, req.Description, nil)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req struct {
		SessionID   uint   `json:"session_id"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.svc.RefundSession(req.SessionID, req.Description)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["userId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if err := h.svc.Verify(uint(userID)); err != nil {
		h.logger.Warn("ledger verification failed", zap.Uint64("user_id", userID), zap.Error(err))
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"user_id":    userID,
			"consistent": false,
			"detail":     err.Error(),
		})
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"consistent": true,
	})
}

func (h *Handler) GetPackages(w http.ResponseWriter, r *http.Request) {
	var packages []models.TokenPackage
	if err := h.db.Where("active = ?", true).Order("tokens asc").Find(&packages).Error; err != nil {
		http.Error(w, "Error retrieving packages", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, packages)
}

// PurchasePackage credits a package's tokens after an external
// checkout completed. The payment reference ties the ledger entry
// back to the payment provider; checkout itself happens outside this
// service.
func (h *Handler) PurchasePackage(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	packageID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid package ID", http.StatusBadRequest)
		return
	}

	var req struct {
		PaymentReference string `json:"payment_reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var pkg models.TokenPackage
	if err := h.db.Where("id = ? AND active = ?", packageID, true).First(&pkg).Error; err != nil {
		http.Error(w, "Package not found", http.StatusNotFound)
		return
	}

	reference := req.PaymentReference
	if reference == "" {
		reference = "PKG-" + uuid.NewString()
	}

	pkgID := uint(packageID)
	entry, err := h.svc.Credit(userID, pkg.Tokens, models.TxPurchase,
		"Purchase of package "+pkg.Name, reference, &pkgID, nil)
	if err != nil {
		utils.WriteServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, entry)
}
