package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/cmd/utils"
	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

var pushTitles = map[string]string{
	"invitation.created":    "New consultation invitation",
	"invitation.accepted":   "Your request was accepted",
	"invitation.declined":   "An invitation was declined",
	"time.proposed":         "Meeting time proposed",
	"time.counter_proposed": "New meeting time proposed",
	"time.agreed":           "Meeting time confirmed",
}

// Notifier pushes events over every channel a user has: open
// websockets, registered Expo devices, and email for invitations.
// Delivery is best-effort and asynchronous; core transitions never
// wait on it.
type Notifier struct {
	db         *gorm.DB
	cfg        *config.Config
	hub        *Hub
	expoClient *expo.PushClient
	logger     *zap.Logger
}

func NewNotifier(db *gorm.DB, cfg *config.Config, hub *Hub, logger *zap.Logger) *Notifier {
	return &Notifier{
		db:         db,
		cfg:        cfg,
		hub:        hub,
		expoClient: expo.NewPushClient(nil),
		logger:     logger,
	}
}

func (n *Notifier) Notify(userID uint, event string, payload map[string]interface{}) {
	go n.deliver(userID, event, payload)
}

func (n *Notifier) deliver(userID uint, event string, payload map[string]interface{}) {
	body, err := json.Marshal(map[string]interface{}{
		"event":   event,
		"payload": payload,
		"sent_at": time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("failed to encode notification", zap.Error(err))
		return
	}

	if n.hub != nil {
		n.hub.Push(userID, body)
	}

	n.sendPush(userID, event)

	if event == "invitation.created" && n.cfg.SMTPHost != "" {
		n.sendEmail(userID)
	}
}

func (n *Notifier) sendPush(userID uint, event string) {
	title, ok := pushTitles[event]
	if !ok {
		return
	}

	var devices []models.Device
	if err := n.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		n.logger.Error("failed to load devices", zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	for _, device := range devices {
		token, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			continue
		}
		_, err = n.expoClient.Publish(&expo.PushMessage{
			To:       []expo.ExponentPushToken{token},
			Title:    title,
			Body:     "Open DevMatch to respond",
			Sound:    "default",
			Priority: expo.DefaultPriority,
		})
		if err != nil {
			n.logger.Warn("push delivery failed",
				zap.Uint("user_id", userID), zap.Error(err))
		}
	}
}

func (n *Notifier) sendEmail(userID uint) {
	var user models.User
	if err := n.db.First(&user, userID).Error; err != nil {
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.SMTPUser)
	m.SetHeader("To", user.Email)
	m.SetHeader("Subject", "You have a new consultation invitation")
	m.SetBody("text/plain",
		"A requester needs help with a problem matching your specializations. "+
			"Log in to DevMatch to accept or decline before the invitation expires.")

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		n.logger.Warn("invitation email failed",
			zap.Uint("user_id", userID), zap.Error(err))
	}
}

// Handler registers device management and the websocket stream.
type Handler struct {
	db  *gorm.DB
	hub *Hub
}

func NewHandler(db *gorm.DB, hub *Hub) *Handler {
	return &Handler{db: db, hub: hub}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", utils.AuthMiddleware(h.RegisterDevice)).Methods("POST")
	router.HandleFunc("/ws", utils.AuthMiddleware(h.hub.ServeWS)).Methods("GET")
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if device.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}
	if _, err := expo.NewExponentPushToken(device.Token); err != nil {
		http.Error(w, "Invalid Expo push token format", http.StatusBadRequest)
		return
	}

	device.UserID = userID
	device.LastSeenAt = time.Now()

	var existing models.Device
	if err := h.db.Where("token = ? AND user_id = ?", device.Token, userID).First(&existing).Error; err == nil {
		existing.DeviceType = device.DeviceType
		existing.DeviceName = device.DeviceName
		existing.LastSeenAt = device.LastSeenAt
		if err := h.db.Save(&existing).Error; err != nil {
			http.Error(w, "Error updating device", http.StatusInternalServerError)
			return
		}
		device = existing
	} else {
		if err := h.db.Create(&device).Error; err != nil {
			http.Error(w, "Error creating device", http.StatusInternalServerError)
			return
		}
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}
