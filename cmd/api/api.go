package api

import (
	"net/http"

	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/service/consultant"
	"github.com/devmatch/devmatch-server/service/invitation"
	"github.com/devmatch/devmatch-server/service/ledger"
	"github.com/devmatch/devmatch-server/service/notify"
	"github.com/devmatch/devmatch-server/service/request"
	"github.com/devmatch/devmatch-server/service/scheduling"
	"github.com/devmatch/devmatch-server/service/session"
	"github.com/devmatch/devmatch-server/service/sweeper"
	"github.com/devmatch/devmatch-server/service/user"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
	cfg     *config.Config
	logger  *zap.Logger
	sweeper *sweeper.Sweeper
}

func NewApiServer(address string, db *gorm.DB, cfg *config.Config, logger *zap.Logger, sw *sweeper.Sweeper) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		cfg:     cfg,
		logger:  logger,
		sweeper: sw,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	hub := notify.NewHub(s.logger)
	notifier := notify.NewNotifier(s.db, s.cfg, hub, s.logger)

	userHandler := user.NewHandler(s.db, s.logger)
	userHandler.RegisterRoutes(subrouter)

	consultantHandler := consultant.NewHandler(s.db, s.logger)
	consultantHandler.RegisterRoutes(subrouter)

	ledgerHandler := ledger.NewHandler(s.db, s.logger)
	ledgerHandler.RegisterRoutes(subrouter)

	invitationHandler := invitation.NewHandler(s.db, s.cfg, s.logger, notifier)
	invitationHandler.RegisterRoutes(subrouter)

	requestHandler := request.NewHandler(s.db, s.cfg, ledgerHandler.Service(),
		invitationHandler.Service(), notifier, s.logger)
	requestHandler.RegisterRoutes(subrouter)

	sessionSvc := session.NewService(s.db, ledgerHandler.Service(), s.logger, nil)
	sessionHandler := session.NewHandler(s.db, sessionSvc, s.logger)
	sessionHandler.RegisterRoutes(subrouter)

	schedulingHandler := scheduling.NewHandler(s.db, s.cfg, sessionSvc, notifier, s.logger)
	schedulingHandler.RegisterRoutes(subrouter)

	notifyHandler := notify.NewHandler(s.db, hub)
	notifyHandler.RegisterRoutes(subrouter)

	sweepHandler := sweeper.NewHandler(s.sweeper)
	sweepHandler.RegisterRoutes(subrouter)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	s.logger.Info("Server running", zap.String("address", s.address))
	return http.ListenAndServe(s.address, cors(router))
}
