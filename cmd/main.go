package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devmatch/devmatch-server/cmd/api"
	"github.com/devmatch/devmatch-server/cmd/config"
	"github.com/devmatch/devmatch-server/cmd/models"
	"github.com/devmatch/devmatch-server/db"
	"github.com/devmatch/devmatch-server/service/sweeper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations()
			return
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer()
}

func runMigrations() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		log.Fatalf("Migration error: %v", err)
	}
	log.Println("Migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {
	migrations := map[interface{}]string{
		&models.User{}:                "User",
		&models.Consultant{}:          "Consultant",
		&models.AvailabilityWindow{}:  "AvailabilityWindow",
		&models.ConsultationRequest{}: "ConsultationRequest",
		&models.Invitation{}:          "Invitation",
		&models.Session{}:             "Session",
		&models.Rating{}:              "Rating",
		&models.TokenBalance{}:        "TokenBalance",
		&models.TokenTransaction{}:    "TokenTransaction",
		&models.TokenPackage{}:        "TokenPackage",
		&models.Device{}:              "Device",
	}

	log.Println("Starting database migrations...")
	for model, name := range migrations {
		log.Printf("Migrating %s table...", name)
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
		log.Printf("%s migration successful", name)
	}
	return nil
}

func startServer() {
	cfg := config.Load()

	logger := newLogger()
	defer logger.Sync()

	DB, err := db.NewPSQLStorage()
	if err != nil {
		logger.Fatal("Database initialization error", zap.Error(err))
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		logger.Info("Database connection closed")
	}()
	logger.Info("Connected to the database")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := sweeper.New(DB, time.Duration(cfg.SweepIntervalMinutes)*time.Minute, nil, logger)
	sw.Start(ctx)
	defer sw.Stop()

	server := api.NewApiServer(":"+cfg.ServerPort, DB, cfg, logger, sw)
	go func() {
		if err := server.Run(); err != nil {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()
	logger.Info("Server running", zap.String("port", cfg.ServerPort))

	<-quit
	logger.Info("Shutting down server...")
}

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if os.Getenv("ENV") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Logger initialization error: %v", err)
	}
	return logger
}
