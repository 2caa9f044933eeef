package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries every tunable the matching, invitation, negotiation
// and ledger services read. Values come from the environment with the
// defaults below; a .env file is honoured when present.
type Config struct {
	ServerPort string
	DBURL      string
	SecretKey  string

	InvitationWindowHours int
	InvitationBatchSize   int
	MaxShuffles           int
	MaxProposalRounds     int
	SurgeMultiplier       float64
	SubmissionFeeTokens   int64
	SweepIntervalMinutes  int

	Scoring ScoringConfig

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
}

// ScoringConfig caps each component of the matching score
// independently. Tag overlap carries the largest cap.
type ScoringConfig struct {
	PerTagPoints      int
	TagCap            int
	AvailabilityBonus int
	RatingCap         int
	ExperienceCap     int
	PriorityBonus     int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		ServerPort: envString("SERVER_PORT", "8080"),
		DBURL:      os.Getenv("DB_URL"),
		SecretKey:  os.Getenv("SECRET_KEY"),

		InvitationWindowHours: envInt("INVITATION_WINDOW_HOURS", 24),
		InvitationBatchSize:   envInt("INVITATION_BATCH_SIZE", 5),
		MaxShuffles:           envInt("MAX_SHUFFLES", 3),
		MaxProposalRounds:     envInt("MAX_PROPOSAL_ROUNDS", 10),
		SurgeMultiplier:       envFloat("SURGE_MULTIPLIER", 1.2),
		SubmissionFeeTokens:   int64(envInt("SUBMISSION_FEE_TOKENS", 10)),
		SweepIntervalMinutes:  envInt("SWEEP_INTERVAL_MINUTES", 60),

		Scoring: ScoringConfig{
			PerTagPoints:      envInt("SCORE_PER_TAG_POINTS", 30),
			TagCap:            envInt("SCORE_TAG_CAP", 60),
			AvailabilityBonus: envInt("SCORE_AVAILABILITY_BONUS", 15),
			RatingCap:         envInt("SCORE_RATING_CAP", 25),
			ExperienceCap:     envInt("SCORE_EXPERIENCE_CAP", 20),
			PriorityBonus:     envInt("SCORE_PRIORITY_BONUS", 1000),
		},

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: envInt("SMTP_PORT", 587),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid value for %s, using default %d", key, fallback)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("Invalid value for %s, using default %v", key, fallback)
	}
	return fallback
}
