package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/corbeau/nftmarket/internal/log"
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	JwtSecret   string
	LogPath     string
	Debug       bool
	DevMode     bool
}

func Init() {
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().With(zap.Error(err)).Warn("No .env file found, using environment")
	}

	initLogger()
}

func initLogger() {
	cfg := Get()
	log.NewLogger(cfg.LogPath, cfg.Debug)
}

func Get() *Config {
	return &Config{
		Env:         getString("ENV", "dev"),
		Port:        getString("PORT", "8080"),
		DatabaseURL: getString("DATABASE_URL", ""),
		JwtSecret:   getString("JWT_SECRET", "dev-secret-change-me"),
		LogPath:     getString("LOG_PATH", "./var/marketd.log"),
		Debug:       getBool("DEBUG", false),
		DevMode:     getBool("DEV_MODE", true),
	}
}

func getString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	valStr := getString(key, "")
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}

	return defaultValue
}
