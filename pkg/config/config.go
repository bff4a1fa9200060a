package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	Environment      string
	DatabasePath     string
	JWTSecret        string
	CORSOrigins      string
	MaxUploadSize    int64
	FileStoragePath  string
	DefaultAvatarURL string
	LogLevel         string
	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	SeedFilePath     string
}

func Load() *Config {
	// Optional env file for local development; godotenv never overrides
	// variables already present in the environment.
	if path := os.Getenv("CONCERTIFY_ENV_FILE"); path != "" {
		godotenv.Load(path)
	} else {
		godotenv.Load()
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		DatabasePath:     getEnv("DATABASE_PATH", "./data/concertify.db"),
		JWTSecret:        getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
		MaxUploadSize:    parseInt64(getEnv("MAX_UPLOAD_SIZE", "10485760")), // 10MB default
		FileStoragePath:  getEnv("FILE_STORAGE_PATH", "./data/uploads"),
		DefaultAvatarURL: getEnv("DEFAULT_AVATAR_URL", "/static/default-avatar.png"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		VAPIDPublicKey:   getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:  getEnv("VAPID_PRIVATE_KEY", ""),
		SeedFilePath:     getEnv("SEED_FILE_PATH", "./data/concerts.json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 10485760 // 10MB default
	}
	return val
}
