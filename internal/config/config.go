package config

import (
	"os"
	"strconv"
	"time"

	"github.com/suPer8Hu/chatstore/internal/ratelimit"
)

type Config struct {
	HTTPAddr  string
	DBDSN     string
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// "memory" (default) or "redis"
	RateLimitBackend string

	ChatLimit            int
	ChatWindowSecs       int
	FileUploadLimit      int
	FileUploadWindowSecs int
	AudioLimit           int
	AudioWindowSecs      int
	AuthLimit            int
	AuthWindowSecs       int

	MaxCachedSessions int
	HistoryLimit      int

	RabbitURL   string
	RabbitQueue string
	Responder   string

	LogLevel  string
	LogFormat string
}

func Load() Config {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		// embedded sqlite file; mysql DSNs are accepted too
		dsn = "file:chatstore.db?_pragma=busy_timeout(5000)"
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "reply_jobs"
	}

	responder := os.Getenv("RESPONDER")
	if responder == "" {
		responder = "echo"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "console"
	}

	backend := os.Getenv("RATE_LIMIT_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	return Config{
		HTTPAddr:  addr,
		DBDSN:     dsn,
		JWTSecret: secret,

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		RateLimitBackend: backend,

		ChatLimit:            envInt("RATE_CHAT_MAX", 30),
		ChatWindowSecs:       envInt("RATE_CHAT_WINDOW_SECS", 60),
		FileUploadLimit:      envInt("RATE_FILE_UPLOAD_MAX", 10),
		FileUploadWindowSecs: envInt("RATE_FILE_UPLOAD_WINDOW_SECS", 300),
		AudioLimit:           envInt("RATE_AUDIO_MAX", 20),
		AudioWindowSecs:      envInt("RATE_AUDIO_WINDOW_SECS", 60),
		AuthLimit:            envInt("RATE_AUTH_MAX", 5),
		AuthWindowSecs:       envInt("RATE_AUTH_WINDOW_SECS", 300),

		MaxCachedSessions: envInt("MAX_CACHED_SESSIONS", 100),
		HistoryLimit:      envInt("HISTORY_LIMIT", 50),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,
		Responder:   responder,

		LogLevel:  logLevel,
		LogFormat: logFormat,
	}
}

// RateLimits assembles the per-class quotas.
func (c Config) RateLimits() map[ratelimit.Class]ratelimit.Limit {
	return map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassChat:       {Max: c.ChatLimit, Window: time.Duration(c.ChatWindowSecs) * time.Second},
		ratelimit.ClassFileUpload: {Max: c.FileUploadLimit, Window: time.Duration(c.FileUploadWindowSecs) * time.Second},
		ratelimit.ClassAudio:      {Max: c.AudioLimit, Window: time.Duration(c.AudioWindowSecs) * time.Second},
		ratelimit.ClassAuth:       {Max: c.AuthLimit, Window: time.Duration(c.AuthWindowSecs) * time.Second},
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
