package main

import (
	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/chatstore/internal/chat"
	"github.com/suPer8Hu/chatstore/internal/config"
	"github.com/suPer8Hu/chatstore/internal/db"
	"github.com/suPer8Hu/chatstore/internal/httpapi"
	"github.com/suPer8Hu/chatstore/internal/logging"
	"github.com/suPer8Hu/chatstore/internal/queue"
	"github.com/suPer8Hu/chatstore/internal/ratelimit"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := chat.AutoMigrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewRedisSlidingWindow(client, "chatstore:ratelimit", cfg.RateLimits())
	default:
		limiter = ratelimit.NewSlidingWindow(cfg.RateLimits())
	}

	repo := chat.NewRepo(gdb)
	cache := chat.NewCache(cfg.MaxCachedSessions)
	svc := chat.NewService(repo, cache, limiter, chat.NewSearcher(repo), log,
		chat.WithHistoryLimit(cfg.HistoryLimit))

	var pub *queue.Publisher
	if cfg.RabbitURL != "" {
		pub, err = queue.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn().Err(err).Msg("rabbit unavailable, reply pipeline disabled")
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	r := httpapi.NewRouter(svc, repo, pub, cfg, log)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
