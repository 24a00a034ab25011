package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/chatstore/internal/assist"
	"github.com/suPer8Hu/chatstore/internal/chat"
	"github.com/suPer8Hu/chatstore/internal/config"
	"github.com/suPer8Hu/chatstore/internal/db"
	"github.com/suPer8Hu/chatstore/internal/logging"
	"github.com/suPer8Hu/chatstore/internal/queue"
	"github.com/suPer8Hu/chatstore/internal/ratelimit"
)

const responderContextWindow = 20

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

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

	repo := chat.NewRepo(gdb)
	cache := chat.NewCache(cfg.MaxCachedSessions)
	// Assistant appends must not consume the user's quota.
	svc := chat.NewService(repo, cache, ratelimit.Unlimited{}, nil, log)

	reg := assist.NewRegistry()
	reg.Register("echo", func(ctx context.Context) (assist.Responder, error) {
		return assist.EchoResponder{}, nil
	})
	responder, err := reg.Get(context.Background(), cfg.Responder)
	if err != nil {
		log.Fatal().Err(err).Msg("responder")
	}

	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBIT_URL is required for the worker")
	}
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := queue.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With().Int("worker", workerID).Logger()
			for d := range jobs {
				var m queue.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					wlog.Error().Err(err).Msg("bad message")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, repo, responder, m.JobID); err != nil {
					wlog.Error().Err(err).Str("job_id", m.JobID).Dur("cost", time.Since(start)).Msg("job failed")
					_ = d.Nack(false, false)
					continue
				}
				if err := d.Ack(false); err != nil {
					wlog.Error().Err(err).Str("job_id", m.JobID).Msg("ack failed")
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleJob resolves one reply job: build the responder's context from
// recent history, ask for a reply, append it through the service. The
// user message is already durable; this append is the second, separate
// step of the two-append contract.
func handleJob(ctx context.Context, svc *chat.Service, repo *chat.Repo, responder assist.Responder, jobID string) error {
	claimed, err := repo.MarkReplyJobRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		// Redelivery of a job some worker already claimed or resolved.
		return nil
	}
	job, err := repo.GetReplyJob(ctx, jobID)
	if err != nil {
		return err
	}

	recent, err := repo.ListRecentMessages(ctx, job.SessionID, responderContextWindow)
	if err != nil {
		_ = repo.MarkReplyJobFailed(ctx, jobID, err.Error())
		return err
	}
	history := make([]assist.Message, 0, len(recent))
	for _, m := range recent {
		history = append(history, assist.Message{Role: m.Role, Content: m.Content})
	}

	reply := responder.Respond(ctx, history)
	if !reply.Ready {
		_ = repo.MarkReplyJobFailed(ctx, jobID, reply.Reason)
		return fmt.Errorf("responder not ready: %s", reply.Reason)
	}

	if err := svc.AppendMessage(ctx, job.SessionID, job.Owner, chat.RoleAssistant, reply.Content); err != nil {
		_ = repo.MarkReplyJobFailed(ctx, jobID, err.Error())
		return err
	}
	return repo.MarkReplyJobSucceeded(ctx, jobID)
}
