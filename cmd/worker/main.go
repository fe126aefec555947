package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fixit/internal/complaint"
	"fixit/internal/config"
	"fixit/internal/mailer"
	"fixit/internal/queue"
	"fixit/internal/store"
)

// Worker drains the notification queue and delivers forward notices by
// mail. Delivery is best-effort: a failed send is logged, not retried, and
// never affects the already-updated complaint.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		log.Println("WARNING: redis not reachable, will keep polling")
	}
	q := queue.NewRedisQueue(redisClient.Client, "fixit:notifications")

	mail := mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for notices...")
	for msg := range messages {
		if msg.Type != queue.TypeNotice {
			continue
		}

		var notice complaint.Notice
		if err := json.Unmarshal(msg.Body, &notice); err != nil {
			log.Printf("bad notice payload: %v", err)
			continue
		}

		if err := mail.Send(notice.To, notice.Subject, notice.Body); err != nil {
			log.Printf("notice delivery to %s failed: %v", notice.To, err)
			continue
		}
		log.Printf("notice delivered to %s", notice.To)

		time.Sleep(10 * time.Millisecond) // small delay between sends
	}

	log.Println("worker stopped")
}
