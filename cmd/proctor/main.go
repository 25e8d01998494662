package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/model"
)

func main() {
	examFlag := flag.String("exam", "", "Exam ID to watch")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "proctor").Logger()

	examID, err := uuid.Parse(*examFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("A valid -exam ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	pubsub := rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to monitor channel")
	}

	log.Info().Str("exam_id", examID.String()).Msg("Watching live attempts")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.MonitorEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("Skipping malformed monitor event")
				continue
			}
			fmt.Fprintln(os.Stdout, formatEvent(ev))
		}
	}
}

func formatEvent(ev model.MonitorEvent) string {
	prefix := fmt.Sprintf("%s  siswa #%-5d  %s", ev.At.Local().Format(time.TimeOnly), ev.StudentID, ev.AttemptID)
	switch ev.Type {
	case model.MonitorAttemptStarted:
		return prefix + "  mulai ujian"
	case model.MonitorViolation:
		line := fmt.Sprintf("%s  pelanggaran %s (ke-%d)", prefix, ev.ViolationType, ev.ViolationCount)
		if ev.Terminated {
			line += "  DIHENTIKAN"
		}
		return line
	case model.MonitorSubmitted:
		line := fmt.Sprintf("%s  selesai (%s)", prefix, ev.Reason)
		if ev.Score != nil {
			line += fmt.Sprintf("  nilai %.2f", *ev.Score)
		}
		return line
	default:
		return fmt.Sprintf("%s  %s", prefix, ev.Type)
	}
}
