package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DLQKey = "jobs:dlq"

// DLQEntry records a job that exhausted its retries, together with the error
// that killed it, for manual inspection.
type DLQEntry struct {
	Queue    string          `json:"queue"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// SendToDLQ parks a poisoned job. Errors here are logged, never propagated;
// losing a DLQ entry must not take down the worker. A nil client drops the
// entry with a log line, mirroring how the engine tolerates a nil dispatcher.
func SendToDLQ(ctx context.Context, rdb *redis.Client, entry DLQEntry) {
	entry.FailedAt = time.Now().UTC()
	if rdb == nil {
		log.Warn().Str("type", entry.Type).Int("attempts", entry.Attempts).Str("error", entry.Error).Msg("no redis client, dropping DLQ entry")
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("type", entry.Type).Msg("failed to marshal DLQ entry")
		return
	}
	if err := rdb.LPush(ctx, DLQKey, data).Err(); err != nil {
		log.Error().Err(err).Str("type", entry.Type).Msg("failed to push DLQ entry")
		return
	}
	log.Warn().Str("type", entry.Type).Int("attempts", entry.Attempts).Str("error", entry.Error).Msg("job sent to DLQ")
}
