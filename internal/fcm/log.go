package fcm

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mithileshchellappan/pushrelay/internal/delivery"
)

// LogClient logs messages instead of sending them and reports every token
// as delivered.
type LogClient struct {
	log zerolog.Logger
}

func NewLogClient(log zerolog.Logger) *LogClient {
	return &LogClient{log: log.With().Str("component", "fcm-log").Logger()}
}

func (c *LogClient) Send(ctx context.Context, token string, msg delivery.Message) (string, error) {
	id := "log/" + uuid.New().String()
	c.log.Info().Str("id", id).Str("title", msg.Title).Str("body", msg.Body).
		Interface("data", msg.Data).Msg("send")
	return id, nil
}

func (c *LogClient) SendMulticast(ctx context.Context, tokens []string, msg delivery.Message) (delivery.MulticastResult, error) {
	c.log.Info().Int("token_count", len(tokens)).Str("title", msg.Title).Str("body", msg.Body).
		Interface("data", msg.Data).Msg("multicast")
	return delivery.MulticastResult{SuccessCount: len(tokens)}, nil
}
