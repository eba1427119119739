package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/kapitbahay/core"
)

const (
	listenRetryMin = time.Second
	listenRetryMax = 30 * time.Second
)

type notification struct {
	UserID string         `json:"user_id"`
	Event  core.AuthEvent `json:"event"`
}

// ParseNotification decodes an auth_events payload
func ParseNotification(payload string) (string, core.AuthEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return "", "", fmt.Errorf("invalid payload: %w", err)
	}
	if n.UserID == "" {
		return "", "", errors.New("invalid payload: missing user_id")
	}
	if !n.Event.Valid() {
		return "", "", fmt.Errorf("invalid payload: unknown event %q", n.Event)
	}
	return n.UserID, n.Event, nil
}

// Listen forwards NOTIFY payloads on channel to publisher until ctx is
// done. A lost connection is re-acquired with backoff.
func (a *Adapter) Listen(ctx context.Context, channel string, publisher core.AuthEventPublisher) error {
	delay := listenRetryMin
	for {
		err := a.listenOnce(ctx, channel, publisher)
		if ctx.Err() != nil {
			return nil
		}
		a.log.Warn().Err(err).Str("channel", channel).Dur("backoff", delay).Msg("listener disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, listenRetryMax)
	}
}

func (a *Adapter) listenOnce(ctx context.Context, channel string, publisher core.AuthEventPublisher) error {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	a.log.Info().Str("channel", channel).Msg("listening for auth events")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		userID, event, err := ParseNotification(n.Payload)
		if err != nil {
			a.log.Warn().Err(err).Str("payload", n.Payload).Msg("dropping notification")
			continue
		}
		a.log.Debug().Str("user_id", userID).Str("event", string(event)).Msg("auth event received")
		publisher.PublishUser(userID, event)
	}
}
