package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KeyRotationNotifier fans signing key rotations out to every running provider
type KeyRotationNotifier struct {
	rdb redis.UniversalClient
}

// NewKeyRotationNotifier creates new instance of KeyRotationNotifier
func NewKeyRotationNotifier(rdb redis.UniversalClient) *KeyRotationNotifier {
	return &KeyRotationNotifier{rdb: rdb}
}

// PublishRotation announces that keyID became the current signing key
func (n *KeyRotationNotifier) PublishRotation(ctx context.Context, keyID string) error {
	const op = "storage.redis.PublishRotation"

	if err := n.rdb.Publish(ctx, rotationChannel, keyID).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SubscribeRotations streams announced key ids until ctx is done
func (n *KeyRotationNotifier) SubscribeRotations(ctx context.Context) (<-chan string, error) {
	const op = "storage.redis.SubscribeRotations"

	sub := n.rdb.Subscribe(ctx, rotationChannel)
	// wait for the subscription to be confirmed so no publish after return is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
