package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultBurstPerSec int64 = 2
	backoffStep              = 50 * time.Millisecond
	backoffMax               = 250 * time.Millisecond
	windowSeconds            = 1
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

// SendGate caps outbound provider calls per second across all processes.
// The 600ms pacing sleep keeps a single dispatch polite; the gate keeps the
// API worker and the drain worker from bursting past the provider's limit
// when both are sending at once.
type SendGate struct {
	client      *goredis.Client
	burstPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	script      *goredis.Script
}

func NewSendGate(client *goredis.Client, burstPerSec int) (*SendGate, error) {
	return newSendGate(client, int64(burstPerSec), time.Now, sleepWithContext)
}

func newSendGate(
	client *goredis.Client,
	burstPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SendGate, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if burstPerSec <= 0 {
		burstPerSec = defaultBurstPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SendGate{
		client:      client,
		burstPerSec: burstPerSec,
		now:         nowFn,
		sleep:       sleepFn,
		script:      allowScript,
	}, nil
}

func (g *SendGate) Allow(ctx context.Context) (bool, error) {
	if g == nil || g.client == nil || g.script == nil {
		return false, fmt.Errorf("send gate is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("sendgate:mail:%d", g.now().UTC().Unix())
	result, err := g.script.Run(ctx, g.client, []string{key}, g.burstPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate send gate: %w", err)
	}

	return result == 1, nil
}

func (g *SendGate) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := g.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := g.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
