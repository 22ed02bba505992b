// Package device exposes device-trust signals consumed by goGuard.
//
// Trust is maintained outside the decision path: a device is marked seen
// after a successful authentication and its trust score is adjusted by
// whatever process owns device reputation. goGuard only reads.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrUnavailable  = errors.New("device store unavailable")
	ErrInvalidTrust = errors.New("trust score must be within [0,1]")
)

// Adjuster answers the two questions the rate limiter and fraud scorer ask
// about a device.
type Adjuster interface {
	IsNewDevice(ctx context.Context, deviceID string) (bool, error)
	TrustScore(ctx context.Context, deviceID string) (float64, error)
}

// Options tune how raw device history maps to signals.
type Options struct {
	// NewFor keeps a device "new" for this long after it was first seen.
	// Zero means only never-seen devices are new.
	NewFor time.Duration
	// DefaultTrust is reported for devices without a stored score.
	DefaultTrust float64
	// Prefix namespaces Redis keys. Default "gg:dev:".
	Prefix string
	// Now overrides the clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "gg:dev:"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func validTrust(score float64) error {
	if score < 0 || score > 1 || score != score {
		return fmt.Errorf("%w: %v", ErrInvalidTrust, score)
	}
	return nil
}

// Redis keeps one hash per device with first_seen (unix micro) and trust.
type Redis struct {
	client redis.UniversalClient
	opts   Options
}

// NewRedis returns an adjuster backed by client. It fails when
// opts.DefaultTrust is outside [0,1].
func NewRedis(client redis.UniversalClient, opts Options) (*Redis, error) {
	if err := validTrust(opts.DefaultTrust); err != nil {
		return nil, err
	}
	return &Redis{client: client, opts: opts.withDefaults()}, nil
}

func (r *Redis) key(deviceID string) string {
	return r.opts.Prefix + deviceID
}

func (r *Redis) IsNewDevice(ctx context.Context, deviceID string) (bool, error) {
	raw, err := r.client.HGet(ctx, r.key(deviceID), "first_seen").Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if r.opts.NewFor <= 0 {
		return false, nil
	}
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: corrupt first_seen: %v", ErrUnavailable, err)
	}
	return r.opts.Now().Sub(time.UnixMicro(micros)) < r.opts.NewFor, nil
}

func (r *Redis) TrustScore(ctx context.Context, deviceID string) (float64, error) {
	score, err := r.client.HGet(ctx, r.key(deviceID), "trust").Float64()
	if errors.Is(err, redis.Nil) {
		return r.opts.DefaultTrust, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return score, nil
}

// MarkSeen records the first sighting of a device. Later calls keep the
// original timestamp.
func (r *Redis) MarkSeen(ctx context.Context, deviceID string) error {
	now := strconv.FormatInt(r.opts.Now().UnixMicro(), 10)
	if err := r.client.HSetNX(ctx, r.key(deviceID), "first_seen", now).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SetTrust stores the trust score for a device.
func (r *Redis) SetTrust(ctx context.Context, deviceID string, score float64) error {
	if err := validTrust(score); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.key(deviceID), "trust", score).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type memoryDevice struct {
	firstSeen time.Time
	trust     *float64
}

// Memory is an in-process Adjuster with the same semantics as Redis.
type Memory struct {
	mu      sync.RWMutex
	opts    Options
	devices map[string]memoryDevice
}

// NewMemory returns an in-process adjuster, mostly for tests.
func NewMemory(opts Options) (*Memory, error) {
	if err := validTrust(opts.DefaultTrust); err != nil {
		return nil, err
	}
	return &Memory{opts: opts.withDefaults(), devices: make(map[string]memoryDevice)}, nil
}

func (m *Memory) IsNewDevice(_ context.Context, deviceID string) (bool, error) {
	m.mu.RLock()
	d, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok || d.firstSeen.IsZero() {
		return true, nil
	}
	if m.opts.NewFor <= 0 {
		return false, nil
	}
	return m.opts.Now().Sub(d.firstSeen) < m.opts.NewFor, nil
}

func (m *Memory) TrustScore(_ context.Context, deviceID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.devices[deviceID]; ok && d.trust != nil {
		return *d.trust, nil
	}
	return m.opts.DefaultTrust, nil
}

func (m *Memory) MarkSeen(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.devices[deviceID]
	if d.firstSeen.IsZero() {
		d.firstSeen = m.opts.Now()
	}
	m.devices[deviceID] = d
	return nil
}

func (m *Memory) SetTrust(_ context.Context, deviceID string, score float64) error {
	if err := validTrust(score); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.devices[deviceID]
	d.trust = &score
	m.devices[deviceID] = d
	return nil
}
