// Package reputation classifies network origins for goGuard.
//
// Sources return one of three levels. The fraud scorer and the control
// arbiter react to high_risk and malicious; everything else is none.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// Level is the reputation class of an IP.
type Level string

const (
	LevelNone      Level = "none"
	LevelHighRisk  Level = "high_risk"
	LevelMalicious Level = "malicious"
)

func (l Level) rank() int {
	switch l {
	case LevelMalicious:
		return 2
	case LevelHighRisk:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of l and other.
func (l Level) Worse(other Level) Level {
	if other.rank() > l.rank() {
		return other
	}
	if l == "" {
		return LevelNone
	}
	return l
}

var (
	ErrUnavailable = errors.New("reputation source unavailable")
	ErrInvalidIP   = errors.New("invalid ip or cidr")
)

// Source looks up the reputation of one IP.
type Source interface {
	Lookup(ctx context.Context, ip string) (Level, error)
}

// None reports every IP as LevelNone.
type None struct{}

func (None) Lookup(context.Context, string) (Level, error) { return LevelNone, nil }

// CIDRList matches IPs against static network lists. Entries may be a bare IP
// or a CIDR.
type CIDRList struct {
	highRisk  []*net.IPNet
	malicious []*net.IPNet
}

// NewCIDRList parses both lists; an unparsable entry fails with ErrInvalidIP.
func NewCIDRList(highRisk, malicious []string) (*CIDRList, error) {
	hr, err := parseNets(highRisk)
	if err != nil {
		return nil, err
	}
	mal, err := parseNets(malicious)
	if err != nil {
		return nil, err
	}
	return &CIDRList{highRisk: hr, malicious: mal}, nil
}

func parseNets(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, cidr)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIP, entry)
		}
		bits := 128
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

func contains(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (c *CIDRList) Lookup(_ context.Context, raw string) (Level, error) {
	if c == nil {
		return LevelNone, nil
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return LevelNone, fmt.Errorf("%w: %q", ErrInvalidIP, raw)
	}
	switch {
	case contains(c.malicious, ip):
		return LevelMalicious, nil
	case contains(c.highRisk, ip):
		return LevelHighRisk, nil
	default:
		return LevelNone, nil
	}
}

// Redis keeps two sets, <prefix>high_risk and <prefix>malicious, of exact IPs
// maintained by an external feed.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a source reading the <prefix>high_risk and
// <prefix>malicious sets.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "gg:rep:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Lookup(ctx context.Context, ip string) (Level, error) {
	var mal, hr *redis.BoolCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		mal = pipe.SIsMember(ctx, r.prefix+string(LevelMalicious), ip)
		hr = pipe.SIsMember(ctx, r.prefix+string(LevelHighRisk), ip)
		return nil
	})
	if err != nil {
		return LevelNone, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case mal.Val():
		return LevelMalicious, nil
	case hr.Val():
		return LevelHighRisk, nil
	default:
		return LevelNone, nil
	}
}

// Mark adds ip to the set for level. LevelNone removes it from both sets.
func (r *Redis) Mark(ctx context.Context, ip string, level Level) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.prefix+string(LevelMalicious), ip)
		pipe.SRem(ctx, r.prefix+string(LevelHighRisk), ip)
		if level != LevelNone {
			pipe.SAdd(ctx, r.prefix+string(level), ip)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Chain reports the worst level among its sources. Failing sources are
// skipped; the call only errors when every source failed.
type Chain []Source

func (c Chain) Lookup(ctx context.Context, ip string) (Level, error) {
	level := LevelNone
	var errs []error
	for _, src := range c {
		l, err := src.Lookup(ctx, ip)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		level = level.Worse(l)
	}
	if len(c) > 0 && len(errs) == len(c) {
		return LevelNone, errors.Join(errs...)
	}
	return level, nil
}

// Bounded limits every lookup on Source to Timeout. A lookup that runs out
// of time reports ErrUnavailable. Zero Timeout passes ctx through.
type Bounded struct {
	Source  Source
	Timeout time.Duration
}

// Lookup runs Source.Lookup under the timeout.
func (b Bounded) Lookup(ctx context.Context, ip string) (Level, error) {
	if b.Source == nil {
		return LevelNone, nil
	}
	if b.Timeout <= 0 {
		return b.Source.Lookup(ctx, ip)
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()
	level, err := b.Source.Lookup(ctx, ip)
	if err != nil && !errors.Is(err, ErrUnavailable) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return LevelNone, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return level, err
}
