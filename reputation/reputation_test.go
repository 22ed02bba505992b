package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCIDRListLookup(t *testing.T) {
	list, err := NewCIDRList([]string{"10.0.0.0/8", "2001:db8::1"}, []string{"10.6.6.6"})
	if err != nil {
		t.Fatalf("NewCIDRList failed: %v", err)
	}

	cases := map[string]Level{
		"10.1.2.3":    LevelHighRisk,
		"10.6.6.6":    LevelMalicious,
		"192.168.1.1": LevelNone,
		"2001:db8::1": LevelHighRisk,
		"2001:db8::2": LevelNone,
	}
	for ip, want := range cases {
		got, err := list.Lookup(context.Background(), ip)
		if err != nil {
			t.Fatalf("Lookup(%s) failed: %v", ip, err)
		}
		if got != want {
			t.Fatalf("Lookup(%s): expected %s, got %s", ip, want, got)
		}
	}

	if _, err := list.Lookup(context.Background(), "not-an-ip"); !errors.Is(err, ErrInvalidIP) {
		t.Fatalf("expected ErrInvalidIP, got %v", err)
	}
}

func TestCIDRListRejectsGarbage(t *testing.T) {
	if _, err := NewCIDRList([]string{"10.0.0.0/99"}, nil); !errors.Is(err, ErrInvalidIP) {
		t.Fatalf("expected ErrInvalidIP, got %v", err)
	}
}

func TestRedisMarkAndLookup(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r := NewRedis(client, "")
	ctx := context.Background()

	if err := r.Mark(ctx, "1.2.3.4", LevelHighRisk); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if got, _ := r.Lookup(ctx, "1.2.3.4"); got != LevelHighRisk {
		t.Fatalf("expected high_risk, got %s", got)
	}
	if err := r.Mark(ctx, "1.2.3.4", LevelMalicious); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if got, _ := r.Lookup(ctx, "1.2.3.4"); got != LevelMalicious {
		t.Fatalf("expected malicious, got %s", got)
	}
	if ok, _ := client.SIsMember(ctx, "gg:rep:high_risk", "1.2.3.4").Result(); ok {
		t.Fatal("expected ip to leave the high_risk set")
	}
	if err := r.Mark(ctx, "1.2.3.4", LevelNone); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if got, _ := r.Lookup(ctx, "1.2.3.4"); got != LevelNone {
		t.Fatalf("expected none, got %s", got)
	}
}

type failingSource struct{}

func (failingSource) Lookup(context.Context, string) (Level, error) {
	return LevelNone, ErrUnavailable
}

type fixedSource Level

func (f fixedSource) Lookup(context.Context, string) (Level, error) { return Level(f), nil }

func TestChainTakesWorstAndSkipsFailures(t *testing.T) {
	c := Chain{fixedSource(LevelHighRisk), failingSource{}, fixedSource(LevelNone)}
	got, err := c.Lookup(context.Background(), "1.1.1.1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != LevelHighRisk {
		t.Fatalf("expected high_risk, got %s", got)
	}

	all := Chain{failingSource{}, failingSource{}}
	if _, err := all.Lookup(context.Background(), "1.1.1.1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable when every source fails, got %v", err)
	}

	if got, err := (Chain{}).Lookup(context.Background(), "1.1.1.1"); err != nil || got != LevelNone {
		t.Fatalf("expected empty chain to report none, got %s, %v", got, err)
	}
}

type slowSource struct{}

func (slowSource) Lookup(ctx context.Context, _ string) (Level, error) {
	<-ctx.Done()
	return LevelNone, ctx.Err()
}

func TestBoundedTimesOut(t *testing.T) {
	b := Bounded{Source: slowSource{}, Timeout: 20 * time.Millisecond}

	start := time.Now()
	_, err := b.Lookup(context.Background(), "1.1.1.1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("lookup was not bounded, took %v", elapsed)
	}

	got, err := Bounded{Source: fixedSource(LevelMalicious), Timeout: time.Second}.Lookup(context.Background(), "1.1.1.1")
	if err != nil || got != LevelMalicious {
		t.Fatalf("expected pass-through, got %s, %v", got, err)
	}
}
