package goGuard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/device"
	"github.com/MrEthical07/goGuard/ledger"
	"github.com/MrEthical07/goGuard/reputation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// downLedger fails every call.
type downLedger struct{}

func (downLedger) Append(context.Context, ledger.Record) error {
	return fmt.Errorf("%w: connection refused", ledger.ErrUnavailable)
}

func (downLedger) CountSince(context.Context, ledger.Query) (int, error) {
	return 0, fmt.Errorf("%w: connection refused", ledger.ErrUnavailable)
}

func (downLedger) TimestampsSince(context.Context, ledger.Query) ([]time.Time, error) {
	return nil, fmt.Errorf("%w: connection refused", ledger.ErrUnavailable)
}

func (downLedger) FindActiveBlock(context.Context, ledger.Axis, string, string, time.Time) (*time.Time, error) {
	return nil, fmt.Errorf("%w: connection refused", ledger.ErrUnavailable)
}

type testEngine struct {
	*Engine
	clock *testClock
	store *ledger.Memory
	sink  *ChannelAuditSink
	logs  *observer.ObservedLogs
}

func newTestEngine(t *testing.T, cfg Config, configure ...func(*Builder)) *testEngine {
	t.Helper()

	clock := newTestClock()
	store := ledger.NewMemory()
	sink := NewChannelAuditSink(512)
	core, logs := observer.New(zapcore.DebugLevel)

	b := New().
		WithConfig(cfg).
		WithLedger(store).
		WithAuditSink(sink).
		WithLogger(zap.New(core)).
		WithClock(clock.Now)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEngine{Engine: engine, clock: clock, store: store, sink: sink, logs: logs}
}

// drainAudit closes the engine and returns every entry it emitted.
func (te *testEngine) drainAudit() []AuditEntry {
	te.Close()
	var out []AuditEntry
	for {
		select {
		case e := <-te.sink.Entries():
			out = append(out, e)
		default:
			return out
		}
	}
}

func testContext(subject string) SecurityContext {
	return SecurityContext{
		SubjectID:        subject,
		IPAddress:        "198.51.100.7",
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Operation:        OperationVerificationCode,
		DeviceTrustScore: 1,
	}
}

func TestEscalationLocksAtLowestCrossedStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies["totp_attempt"] = RateLimitPolicy{
		MaxAttempts:     10,
		Window:          15 * time.Minute,
		EscalationSteps: []EscalationStep{{Threshold: 5, Cooldown: 2 * time.Minute}},
	}
	te := newTestEngine(t, cfg)
	ctx := context.Background()
	sc := testContext("alice")

	for i := 0; i < 5; i++ {
		if err := te.RecordAttempt(ctx, "totp_attempt", sc, false); err != nil {
			t.Fatalf("RecordAttempt %d failed: %v", i+1, err)
		}
		te.clock.Advance(time.Minute)
	}

	d, err := te.CheckRateLimit(ctx, "totp_attempt", sc)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if !d.Allowed || d.EscalationLevel != 1 {
		t.Fatalf("6th check: expected allowed at level 1, got %+v", d)
	}
	if d.RemainingAttempts != 5 {
		t.Fatalf("6th check: expected 5 remaining, got %d", d.RemainingAttempts)
	}

	for i := 0; i < 5; i++ {
		if err := te.RecordAttempt(ctx, "totp_attempt", sc, false); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	now := te.clock.Now()
	d, err = te.CheckRateLimit(ctx, "totp_attempt", sc)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if d.Allowed {
		t.Fatalf("11th check: expected deny, got %+v", d)
	}
	if d.CooldownUntil == nil || !d.CooldownUntil.Equal(now.Add(2*time.Minute)) {
		t.Fatalf("11th check: expected cooldown until %v, got %v", now.Add(2*time.Minute), d.CooldownUntil)
	}
	if d.Reason != ReasonRateLimited {
		t.Fatalf("expected reason %q, got %q", ReasonRateLimited, d.Reason)
	}

	// The persisted block keeps denying until the cooldown ends.
	te.clock.Advance(time.Minute)
	if d, _ = te.CheckRateLimit(ctx, "totp_attempt", sc); d.Allowed || d.Reason != ReasonActiveBlock {
		t.Fatalf("expected active block, got %+v", d)
	}
}

func TestCheckRateLimitFailsOpenWithOneDiagnostic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.BreakerFailures = 0
	te := newTestEngine(t, cfg, func(b *Builder) { b.WithLedger(downLedger{}) })

	d, err := te.CheckRateLimit(context.Background(), "", testContext("alice"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !d.Allowed || d.Reason != ReasonCheckFailed {
		t.Fatalf("expected fail-open allow, got %+v", d)
	}

	critical := te.logs.FilterLevelExact(zapcore.ErrorLevel).All()
	if len(critical) != 1 {
		t.Fatalf("expected exactly one critical diagnostic, got %d", len(critical))
	}
	if got := critical[0].ContextMap()["severity"]; got != "critical" {
		t.Fatalf("expected severity=critical, got %v", got)
	}
	if te.MetricsSnapshot().Counters[MetricRateLimitFailOpen] != 1 {
		t.Fatal("expected fail-open counter to be incremented")
	}

	entries := te.drainAudit()
	if len(entries) != 1 || entries[0].EventType != AuditEventRateLimitDegraded {
		t.Fatalf("expected one degraded audit entry, got %+v", entries)
	}
}

func TestCheckRateLimitStrictModeDenies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.FailOpen = false
	te := newTestEngine(t, cfg, func(b *Builder) { b.WithLedger(downLedger{}) })

	d, err := te.CheckRateLimit(context.Background(), "", testContext("alice"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d.Allowed || d.Reason != ReasonUnavailable {
		t.Fatalf("expected strict deny, got %+v", d)
	}
}

func TestRecordAttemptStoreFailureIsReturned(t *testing.T) {
	te := newTestEngine(t, DefaultConfig(), func(b *Builder) { b.WithLedger(downLedger{}) })

	err := te.RecordAttempt(context.Background(), "", testContext("alice"), false)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRecordAttemptIsNotDeduplicated(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	sc := testContext("alice")

	for i := 0; i < 2; i++ {
		if err := te.RecordAttempt(ctx, "", sc, false); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}
	// user and ip axis, twice
	if got := te.store.Len(); got != 4 {
		t.Fatalf("expected 4 records, got %d", got)
	}
}

func TestRecordAttemptEmitsEscalation(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	sc := testContext("alice")

	for i := 0; i < 5; i++ {
		if err := te.RecordAttempt(ctx, "", sc, false); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	escalations := 0
	for _, e := range te.drainAudit() {
		if e.EventType == AuditEventSecurityEscalation {
			escalations++
		}
	}
	// default steps (3,5m) (5,15m): only the fifth failure reaches level 2
	if escalations != 1 {
		t.Fatalf("expected 1 escalation event, got %d", escalations)
	}
}

func TestInvalidContextRejected(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	cases := map[string]SecurityContext{
		"missing ip":        {Operation: OperationVerificationCode},
		"malformed ip":      {Operation: OperationVerificationCode, IPAddress: "not-an-ip"},
		"missing operation": {IPAddress: "198.51.100.7"},
		"reserved op":       {IPAddress: "198.51.100.7", Operation: "*"},
		"trust range":       {IPAddress: "198.51.100.7", Operation: OperationVerificationCode, DeviceTrustScore: 1.5},
	}
	for name, sc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := te.CheckRateLimit(ctx, "", sc); !errors.Is(err, ErrInvalidContext) {
				t.Fatalf("expected ErrInvalidContext, got %v", err)
			}
		})
	}

	if _, err := te.ApplySecurityControls(ctx, testContext("alice"), 1.2); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext for risk score, got %v", err)
	}
}

func TestDeviceAxisDeratesNewDevice(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sc := testContext(fmt.Sprintf("user-%d", i))
		sc.IPAddress = fmt.Sprintf("198.51.100.%d", 10+i)
		sc.DeviceID = "dev-1"
		if err := te.RecordAttempt(ctx, "", sc, false); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	sc := testContext("carol")
	sc.IPAddress = "198.51.100.99"
	sc.DeviceID = "dev-1"
	sc.IsNewDevice = true
	d, err := te.CheckRateLimit(ctx, "", sc)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if d.Allowed || d.Axis != AxisDevice {
		t.Fatalf("expected device-axis deny at ceiling 2, got %+v", d)
	}
}

func TestApplySecurityControlsTiers(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	d, err := te.ApplySecurityControls(ctx, testContext("alice"), 0.5)
	if err != nil {
		t.Fatalf("ApplySecurityControls failed: %v", err)
	}
	if !d.AllowOperation || len(d.RequiredControls) != 1 || d.RequiredControls[0] != ControlSecondaryChannel {
		t.Fatalf("unexpected decision at 0.5: %+v", d)
	}

	d, _ = te.ApplySecurityControls(ctx, testContext("alice"), 0.81)
	if d.AllowOperation || d.RequiredControls[0] != ControlIdentityVerification {
		t.Fatalf("unexpected decision at 0.81: %+v", d)
	}

	entries := te.drainAudit()
	if len(entries) != 2 || entries[0].Metadata["rules"] == "" {
		t.Fatalf("expected controls audit entries naming rules, got %+v", entries)
	}
}

// hangingReputation blocks until its context ends.
type hangingReputation struct{}

func (hangingReputation) Lookup(ctx context.Context, _ string) (reputation.Level, error) {
	<-ctx.Done()
	return reputation.LevelNone, ctx.Err()
}

func TestReputationLookupIsBoundedByStoreTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Timeout = 20 * time.Millisecond
	te := newTestEngine(t, cfg, func(b *Builder) { b.WithReputation(hangingReputation{}) })

	done := make(chan OperationVerdict, 1)
	go func() {
		v, err := te.EvaluateOperation(context.Background(), OperationVerificationCode, testContext("carol"))
		if err != nil {
			t.Errorf("EvaluateOperation failed: %v", err)
		}
		done <- v
	}()

	select {
	case v := <-done:
		if !v.Allowed {
			t.Fatalf("expected allow with reputation unavailable, got %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reputation lookup was not bounded")
	}
}

func TestEvaluateOperationLocksOnFraud(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reputation.Malicious = []string{"203.0.113.0/24"}
	te := newTestEngine(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sc := testContext(fmt.Sprintf("probe-%d", i))
		sc.IPAddress = "203.0.113.9"
		if err := te.RecordAttempt(ctx, OperationAccountRecovery, sc, false); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	sc := testContext("alice")
	sc.IPAddress = "203.0.113.9"
	sc.DeviceID = "dev-new"
	sc.IsNewDevice = true
	sc.DeviceTrustScore = 0.1

	v, err := te.EvaluateOperation(ctx, OperationVerificationCode, sc)
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if v.Allowed || v.Fraud == nil || v.Fraud.RecommendedAction != ActionBlock {
		t.Fatalf("expected fraud block, got %+v", v)
	}
	if v.LockedUntil == nil || !v.LockedUntil.Equal(te.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("expected 30m lock, got %v", v.LockedUntil)
	}
	if v.Controls == nil || v.Controls.BlockDurationSeconds == nil || *v.Controls.BlockDurationSeconds != 3600 {
		t.Fatalf("expected malicious ip block duration, got %+v", v.Controls)
	}

	st, err := te.AccountState(ctx, OperationVerificationCode, "alice")
	if err != nil {
		t.Fatalf("AccountState failed: %v", err)
	}
	if st.Status != AccountLocked {
		t.Fatalf("expected LOCKED, got %s", st.Status)
	}

	d, _ := te.CheckRateLimit(ctx, OperationVerificationCode, sc)
	if d.Allowed || d.Reason != ReasonActiveBlock {
		t.Fatalf("expected active block after lock, got %+v", d)
	}
}

func TestAccountStateTransitions(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	sc := testContext("bob")

	st, err := te.AccountState(ctx, OperationVerificationCode, "bob")
	if err != nil || st.Status != AccountNormal {
		t.Fatalf("expected NORMAL, got %+v (%v)", st, err)
	}

	for i := 0; i < 3; i++ {
		_ = te.RecordAttempt(ctx, "", sc, false)
	}
	if st, _ = te.AccountState(ctx, OperationVerificationCode, "bob"); st.Status != AccountWarned || st.EscalationLevel != 1 {
		t.Fatalf("expected WARNED at level 1, got %+v", st)
	}

	for i := 0; i < 2; i++ {
		_ = te.RecordAttempt(ctx, "", sc, false)
	}
	if d, _ := te.CheckRateLimit(ctx, "", sc); d.Allowed {
		t.Fatalf("expected deny at max attempts, got %+v", d)
	}
	if st, _ = te.AccountState(ctx, OperationVerificationCode, "bob"); st.Status != AccountLocked {
		t.Fatalf("expected LOCKED, got %+v", st)
	}

	te.clock.Advance(time.Hour)
	if st, _ = te.AccountState(ctx, OperationVerificationCode, "bob"); st.Status != AccountNormal {
		t.Fatalf("expected NORMAL after window, got %+v", st)
	}
}

func TestNewSecurityContextUsesDeviceAdjuster(t *testing.T) {
	devices, err := device.NewMemory(device.Options{DefaultTrust: 0.4})
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	te := newTestEngine(t, DefaultConfig(), func(b *Builder) { b.WithDeviceAdjuster(devices) })

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.7"), "curl/8.0")
	sc, err := te.NewSecurityContext(ctx, OperationVerificationCode, "alice", "dev-1")
	if err != nil {
		t.Fatalf("NewSecurityContext failed: %v", err)
	}
	if sc.IPAddress != "198.51.100.7" || sc.UserAgent != "curl/8.0" {
		t.Fatalf("request values not copied: %+v", sc)
	}
	if !sc.IsNewDevice || sc.DeviceTrustScore != 0.4 {
		t.Fatalf("expected new device with trust 0.4, got %+v", sc)
	}

	if _, err := te.NewSecurityContext(context.Background(), OperationVerificationCode, "alice", ""); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext without client ip, got %v", err)
	}
}

func TestAuditEntryCarriesUserAgentSummary(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	sc := testContext("alice")
	if _, err := te.CalculateFraudScore(context.Background(), sc); err != nil {
		t.Fatalf("CalculateFraudScore failed: %v", err)
	}

	entries := te.drainAudit()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EventType != AuditEventFraudAssessment || e.SubjectID != "alice" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.UserAgent == sc.UserAgent || e.UserAgent == "" {
		t.Fatalf("expected summarized user agent, got %q", e.UserAgent)
	}
}

func TestClosedEngineRejectsCalls(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	te.Close()
	if _, err := te.CheckRateLimit(context.Background(), "", testContext("alice")); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}

func TestConcurrentChecksAreSafe(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sc := testContext(fmt.Sprintf("user-%d", i%4))
			_, _ = te.CheckRateLimit(ctx, "", sc)
			_ = te.RecordAttempt(ctx, "", sc, i%2 == 0)
		}(i)
	}
	wg.Wait()

	if got := te.MetricsSnapshot().Counters[MetricRateLimitChecks]; got != 32 {
		t.Fatalf("expected 32 checks, got %d", got)
	}
}
