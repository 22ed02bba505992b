package goGuard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/behavior"
	"github.com/MrEthical07/goGuard/internal/controls"
	"github.com/MrEthical07/goGuard/internal/fraud"
	"github.com/MrEthical07/goGuard/internal/metrics"
	"github.com/MrEthical07/goGuard/internal/ratelimit"
)

// Well-known operation names with tuned default policies. Any other
// operation name is accepted and uses Config.DefaultPolicy.
const (
	OperationVerificationCode   = "verification_code"
	OperationAccountRecovery    = "account_recovery"
	OperationPrivilegedOverride = "privileged_override"
)

// Config is the complete engine configuration. Obtain one from
// DefaultConfig or LoadConfig, adjust it, and pass it to Builder.WithConfig.
// It is validated once, in Build.
type Config struct {
	Policies      map[string]RateLimitPolicy `yaml:"policies"`
	DefaultPolicy RateLimitPolicy            `yaml:"default_policy"`
	IP            IPConfig                   `yaml:"ip"`
	Device        DeviceConfig               `yaml:"device"`
	Fraud         FraudConfig                `yaml:"fraud"`
	Controls      ControlsConfig             `yaml:"controls"`
	Behavior      BehaviorConfig             `yaml:"behavior"`
	Reputation    ReputationConfig           `yaml:"reputation"`
	Store         StoreConfig                `yaml:"store"`
	Audit         AuditConfig                `yaml:"audit"`
	Metrics       MetricsConfig              `yaml:"metrics"`
	Logger        LoggerConfig               `yaml:"logger"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// IPConfig holds the absolute per-IP bounds counted across all operations.
//
// Precedence: a breached hourly or daily ceiling blocks the IP for
// BlockDuration; otherwise an IP past SuspiciousThreshold hourly failures has
// its per-operation ceiling halved; otherwise the operation policy applies.
type IPConfig struct {
	HourlyCeiling       int           `yaml:"hourly_ceiling"`
	DailyCeiling        int           `yaml:"daily_ceiling"`
	SuspiciousThreshold int           `yaml:"suspicious_threshold"`
	BlockDuration       time.Duration `yaml:"block_duration"`
}

// DeviceConfig derates the device-axis ceiling for new or low-trust devices.
type DeviceConfig struct {
	NewDeviceDivisor  float64 `yaml:"new_device_divisor"`
	LowTrustThreshold float64 `yaml:"low_trust_threshold"`
	LowTrustDivisor   float64 `yaml:"low_trust_divisor"`
	// BlockDuration overrides the escalation cooldown on the device axis.
	// Zero keeps the policy cooldown.
	BlockDuration time.Duration `yaml:"block_duration"`
}

/*
====================================
RISK CONFIG
====================================
*/

// FraudConfig tunes the fraud signals.
type FraudConfig struct {
	ElevatedIPFailures int           `yaml:"elevated_ip_failures"`
	ElevatedIPWindow   time.Duration `yaml:"elevated_ip_window"`
	LowTrustThreshold  float64       `yaml:"low_trust_threshold"`
	VelocityWindow     time.Duration `yaml:"velocity_window"`
	VelocityLimit      int           `yaml:"velocity_limit"`
}

// ControlsConfig tunes the control arbiter and the fraud lock applied by
// EvaluateOperation.
type ControlsConfig struct {
	MaliciousIPBlock  time.Duration `yaml:"malicious_ip_block"`
	LowTrustThreshold float64       `yaml:"low_trust_threshold"`
	// FraudLockDuration is how long EvaluateOperation locks a subject whose
	// fraud score exceeds 0.8. Zero disables the lock.
	FraudLockDuration time.Duration `yaml:"fraud_lock_duration"`
}

// BehaviorConfig tunes anomaly detection. Location is an IANA zone name used
// to bucket access hours.
type BehaviorConfig struct {
	HourDeviation float64       `yaml:"hour_deviation"`
	History       time.Duration `yaml:"history"`
	MinHistory    int           `yaml:"min_history"`
	RapidWindow   time.Duration `yaml:"rapid_window"`
	RapidLimit    int           `yaml:"rapid_limit"`
	Location      string        `yaml:"location"`
}

// ReputationConfig lists static CIDR ranges. They are combined with any
// source passed to Builder.WithReputation.
type ReputationConfig struct {
	HighRisk  []string `yaml:"high_risk"`
	Malicious []string `yaml:"malicious"`
}

/*
====================================
INFRASTRUCTURE CONFIG
====================================
*/

// StoreConfig bounds every ledger call.
type StoreConfig struct {
	// Timeout bounds each ledger call. Expired calls count as unavailable.
	Timeout time.Duration `yaml:"timeout"`
	// FailOpen allows attempts when the ledger is unreachable. When false
	// the engine denies with reason rate_limit_unavailable.
	FailOpen bool `yaml:"fail_open"`
	// BreakerFailures consecutive outages open the circuit breaker. Zero
	// disables it.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
	// RedisPrefix and RedisTTL apply when the ledger is built by
	// Builder.WithRedis.
	RedisPrefix string        `yaml:"redis_prefix"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`
}

// AuditConfig controls audit dispatch.
type AuditConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BufferSize  int           `yaml:"buffer_size"`
	DropIfFull  bool          `yaml:"drop_if_full"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// LoggerConfig is used by NewLogger. Level is debug, info, warn or error;
// Format is json or console.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns a production baseline: fail open, five attempts per
// fifteen minutes with (3,5m) (5,15m) (10,1h) escalation.
func DefaultConfig() Config {
	standard := RateLimitPolicy{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		EscalationSteps: []EscalationStep{
			{Threshold: 3, Cooldown: 5 * time.Minute},
			{Threshold: 5, Cooldown: 15 * time.Minute},
			{Threshold: 10, Cooldown: time.Hour},
		},
	}
	return Config{
		Policies: map[string]RateLimitPolicy{
			OperationVerificationCode: standard.Clone(),
			OperationAccountRecovery: {
				MaxAttempts: 3,
				Window:      time.Hour,
				EscalationSteps: []EscalationStep{
					{Threshold: 2, Cooldown: 15 * time.Minute},
					{Threshold: 3, Cooldown: time.Hour},
					{Threshold: 6, Cooldown: 6 * time.Hour},
				},
			},
			OperationPrivilegedOverride: {
				MaxAttempts: 3,
				Window:      time.Hour,
				EscalationSteps: []EscalationStep{
					{Threshold: 1, Cooldown: 10 * time.Minute},
					{Threshold: 3, Cooldown: 2 * time.Hour},
				},
			},
		},
		DefaultPolicy: standard,
		IP: IPConfig{
			HourlyCeiling:       50,
			DailyCeiling:        200,
			SuspiciousThreshold: 20,
			BlockDuration:       time.Hour,
		},
		Device: DeviceConfig{
			NewDeviceDivisor:  2,
			LowTrustThreshold: 0.5,
			LowTrustDivisor:   1.5,
		},
		Fraud: FraudConfig{
			ElevatedIPFailures: 5,
			ElevatedIPWindow:   time.Hour,
			LowTrustThreshold:  0.3,
			VelocityWindow:     10 * time.Minute,
			VelocityLimit:      5,
		},
		Controls: ControlsConfig{
			MaliciousIPBlock:  time.Hour,
			LowTrustThreshold: 0.3,
			FraudLockDuration: 30 * time.Minute,
		},
		Behavior: BehaviorConfig{
			HourDeviation: 6,
			History:       7 * 24 * time.Hour,
			MinHistory:    3,
			RapidWindow:   5 * time.Minute,
			RapidLimit:    3,
			Location:      "UTC",
		},
		Store: StoreConfig{
			Timeout:         250 * time.Millisecond,
			FailOpen:        true,
			BreakerFailures: 5,
			BreakerOpenFor:  30 * time.Second,
			RedisPrefix:     "gg:",
			RedisTTL:        8 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
		Logger:  LoggerConfig{Level: "info", Format: "json"},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Policies = make(map[string]RateLimitPolicy, len(cfg.Policies))
	for op, p := range cfg.Policies {
		out.Policies[op] = p.Clone()
	}
	out.DefaultPolicy = cfg.DefaultPolicy.Clone()
	out.Reputation.HighRisk = append([]string(nil), cfg.Reputation.HighRisk...)
	out.Reputation.Malicious = append([]string(nil), cfg.Reputation.Malicious...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section. Errors wrap ErrPolicyConfiguration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPolicyConfiguration, err)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.DefaultPolicy.Validate(); err != nil {
		return fmt.Errorf("DefaultPolicy: %w", err)
	}
	ops := make([]string, 0, len(c.Policies))
	for op := range c.Policies {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		if strings.TrimSpace(op) == "" || op == "*" {
			return fmt.Errorf("Policies: invalid operation name %q", op)
		}
		if err := c.Policies[op].Validate(); err != nil {
			return fmt.Errorf("Policies[%s]: %w", op, err)
		}
	}

	if c.IP.HourlyCeiling < 0 || c.IP.DailyCeiling < 0 || c.IP.SuspiciousThreshold < 0 {
		return errors.New("IP ceilings must be >= 0")
	}
	if (c.IP.HourlyCeiling > 0 || c.IP.DailyCeiling > 0) && c.IP.BlockDuration <= 0 {
		return errors.New("IP BlockDuration must be > 0 when a ceiling is set")
	}
	if c.IP.HourlyCeiling > 0 && c.IP.SuspiciousThreshold >= c.IP.HourlyCeiling {
		return errors.New("IP SuspiciousThreshold must be below HourlyCeiling")
	}

	if c.Device.NewDeviceDivisor < 0 || (c.Device.NewDeviceDivisor > 0 && c.Device.NewDeviceDivisor < 1) {
		return errors.New("Device NewDeviceDivisor must be 0 or >= 1")
	}
	if c.Device.LowTrustDivisor < 0 || (c.Device.LowTrustDivisor > 0 && c.Device.LowTrustDivisor < 1) {
		return errors.New("Device LowTrustDivisor must be 0 or >= 1")
	}
	if !unitInterval(c.Device.LowTrustThreshold) {
		return errors.New("Device LowTrustThreshold must be within [0,1]")
	}
	if c.Device.BlockDuration < 0 {
		return errors.New("Device BlockDuration must be >= 0")
	}

	if c.Fraud.ElevatedIPFailures <= 0 || c.Fraud.ElevatedIPWindow <= 0 {
		return errors.New("Fraud ElevatedIPFailures and ElevatedIPWindow must be > 0")
	}
	if c.Fraud.VelocityLimit <= 0 || c.Fraud.VelocityWindow <= 0 {
		return errors.New("Fraud VelocityLimit and VelocityWindow must be > 0")
	}
	if !unitInterval(c.Fraud.LowTrustThreshold) {
		return errors.New("Fraud LowTrustThreshold must be within [0,1]")
	}

	if c.Controls.MaliciousIPBlock <= 0 {
		return errors.New("Controls MaliciousIPBlock must be > 0")
	}
	if c.Controls.FraudLockDuration < 0 {
		return errors.New("Controls FraudLockDuration must be >= 0")
	}
	if !unitInterval(c.Controls.LowTrustThreshold) {
		return errors.New("Controls LowTrustThreshold must be within [0,1]")
	}

	if c.Behavior.HourDeviation <= 0 || c.Behavior.HourDeviation > 12 {
		return errors.New("Behavior HourDeviation must be within (0,12]")
	}
	if c.Behavior.History <= 0 || c.Behavior.RapidWindow <= 0 {
		return errors.New("Behavior History and RapidWindow must be > 0")
	}
	if c.Behavior.MinHistory < 1 || c.Behavior.RapidLimit < 1 {
		return errors.New("Behavior MinHistory and RapidLimit must be >= 1")
	}
	if _, err := loadLocation(c.Behavior.Location); err != nil {
		return fmt.Errorf("Behavior Location: %v", err)
	}

	if c.Store.Timeout < 0 || c.Store.BreakerOpenFor < 0 || c.Store.RedisTTL < 0 {
		return errors.New("Store durations must be >= 0")
	}
	if c.Store.RedisTTL > 0 && c.Store.RedisTTL < c.longestHold() {
		return fmt.Errorf("Store RedisTTL must cover the longest window, cooldown or block (%s)", c.longestHold())
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}
	return nil
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// longestHold is the longest interval a ledger record must remain readable:
// the 24h IP ceiling window, any window plus its largest cooldown, the
// behavior history, or the longest fixed block duration.
func (c *Config) longestHold() time.Duration {
	longest := 24 * time.Hour
	consider := func(p RateLimitPolicy) {
		hold := p.Window + ratelimit.Cooldown(p, len(p.EscalationSteps))
		if hold > longest {
			longest = hold
		}
	}
	consider(c.DefaultPolicy)
	for _, p := range c.Policies {
		consider(p)
	}
	for _, d := range []time.Duration{
		c.Behavior.History,
		c.IP.BlockDuration,
		c.Device.BlockDuration,
		c.Controls.MaliciousIPBlock,
		c.Controls.FraudLockDuration,
	} {
		if d > longest {
			longest = d
		}
	}
	return longest
}

/*
====================================
INTERNAL MAPPING
====================================
*/

func (c *Config) rateLimitConfig() ratelimit.Config {
	policies := make(map[string]RateLimitPolicy, len(c.Policies))
	for op, p := range c.Policies {
		policies[op] = p.Clone()
	}
	return ratelimit.Config{
		Policies: policies,
		Default:  c.DefaultPolicy.Clone(),
		IP: ratelimit.IPLimits{
			HourlyCeiling:       c.IP.HourlyCeiling,
			DailyCeiling:        c.IP.DailyCeiling,
			SuspiciousThreshold: c.IP.SuspiciousThreshold,
			BlockDuration:       c.IP.BlockDuration,
		},
		Device: ratelimit.DeviceLimits{
			NewDeviceDivisor:  c.Device.NewDeviceDivisor,
			LowTrustThreshold: c.Device.LowTrustThreshold,
			LowTrustDivisor:   c.Device.LowTrustDivisor,
			BlockDuration:     c.Device.BlockDuration,
		},
		FailOpen: c.Store.FailOpen,
	}
}

func (c *Config) fraudConfig() fraud.Config {
	return fraud.Config{
		ElevatedIPFailures: c.Fraud.ElevatedIPFailures,
		ElevatedIPWindow:   c.Fraud.ElevatedIPWindow,
		LowTrustThreshold:  c.Fraud.LowTrustThreshold,
		VelocityWindow:     c.Fraud.VelocityWindow,
		VelocityLimit:      c.Fraud.VelocityLimit,
	}
}

func (c *Config) controlsConfig() controls.Config {
	return controls.Config{
		MaliciousIPBlock:  c.Controls.MaliciousIPBlock,
		LowTrustThreshold: c.Controls.LowTrustThreshold,
	}
}

// behaviorConfig assumes Validate has accepted Location.
func (c *Config) behaviorConfig() behavior.Config {
	loc, err := loadLocation(c.Behavior.Location)
	if err != nil {
		loc = time.UTC
	}
	return behavior.Config{
		HourDeviation: c.Behavior.HourDeviation,
		History:       c.Behavior.History,
		MinHistory:    c.Behavior.MinHistory,
		RapidWindow:   c.Behavior.RapidWindow,
		RapidLimit:    c.Behavior.RapidLimit,
		Location:      loc,
	}
}

func (c *Config) auditConfig() audit.Config {
	return audit.Config{
		Enabled:     c.Audit.Enabled,
		BufferSize:  c.Audit.BufferSize,
		DropIfFull:  c.Audit.DropIfFull,
		SinkTimeout: c.Audit.SinkTimeout,
	}
}

func (c *Config) metricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:                 c.Metrics.Enabled,
		EnableLatencyHistograms: c.Metrics.EnableLatencyHistograms,
	}
}
