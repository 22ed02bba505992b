package goGuard

import (
	"context"
	"strconv"
	"strings"

	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	internalmetrics "github.com/MrEthical07/goGuard/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CalculateFraudScore aggregates the IP, device, behavior and velocity
// signals for sc into a score in [0,1] and a recommended action.
//
// Signals whose inputs cannot be read contribute 0 and are logged; the
// assessment itself is always produced. The error is non-nil only for
// invalid input.
func (e *Engine) CalculateFraudScore(ctx context.Context, sc SecurityContext) (FraudAssessment, error) {
	if err := e.validateContext("", &sc); err != nil {
		return FraudAssessment{}, err
	}

	ctx, span := e.tracer.Start(ctx, "goguard.CalculateFraudScore", trace.WithAttributes(
		attribute.String("goguard.operation", sc.Operation),
	))
	defer span.End()

	a := e.scorer.Score(ctx, sc)

	switch a.RecommendedAction {
	case ActionBlock:
		e.metrics.Inc(internalmetrics.FraudBlock)
	case ActionChallenge:
		e.metrics.Inc(internalmetrics.FraudChallenge)
	default:
		e.metrics.Inc(internalmetrics.FraudAllow)
	}
	span.SetAttributes(
		attribute.Float64("goguard.fraud_score", a.FraudScore),
		attribute.String("goguard.action", string(a.RecommendedAction)),
	)

	e.emitAudit(ctx, internalaudit.EventFraudAssessment, sc, a.RecommendedAction != ActionBlock, string(a.RecommendedAction), map[string]string{
		"fraud_score":  strconv.FormatFloat(a.FraudScore, 'f', 4, 64),
		"risk_factors": strings.Join(a.RiskFactors, ","),
	})
	return a, nil
}
