package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolgateway/gatekeeper/internal/domain/audit"
	"github.com/toolgateway/gatekeeper/internal/domain/backend"
	"github.com/toolgateway/gatekeeper/internal/domain/caller"
	"github.com/toolgateway/gatekeeper/internal/domain/meter"
	"github.com/toolgateway/gatekeeper/internal/domain/policy"
	"github.com/toolgateway/gatekeeper/internal/domain/ratelimit"
	"github.com/toolgateway/gatekeeper/internal/port/outbound"
)

// ErrToolNotFound is returned when no backend exposes the requested tool.
var ErrToolNotFound = errors.New("orchestrator: no backend exposes this tool")

// ErrDenied is returned when the policy engine rejects a call.
var ErrDenied = errors.New("orchestrator: denied by policy")

// ErrRateLimited is returned when the caller has exhausted its rate budget.
var ErrRateLimited = errors.New("orchestrator: rate limit exceeded")

// defaultCallTimeout bounds how long a single backend call may run.
const defaultCallTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/toolgateway/gatekeeper/internal/service")

// Metrics receives point observations from the orchestrator's pipeline.
// The concrete implementation (httpmetrics.Metrics) lives in the inbound
// adapter layer; this interface keeps the orchestrator from depending on
// Prometheus directly.
type Metrics interface {
	ObserveCall(status, server, tool string, seconds float64)
	ObservePolicyEvaluation(decision string)
}

// Orchestrator runs the authenticate-locate-policy-ratelimit-proxy-audit
// pipeline for one tool call (authentication itself happens upstream, in
// the inbound adapter, producing the caller.Context passed in here).
type Orchestrator struct {
	registry   backend.Registry
	invoker    outbound.ToolInvoker
	engine     *policy.Engine
	limiter    ratelimit.Limiter
	rateConfig ratelimit.Config
	recorder   *audit.Recorder
	meter      *meter.Meter
	logger     *slog.Logger
	metrics    Metrics
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(
	registry backend.Registry,
	invoker outbound.ToolInvoker,
	engine *policy.Engine,
	limiter ratelimit.Limiter,
	rateConfig ratelimit.Config,
	recorder *audit.Recorder,
	m *meter.Meter,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry, invoker: invoker, engine: engine,
		limiter: limiter, rateConfig: rateConfig, recorder: recorder,
		meter: m, logger: logger,
	}
}

// SetMetrics attaches a Metrics sink. Optional: a nil or never-called
// SetMetrics leaves the orchestrator fully functional, just unobserved.
func (o *Orchestrator) SetMetrics(m Metrics) {
	o.metrics = m
}

// CallTool runs one tool call through the full pipeline. serverID may be
// empty, in which case the backend owning tool is resolved automatically.
func (o *Orchestrator) CallTool(ctx context.Context, c *caller.Context, serverID, tool string, args map[string]interface{}) (result json.RawMessage, err error) {
	ctx, span := tracer.Start(ctx, "gateway.call_tool", trace.WithAttributes(
		attribute.String("gateway.tool", tool),
		attribute.String("gateway.consumer_id", c.ConsumerID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	status := audit.StatusError
	detail := ""
	auditServerID := serverID
	var resultJSON json.RawMessage
	// Metering is step 4 of the pipeline (spec §4.8): it only fires around
	// the proxy call itself, never for tool-not-found, a policy denial, or
	// a rate-limit rejection, which mutate no downstream state.
	defer func() {
		latencyMS := time.Since(start).Milliseconds()
		o.audit(context.WithoutCancel(ctx), c, auditServerID, tool, status, detail, args, resultJSON, latencyMS)
		if o.metrics != nil {
			o.metrics.ObserveCall(string(status), auditServerID, tool, time.Since(start).Seconds())
		}
	}()

	if serverID == "" {
		resolved, ok := o.registry.FindServerForTool(tool)
		if !ok {
			auditServerID = "unknown"
			status, detail, err = audit.StatusError, "no backend exposes this tool", ErrToolNotFound
			return nil, err
		}
		serverID = resolved
		auditServerID = serverID
	}

	decision, evalErr := o.engine.Evaluate(ctx, policy.EvaluationContext{
		ConsumerID: c.ConsumerID,
		Roles:      c.Roles,
		ServerID:   serverID,
		Tool:       tool,
		Arguments:  args,
	})
	if evalErr != nil {
		status, detail, err = audit.StatusError, evalErr.Error(), fmt.Errorf("orchestrator: policy evaluation: %w", evalErr)
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ObservePolicyEvaluation(policyDecisionLabel(decision.Allowed))
	}
	if !decision.Allowed {
		status, detail, err = audit.StatusDenied, decision.Reason, fmt.Errorf("%w: %s", ErrDenied, decision.Reason)
		return nil, err
	}

	rateCfg := o.rateConfig
	if c.RateOverride != nil {
		rateCfg.Rate = *c.RateOverride
	}
	rateResult, rateErr := o.limiter.Allow(ctx, ratelimit.Key(c.ConsumerID, serverID), rateCfg)
	if rateErr != nil {
		status, detail, err = audit.StatusError, rateErr.Error(), fmt.Errorf("orchestrator: rate limit check: %w", rateErr)
		return nil, err
	}
	if !rateResult.Allowed {
		status, detail, err = audit.StatusRateLimited, "rate limit exceeded", fmt.Errorf("%w: retry after %s", ErrRateLimited, rateResult.ResetAfter)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	callStart := time.Now()
	result, callErr := o.invoker.CallTool(callCtx, serverID, tool, args)
	callLatencyMS := time.Since(callStart).Milliseconds()
	if callErr != nil {
		status, detail, err = audit.StatusError, callErr.Error(), fmt.Errorf("orchestrator: backend call: %w", callErr)
		o.meter.Record(c.ConsumerID, serverID, tool, outcomeFor(status), callLatencyMS)
		return nil, err
	}

	resultJSON = result
	status, detail = audit.StatusSuccess, ""
	o.meter.Record(c.ConsumerID, serverID, tool, outcomeFor(status), callLatencyMS)
	return result, nil
}

func (o *Orchestrator) audit(ctx context.Context, c *caller.Context, serverID, tool string, status audit.Status, detail string, args map[string]interface{}, result json.RawMessage, latencyMS int64) {
	if o.recorder == nil {
		return
	}
	argsJSON, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		argsJSON = []byte(`{}`)
	}
	if _, err := o.recorder.Record(ctx, audit.Entry{
		ConsumerID:   c.ConsumerID,
		CredentialID: c.CredentialID,
		ServerID:     serverID,
		Tool:         tool,
		Status:       status,
		Detail:       detail,
		Args:         audit.TruncateResponse(string(argsJSON)),
		Response:     audit.TruncateResponse(string(result)),
		LatencyMS:    latencyMS,
	}); err != nil {
		o.logger.Error("orchestrator: failed to record audit entry", "error", err)
	}
}

func policyDecisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

func outcomeFor(status audit.Status) meter.Outcome {
	switch status {
	case audit.StatusSuccess:
		return meter.OutcomeSuccess
	case audit.StatusDenied:
		return meter.OutcomeDenied
	case audit.StatusRateLimited:
		return meter.OutcomeRateLimited
	default:
		return meter.OutcomeError
	}
}
