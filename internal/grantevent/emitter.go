// Package grantevent fans committed grant transitions out to the event
// stream, the audit log, the webhook outbox and the customer-state job.
package grantevent

import (
	"context"
	"encoding/json"
	"fmt"

	auditdomain "github.com/smallbiznis/railzway-benefits/internal/audit/domain"
	grantdomain "github.com/smallbiznis/railzway-benefits/internal/benefitgrant/domain"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/eventstream"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	obsmetrics "github.com/smallbiznis/railzway-benefits/internal/observability/metrics"
	webhookdomain "github.com/smallbiznis/railzway-benefits/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	SinkEventStream = "event_stream"
	SinkAudit       = "audit"
	SinkWebhook     = "webhook"
	SinkStateJob    = "customer_state_job"

	EventActionRequired = "benefit_grant.action_required"
	auditTargetType     = "benefit_grant"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Publisher eventstream.Publisher
	Audit     auditdomain.Service
	Outbox    webhookdomain.Outbox
	Queue     jobqueue.Enqueuer
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Emitter struct {
	log       *zap.Logger
	clock     clock.Clock
	publisher eventstream.Publisher
	audit     auditdomain.Service
	outbox    webhookdomain.Outbox
	queue     jobqueue.Enqueuer
	metrics   *obsmetrics.Metrics
}

func NewEmitter(p Params) *Emitter {
	return &Emitter{
		log:       p.Log.Named("grantevent"),
		clock:     p.Clock,
		publisher: p.Publisher,
		audit:     p.Audit,
		outbox:    p.Outbox,
		queue:     p.Queue,
		metrics:   p.Metrics,
	}
}

func (e *Emitter) Emit(ctx context.Context, event grantdomain.GrantEvent) {
	name := event.Type.WebhookType()
	grant := event.Grant
	e.metrics.RecordGrantTransition(ctx, string(event.Benefit.Type), string(event.Type))

	if err := e.publisher.Publish(ctx, eventstream.Event{
		Name:       name,
		SubjectID:  grant.CustomerID.String(),
		Payload:    streamPayload(event),
		OccurredAt: e.clock.Now().UTC(),
	}); err != nil {
		e.failed(ctx, SinkEventStream, event, err)
	}

	targetID := grant.ID.String()
	if err := e.audit.AuditLog(ctx, &grant.OrgID, "", nil, name, auditTargetType, &targetID, auditMetadata(event)); err != nil {
		e.failed(ctx, SinkAudit, event, err)
	}

	payload, err := webhookPayload(event)
	if err == nil {
		err = e.outbox.Send(ctx, webhookdomain.SendRequest{
			OrgID:     grant.OrgID,
			EventType: name,
			Payload:   payload,
			DedupeKey: fmt.Sprintf("%s:%s:%d", event.Type, grant.ID, grant.UpdatedAt.UnixNano()),
		})
	}
	if err != nil {
		e.failed(ctx, SinkWebhook, event, err)
	}

	if err := e.queue.Enqueue(ctx, grantdomain.JobCustomerStateChanged,
		grantdomain.CustomerJobArgs(grant.OrgID, grant.CustomerID)); err != nil {
		e.failed(ctx, SinkStateJob, event, err)
	}
}

func (e *Emitter) NotifyActionRequired(ctx context.Context, event grantdomain.GrantEvent, message string) {
	grant := event.Grant
	payload := streamPayload(event)
	payload["message"] = message
	if len(grant.ErrorPayload) > 0 {
		payload["error"] = map[string]any(grant.ErrorPayload)
	}

	if err := e.publisher.Publish(ctx, eventstream.Event{
		Name:       EventActionRequired,
		SubjectID:  grant.CustomerID.String(),
		Payload:    payload,
		OccurredAt: e.clock.Now().UTC(),
	}); err != nil {
		e.failed(ctx, SinkEventStream, event, err)
	}

	targetID := grant.ID.String()
	metadata := auditMetadata(event)
	metadata["message"] = message
	if err := e.audit.AuditLog(ctx, &grant.OrgID, "", nil, EventActionRequired, auditTargetType, &targetID, metadata); err != nil {
		e.failed(ctx, SinkAudit, event, err)
	}
}

func (e *Emitter) failed(ctx context.Context, sink string, event grantdomain.GrantEvent, err error) {
	e.metrics.RecordSideEffectFailure(ctx, sink)
	e.log.Warn("grant side effect failed",
		zap.String("sink", sink),
		zap.String("event", string(event.Type)),
		zap.String("grant_id", event.Grant.ID.String()),
		zap.String("customer_id", event.Grant.CustomerID.String()),
		zap.Error(err),
	)
}

func streamPayload(event grantdomain.GrantEvent) map[string]any {
	grant := event.Grant
	return map[string]any{
		"grant_id":     grant.ID.String(),
		"benefit_id":   grant.BenefitID.String(),
		"benefit_type": string(event.Benefit.Type),
		"scope_key":    grant.ScopeKey,
		"granted":      grant.IsGranted(),
		"revoked":      grant.IsRevoked(),
	}
}

func auditMetadata(event grantdomain.GrantEvent) map[string]any {
	grant := event.Grant
	metadata := map[string]any{
		"customer_id":  grant.CustomerID.String(),
		"benefit_id":   grant.BenefitID.String(),
		"benefit_type": string(event.Benefit.Type),
		"scope_key":    grant.ScopeKey,
		"properties":   map[string]any(grant.CloneProperties()),
	}
	if event.PreviousProperties != nil {
		metadata["previous_properties"] = map[string]any(event.PreviousProperties)
	}
	return metadata
}

// webhookPayload is the grant with its benefit and customer attached, plus
// the properties it had before the transition.
func webhookPayload(event grantdomain.GrantEvent) (map[string]any, error) {
	grant, err := toMap(event.Grant)
	if err != nil {
		return nil, err
	}
	benefit, err := toMap(event.Benefit)
	if err != nil {
		return nil, err
	}
	customer, err := toMap(event.Customer)
	if err != nil {
		return nil, err
	}
	grant["benefit"] = benefit
	grant["customer"] = customer

	previous := map[string]any{}
	for k, v := range event.PreviousProperties {
		previous[k] = v
	}
	return map[string]any{
		"type":                event.Type.WebhookType(),
		"data":                grant,
		"previous_properties": previous,
	}, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
