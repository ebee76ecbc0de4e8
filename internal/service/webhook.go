package service

import (
	"context"

	"github.com/target/smart-agent/internal/agent"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

// Output field names pushed while a turn is being reported.
const (
	OutputNameOutput      = agent.OutputNameOutput
	OutputNameHistory     = "history"
	OutputNameIsComplete  = "isComplete"
	OutputNameSummary     = "summary"
	OutputNameExplanation = "explanation"
	OutputNameThreadID    = model.InputThreadID
)

// jobPusher binds a notifier to one job's id and webhook URL.
// A nil notifier turns every push into a no-op.
type jobPusher struct {
	notifier core.Notifier
	jobID    string
	url      string
}

func newJobPusher(n core.Notifier, jobID, url string) jobPusher {
	return jobPusher{notifier: n, jobID: jobID, url: url}
}

func (p jobPusher) push(ctx context.Context, payload model.WebhookPayload) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(ctx, p.url, payload)
}

func (p jobPusher) progress(ctx context.Context, title, info string) {
	p.push(ctx, model.ProgressPayload(p.jobID, title, info, nil))
}

func (p jobPusher) output(ctx context.Context, name, typ string, data any) {
	p.push(ctx, model.ProgressPayload(p.jobID, "", "", &model.OutputField{Name: name, Type: typ, Data: data}))
}

func (p jobPusher) completed(ctx context.Context, title, info string, out model.OutputField) {
	p.push(ctx, model.CompletedPayload(p.jobID, title, info, out))
}

func (p jobPusher) failed(ctx context.Context, code int, message string) {
	p.push(ctx, model.ErrorPayload(p.jobID, code, message))
}

func (p jobPusher) saturated(ctx context.Context, decision model.AdmissionDecision) {
	p.push(ctx, model.SaturatedPayload(p.jobID, decision))
}
