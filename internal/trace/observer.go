package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"devflow/internal/ledger"
	"devflow/internal/textutil"
)

// TracerName is the instrumentation scope of devflow spans.
const TracerName = "devflow/orchestrator"

// maxAttrWidth bounds free-text attributes such as feedback.
const maxAttrWidth = 500

// Observer turns ledger events into spans: one span per run, a child per
// step and a grandchild per story attempt. Timestamps come from the events.
type Observer struct {
	tracer oteltrace.Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

var _ ledger.Observer = (*Observer)(nil)

type runSpans struct {
	ctx     context.Context
	span    oteltrace.Span
	stepCtx context.Context
	step    oteltrace.Span
	stories map[string]oteltrace.Span
}

// parent returns the step context when a step is open, else the run's.
func (rs *runSpans) parent() context.Context {
	if rs.step != nil {
		return rs.stepCtx
	}
	return rs.ctx
}

// NewObserver returns an Observer creating spans from tp.
func NewObserver(tp oteltrace.TracerProvider) *Observer {
	return &Observer{
		tracer: tp.Tracer(TracerName),
		runs:   make(map[string]*runSpans),
	}
}

// Observe implements ledger.Observer.
func (o *Observer) Observe(e ledger.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ts := oteltrace.WithTimestamp(e.Timestamp)

	if e.Type == ledger.EventRunStart {
		ctx, span := o.tracer.Start(context.Background(), "run "+e.Workflow, ts,
			oteltrace.WithAttributes(
				attribute.String("devflow.run.id", e.RunID),
				attribute.String("devflow.workflow", e.Workflow),
				attribute.String("devflow.task", textutil.Truncate(e.Task, maxAttrWidth)),
				attribute.String("devflow.branch", e.Branch),
			))
		o.runs[e.RunID] = &runSpans{ctx: ctx, span: span, stories: make(map[string]oteltrace.Span)}
		return
	}

	rs, ok := o.runs[e.RunID]
	if !ok {
		return // run started before the observer was attached
	}

	switch e.Type {
	case ledger.EventStepStart:
		rs.stepCtx, rs.step = o.tracer.Start(rs.ctx, "step "+e.StepID, ts,
			oteltrace.WithAttributes(
				attribute.String("devflow.step.id", e.StepID),
				attribute.String("devflow.step.kind", e.Kind),
				attribute.String("devflow.agent", e.Agent),
			))

	case ledger.EventStepComplete:
		if rs.step == nil {
			return
		}
		rs.step.SetAttributes(
			attribute.String("devflow.step.status", e.Status),
			attribute.Int64("devflow.duration_ms", e.DurationMs),
		)
		if e.Error != "" {
			rs.step.SetStatus(codes.Error, textutil.Truncate(textutil.FirstLine(e.Error), maxAttrWidth))
		}
		rs.step.End(oteltrace.WithTimestamp(e.Timestamp))
		rs.step, rs.stepCtx = nil, nil

	case ledger.EventLoopStart:
		_, span := o.tracer.Start(rs.parent(), "story "+e.StoryID, ts,
			oteltrace.WithAttributes(
				attribute.String("devflow.story.id", e.StoryID),
				attribute.String("devflow.story.title", e.Title),
				attribute.Int("devflow.story.attempt", e.Attempt),
				attribute.Int("devflow.iteration", e.Iteration),
			))
		rs.stories[e.StoryID] = span

	case ledger.EventLoopPass:
		if span, ok := rs.stories[e.StoryID]; ok {
			span.SetAttributes(attribute.String("devflow.outcome", "pass"))
			span.SetStatus(codes.Ok, "")
			span.End(oteltrace.WithTimestamp(e.Timestamp))
			delete(rs.stories, e.StoryID)
		}

	case ledger.EventLoopFail:
		if span, ok := rs.stories[e.StoryID]; ok {
			span.SetAttributes(
				attribute.String("devflow.outcome", "fail"),
				attribute.String("devflow.feedback", textutil.Truncate(e.Feedback, maxAttrWidth)),
			)
			span.SetStatus(codes.Error, textutil.Truncate(textutil.FirstLine(e.Feedback), maxAttrWidth))
			span.End(oteltrace.WithTimestamp(e.Timestamp))
			delete(rs.stories, e.StoryID)
		}

	case ledger.EventLoopExhausted:
		oteltrace.SpanFromContext(rs.parent()).AddEvent("story exhausted", ts,
			oteltrace.WithAttributes(
				attribute.String("devflow.story.id", e.StoryID),
				attribute.Int("devflow.story.attempts", e.Attempt),
			))

	case ledger.EventLearning:
		rs.span.AddEvent("learning", ts,
			oteltrace.WithAttributes(attribute.String("devflow.learning", textutil.Truncate(e.Content, maxAttrWidth))))

	case ledger.EventRunComplete:
		end := oteltrace.WithTimestamp(e.Timestamp)
		for id, span := range rs.stories {
			span.End(end)
			delete(rs.stories, id)
		}
		if rs.step != nil {
			rs.step.End(end)
		}
		rs.span.SetAttributes(
			attribute.String("devflow.run.status", e.Status),
			attribute.Int("devflow.stories.done", e.StoriesDone),
			attribute.Int("devflow.stories.total", e.StoriesTotal),
		)
		if e.Status != "done" {
			rs.span.SetStatus(codes.Error, e.Error)
		} else {
			rs.span.SetStatus(codes.Ok, "")
		}
		rs.span.End(end)
		delete(o.runs, e.RunID)
	}
}

// Open returns the number of runs with an unfinished span.
func (o *Observer) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}
