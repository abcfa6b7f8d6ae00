package guardian

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/service"
)

// Analyzer judges a trajectory snapshot and returns a structured
// verdict. The production implementation calls out to an LLM; tests
// use a scripted stub.
type Analyzer interface {
	Analyze(ctx context.Context, snapshot core.TrajectoryContext) (*core.Verdict, error)
}

// AnthropicAnalyzer is the production Analyzer, backed by
// anthropic-sdk-go — this codebase's own primary model provider —
// prompted to return its verdict as JSON matching core.Verdict's shape.
type AnthropicAnalyzer struct {
	client  anthropic.Client
	model   anthropic.Model
	limiter *service.RateLimiter
}

// NewAnthropicAnalyzer builds an analyzer using the given API key. If
// model is empty, a fast, cheap model is used since trajectory checks
// run on a tight periodic loop. Calls are throttled by a token-bucket
// limiter sized for the trajectory loop's cadence rather than the
// analyzer's own interval, since several agents' trajectories can land
// on the same tick.
func NewAnthropicAnalyzer(apiKey string, model anthropic.Model) *AnthropicAnalyzer {
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	return &AnthropicAnalyzer{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		limiter: service.NewRateLimiter(service.DefaultRateLimiterConfig()),
	}
}

const analyzerSystemPrompt = `You are a monitoring analyzer for an autonomous engineering system.
Given a worker's trajectory snapshot, judge whether it remains aligned with its task.
Respond with a single JSON object and nothing else, matching this shape:
{"alignment_score": number 0..1, "trajectory_aligned": bool, "summary": string,
 "detected_drift_reasons": [string], "constraint_violations": [string],
 "skipped_mandatory_steps": [string],
 "recommended_steering": {"kind": string, "message": string, "confidence": number} | null}`

// Analyze submits the snapshot to the model and parses its verdict.
func (a *AnthropicAnalyzer) Analyze(ctx context.Context, snapshot core.TrajectoryContext) (*core.Verdict, error) {
	if err := a.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for analyzer rate limit: %w", err)
	}

	prompt, err := renderSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("render trajectory snapshot: %w", err)
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: analyzerSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer request: %w", err)
	}

	text := msg.Content[0].Text
	var parsed verdictWire
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("parse analyzer verdict: %w", err)
	}
	return parsed.toVerdict(), nil
}

func renderSnapshot(s core.TrajectoryContext) (string, error) {
	payload := struct {
		TaskID    core.TaskID          `json:"task_id"`
		AgentID   core.AgentID         `json:"agent_id"`
		Phase     core.Phase           `json:"phase"`
		Events    []core.ExecutionEvent `json:"events"`
		StartedAt string               `json:"started_at"`
		AsOf      string               `json:"as_of"`
	}{
		TaskID:    s.TaskID,
		AgentID:   s.AgentID,
		Phase:     s.Phase,
		Events:    s.Events,
		StartedAt: s.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		AsOf:      s.AsOf.Format("2006-01-02T15:04:05Z07:00"),
	}
	b, err := json.Marshal(payload)
	return string(b), err
}

type steeringWire struct {
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
}

type verdictWire struct {
	AlignmentScore        float64       `json:"alignment_score"`
	TrajectoryAligned     bool          `json:"trajectory_aligned"`
	Summary               string        `json:"summary"`
	DetectedDriftReasons  []string      `json:"detected_drift_reasons"`
	ConstraintViolations  []string      `json:"constraint_violations"`
	SkippedMandatorySteps []string      `json:"skipped_mandatory_steps"`
	RecommendedSteering   *steeringWire `json:"recommended_steering"`
}

func (v verdictWire) toVerdict() *core.Verdict {
	out := &core.Verdict{
		AlignmentScore:        v.AlignmentScore,
		TrajectoryAligned:     v.TrajectoryAligned,
		Summary:               v.Summary,
		DetectedDriftReasons:  v.DetectedDriftReasons,
		ConstraintViolations:  v.ConstraintViolations,
		SkippedMandatorySteps: v.SkippedMandatorySteps,
	}
	if v.RecommendedSteering != nil {
		out.RecommendedSteering = &core.SteeringRecommendation{
			Kind:       v.RecommendedSteering.Kind,
			Message:    v.RecommendedSteering.Message,
			Confidence: v.RecommendedSteering.Confidence,
		}
	}
	return out
}
