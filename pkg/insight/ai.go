package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clinsight-ai/platform/pkg/agent"
	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/observability/metrics"
	"github.com/sirupsen/logrus"
)

const annotationSystemPrompt = `You are a clinical charting assistant. Given a compact summary ` +
	`of a patient's derived vitals, conditions, and treatments, respond with a single JSON object ` +
	`with keys "annotations", "risk_windows", "condition_trajectory", and optionally "plot_plan". ` +
	`Each annotation has "title", "detail", "date", "metric", and "severity" (high|medium|low). ` +
	`Respond with JSON only, no prose.`

// Annotator produces chart insights from a summary of derived metrics.
type Annotator interface {
	Annotate(ctx context.Context, summary models.InsightSummary) (models.EvolutionInsights, error)
}

// OpenAIAnnotator calls the OpenAI chat completion API for insight generation.
type OpenAIAnnotator struct {
	client *openai.Client
	model  string
}

func NewOpenAIAnnotator(apiKey, model string) *OpenAIAnnotator {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIAnnotator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (a *OpenAIAnnotator) Annotate(ctx context.Context, summary models.InsightSummary) (models.EvolutionInsights, error) {
	var empty models.EvolutionInsights
	if a.client == nil {
		return empty, errors.New("openai client not initialized")
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return empty, fmt.Errorf("marshal summary: %w", err)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: annotationSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return empty, err
	}
	if len(resp.Choices) == 0 {
		return empty, errors.New("empty completion response")
	}

	// Model replies are often wrapped in markdown fences; extract the JSON
	// body the same way agent output is handled.
	raw, err := agent.ExtractJSON([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return empty, fmt.Errorf("parse completion: %w", err)
	}

	var ins models.EvolutionInsights
	if err := json.Unmarshal(raw, &ins); err != nil {
		return empty, fmt.Errorf("decode insights: %w", err)
	}
	return ins, nil
}

// Fetch returns AI-generated insights when an annotator is configured and the
// call succeeds, and the deterministic fallback otherwise. Any annotator
// failure, transport, parse, or decode, is absorbed: the caller always gets a
// usable insight set.
func Fetch(ctx context.Context, annotator Annotator, derived models.DerivedMetrics, out *models.PatientEvolutionOutput) models.EvolutionInsights {
	if annotator != nil {
		ins, err := annotator.Annotate(ctx, Summarize(derived, out))
		if err == nil {
			metrics.ObserveInsightAI()
			return normalizeAI(ins, derived)
		}
		logger.Log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("AI annotation failed, serving deterministic insights")
	}
	metrics.ObserveInsightFallback()
	return DeterministicInsights(derived)
}

// normalizeAI fills in the fields the model is allowed to omit so downstream
// consumers never see nil collections.
func normalizeAI(ins models.EvolutionInsights, derived models.DerivedMetrics) models.EvolutionInsights {
	ins.Source = "ai"
	if ins.Annotations == nil {
		ins.Annotations = []models.ChartAnnotation{}
	}
	if ins.RiskWindows == nil {
		ins.RiskWindows = []models.RiskWindow{}
	}
	if ins.ConditionTrajectory == nil {
		ins.ConditionTrajectory = []models.TrajectoryPoint{}
	}
	if ins.PlotPlan == nil {
		ins.PlotPlan = DeterministicPlotPlan(derived.Coverage)
	}
	return ins
}

// Summarize condenses derived metrics into the compact form sent to the
// annotation model. Raw timeline events are never forwarded.
func Summarize(derived models.DerivedMetrics, out *models.PatientEvolutionOutput) models.InsightSummary {
	summary := models.InsightSummary{
		Conditions: []string{},
		Treatments: []string{},
	}

	parts := []string{fmt.Sprintf("%d vital data points", derived.Coverage.TotalVitalPoints)}
	if derived.Coverage.FirstDate != "" {
		parts = append(parts, fmt.Sprintf("from %s to %s", derived.Coverage.FirstDate, derived.Coverage.LastDate))
	}
	if n := len(derived.Vitals); n > 0 {
		last := derived.Vitals[n-1]
		if last.SBP != nil && last.DBP != nil {
			parts = append(parts, fmt.Sprintf("last BP %s/%s (%s)", fmtVal(last.SBP), fmtVal(last.DBP), last.BPStage))
		}
		if last.HeartRate != nil {
			parts = append(parts, fmt.Sprintf("last HR %s", fmtVal(last.HeartRate)))
		}
	}
	summary.VitalsSummary = strings.Join(parts, ", ")

	for _, span := range derived.ConditionSpans {
		name := span.Name
		if span.IsActive {
			name += " (active)"
		}
		summary.Conditions = append(summary.Conditions, name)
	}
	for _, marker := range derived.TreatmentMarkers {
		summary.Treatments = append(summary.Treatments, marker.Label)
	}

	if out != nil {
		summary.AlertCount = len(out.Alerts)
		summary.EpisodeCount = len(out.Episodes)
	}
	return summary
}
