package insight

import (
	"fmt"
	"math"

	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/interactions"
	"github.com/clinsight-ai/platform/pkg/terminology"
)

const maxAnnotations = 20

// DeterministicInsights builds chart insights from derived metrics alone,
// with no model call. Rules run in a fixed order and the combined annotation
// count is capped, so output is stable for a given input.
func DeterministicInsights(derived models.DerivedMetrics) models.EvolutionInsights {
	ins := models.EvolutionInsights{
		Annotations:         []models.ChartAnnotation{},
		RiskWindows:         []models.RiskWindow{},
		ConditionTrajectory: []models.TrajectoryPoint{},
		Source:              "deterministic",
	}

	add := func(a models.ChartAnnotation) {
		if len(ins.Annotations) < maxAnnotations {
			ins.Annotations = append(ins.Annotations, a)
		}
	}

	for _, v := range derived.Vitals {
		if v.BPStage != StageCrisis {
			continue
		}
		add(models.ChartAnnotation{
			Title:    "Hypertensive Crisis",
			Detail:   fmt.Sprintf("BP %s/%s meets crisis thresholds", fmtVal(v.SBP), fmtVal(v.DBP)),
			Date:     v.Date,
			Metric:   terminology.FieldSBP,
			Severity: "high",
		})
	}

	for _, v := range derived.Vitals {
		if v.ShockIndex == nil || *v.ShockIndex <= 1.0 {
			continue
		}
		add(models.ChartAnnotation{
			Title:    "Elevated Shock Index",
			Detail:   fmt.Sprintf("Shock index %.2f exceeds 1.0", *v.ShockIndex),
			Date:     v.Date,
			Metric:   "shock_index",
			Severity: "high",
		})
	}

	for i := 1; i < len(derived.Vitals); i++ {
		prev, cur := derived.Vitals[i-1], derived.Vitals[i]
		if prev.SBP == nil || cur.SBP == nil {
			continue
		}
		delta := *cur.SBP - *prev.SBP
		if math.Abs(delta) < 30 {
			continue
		}
		title := "Systolic Spike"
		if delta < 0 {
			title = "Systolic Drop"
		}
		add(models.ChartAnnotation{
			Title:    title,
			Detail:   fmt.Sprintf("SBP changed by %+.0f between adjacent readings", delta),
			Date:     cur.Date,
			Metric:   terminology.FieldSBP,
			Severity: "medium",
		})
	}

	for _, hit := range medicationInteractions(derived.TreatmentMarkers) {
		add(hit)
	}

	ins.RiskWindows = riskWindows(derived.Vitals)
	ins.ConditionTrajectory = conditionTrajectory(derived.ActiveConditions)
	ins.PlotPlan = DeterministicPlotPlan(derived.Coverage)
	return ins
}

func medicationInteractions(markers []models.TreatmentMarker) []models.ChartAnnotation {
	meds := []string{}
	for _, m := range markers {
		if m.Kind == "medication" {
			meds = append(meds, m.Label)
		}
	}
	annotations := []models.ChartAnnotation{}
	table, err := interactions.Get()
	if err != nil {
		return annotations
	}
	for _, hit := range table.Check(meds) {
		annotations = append(annotations, models.ChartAnnotation{
			Title:    "Medication Interaction",
			Detail:   fmt.Sprintf("%s + %s: %s", hit.A, hit.B, hit.Note),
			Metric:   "medications",
			Severity: hit.Severity,
		})
	}
	return annotations
}

// riskWindows collapses contiguous runs of crisis or stage-2 readings into
// dated windows. A run of mixed stages takes the level of its worst sample.
func riskWindows(vitals []models.VitalDataPoint) []models.RiskWindow {
	windows := []models.RiskWindow{}
	var open *models.RiskWindow
	for _, v := range vitals {
		elevated := v.BPStage == StageCrisis || v.BPStage == StageHTN2
		if !elevated {
			if open != nil {
				windows = append(windows, *open)
				open = nil
			}
			continue
		}
		level := "elevated"
		if v.BPStage == StageCrisis {
			level = "high"
		}
		if open == nil {
			open = &models.RiskWindow{
				Start:  v.Date,
				End:    v.Date,
				Reason: "sustained blood pressure elevation",
				Level:  level,
			}
			continue
		}
		open.End = v.Date
		if level == "high" {
			open.Level = "high"
		}
	}
	if open != nil {
		windows = append(windows, *open)
	}
	return windows
}

func conditionTrajectory(points []models.ActiveConditionPoint) []models.TrajectoryPoint {
	trajectory := make([]models.TrajectoryPoint, 0, len(points))
	for i, p := range points {
		trend := "stable"
		if i > 0 {
			switch {
			case p.Count > points[i-1].Count:
				trend = "worsening"
			case p.Count < points[i-1].Count:
				trend = "improving"
			}
		}
		trajectory = append(trajectory, models.TrajectoryPoint{
			Date:  p.Date,
			Label: fmt.Sprintf("%d active condition(s)", p.Count),
			Trend: trend,
		})
	}
	return trajectory
}

// DeterministicPlotPlan recommends charts from data coverage, with a fixed
// 400ms reveal stagger between metrics.
func DeterministicPlotPlan(cov models.Coverage) *models.PlotPlan {
	plan := &models.PlotPlan{RecommendedMetrics: []string{}, Reveal: []models.RevealStep{}}
	if cov.HasBP {
		plan.RecommendedMetrics = append(plan.RecommendedMetrics,
			terminology.FieldSBP, terminology.FieldDBP, "map")
	}
	if cov.HasHR {
		plan.RecommendedMetrics = append(plan.RecommendedMetrics, terminology.FieldHeartRate)
		if cov.HasBP {
			plan.RecommendedMetrics = append(plan.RecommendedMetrics, "shock_index")
		}
	}
	for i, metric := range plan.RecommendedMetrics {
		plan.Reveal = append(plan.Reveal, models.RevealStep{Metric: metric, DelayMs: i * 400})
	}
	return plan
}

func fmtVal(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%.0f", *v)
}
