package insight

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/terminology"
)

// BP stages in priority order. Either threshold alone triggers a stage:
// a low-normal systolic with diastolic 92 still lands in stage 2.
const (
	StageCrisis   = "crisis"
	StageHTN2     = "htn_stage_2"
	StageHTN1     = "htn_stage_1"
	StageElevated = "elevated"
	StageNormal   = "normal"
)

// Engine recomputes derived metrics fresh from a PatientEvolutionOutput on
// every call. The only impurity is the synthetic "latest" bucket, whose
// timestamp comes from the injected clock.
type Engine struct {
	catalog terminology.Catalog
	windows []int
	now     func() time.Time
}

func NewEngine(catalog terminology.Catalog) *Engine {
	return &Engine{
		catalog: catalog,
		windows: []int{7},
		now:     time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

func (e *Engine) WithWindows(days []int) *Engine {
	if len(days) > 0 {
		e.windows = days
	}
	return e
}

func (e *Engine) Derive(out *models.PatientEvolutionOutput) models.DerivedMetrics {
	derived := models.DerivedMetrics{
		Vitals:           []models.VitalDataPoint{},
		RollingAverages:  []models.RollingAverage{},
		ConditionSpans:   []models.ConditionSpan{},
		ActiveConditions: []models.ActiveConditionPoint{},
		TreatmentMarkers: []models.TreatmentMarker{},
	}
	if out == nil {
		return derived
	}

	buckets := map[string]*models.VitalDataPoint{}
	for _, ev := range out.Timeline {
		switch ev.Category {
		case "observation":
			e.applyObservation(buckets, ev)
		case "condition":
			derived.ConditionSpans = append(derived.ConditionSpans, conditionSpan(ev))
		case "medication", "procedure":
			if marker, ok := treatmentMarker(ev); ok {
				derived.TreatmentMarkers = append(derived.TreatmentMarkers, marker)
			}
		}
	}

	derived.Vitals = finalizeVitals(buckets)
	derived.Coverage = coverage(derived.Vitals)
	derived.RollingAverages = e.rollingAverages(derived.Vitals)
	derived.ActiveConditions = activeConditionSeries(derived.Vitals, derived.ConditionSpans)
	return derived
}

func (e *Engine) applyObservation(buckets map[string]*models.VitalDataPoint, ev models.TimelineEvent) {
	concept, ok := e.catalog.Resolve(ev.Code, ev.Description)
	if !ok {
		return
	}

	date := day(ev.TimeStart)
	key := date
	if key == "" {
		key = "latest"
	}
	bucket := buckets[key]
	if bucket == nil {
		bucket = &models.VitalDataPoint{Date: key}
		if date != "" {
			bucket.Timestamp = ev.TimeStart
		} else {
			bucket.Timestamp = e.now().UTC().Format(time.RFC3339)
		}
		buckets[key] = bucket
	}

	// Later events in the same day-bucket overwrite earlier values; there is
	// no intra-day averaging.
	if concept.Field == terminology.FieldBP {
		if sbp, dbp, ok := parseBPComposite(ev.Value); ok {
			bucket.SBP = &sbp
			bucket.DBP = &dbp
		}
		return
	}
	value, err := numeric(ev.Value)
	if err != nil {
		return
	}
	switch concept.Field {
	case terminology.FieldSBP:
		bucket.SBP = &value
	case terminology.FieldDBP:
		bucket.DBP = &value
	case terminology.FieldHeartRate:
		bucket.HeartRate = &value
	case terminology.FieldTemperature:
		bucket.Temperature = &value
	case terminology.FieldSpO2:
		bucket.SpO2 = &value
	case terminology.FieldWeight:
		bucket.Weight = &value
	case terminology.FieldGlucose:
		bucket.Glucose = &value
	}
}

func finalizeVitals(buckets map[string]*models.VitalDataPoint) []models.VitalDataPoint {
	keys := make([]string, 0, len(buckets))
	hasLatest := false
	for key := range buckets {
		if key == "latest" {
			hasLatest = true
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if hasLatest {
		keys = append(keys, "latest")
	}

	vitals := make([]models.VitalDataPoint, 0, len(keys))
	for _, key := range keys {
		point := *buckets[key]

		if point.SBP != nil && point.DBP != nil {
			m := round1((*point.SBP + 2**point.DBP) / 3)
			pp := *point.SBP - *point.DBP
			point.MAP = &m
			point.PulsePressure = &pp
		}
		if point.HeartRate != nil && point.SBP != nil && *point.SBP > 0 {
			si := round2(*point.HeartRate / *point.SBP)
			point.ShockIndex = &si
		}
		if point.SBP != nil || point.DBP != nil {
			point.BPStage = ClassifyBPStage(deref(point.SBP), deref(point.DBP))
		}

		vitals = append(vitals, point)
	}
	return vitals
}

// ClassifyBPStage is total over all pairs; evaluation order is fixed and the
// first matching stage wins.
func ClassifyBPStage(sbp, dbp float64) string {
	switch {
	case sbp >= 180 || dbp >= 120:
		return StageCrisis
	case sbp >= 140 || dbp >= 90:
		return StageHTN2
	case sbp >= 130 || dbp >= 80:
		return StageHTN1
	case sbp >= 120 && dbp < 80:
		return StageElevated
	default:
		return StageNormal
	}
}

// rollingAverages computes, for each metric and trailing window of N days,
// the mean of all same-metric points in (target-N, target], target included.
func (e *Engine) rollingAverages(vitals []models.VitalDataPoint) []models.RollingAverage {
	type sample struct {
		date  time.Time
		value float64
	}
	series := map[string][]sample{}
	for _, v := range vitals {
		t, err := time.Parse("2006-01-02", v.Date)
		if err != nil {
			continue // synthetic "latest" bucket has no calendar position
		}
		if v.SBP != nil {
			series[terminology.FieldSBP] = append(series[terminology.FieldSBP], sample{t, *v.SBP})
		}
		if v.DBP != nil {
			series[terminology.FieldDBP] = append(series[terminology.FieldDBP], sample{t, *v.DBP})
		}
		if v.HeartRate != nil {
			series[terminology.FieldHeartRate] = append(series[terminology.FieldHeartRate], sample{t, *v.HeartRate})
		}
	}

	metricsOrder := []string{terminology.FieldSBP, terminology.FieldDBP, terminology.FieldHeartRate}
	averages := []models.RollingAverage{}
	for _, metric := range metricsOrder {
		samples := series[metric]
		if len(samples) == 0 {
			continue
		}
		for _, window := range e.windows {
			avg := models.RollingAverage{Metric: metric, WindowDays: window, Points: []models.MetricPoint{}}
			for _, target := range samples {
				cutoff := target.date.AddDate(0, 0, -window)
				sum, count := 0.0, 0
				for _, s := range samples {
					if s.date.After(cutoff) && !s.date.After(target.date) {
						sum += s.value
						count++
					}
				}
				if count == 0 {
					continue
				}
				avg.Points = append(avg.Points, models.MetricPoint{
					Date:  target.date.Format("2006-01-02"),
					Value: round1(sum / float64(count)),
				})
			}
			averages = append(averages, avg)
		}
	}
	return averages
}

func conditionSpan(ev models.TimelineEvent) models.ConditionSpan {
	name := ev.Description
	if name == "" {
		name = ev.Subtype
	}
	if name == "" {
		name = ev.Code
	}
	return models.ConditionSpan{
		Name:     name,
		Start:    day(ev.TimeStart),
		End:      day(ev.TimeEnd),
		IsActive: ev.TimeEnd == "",
		EventID:  ev.EventID,
	}
}

func treatmentMarker(ev models.TimelineEvent) (models.TreatmentMarker, bool) {
	label := ev.Description
	if label == "" {
		label = ev.Code
	}
	if label == "" {
		return models.TreatmentMarker{}, false
	}
	return models.TreatmentMarker{
		Date:  day(ev.TimeStart),
		Label: label,
		Kind:  ev.Category,
	}, true
}

// activeConditionSeries counts, for the union of vital dates and span
// boundary dates, how many spans contain each date at end-of-day resolution.
// An unterminated span extends to +infinity.
func activeConditionSeries(vitals []models.VitalDataPoint, spans []models.ConditionSpan) []models.ActiveConditionPoint {
	dateSet := map[string]struct{}{}
	for _, v := range vitals {
		if v.Date != "latest" {
			dateSet[v.Date] = struct{}{}
		}
	}
	for _, s := range spans {
		if s.Start != "" {
			dateSet[s.Start] = struct{}{}
		}
		if s.End != "" {
			dateSet[s.End] = struct{}{}
		}
	}
	if len(dateSet) == 0 {
		return []models.ActiveConditionPoint{}
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	points := make([]models.ActiveConditionPoint, 0, len(dates))
	for _, d := range dates {
		count := 0
		for _, s := range spans {
			if s.Start != "" && s.Start > d {
				continue
			}
			if s.End != "" && s.End < d {
				continue
			}
			count++
		}
		points = append(points, models.ActiveConditionPoint{Date: d, Count: count})
	}
	return points
}

func coverage(vitals []models.VitalDataPoint) models.Coverage {
	cov := models.Coverage{TotalVitalPoints: len(vitals)}
	for _, v := range vitals {
		if v.SBP != nil || v.DBP != nil {
			cov.HasBP = true
		}
		if v.HeartRate != nil {
			cov.HasHR = true
		}
		if v.Date != "latest" {
			if cov.FirstDate == "" || v.Date < cov.FirstDate {
				cov.FirstDate = v.Date
			}
			if v.Date > cov.LastDate {
				cov.LastDate = v.Date
			}
		}
	}
	return cov
}

// day extracts a YYYY-MM-DD calendar day from a date or RFC3339 timestamp.
func day(ts string) string {
	if len(ts) < 10 {
		return ""
	}
	d := ts[:10]
	if d[4] != '-' || d[7] != '-' {
		return ""
	}
	return d
}

func parseBPComposite(value interface{}) (sbp, dbp float64, ok bool) {
	s, isStr := value.(string)
	if !isStr {
		return 0, 0, false
	}
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	sbp, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	dbp, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return sbp, dbp, true
}

func numeric(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
