package models

import (
	"time"
)

// Timeline events are atomic clinical facts extracted by the agents. Times are
// calendar dates or RFC3339 strings as emitted by the source dataset; an empty
// TimeEnd on an interval category means the fact is ongoing.
type TimelineEvent struct {
	EventID     string                 `json:"event_id,omitempty"`
	Category    string                 `json:"category"` // observation, condition, medication, procedure, encounter
	Subtype     string                 `json:"subtype,omitempty"`
	TimeStart   string                 `json:"time_start,omitempty"`
	TimeEnd     string                 `json:"time_end,omitempty"`
	Description string                 `json:"description,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Value       interface{}            `json:"value,omitempty"`
	Unit        string                 `json:"unit,omitempty"`
	Abnormal    bool                   `json:"abnormal,omitempty"`
	Source      Provenance             `json:"source,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

type Provenance struct {
	Dataset string `json:"dataset,omitempty"`
	File    string `json:"file,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Episode is a derived grouping of related timeline events. IDs are assigned
// once at normalization time (ep_NNNNNN, first-seen order) and never reused.
type Episode struct {
	EpisodeID       string                 `json:"episode_id"`
	EpisodeType     string                 `json:"episode_type,omitempty"`
	TimeStart       string                 `json:"time_start,omitempty"`
	TimeEnd         string                 `json:"time_end,omitempty"`
	Title           string                 `json:"title,omitempty"`
	Status          string                 `json:"status,omitempty"`
	RelatedEventIDs []string               `json:"related_event_ids,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// RawEpisode is an episode entry as emitted by an extraction agent, before
// normalization assigns ids and resolves the title fallback chain.
type RawEpisode struct {
	EpisodeType     string                 `json:"episode_type,omitempty"`
	TimeStart       string                 `json:"time_start,omitempty"`
	TimeEnd         string                 `json:"time_end,omitempty"`
	Description     string                 `json:"description,omitempty"`
	TestName        string                 `json:"test_name,omitempty"`
	Status          string                 `json:"status,omitempty"`
	RelatedEventIDs []string               `json:"related_event_ids,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// RawEpisodeGroup keeps the document order of the agent's episode groups so id
// assignment stays deterministic across runs.
type RawEpisodeGroup struct {
	Name     string       `json:"group"`
	Episodes []RawEpisode `json:"episodes"`
}

// EvolutionAlert severity and type come from keyword inspection of the message
// text. That is a heuristic, not ground truth.
type EvolutionAlert struct {
	AlertID           string                 `json:"alert_id"`
	Severity          string                 `json:"severity"` // low, medium, high
	AlertType         string                 `json:"alert_type"`
	Message           string                 `json:"message"`
	DetectedAt        string                 `json:"detected_at,omitempty"`
	RelatedEpisodeIDs []string               `json:"related_episode_ids,omitempty"`
	RelatedEventIDs   []string               `json:"related_event_ids,omitempty"`
	RecommendedAction string                 `json:"recommended_action,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// IdentityPayload resolves a caller-supplied identifier (UUID, MRN or full
// name) to a canonical patient identity, with evidence so consumers can judge
// resolution quality.
type IdentityPayload struct {
	PatientID  string                 `json:"patient_id,omitempty"`
	MRN        string                 `json:"mrn,omitempty"`
	FullName   string                 `json:"full_name,omitempty"`
	BirthDate  string                 `json:"birth_date,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	Evidence   []string               `json:"evidence,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

type NarrativePayload struct {
	Summary  string                 `json:"summary,omitempty"`
	Sections map[string]string      `json:"sections,omitempty"`
	CareGaps []string               `json:"care_gaps,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

type EvolutionMetadata struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Counts      map[string]int    `json:"counts,omitempty"`
	Sections    map[string]string `json:"sections,omitempty"` // agent name -> section it produced
}

// PatientEvolutionOutput is the root aggregate persisted per pipeline run and
// polled by the frontend. It is an immutable snapshot, superseded in full by
// the next run for the same identifier.
type PatientEvolutionOutput struct {
	Patient   map[string]interface{} `json:"patient,omitempty"`
	Timeline  []TimelineEvent        `json:"timeline"`
	Episodes  []Episode              `json:"episodes"`
	Alerts    []EvolutionAlert       `json:"alerts"`
	Identity  *IdentityPayload       `json:"identity,omitempty"`
	Narrative *NarrativePayload      `json:"narrative,omitempty"`
	Metadata  EvolutionMetadata      `json:"metadata"`
}

// Evolution run lifecycle as tracked by the evolution service.
type EvolutionRun struct {
	ID          string     `json:"id"`
	Identifier  string     `json:"identifier"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type GenerateRequest struct {
	Identifier string `json:"identifier"`
}

type GenerateResponse struct {
	RunID      string `json:"run_id"`
	Identifier string `json:"identifier"`
	Status     string `json:"status"`
}

// Event bus envelope.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // evolution.completed, evolution.failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Derived metrics. Recomputed fresh from a PatientEvolutionOutput on every
// render, never persisted independently.
type VitalDataPoint struct {
	Date          string   `json:"date"` // YYYY-MM-DD, or "latest" for the synthetic bucket
	Timestamp     string   `json:"timestamp,omitempty"`
	SBP           *float64 `json:"sbp,omitempty"`
	DBP           *float64 `json:"dbp,omitempty"`
	HeartRate     *float64 `json:"heart_rate,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	SpO2          *float64 `json:"spo2,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
	Glucose       *float64 `json:"glucose,omitempty"`
	MAP           *float64 `json:"map,omitempty"`
	PulsePressure *float64 `json:"pulse_pressure,omitempty"`
	ShockIndex    *float64 `json:"shock_index,omitempty"`
	BPStage       string   `json:"bp_stage,omitempty"`
}

type MetricPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type RollingAverage struct {
	Metric     string        `json:"metric"`
	WindowDays int           `json:"window_days"`
	Points     []MetricPoint `json:"points"`
}

type ConditionSpan struct {
	Name     string `json:"name"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	IsActive bool   `json:"is_active"`
	EventID  string `json:"event_id,omitempty"`
}

type ActiveConditionPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type TreatmentMarker struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Kind  string `json:"kind"` // medication, procedure
}

type Coverage struct {
	TotalVitalPoints int    `json:"total_vital_points"`
	HasBP            bool   `json:"has_bp"`
	HasHR            bool   `json:"has_hr"`
	FirstDate        string `json:"first_date,omitempty"`
	LastDate         string `json:"last_date,omitempty"`
}

type DerivedMetrics struct {
	Vitals           []VitalDataPoint       `json:"vitals"`
	RollingAverages  []RollingAverage       `json:"rolling_averages"`
	ConditionSpans   []ConditionSpan        `json:"condition_spans"`
	ActiveConditions []ActiveConditionPoint `json:"active_conditions"`
	TreatmentMarkers []TreatmentMarker      `json:"treatment_markers"`
	Coverage         Coverage               `json:"coverage"`
}

// Chart insights, either AI-generated or produced by the deterministic
// fallback. Source discloses provenance to the UI.
type ChartAnnotation struct {
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Date     string `json:"date,omitempty"`
	Metric   string `json:"metric,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type RiskWindow struct {
	Start  string `json:"start"`
	End    string `json:"end,omitempty"`
	Reason string `json:"reason,omitempty"`
	Level  string `json:"level,omitempty"`
}

type TrajectoryPoint struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Trend string `json:"trend,omitempty"` // improving, stable, worsening
}

type RevealStep struct {
	Metric  string `json:"metric"`
	DelayMs int    `json:"delay_ms"`
}

type PlotPlan struct {
	RecommendedMetrics []string     `json:"recommended_metrics"`
	Reveal             []RevealStep `json:"reveal,omitempty"`
}

type EvolutionInsights struct {
	Annotations         []ChartAnnotation `json:"annotations"`
	RiskWindows         []RiskWindow      `json:"risk_windows"`
	ConditionTrajectory []TrajectoryPoint `json:"condition_trajectory"`
	PlotPlan            *PlotPlan         `json:"plot_plan,omitempty"`
	Source              string            `json:"source"` // "ai" or "deterministic"
}

// Compact summary sent to the AI annotation service.
type InsightSummary struct {
	VitalsSummary string   `json:"vitals_summary"`
	Conditions    []string `json:"conditions"`
	Treatments    []string `json:"treatments"`
	AlertCount    int      `json:"alert_count"`
	EpisodeCount  int      `json:"episode_count"`
}
