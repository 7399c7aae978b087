package evolution

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/clinsight-ai/platform/pkg/agent"
	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
}

func TestNormalizeEpisodesIDAssignmentAndSort(t *testing.T) {
	groups := []models.RawEpisodeGroup{
		{Name: "hospitalizations", Episodes: []models.RawEpisode{
			{Description: "Admission for pneumonia", TimeStart: "2024-02-01"},
			{Description: "Follow-up admission", TimeStart: "2024-01-01"},
		}},
		{Name: "abnormal_lab_runs", Episodes: []models.RawEpisode{
			{TestName: "Creatinine", TimeStart: ""},
		}},
	}

	episodes := NormalizeEpisodes(groups)
	if len(episodes) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(episodes))
	}

	// ids follow first-seen order across groups, before sorting
	byTitle := map[string]string{}
	for _, ep := range episodes {
		byTitle[ep.Title] = ep.EpisodeID
	}
	if byTitle["Admission for pneumonia"] != "ep_000001" {
		t.Errorf("first-seen episode id = %s, want ep_000001", byTitle["Admission for pneumonia"])
	}
	if byTitle["Follow-up admission"] != "ep_000002" {
		t.Errorf("second-seen episode id = %s, want ep_000002", byTitle["Follow-up admission"])
	}
	if byTitle["Creatinine"] != "ep_000003" {
		t.Errorf("third-seen episode id = %s, want ep_000003", byTitle["Creatinine"])
	}

	// sorted by time_start ascending with empty first
	if episodes[0].TimeStart != "" {
		t.Errorf("empty time_start should sort first, got %q", episodes[0].TimeStart)
	}
	if episodes[1].TimeStart != "2024-01-01" || episodes[2].TimeStart != "2024-02-01" {
		t.Errorf("unexpected sort order: %q, %q", episodes[1].TimeStart, episodes[2].TimeStart)
	}
}

func TestNormalizeEpisodesTitleFallbackChain(t *testing.T) {
	groups := []models.RawEpisodeGroup{
		{Name: "abnormal_lab_runs", Episodes: []models.RawEpisode{
			{Description: "Elevated troponin run"},
			{TestName: "Troponin I"},
			{},
		}},
	}
	episodes := NormalizeEpisodes(groups)
	wantTitles := map[string]bool{
		"Elevated troponin run": true,
		"Troponin I":            true,
		"abnormal lab runs":     true,
	}
	for _, ep := range episodes {
		if !wantTitles[ep.Title] {
			t.Errorf("unexpected title %q", ep.Title)
		}
	}
}

func TestNormalizeEpisodesTypeInheritance(t *testing.T) {
	groups := []models.RawEpisodeGroup{
		{Name: "medication_changes", Episodes: []models.RawEpisode{
			{EpisodeType: "dose_adjustment", Description: "Dose increased"},
			{Description: "New prescription"},
		}},
	}
	episodes := NormalizeEpisodes(groups)
	if episodes[0].EpisodeType != "dose_adjustment" {
		t.Errorf("explicit type should survive, got %q", episodes[0].EpisodeType)
	}
	if episodes[1].EpisodeType != "medication_changes" {
		t.Errorf("missing type should inherit group name, got %q", episodes[1].EpisodeType)
	}
}

func TestBuildAlertsClassifiesCareGaps(t *testing.T) {
	narrative := &models.NarrativePayload{CareGaps: []string{
		"Contradiction between problem list and med list",
		"Overdue for colonoscopy screening",
		"   ",
	}}
	alerts := BuildAlerts(narrative, nil, fixedClock())
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts (blank skipped), got %d", len(alerts))
	}
	if alerts[0].AlertID != "al_000001" || alerts[1].AlertID != "al_000002" {
		t.Errorf("alert ids = %s, %s", alerts[0].AlertID, alerts[1].AlertID)
	}
	if alerts[0].AlertType != AlertTypeContradiction || alerts[0].Severity != SeverityHigh {
		t.Errorf("first alert = %s/%s", alerts[0].Severity, alerts[0].AlertType)
	}
	if alerts[1].AlertType != AlertTypeCareGap || alerts[1].Severity != SeverityMedium {
		t.Errorf("second alert = %s/%s", alerts[1].Severity, alerts[1].AlertType)
	}
	if alerts[0].DetectedAt != "2024-05-01T10:30:00Z" {
		t.Errorf("detected_at = %s, want injected clock", alerts[0].DetectedAt)
	}
}

func TestBuildAlertsSynthesizesAbnormalTrend(t *testing.T) {
	episodes := []models.Episode{
		{EpisodeID: "ep_000001", EpisodeType: "abnormal_lab_runs"},
		{EpisodeID: "ep_000002", EpisodeType: "hospitalizations"},
		{EpisodeID: "ep_000003", EpisodeType: "abnormal_lab_results"},
	}
	alerts := BuildAlerts(nil, episodes, fixedClock())
	if len(alerts) != 1 {
		t.Fatalf("expected 1 synthesized alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.AlertType != AlertTypeAbnormalTrend || a.Severity != SeverityHigh {
		t.Errorf("synthesized alert = %s/%s", a.Severity, a.AlertType)
	}
	if len(a.RelatedEpisodeIDs) != 2 {
		t.Errorf("related episodes = %v, want both abnormal_lab episodes", a.RelatedEpisodeIDs)
	}
}

func TestBuildAlertsNoDuplicateAbnormalTrend(t *testing.T) {
	narrative := &models.NarrativePayload{CareGaps: []string{
		"Abnormal lab values need follow-up",
	}}
	episodes := []models.Episode{
		{EpisodeID: "ep_000001", EpisodeType: "abnormal_lab_runs"},
	}
	alerts := BuildAlerts(narrative, episodes, fixedClock())
	count := 0
	for _, a := range alerts {
		if a.AlertType == AlertTypeAbnormalTrend {
			count++
		}
	}
	if count != 1 {
		t.Errorf("abnormal_trend alerts = %d, want exactly 1 (dedup by type)", count)
	}
}

func TestEpisodeGroupsObjectFormPreservesOrder(t *testing.T) {
	raw := []byte(`{
		"hospitalizations": [{"description": "Admission"}],
		"abnormal_lab_runs": [{"test_name": "CRP"}],
		"medication_changes": [{"description": "Started statin"}]
	}`)
	var groups episodeGroups
	if err := json.Unmarshal(raw, &groups); err != nil {
		t.Fatal(err)
	}
	wantOrder := []string{"hospitalizations", "abnormal_lab_runs", "medication_changes"}
	if len(groups) != len(wantOrder) {
		t.Fatalf("expected %d groups, got %d", len(wantOrder), len(groups))
	}
	for i, want := range wantOrder {
		if groups[i].Name != want {
			t.Errorf("group[%d] = %q, want %q (document order)", i, groups[i].Name, want)
		}
	}
}

func TestEpisodeGroupsArrayForm(t *testing.T) {
	raw := []byte(`[{"group": "hospitalizations", "episodes": [{"description": "Admission"}]}]`)
	var groups episodeGroups
	if err := json.Unmarshal(raw, &groups); err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Name != "hospitalizations" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func mergeFixture(t *testing.T, results map[string]json.RawMessage) *models.PatientEvolutionOutput {
	t.Helper()
	o := NewOrchestrator(nil, 0).WithClock(fixedClock)
	out, err := o.merge(results)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	return out
}

func TestMergeTimelineSourcePriority(t *testing.T) {
	results := map[string]json.RawMessage{
		agent.NameFusion:   json.RawMessage(`{"timeline": [{"event_id": "f1", "category": "observation"}]}`),
		agent.NameTemporal: json.RawMessage(`{"timeline": [{"event_id": "t1", "category": "observation"}, {"event_id": "t2", "category": "condition"}]}`),
	}
	out := mergeFixture(t, results)
	if len(out.Timeline) != 1 || out.Timeline[0].EventID != "f1" {
		t.Errorf("fusion timeline should win, got %+v", out.Timeline)
	}
	if out.Metadata.Sections["timeline"] != agent.NameFusion {
		t.Errorf("timeline section = %q", out.Metadata.Sections["timeline"])
	}
}

func TestMergeTimelineFallsBackToTemporal(t *testing.T) {
	results := map[string]json.RawMessage{
		agent.NameFusion:   json.RawMessage(`{}`),
		agent.NameTemporal: json.RawMessage(`{"timeline": [{"event_id": "t1", "category": "observation"}]}`),
	}
	out := mergeFixture(t, results)
	if len(out.Timeline) != 1 || out.Timeline[0].EventID != "t1" {
		t.Errorf("temporal timeline should fill in, got %+v", out.Timeline)
	}
	if out.Metadata.Sections["timeline"] != agent.NameTemporal {
		t.Errorf("timeline section = %q", out.Metadata.Sections["timeline"])
	}
}

func TestMergeIdentityFallbackChain(t *testing.T) {
	fusionID := `{"identity": {"patient_id": "p-fusion"}}`
	profileID := `{"identity": {"patient_id": "p-profile"}}`
	agentID := `{"patient_id": "p-agent"}`

	tests := []struct {
		name    string
		results map[string]json.RawMessage
		wantID  string
	}{
		{
			name: "fusion wins",
			results: map[string]json.RawMessage{
				agent.NameFusion:   json.RawMessage(fusionID),
				agent.NameProfile:  json.RawMessage(profileID),
				agent.NameIdentity: json.RawMessage(agentID),
			},
			wantID: "p-fusion",
		},
		{
			name: "profile next",
			results: map[string]json.RawMessage{
				agent.NameProfile:  json.RawMessage(profileID),
				agent.NameIdentity: json.RawMessage(agentID),
			},
			wantID: "p-profile",
		},
		{
			name: "identity agent last",
			results: map[string]json.RawMessage{
				agent.NameIdentity: json.RawMessage(agentID),
			},
			wantID: "p-agent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mergeFixture(t, tt.results)
			if out.Identity == nil || out.Identity.PatientID != tt.wantID {
				t.Errorf("identity = %+v, want patient_id %s", out.Identity, tt.wantID)
			}
		})
	}
}

func TestMergeUnresolvedIdentityIsNull(t *testing.T) {
	out := mergeFixture(t, map[string]json.RawMessage{
		agent.NameIdentity: json.RawMessage(`{}`),
	})
	if out.Identity != nil {
		t.Errorf("empty identity should propagate as null, got %+v", out.Identity)
	}
}

func TestMergeCountsAndMetadata(t *testing.T) {
	results := map[string]json.RawMessage{
		agent.NameFusion: json.RawMessage(`{
			"timeline": [
				{"event_id": "e1", "category": "observation"},
				{"event_id": "e2", "category": "observation"},
				{"event_id": "e3", "category": "condition"}
			],
			"episode_groups": {"abnormal_lab_runs": [{"test_name": "CRP"}]}
		}`),
	}
	out := mergeFixture(t, results)

	if out.Metadata.Counts["observation"] != 2 || out.Metadata.Counts["condition"] != 1 {
		t.Errorf("category counts = %v", out.Metadata.Counts)
	}
	if out.Metadata.Counts["episodes"] != 1 {
		t.Errorf("episode count = %d, want 1", out.Metadata.Counts["episodes"])
	}
	if out.Metadata.Counts["alerts"] != 1 {
		t.Errorf("alert count = %d, want 1 (synthesized abnormal trend)", out.Metadata.Counts["alerts"])
	}
	if !out.Metadata.GeneratedAt.Equal(fixedClock()) {
		t.Errorf("generated_at = %v, want injected clock", out.Metadata.GeneratedAt)
	}
}

func TestMergeMalformedPayloadFails(t *testing.T) {
	o := NewOrchestrator(nil, 0).WithClock(fixedClock)
	_, err := o.merge(map[string]json.RawMessage{
		agent.NameFusion: json.RawMessage(`{"timeline": "not an array"}`),
	})
	if err == nil {
		t.Fatal("expected decode error for malformed fusion payload")
	}
}
