package evolution

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clinsight-ai/platform/pkg/agent"
	"github.com/clinsight-ai/platform/pkg/common/models"
)

// NormalizeEpisodes assigns ids ep_NNNNNN monotonically in first-seen order
// across all groups, resolves the title fallback chain and inherits the
// episode type from the group name where absent. Sorting happens only after
// every id is assigned; ids are never renumbered.
func NormalizeEpisodes(groups []models.RawEpisodeGroup) []models.Episode {
	var episodes []models.Episode
	seq := 0
	for _, group := range groups {
		for _, raw := range group.Episodes {
			seq++
			episodeType := raw.EpisodeType
			if episodeType == "" {
				episodeType = group.Name
			}
			title := raw.Description
			if title == "" {
				title = raw.TestName
			}
			if title == "" {
				title = strings.ReplaceAll(group.Name, "_", " ")
			}
			episodes = append(episodes, models.Episode{
				EpisodeID:       fmt.Sprintf("ep_%06d", seq),
				EpisodeType:     episodeType,
				TimeStart:       raw.TimeStart,
				TimeEnd:         raw.TimeEnd,
				Title:           title,
				Status:          raw.Status,
				RelatedEventIDs: raw.RelatedEventIDs,
				Details:         raw.Details,
			})
		}
	}

	// time_start ascending, empty string first; episode id breaks ties.
	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].TimeStart != episodes[j].TimeStart {
			return episodes[i].TimeStart < episodes[j].TimeStart
		}
		return episodes[i].EpisodeID < episodes[j].EpisodeID
	})
	return episodes
}

// BuildAlerts turns the narrative agent's care-gap texts into classified
// alerts, then synthesizes an abnormal_trend alert when abnormal-lab episodes
// exist and no alert already claims that type. Dedup is by type, not content.
func BuildAlerts(narrative *models.NarrativePayload, episodes []models.Episode, detectedAt time.Time) []models.EvolutionAlert {
	alerts := []models.EvolutionAlert{}
	seq := 0
	ts := detectedAt.UTC().Format(time.RFC3339)

	if narrative != nil {
		for _, text := range narrative.CareGaps {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			seq++
			severity, alertType := ClassifyAlert(text)
			alerts = append(alerts, models.EvolutionAlert{
				AlertID:    fmt.Sprintf("al_%06d", seq),
				Severity:   severity,
				AlertType:  alertType,
				Message:    text,
				DetectedAt: ts,
			})
		}
	}

	var abnormalEpisodes []string
	for _, ep := range episodes {
		if strings.HasPrefix(ep.EpisodeType, "abnormal_lab") {
			abnormalEpisodes = append(abnormalEpisodes, ep.EpisodeID)
		}
	}
	if len(abnormalEpisodes) > 0 && !hasAlertType(alerts, AlertTypeAbnormalTrend) {
		seq++
		alerts = append(alerts, models.EvolutionAlert{
			AlertID:           fmt.Sprintf("al_%06d", seq),
			Severity:          SeverityHigh,
			AlertType:         AlertTypeAbnormalTrend,
			Message:           fmt.Sprintf("Abnormal laboratory trend detected across %d episode(s)", len(abnormalEpisodes)),
			DetectedAt:        ts,
			RelatedEpisodeIDs: abnormalEpisodes,
			RecommendedAction: "Review recent laboratory results and consider repeat testing",
		})
	}

	return alerts
}

func hasAlertType(alerts []models.EvolutionAlert, alertType string) bool {
	for _, a := range alerts {
		if a.AlertType == alertType {
			return true
		}
	}
	return false
}

// merge folds the five agent payloads into one normalized output document.
// Source priority is fixed: context fusion wins over temporal evolution for
// the timeline and episodes, and fusion > profile > identity agent for the
// resolved identity.
func (o *Orchestrator) merge(results map[string]json.RawMessage) (*models.PatientEvolutionOutput, error) {
	var fusion fusionPayload
	if err := decodeInto(agent.NameFusion, results[agent.NameFusion], &fusion); err != nil {
		return nil, err
	}
	var temporal temporalPayload
	if err := decodeInto(agent.NameTemporal, results[agent.NameTemporal], &temporal); err != nil {
		return nil, err
	}
	var profile profilePayload
	if err := decodeInto(agent.NameProfile, results[agent.NameProfile], &profile); err != nil {
		return nil, err
	}
	var identity models.IdentityPayload
	if err := decodeInto(agent.NameIdentity, results[agent.NameIdentity], &identity); err != nil {
		return nil, err
	}
	var narrative models.NarrativePayload
	if err := decodeInto(agent.NameNarrative, results[agent.NameNarrative], &narrative); err != nil {
		return nil, err
	}

	sections := map[string]string{}

	timeline := []models.TimelineEvent{}
	switch {
	case len(fusion.Timeline) > 0:
		timeline = fusion.Timeline
		sections["timeline"] = agent.NameFusion
	case len(temporal.Timeline) > 0:
		timeline = temporal.Timeline
		sections["timeline"] = agent.NameTemporal
	}

	groups := []models.RawEpisodeGroup(fusion.EpisodeGroups)
	if len(groups) > 0 {
		sections["episodes"] = agent.NameFusion
	} else if len(temporal.EpisodeGroups) > 0 {
		groups = temporal.EpisodeGroups
		sections["episodes"] = agent.NameTemporal
	}
	episodes := NormalizeEpisodes(groups)

	generatedAt := o.clock().UTC()
	alerts := BuildAlerts(&narrative, episodes, generatedAt)
	if len(narrative.CareGaps) > 0 && len(alerts) > 0 {
		sections["alerts"] = agent.NameNarrative
	}

	var resolved *models.IdentityPayload
	switch {
	case fusion.Identity != nil:
		resolved = fusion.Identity
		sections["identity"] = agent.NameFusion
	case profile.Identity != nil:
		resolved = profile.Identity
		sections["identity"] = agent.NameProfile
	case identityResolved(identity):
		resolved = &identity
		sections["identity"] = agent.NameIdentity
	}
	// An unresolved identity propagates as null, not as a failure.

	if profile.Patient != nil {
		sections["patient"] = agent.NameProfile
	}
	if narrativePresent(&narrative) {
		sections["narrative"] = agent.NameNarrative
	}

	counts := map[string]int{}
	for _, ev := range timeline {
		counts[ev.Category]++
	}
	counts["episodes"] = len(episodes)
	counts["alerts"] = len(alerts)

	return &models.PatientEvolutionOutput{
		Patient:   profile.Patient,
		Timeline:  timeline,
		Episodes:  episodes,
		Alerts:    alerts,
		Identity:  resolved,
		Narrative: &narrative,
		Metadata: models.EvolutionMetadata{
			GeneratedAt: generatedAt,
			Counts:      counts,
			Sections:    sections,
		},
	}, nil
}

func identityResolved(id models.IdentityPayload) bool {
	return id.PatientID != "" || id.MRN != "" || id.FullName != ""
}

func narrativePresent(n *models.NarrativePayload) bool {
	return n.Summary != "" || len(n.Sections) > 0 || len(n.CareGaps) > 0
}
