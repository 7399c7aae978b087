package evolution

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/clinsight-ai/platform/pkg/common/models"
)

// Typed views over the loosely-typed JSON bags the agents emit. Decoding at
// this boundary is the validation step; untyped maps stay out of the merged
// output except for declared extra-attribute bags.

type fusionPayload struct {
	Timeline      []models.TimelineEvent  `json:"timeline"`
	EpisodeGroups episodeGroups           `json:"episode_groups"`
	Identity      *models.IdentityPayload `json:"identity"`
}

type temporalPayload struct {
	Timeline      []models.TimelineEvent `json:"timeline"`
	EpisodeGroups episodeGroups          `json:"episode_groups"`
}

type profilePayload struct {
	Patient  map[string]interface{}  `json:"patient"`
	Identity *models.IdentityPayload `json:"identity"`
}

// episodeGroups accepts both the array form
// [{"group": "...", "episodes": [...]}, ...] and the object form
// {"group_name": [...], ...}. Object keys are decoded in document order so
// episode id assignment is deterministic for identical input.
type episodeGroups []models.RawEpisodeGroup

func (g *episodeGroups) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*g = nil
		return nil
	}

	if trimmed[0] == '[' {
		var groups []models.RawEpisodeGroup
		if err := json.Unmarshal(trimmed, &groups); err != nil {
			return err
		}
		*g = groups
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("episode groups: unexpected token %v", tok)
	}

	var groups []models.RawEpisodeGroup
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var episodes []models.RawEpisode
		if err := dec.Decode(&episodes); err != nil {
			return fmt.Errorf("episode group %s: %w", name, err)
		}
		groups = append(groups, models.RawEpisodeGroup{Name: name, Episodes: episodes})
	}
	*g = groups
	return nil
}

func decodeInto(agentName string, raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("agent %s payload: %w", agentName, err)
	}
	return nil
}
