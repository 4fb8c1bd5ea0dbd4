package engine

import (
	"fmt"

	"github.com/MrWong99/triggersync/pkg/marker"
)

// Stimulus set identifiers.
const (
	SetA = "A"
	SetB = "B"
)

// GroupConfig is the condition order and stimulus-set pairing selected by a
// counterbalancing group. Set1 is used with First, Set2 with Second.
type GroupConfig struct {
	Group  int          `json:"group"`
	First  marker.Stage `json:"first"`
	Second marker.Stage `json:"second"`
	Set1   string       `json:"set1"`
	Set2   string       `json:"set2"`
}

var groupConfigs = [...]GroupConfig{
	{Group: 1, First: marker.StageLLM, Second: marker.StageSearch, Set1: SetA, Set2: SetB},
	{Group: 2, First: marker.StageLLM, Second: marker.StageSearch, Set1: SetB, Set2: SetA},
	{Group: 3, First: marker.StageSearch, Second: marker.StageLLM, Set1: SetA, Set2: SetB},
	{Group: 4, First: marker.StageSearch, Second: marker.StageLLM, Set1: SetB, Set2: SetA},
}

// ConfigForGroup returns the configuration of a counterbalancing group.
func ConfigForGroup(group int) (GroupConfig, error) {
	if group < 1 || group > len(groupConfigs) {
		return GroupConfig{}, fmt.Errorf("engine: group %d: %w", group, ErrInvalidGroup)
	}
	return groupConfigs[group-1], nil
}
