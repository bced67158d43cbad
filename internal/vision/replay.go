package vision

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadScript reads a JSON array of frames from a fixture file and
// returns a source that replays them. Replayed frames carry their
// recorded timestamps, so downstream decisions match the original run.
func LoadScript(path string) (*ScriptedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay fixture: %w", err)
	}

	var frames []Frame
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, fmt.Errorf("failed to parse replay fixture %s: %w", path, err)
	}
	return NewScriptedSource(frames, false), nil
}
