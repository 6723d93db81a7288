package garage

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// persistedState is the on-disk door state file.
type persistedState struct {
	State           State    `json:"state"`
	LastTriggerTime *float64 `json:"last_trigger_time"`
	Timestamp       string   `json:"timestamp"`
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromEpoch(secs float64) time.Time {
	return time.UnixMicro(int64(math.Round(secs * 1e6)))
}

// LoadState reads a state file written by the controller. A missing file
// returns an error wrapping fs.ErrNotExist.
func LoadState(path string) (State, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StateUnknown, time.Time{}, err
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return StateUnknown, time.Time{}, fmt.Errorf("parse %s: %w", path, err)
	}
	st, err := ParseState(string(ps.State))
	if err != nil {
		return StateUnknown, time.Time{}, fmt.Errorf("parse %s: %w", path, err)
	}
	var last time.Time
	if ps.LastTriggerTime != nil {
		last = fromEpoch(*ps.LastTriggerTime)
	}
	return st, last, nil
}

// saveState writes via a temp file and rename so a crash never leaves a
// truncated state file behind.
func saveState(path string, st State, last, now time.Time) error {
	ps := persistedState{
		State:     st,
		Timestamp: now.Format(time.RFC3339Nano),
	}
	if !last.IsZero() {
		secs := toEpoch(last)
		ps.LastTriggerTime = &secs
	}

	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
