package alerting

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hydrosense/aquamon/internal/model"
)

// LoadThresholds reads per-parameter bands from a JSON file shaped like
// {"ph": {"warn_min": 6.5, ...}, "tds": {...}}. Parameters missing from the
// file keep their defaults.
func LoadThresholds(path string) (map[model.Parameter]Limits, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fileLimits map[model.Parameter]Limits
	if err := json.Unmarshal(raw, &fileLimits); err != nil {
		return nil, fmt.Errorf("parse thresholds %s: %w", path, err)
	}

	out := DefaultThresholds()
	for p, l := range fileLimits {
		if l.CritMin > l.WarnMin || l.WarnMin > l.WarnMax || l.WarnMax > l.CritMax {
			return nil, fmt.Errorf("thresholds for %s are not ordered (crit_min <= warn_min <= warn_max <= crit_max)", p)
		}
		out[p] = l
	}
	return out, nil
}
