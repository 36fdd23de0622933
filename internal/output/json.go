package output

import (
	"encoding/json"

	"github.com/ratefence/ratefence/internal/core/engine"
)

// JSONFormatter renders snapshots as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatSnapshot renders a snapshot as JSON.
func (f *JSONFormatter) FormatSnapshot(snapshot *engine.Snapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}

	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(snapshot, "", "  ")
	} else {
		data, err = json.Marshal(snapshot)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
