package observability

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(name, level string, json bool, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      lvl,
		Output:     w,
		JSONFormat: json,
	})
}
