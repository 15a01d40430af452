// Package summarizer turns per-frame telemetry into an encode session summary.
package summarizer

import (
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Formatter renders a Summary for a report file.
type Formatter interface {
	Format(summary *Summary) string
}

// FormatFunc adapts a function to Formatter.
type FormatFunc func(summary *Summary) string

func (f FormatFunc) Format(summary *Summary) string {
	return f(summary)
}

// YAMLFormatter renders the summary, every frame row included, for tools
// that compare sessions.
type YAMLFormatter struct{}

func (YAMLFormatter) Format(s *Summary) string {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "# " + err.Error() + "\n"
	}
	return string(out)
}

// FormatterFor picks the formatter for a summary path by extension: YAML for
// .yaml and .yml, Markdown otherwise.
func FormatterFor(path string) Formatter {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLFormatter{}
	default:
		return NewMarkdownFormatter()
	}
}
