package summarizer

import (
	"fmt"
	"strings"
	"time"
)

// MarkdownFormatter formats a Summary as Markdown.
type MarkdownFormatter struct {
	// MaxFrameRows limits the frame table; 0 shows every frame.
	MaxFrameRows int
}

// NewMarkdownFormatter creates a new MarkdownFormatter.
func NewMarkdownFormatter() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format implements Formatter.
func (f *MarkdownFormatter) Format(s *Summary) string {
	var b strings.Builder

	b.WriteString("# Encode Summary\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", s.GeneratedAt.Format(time.RFC3339))
	if s.SessionID != "" {
		fmt.Fprintf(&b, "Session: `%s`\n\n", s.SessionID)
	}

	b.WriteString("## Settings\n\n")
	b.WriteString("| Item | Value |\n|------|-------|\n")
	if s.Settings.Preset != "" {
		fmt.Fprintf(&b, "| Preset | %s |\n", s.Settings.Preset)
	}
	fmt.Fprintf(&b, "| Codec | %s |\n", s.Settings.Codec)
	fmt.Fprintf(&b, "| Rate Control | %s |\n", strings.ToUpper(s.Settings.RateControl))
	fmt.Fprintf(&b, "| Frame Size | %dx%d MB (%dx%d) |\n",
		s.Settings.WidthInMB, s.Settings.HeightInMB, s.Settings.WidthInMB*16, s.Settings.HeightInMB*16)
	fmt.Fprintf(&b, "| Frame Rate | %.2f fps |\n", s.Settings.FrameRate)
	fmt.Fprintf(&b, "| Target Bitrate | %s |\n", formatBitRate(float64(s.Settings.TargetBitRate)))
	if s.Settings.BufferSize > 0 {
		fmt.Fprintf(&b, "| Buffer Size | %s |\n", formatBits(s.Settings.BufferSize))
	}
	fmt.Fprintf(&b, "| Max Passes | %d |\n", s.Settings.MaxPasses)
	fmt.Fprintf(&b, "| GOP | %d (ref dist %d) |\n", s.Settings.GopSize, s.Settings.GopRefDist)
	b.WriteString("\n")

	b.WriteString("## Results\n\n")
	b.WriteString("| Item | Value |\n|------|-------|\n")
	fmt.Fprintf(&b, "| Frames | %d |\n", s.Totals.Frames)
	fmt.Fprintf(&b, "| Encoded | %d |\n", s.Totals.Encoded)
	fmt.Fprintf(&b, "| Dropped | %d |\n", s.Totals.Dropped)
	fmt.Fprintf(&b, "| Total Passes | %d |\n", s.Totals.Passes)
	fmt.Fprintf(&b, "| Panic Frames | %d |\n", s.Totals.Panics)
	fmt.Fprintf(&b, "| Scene Changes | %d |\n", s.Totals.SceneChanges)
	fmt.Fprintf(&b, "| Total Size | %s |\n", formatBits(s.Totals.Bits))
	fmt.Fprintf(&b, "| Average Bitrate | %s |\n", formatBitRate(s.AverageBitRate()))
	fmt.Fprintf(&b, "| Average QP | %.2f |\n", s.AverageQP())
	fmt.Fprintf(&b, "| Elapsed | %d ms |\n", s.Totals.ElapsedMs)
	b.WriteString("\n")

	b.WriteString("## Rate Control\n\n")
	b.WriteString("| Item | Value |\n|------|-------|\n")
	fmt.Fprintf(&b, "| Final Fullness | %.0f bits |\n", s.RateControl.Fullness)
	if s.RateControl.BufferSize > 0 {
		fmt.Fprintf(&b, "| Buffer Usage | %.1f%% |\n", 100*s.RateControl.Fullness/s.RateControl.BufferSize)
	}
	fmt.Fprintf(&b, "| Resets | %d |\n", s.RateControl.Resets)
	b.WriteString("\n")

	b.WriteString("## Resource Pool\n\n")
	b.WriteString("| Item | Value |\n|------|-------|\n")
	fmt.Fprintf(&b, "| Slots | %d |\n", s.Pool.Slots)
	fmt.Fprintf(&b, "| High Water | %d |\n", s.Pool.HighWater)
	fmt.Fprintf(&b, "| Waits | %d |\n", s.Pool.Waits)
	fmt.Fprintf(&b, "| Timeouts | %d |\n", s.Pool.Timeouts)
	b.WriteString("\n")

	if len(s.Frames) > 0 {
		f.writeFrames(&b, s.Frames)
	}
	return b.String()
}

func (f *MarkdownFormatter) writeFrames(b *strings.Builder, rows []FrameRow) {
	b.WriteString("## Frames\n\n")
	b.WriteString("| Frame | Type | QP | Passes | Target | Consumed | Fullness | Notes |\n")
	b.WriteString("|------:|:----:|---:|-------:|-------:|---------:|---------:|-------|\n")

	shown := rows
	if f.MaxFrameRows > 0 && len(rows) > f.MaxFrameRows {
		shown = rows[:f.MaxFrameRows]
	}
	for _, r := range shown {
		if r.Dropped {
			fmt.Fprintf(b, "| %d | %s | - | - | - | - | - | dropped |\n", r.Frame, r.Type)
			continue
		}
		fmt.Fprintf(b, "| %d | %s | %d | %d | %d | %d | %d | %s |\n",
			r.Frame, r.Type, r.QP, r.Passes, r.TargetBits, r.ConsumedBits, r.Fullness, notes(r))
	}
	if len(shown) < len(rows) {
		fmt.Fprintf(b, "\n_%d more frames omitted._\n", len(rows)-len(shown))
	}
	b.WriteString("\n")
}

func notes(r FrameRow) string {
	var parts []string
	if r.Panic {
		parts = append(parts, "panic")
	}
	if r.SceneChange {
		parts = append(parts, "scene change")
	}
	if !r.Converged {
		parts = append(parts, "not converged")
	}
	return strings.Join(parts, ", ")
}

// formatBits renders a bit count in bytes with a binary unit.
func formatBits(bits int64) string {
	bytes := float64(bits) / 8
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.2f MB", bytes/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.2f KB", bytes/1024)
	default:
		return fmt.Sprintf("%.0f B", bytes)
	}
}

// formatBitRate renders bits per second with a decimal unit.
func formatBitRate(bps float64) string {
	switch {
	case bps >= 1e6:
		return fmt.Sprintf("%.2f Mbps", bps/1e6)
	case bps >= 1e3:
		return fmt.Sprintf("%.1f kbps", bps/1e3)
	default:
		return fmt.Sprintf("%.0f bps", bps)
	}
}
