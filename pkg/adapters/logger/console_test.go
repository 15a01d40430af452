package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ideamans/go-l10n"
	"github.com/user/framebrc/pkg/ports"
)

func TestConsole_SplitsStreamsByLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	log := NewConsoleTo(ports.LevelInfo, &out, &errOut)

	log.Debug("Waiting for slot %d to retire", 3)
	log.Info("Starting session %s", "abc")
	log.Warn("Frame %d dropped: %s", 7, "stage failed")

	if got := out.String(); got != "Starting session abc\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); got != "Frame 7 dropped: stage failed\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestConsole_NestedComponents(t *testing.T) {
	var out bytes.Buffer
	log := NewConsoleTo(ports.LevelDebug, &out, &out)

	log.WithComponent("session").WithComponent("pool").Debug("Allocated %d resource slots (%d MBs)", 4, 32)

	if got := out.String(); got != "[session/pool] Allocated 4 resource slots (32 MBs)\n" {
		t.Errorf("output = %q", got)
	}
	if strings.Contains(out.String(), "\033[") {
		t.Error("color codes written to a non-terminal")
	}
}

func TestConsole_QuietLevelSuppressesErrors(t *testing.T) {
	var out bytes.Buffer
	log := NewConsoleTo(ports.LevelQuiet, &out, &out)
	log.Error("Session terminated at frame %d: %s", 1, "out of memory")
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing", out.String())
	}
}

func TestMessages_SchedulerMessagesTranslated(t *testing.T) {
	l10n.ForceLanguage("ja")
	defer l10n.ResetLanguage()

	for _, key := range []string{
		"Frame %d pass %d: %d bits for %d target (%.1f%%, bucket %d)",
		"Frame %d retrying at QP %d",
		"Scene change detected at frame %d",
		"Cancelled %d outstanding stages of frame %d",
		"Waiting for slot %d to retire",
	} {
		if l10n.T(key) == key {
			t.Errorf("no translation for %q", key)
		}
	}
}
