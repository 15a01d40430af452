package orchestrator

import (
	"sync"

	"github.com/google/uuid"
	"github.com/user/framebrc/pkg/ports"
)

// SessionContext is the per-session state shared by every component of the
// session: its identity, logger, counters and debug sink.
type SessionContext struct {
	ID     string
	Logger ports.Logger
	Sink   ports.DebugSink

	mu       sync.Mutex
	counters Counters
}

// Counters are cumulative per-session frame statistics.
type Counters struct {
	Frames       int   `json:"frames"`
	Encoded      int   `json:"encoded"`
	Dropped      int   `json:"dropped"`
	Passes       int   `json:"passes"`
	Panics       int   `json:"panics"`
	SceneChanges int   `json:"scene_changes"`
	Retries      int   `json:"retries"`
	Bits         int64 `json:"bits"`
}

func newSessionContext(logger ports.Logger, sink ports.DebugSink) *SessionContext {
	return &SessionContext{
		ID:     uuid.NewString(),
		Logger: logger,
		Sink:   sink,
	}
}

// Counters returns a snapshot of the counters.
func (sc *SessionContext) Counters() Counters {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.counters
}

func (sc *SessionContext) recordEncoded(r FrameResult) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.counters.Frames++
	sc.counters.Encoded++
	sc.counters.Passes += r.Passes
	sc.counters.Retries += max(r.Passes-1, 0)
	sc.counters.Bits += r.Bits
	if r.Panic {
		sc.counters.Panics++
	}
	if r.SceneChange {
		sc.counters.SceneChanges++
	}
}

func (sc *SessionContext) recordDropped() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.counters.Frames++
	sc.counters.Dropped++
}

func (sc *SessionContext) debugEnabled() bool {
	return sc.Sink != nil && sc.Sink.Enabled()
}
