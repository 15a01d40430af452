package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/framebrc/pkg/ports"
)

// DeviceEventKind is the kind of a recorded device call.
type DeviceEventKind string

const (
	EventSubmit DeviceEventKind = "submit"
	EventWait   DeviceEventKind = "wait"
	EventCancel DeviceEventKind = "cancel"
)

// DeviceEvent records one call on the mock executor.
type DeviceEvent struct {
	Kind  DeviceEventKind
	Token ports.CompletionToken
	Stage ports.StageKind
	Frame int
	Pass  int
}

// DeviceExecutor is a mock implementation of ports.DeviceExecutor.
// Stages complete at Wait time with the statistics returned by StatsFunc.
type DeviceExecutor struct {
	mu      sync.Mutex
	next    ports.CompletionToken
	pending map[ports.CompletionToken]ports.Submission

	SubmitFunc func(ctx context.Context, sub ports.Submission) error
	StatsFunc  func(sub ports.Submission) (ports.StageStatistics, error)
	// WaitFunc, when set, runs before the statistics are produced and may block.
	WaitFunc func(ctx context.Context, sub ports.Submission) error

	// Recorded calls for verification
	Submissions []ports.Submission
	Events      []DeviceEvent
}

// NewDeviceExecutor creates a new mock DeviceExecutor.
func NewDeviceExecutor() *DeviceExecutor {
	return &DeviceExecutor{pending: make(map[ports.CompletionToken]ports.Submission)}
}

func (m *DeviceExecutor) Submit(ctx context.Context, sub ports.Submission) (ports.CompletionToken, error) {
	if m.SubmitFunc != nil {
		if err := m.SubmitFunc(ctx, sub); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		m.pending = make(map[ports.CompletionToken]ports.Submission)
	}
	m.next++
	m.pending[m.next] = sub
	m.Submissions = append(m.Submissions, sub)
	m.Events = append(m.Events, DeviceEvent{Kind: EventSubmit, Token: m.next, Stage: sub.Stage, Frame: sub.Frame, Pass: sub.Pass})
	return m.next, nil
}

func (m *DeviceExecutor) Wait(ctx context.Context, token ports.CompletionToken) (ports.StageStatistics, error) {
	m.mu.Lock()
	sub, ok := m.pending[token]
	if ok {
		delete(m.pending, token)
		m.Events = append(m.Events, DeviceEvent{Kind: EventWait, Token: token, Stage: sub.Stage, Frame: sub.Frame, Pass: sub.Pass})
	}
	m.mu.Unlock()
	if !ok {
		return ports.StageStatistics{}, fmt.Errorf("mock device: unknown token %d", token)
	}

	if m.WaitFunc != nil {
		if err := m.WaitFunc(ctx, sub); err != nil {
			return ports.StageStatistics{Stage: sub.Stage}, err
		}
	}
	if m.StatsFunc != nil {
		stats, err := m.StatsFunc(sub)
		stats.Stage = sub.Stage
		if err == nil && stats.Failed {
			err = fmt.Errorf("%w: %s", ports.ErrStageFailed, sub.Stage)
		}
		return stats, err
	}
	return ports.StageStatistics{Stage: sub.Stage}, nil
}

func (m *DeviceExecutor) Cancel(token ports.CompletionToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.pending[token]
	if !ok {
		return
	}
	delete(m.pending, token)
	m.Events = append(m.Events, DeviceEvent{Kind: EventCancel, Token: token, Stage: sub.Stage, Frame: sub.Frame, Pass: sub.Pass})
}

// Stages returns the submitted stage kinds in order.
func (m *DeviceExecutor) Stages() []ports.StageKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	stages := make([]ports.StageKind, len(m.Submissions))
	for i, s := range m.Submissions {
		stages[i] = s.Stage
	}
	return stages
}

// Count returns how many submissions of kind were made.
func (m *DeviceExecutor) Count(kind ports.StageKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Submissions {
		if s.Stage == kind {
			n++
		}
	}
	return n
}

// Pending returns the number of submitted but not yet waited or cancelled tokens.
func (m *DeviceExecutor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// EventLog returns a copy of the recorded events.
func (m *DeviceExecutor) EventLog() []DeviceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeviceEvent(nil), m.Events...)
}

// Reset clears recorded calls.
func (m *DeviceExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submissions = nil
	m.Events = nil
}

var _ ports.DeviceExecutor = (*DeviceExecutor)(nil)
