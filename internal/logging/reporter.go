package logging

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/manivault/mvcore/internal/mverr"
)

// Severity of a user-facing message
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is a user-facing notification. It stands in for the message box a
// desktop shell would show.
type Message struct {
	Time      time.Time `json:"time"`
	Severity  Severity  `json:"severity"`
	Component string    `json:"component"`
	Code      string    `json:"code,omitempty"`
	Text      string    `json:"text"`
}

// Reporter records operation failures as user-facing messages and logs them
type Reporter struct {
	messages *RingBuffer[Message]
	logger   *slog.Logger
	errors   atomic.Uint64
	hooks    []func(Message)
}

// NewReporter creates a reporter keeping the last capacity messages
func NewReporter(logger *slog.Logger, capacity int) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		messages: NewRingBuffer[Message](capacity),
		logger:   logger.With("component", "reporter"),
	}
}

// OnMessage registers a hook invoked for every message. Hooks must be
// registered before the reporter is shared.
func (r *Reporter) OnMessage(fn func(Message)) {
	r.hooks = append(r.hooks, fn)
}

// Report records err on behalf of component and returns it unchanged, so
// call sites can write `return r.Report("data", err)`. A nil reporter or a
// nil error is a no-op.
func (r *Reporter) Report(component string, err error) error {
	if r == nil || err == nil {
		return err
	}

	severity := SeverityError
	switch mverr.CodeOf(err) {
	case mverr.CodeAlreadyInState, mverr.CodeAborted:
		severity = SeverityWarning
	default:
		r.errors.Add(1)
	}

	msg := Message{
		Time:      time.Now(),
		Severity:  severity,
		Component: component,
		Code:      string(mverr.CodeOf(err)),
		Text:      mverr.UserMessage(err),
	}
	r.add(msg)

	if severity == SeverityWarning {
		r.logger.Warn("Operation rejected", "source", component, "code", msg.Code, "error", err)
	} else {
		r.logger.Error("Operation failed", "source", component, "code", msg.Code, "error", err)
	}
	return err
}

// Info records an informational message
func (r *Reporter) Info(component, text string) {
	if r == nil {
		return
	}
	r.add(Message{Time: time.Now(), Severity: SeverityInfo, Component: component, Text: text})
}

func (r *Reporter) add(msg Message) {
	r.messages.Add(msg)
	for _, fn := range r.hooks {
		fn(msg)
	}
}

// Messages returns the last n messages, oldest first
func (r *Reporter) Messages(n int) []Message {
	return r.messages.Recent(n)
}

// ErrorCount returns the number of error-severity reports so far
func (r *Reporter) ErrorCount() uint64 {
	return r.errors.Load()
}

// Buffer exposes the underlying buffer for streaming
func (r *Reporter) Buffer() *RingBuffer[Message] {
	return r.messages
}
