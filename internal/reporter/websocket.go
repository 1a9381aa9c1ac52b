package reporter

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/orchestrator"
	"github.com/liemle3893/e2e-runner-sub000/internal/result"
)

// WSMessage is the JSON frame sent for every event.
type WSMessage struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Test     string    `json:"test,omitempty"`
	File     string    `json:"file,omitempty"`
	Phase    string    `json:"phase,omitempty"`
	Step     string    `json:"step,omitempty"`
	Adapter  string    `json:"adapter,omitempty"`
	Action   string    `json:"action,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Duration int64     `json:"duration,omitempty"`

	// suite:start and suite:end
	Total   int  `json:"total,omitempty"`
	Passed  int  `json:"passed,omitempty"`
	Failed  int  `json:"failed,omitempty"`
	Skipped int  `json:"skipped,omitempty"`
	Success bool `json:"success,omitempty"`
}

// WebSocket streams events to a live listener. When the connection cannot
// be opened or a write fails, the reporter disables itself with a warning.
type WebSocket struct {
	url    string
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	dialed   bool
	disabled bool
}

// NewWebSocket streams events to url. The connection is dialed lazily.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

func (w *WebSocket) Name() string { return "websocket" }

// connect dials on first use. Must be called with mu held.
func (w *WebSocket) connect() bool {
	if w.disabled {
		return false
	}
	if w.dialed {
		return w.conn != nil
	}
	w.dialed = true

	conn, _, err := w.dialer.Dial(w.url, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", w.url).Msg("websocket reporter disabled: cannot connect")
		w.disabled = true
		return false
	}
	w.conn = conn
	log.Debug().Str("url", w.url).Msg("websocket reporter connected")
	return true
}

func (w *WebSocket) OnEvent(ev orchestrator.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connect() {
		return
	}
	if err := w.conn.WriteJSON(toWSMessage(ev)); err != nil {
		log.Warn().Err(err).Msg("websocket reporter disabled: write failed")
		w.closeLocked()
		w.disabled = true
	}
}

func (w *WebSocket) Generate(*result.Suite) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
	return nil
}

func (w *WebSocket) closeLocked() {
	if w.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = w.conn.Close()
	w.conn = nil
}

func toWSMessage(ev orchestrator.Event) WSMessage {
	m := WSMessage{
		Type:  string(ev.Type),
		Time:  ev.Time,
		Test:  ev.Test,
		Phase: ev.Phase,
		Total: ev.Total,
	}
	if ev.Definition != nil {
		m.File = ev.Definition.SourceFile
	}
	if ev.Step != nil {
		m.Step = ev.Step.StepID()
	}

	switch {
	case ev.StepResult != nil:
		s := ev.StepResult
		m.Adapter, m.Action = s.Adapter, s.Action
		m.Status = string(s.Status)
		m.Error = result.ErrorMessage(s.Err)
		m.Duration = s.Duration.Milliseconds()
	case ev.PhaseResult != nil:
		m.Status = string(ev.PhaseResult.Status)
		m.Error = result.ErrorMessage(ev.PhaseResult.Err)
		m.Duration = ev.PhaseResult.Duration.Milliseconds()
	case ev.TestResult != nil:
		m.Status = string(ev.TestResult.Status)
		m.Error = result.ErrorMessage(ev.TestResult.Err)
		m.Duration = ev.TestResult.Duration.Milliseconds()
	case ev.Suite != nil:
		s := ev.Suite
		m.Total, m.Passed, m.Failed, m.Skipped = s.Total, s.Passed, s.Failed, s.Skipped
		m.Success = s.Success
		m.Duration = s.Duration.Milliseconds()
	}
	return m
}
