package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"signaltrader/internal/domain"
)

// SessionState is the interactive state of one operator session.
type SessionState string

const (
	StateMainMenu      SessionState = "main_menu"
	StateViewingSignal SessionState = "viewing_signal"
	StateAwaitingValue SessionState = "awaiting_value"
)

// session holds per-operator conversation state. The console owns this state;
// the engine stays stateless with respect to who is looking at what.
type session struct {
	State    SessionState
	SignalID int64
	// Pending command kind while awaiting a value (edit SL / edit TP).
	Awaiting domain.CommandKind
	// AwaitingField distinguishes which edit value is expected: "sl" or "tp".
	AwaitingField string
}

// Reply is what a session step sends back to the operator.
type Reply struct {
	State    SessionState `json:"state"`
	SignalID int64        `json:"signal_id,omitempty"`
	Prompt   string       `json:"prompt"`
}

// commander is the engine's command path, shared with reply classification.
type commander interface {
	Apply(ctx context.Context, cmd domain.Command) error
	ListActiveSignals(ctx context.Context) ([]*domain.Signal, error)
}

// Sessions tracks the FSM for each operator, keyed by operator id.
type Sessions struct {
	engine commander

	mu sync.Mutex
	m  map[string]*session
}

// NewSessions creates the session tracker.
func NewSessions(engine commander) *Sessions {
	return &Sessions{engine: engine, m: make(map[string]*session)}
}

func (s *Sessions) get(operator string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[operator]
	if !ok {
		sess = &session{State: StateMainMenu}
		s.m[operator] = sess
	}
	return sess
}

// Input advances one operator's session with a line of input and returns the
// next prompt. Unrecognized input re-prompts in place instead of erroring.
func (s *Sessions) Input(ctx context.Context, operator, input string) (*Reply, error) {
	sess := s.get(operator)
	input = strings.TrimSpace(input)

	switch sess.State {
	case StateMainMenu:
		return s.stepMainMenu(ctx, sess, input)
	case StateViewingSignal:
		return s.stepViewingSignal(ctx, sess, input)
	case StateAwaitingValue:
		return s.stepAwaitingValue(ctx, sess, input)
	}
	sess.State = StateMainMenu
	return mainMenuReply("session reset"), nil
}

func (s *Sessions) stepMainMenu(ctx context.Context, sess *session, input string) (*Reply, error) {
	if strings.EqualFold(input, "list") || input == "" {
		sigs, err := s.engine.ListActiveSignals(ctx)
		if err != nil {
			return nil, err
		}
		if len(sigs) == 0 {
			return mainMenuReply("no active signals"), nil
		}
		lines := make([]string, 0, len(sigs))
		for _, sig := range sigs {
			lines = append(lines, fmt.Sprintf("#%d %s %s %s", sig.ID, sig.Symbol, sig.Direction, sig.Status))
		}
		return mainMenuReply("active signals:\n" + strings.Join(lines, "\n") + "\nenter a signal id to manage it"), nil
	}

	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return mainMenuReply("enter 'list' or a signal id"), nil
	}
	sess.State = StateViewingSignal
	sess.SignalID = id
	return viewingReply(id, ""), nil
}

func (s *Sessions) stepViewingSignal(ctx context.Context, sess *session, input string) (*Reply, error) {
	switch strings.ToLower(input) {
	case "back", "menu":
		sess.State = StateMainMenu
		return mainMenuReply(""), nil
	case "delete", "riskfree", "halfclose", "tp":
		kind := map[string]domain.CommandKind{
			"delete":    domain.CmdDelete,
			"riskfree":  domain.CmdRiskFree,
			"halfclose": domain.CmdHalfClose,
			"tp":        domain.CmdTakeProfitNow,
		}[strings.ToLower(input)]
		if err := s.engine.Apply(ctx, domain.Command{Kind: kind, SignalID: sess.SignalID}); err != nil {
			return nil, err
		}
		return viewingReply(sess.SignalID, string(kind)+" submitted"), nil
	case "editsl":
		sess.State = StateAwaitingValue
		sess.Awaiting = domain.CmdEdit
		sess.AwaitingField = "sl"
		return &Reply{State: StateAwaitingValue, SignalID: sess.SignalID, Prompt: "enter new stop-loss price"}, nil
	case "edittp":
		sess.State = StateAwaitingValue
		sess.Awaiting = domain.CmdEdit
		sess.AwaitingField = "tp"
		return &Reply{State: StateAwaitingValue, SignalID: sess.SignalID, Prompt: "enter new take-profit prices, space separated"}, nil
	}
	return viewingReply(sess.SignalID, ""), nil
}

func (s *Sessions) stepAwaitingValue(ctx context.Context, sess *session, input string) (*Reply, error) {
	if strings.EqualFold(input, "back") {
		sess.State = StateViewingSignal
		return viewingReply(sess.SignalID, ""), nil
	}

	cmd := domain.Command{Kind: sess.Awaiting, SignalID: sess.SignalID}
	switch sess.AwaitingField {
	case "sl":
		v, err := strconv.ParseFloat(input, 64)
		if err != nil || v <= 0 {
			return &Reply{State: StateAwaitingValue, SignalID: sess.SignalID, Prompt: "not a price, try again or 'back'"}, nil
		}
		cmd.StopLoss = v
	case "tp":
		var tps []float64
		for _, tok := range strings.Fields(input) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil || v <= 0 {
				tps = nil
				break
			}
			tps = append(tps, v)
		}
		if len(tps) == 0 {
			return &Reply{State: StateAwaitingValue, SignalID: sess.SignalID, Prompt: "not a price list, try again or 'back'"}, nil
		}
		cmd.TakeProfits = tps
	}

	if err := s.engine.Apply(ctx, cmd); err != nil {
		return nil, err
	}
	sess.State = StateViewingSignal
	return viewingReply(sess.SignalID, "edit submitted"), nil
}

func mainMenuReply(note string) *Reply {
	prompt := "commands: list, <signal id>"
	if note != "" {
		prompt = note + "\n" + prompt
	}
	return &Reply{State: StateMainMenu, Prompt: prompt}
}

func viewingReply(id int64, note string) *Reply {
	prompt := "commands: editsl, edittp, riskfree, halfclose, tp, delete, back"
	if note != "" {
		prompt = note + "\n" + prompt
	}
	return &Reply{State: StateViewingSignal, SignalID: id, Prompt: prompt}
}
