package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signaltrader/config"
	"signaltrader/internal/analyzer"
	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
	"signaltrader/internal/risk"
)

// Ledger event kinds. An edit of an already-processed message is a distinct
// event and must be applied once, so the key includes the kind.
const (
	eventNew    = "new"
	eventEdit   = "edit"
	eventDelete = "delete"
)

// Engine is the single authority mutating signal and ticket state. Message
// sources and the operator console feed it; the position monitor feeds
// trailing/profit-saving decisions back through its ticket methods. All
// mutations for one signal id serialize on a per-signal lock held across the
// state transition and the venue call.
type Engine struct {
	cfg        *config.Config
	logger     ports.Logger
	venue      ports.ExecutionVenue
	signals    ports.SignalRepository
	tickets    ports.TicketRepository
	ledger     ports.MessageLedger
	parser     *analyzer.Parser
	classifier *analyzer.Classifier
	sizer      *risk.Calculator

	locks signalLocks
	now   func() time.Time
}

// New creates the lifecycle engine. All dependencies are required.
func New(
	cfg *config.Config,
	logger ports.Logger,
	venue ports.ExecutionVenue,
	signals ports.SignalRepository,
	tickets ports.TicketRepository,
	ledger ports.MessageLedger,
	parser *analyzer.Parser,
	classifier *analyzer.Classifier,
	sizer *risk.Calculator,
) (*Engine, error) {
	if cfg == nil || logger == nil || venue == nil || signals == nil ||
		tickets == nil || ledger == nil || parser == nil || classifier == nil || sizer == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		venue:      venue,
		signals:    signals,
		tickets:    tickets,
		ledger:     ledger,
		parser:     parser,
		classifier: classifier,
		sizer:      sizer,
		now:        time.Now,
	}, nil
}

// HandleMessage is the ingestion pipeline entry point. Parse/classify
// rejections are logged and swallowed; only store unavailability propagates,
// so the dispatcher can stop acknowledging messages to its source.
func (e *Engine) HandleMessage(ctx context.Context, msg domain.Message) error {
	event := eventNew
	switch {
	case msg.Deleted:
		event = eventDelete
	case msg.Edited:
		event = eventEdit
	}

	seen, err := e.ledger.Seen(ctx, msg.Ref(), event)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if seen {
		e.logger.Debug(ctx, "duplicate message skipped", map[string]interface{}{"ref": msg.Ref().String(), "event": event})
		return nil
	}

	switch {
	case msg.Deleted:
		err = e.handleSourceDelete(ctx, msg)
	case msg.ReplyToMessageID != 0:
		err = e.handleReply(ctx, msg)
	case msg.Edited:
		err = e.handleSourceEdit(ctx, msg)
	default:
		err = e.handleNewSignal(ctx, msg)
	}
	if err != nil {
		return err
	}
	if err := e.ledger.Record(ctx, msg.Ref(), event); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) handleNewSignal(ctx context.Context, msg domain.Message) error {
	if !e.withinTradingHours(e.now()) {
		e.logger.Warn(ctx, "signal ignored outside trading hours", map[string]interface{}{
			"ref": msg.Ref().String(), "window": e.cfg.TradingStart + "-" + e.cfg.TradingEnd,
		})
		return nil
	}

	sig, err := e.parser.Parse(msg.Text)
	if err != nil {
		if errors.Is(err, ports.ErrParseRejected) {
			e.logger.Debug(ctx, "message rejected by parser", map[string]interface{}{"ref": msg.Ref().String(), "reason": err.Error()})
			return nil
		}
		return err
	}
	sig.Source = msg.Ref()

	e.logger.Info(ctx, "new signal detected", map[string]interface{}{
		"symbol": sig.Symbol, "direction": sig.Direction, "entry": sig.Entry,
		"sl": sig.StopLoss, "tps": sig.TakeProfits, "dualEntry": sig.DualEntry(),
	})
	return e.openSignal(ctx, sig)
}

func (e *Engine) handleReply(ctx context.Context, msg domain.Message) error {
	cmd, err := e.classifier.Classify(msg.Text)
	if err != nil {
		if errors.Is(err, ports.ErrNotACommand) {
			e.logger.Debug(ctx, "reply matched no command", map[string]interface{}{"ref": msg.Ref().String()})
			return nil
		}
		return err
	}

	target := domain.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ReplyToMessageID}
	sig, err := e.signals.FindSignalByMessage(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if sig == nil {
		e.logger.Warn(ctx, "command discarded: unresolved target", map[string]interface{}{
			"ref": msg.Ref().String(), "replyTo": msg.ReplyToMessageID, "kind": cmd.Kind,
		})
		return nil
	}

	cmd.SignalID = sig.ID
	cmd.Source = msg.Ref()
	cmd.ReplyTo = msg.ReplyToMessageID
	return e.Apply(ctx, *cmd)
}

// handleSourceEdit treats an edited signal message as an edit command carrying
// the re-parsed SL/TP levels.
func (e *Engine) handleSourceEdit(ctx context.Context, msg domain.Message) error {
	sig, err := e.signals.FindSignalByMessage(ctx, msg.Ref())
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if sig == nil {
		e.logger.Debug(ctx, "edited message has no bound signal", map[string]interface{}{"ref": msg.Ref().String()})
		return nil
	}
	parsed, err := e.parser.Parse(msg.Text)
	if err != nil {
		e.logger.Debug(ctx, "edited message no longer parses", map[string]interface{}{"ref": msg.Ref().String()})
		return nil
	}
	return e.Apply(ctx, domain.Command{
		Kind:        domain.CmdEdit,
		SignalID:    sig.ID,
		StopLoss:    parsed.StopLoss,
		TakeProfits: parsed.TakeProfits,
		Source:      msg.Ref(),
	})
}

// handleSourceDelete treats a deleted signal message as a delete command.
func (e *Engine) handleSourceDelete(ctx context.Context, msg domain.Message) error {
	sig, err := e.signals.FindSignalByMessage(ctx, msg.Ref())
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if sig == nil {
		return nil
	}
	return e.Apply(ctx, domain.Command{
		Kind:     domain.CmdDelete,
		SignalID: sig.ID,
		Source:   msg.Ref(),
	})
}

// --- Read side. Snapshot reads never take signal locks. ---

// ListActiveSignals returns signals still carrying or awaiting exposure.
func (e *Engine) ListActiveSignals(ctx context.Context) ([]*domain.Signal, error) {
	return e.signals.FindActiveSignals(ctx)
}

// ListOpenTickets returns all not-yet-closed tickets across signals.
func (e *Engine) ListOpenTickets(ctx context.Context) ([]*domain.Ticket, error) {
	return e.tickets.FindAllOpenTickets(ctx)
}

// SignalHistory returns the most recent signals, newest first.
func (e *Engine) SignalHistory(ctx context.Context, limit int) ([]*domain.Signal, error) {
	return e.signals.SignalHistory(ctx, limit)
}

// withinTradingHours checks the configured HH:MM window, handling windows
// that wrap midnight. An empty window allows trading at any time.
func (e *Engine) withinTradingHours(now time.Time) bool {
	if e.cfg.TradingStart == "" || e.cfg.TradingEnd == "" {
		return true
	}
	start, err1 := time.Parse("15:04", e.cfg.TradingStart)
	end, err2 := time.Parse("15:04", e.cfg.TradingEnd)
	if err1 != nil || err2 != nil {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	s := start.Hour()*60 + start.Minute()
	en := end.Hour()*60 + end.Minute()
	if s <= en {
		return cur >= s && cur <= en
	}
	return cur >= s || cur <= en
}

func fieldsForSignal(sig *domain.Signal) map[string]interface{} {
	return map[string]interface{}{
		"signalID": sig.ID,
		"symbol":   sig.Symbol,
		"status":   sig.Status,
	}
}

func joinReasons(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
