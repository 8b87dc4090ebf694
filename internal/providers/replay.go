package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// replayRecord is one line of a replay file.
type replayRecord struct {
	ChannelID int64  `json:"channel_id"`
	MessageID int64  `json:"message_id"`
	ReplyTo   int64  `json:"reply_to,omitempty"`
	Text      string `json:"text"`
	Edited    bool   `json:"edited,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// ReplaySource feeds messages from a JSON-lines capture file, preserving file
// order. It is used for backfilling a fresh database and for dry runs against
// a recorded channel; the ledger makes repeated replays of the same file safe.
type ReplaySource struct {
	path   string
	logger ports.Logger
	done   chan struct{}
}

// NewReplaySource creates a source reading the capture file at path.
func NewReplaySource(path string, logger ports.Logger) *ReplaySource {
	return &ReplaySource{path: path, logger: logger, done: make(chan struct{})}
}

func (s *ReplaySource) Name() string { return "replay" }

// Start opens the file, then delivers every record from a background
// goroutine, preserving file order. Malformed lines are skipped with a
// warning so one bad record cannot abort a backfill.
func (s *ReplaySource) Start(ctx context.Context, handler ports.MessageHandler) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	go s.deliver(ctx, f, handler)
	return nil
}

func (s *ReplaySource) deliver(ctx context.Context, f *os.File, handler ports.MessageHandler) {
	defer f.Close()
	defer close(s.done)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	delivered := 0
	for scanner.Scan() {
		lineNo++
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec replayRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn(ctx, "replay line skipped", map[string]interface{}{
				"file": s.path, "line": lineNo, "error": err.Error(),
			})
			continue
		}
		handler(domain.Message{
			ChannelID:        rec.ChannelID,
			MessageID:        rec.MessageID,
			ReplyToMessageID: rec.ReplyTo,
			Text:             rec.Text,
			Edited:           rec.Edited,
			Deleted:          rec.Deleted,
		})
		delivered++
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error(ctx, err, "replay file read failed", map[string]interface{}{"file": s.path, "line": lineNo})
		return
	}
	s.logger.Info(ctx, "replay finished", map[string]interface{}{"file": s.path, "messages": delivered})
}

// Stop waits for the replay to finish delivering.
func (s *ReplaySource) Stop(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
