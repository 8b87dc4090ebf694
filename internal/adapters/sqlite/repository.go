package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.SignalRepository, ports.TicketRepository and
// ports.MessageLedger using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/signaltrader.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between ingestion and monitor sweeps.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; limit the Go-side pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		second_entry REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL,
		take_profits TEXT NOT NULL,
		channel_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id INTEGER NOT NULL,
		signal_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL,
		volume REAL NOT NULL,
		open_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		saved_steps INTEGER NOT NULL DEFAULT 0,
		closed INTEGER NOT NULL DEFAULT 0,
		close_reason TEXT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NULL
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		channel_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		event TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (channel_id, message_id, event)
	);

	CREATE TABLE IF NOT EXISTS signal_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_source ON signals (channel_id, message_id);
	CREATE INDEX IF NOT EXISTS idx_signals_status ON signals (status);
	CREATE INDEX IF NOT EXISTS idx_tickets_signal ON tickets (signal_id, closed);
	CREATE INDEX IF NOT EXISTS idx_status_history_signal ON signal_status_history (signal_id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- SignalRepository implementation ---

// CreateSignal saves a new signal, records its initial status in the history
// and returns its assigned id.
func (r *Repository) CreateSignal(ctx context.Context, sig *domain.Signal) (int64, error) {
	const query = `
	INSERT INTO signals (symbol, direction, entry_price, second_entry, stop_loss, take_profits,
	                     channel_id, message_id, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		sig.Symbol, sig.Direction, sig.Entry, sig.SecondEntry, sig.StopLoss, encodePrices(sig.TakeProfits),
		sig.Source.ChannelID, sig.Source.MessageID, sig.Status, sig.CreatedAt, sig.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal for symbol %s: %w", sig.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for signal %s: %w", sig.Symbol, err)
	}
	sig.ID = id
	if err := r.recordStatus(ctx, id, sig.Status); err != nil {
		return 0, err
	}
	r.logger.Debug(ctx, "signal created", map[string]interface{}{"signalID": id, "symbol": sig.Symbol})
	return id, nil
}

// UpdateSignal persists mutated fields and appends the status to the history.
func (r *Repository) UpdateSignal(ctx context.Context, sig *domain.Signal) error {
	const query = `
	UPDATE signals
	SET stop_loss = ?, take_profits = ?, status = ?, updated_at = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		sig.StopLoss, encodePrices(sig.TakeProfits), sig.Status, sig.UpdatedAt, sig.ID)
	if err != nil {
		return fmt.Errorf("failed to update signal ID %d: %w", sig.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for signal ID %d: %w", sig.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("signal ID %d not found for update", sig.ID)
	}
	if err := r.recordStatus(ctx, sig.ID, sig.Status); err != nil {
		return err
	}
	r.logger.Debug(ctx, "signal updated", map[string]interface{}{"signalID": sig.ID, "status": sig.Status})
	return nil
}

func (r *Repository) recordStatus(ctx context.Context, signalID int64, status domain.SignalStatus) error {
	const query = `INSERT INTO signal_status_history (signal_id, status, recorded_at) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, signalID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record status for signal ID %d: %w", signalID, err)
	}
	return nil
}

const signalColumns = `id, symbol, direction, entry_price, second_entry, stop_loss, take_profits,
       channel_id, message_id, status, created_at, updated_at`

// FindSignalByID retrieves a signal by id, returning nil, nil when unknown.
func (r *Repository) FindSignalByID(ctx context.Context, id int64) (*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = ?`
	sig, err := scanSignal(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query signal by ID %d: %w", id, err)
	}
	return sig, nil
}

// FindSignalByMessage resolves the signal bound to a source message.
func (r *Repository) FindSignalByMessage(ctx context.Context, ref domain.MessageRef) (*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE channel_id = ? AND message_id = ?`
	sig, err := scanSignal(r.db.QueryRowContext(ctx, query, ref.ChannelID, ref.MessageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query signal by message %s: %w", ref, err)
	}
	return sig, nil
}

// FindActiveSignals returns signals still in a non-terminal state.
func (r *Repository) FindActiveSignals(ctx context.Context) ([]*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE status IN (?, ?, ?) ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query,
		domain.StatusPending, domain.StatusOpen, domain.StatusPartiallyClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to query active signals: %w", err)
	}
	defer rows.Close()
	return collectSignals(rows)
}

// SignalHistory returns the most recent signals up to limit, newest first.
func (r *Repository) SignalHistory(ctx context.Context, limit int) ([]*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal history: %w", err)
	}
	defer rows.Close()
	return collectSignals(rows)
}

// --- TicketRepository implementation ---

// CreateTicket saves a new ticket and returns its assigned id.
func (r *Repository) CreateTicket(ctx context.Context, t *domain.Ticket) (int64, error) {
	const query = `
	INSERT INTO tickets (ticket_id, signal_id, symbol, kind, volume, open_price,
	                     stop_loss, take_profit, saved_steps, closed, close_reason, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		t.TicketID, t.SignalID, t.Symbol, t.Kind, t.Volume, t.OpenPrice,
		t.StopLoss, t.TakeProfit, t.SavedSteps, t.Closed, nullString(string(t.CloseReason)),
		t.OpenedAt, nullTime(t.ClosedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert ticket %d for signal %d: %w", t.TicketID, t.SignalID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for ticket %d: %w", t.TicketID, err)
	}
	t.ID = id
	r.logger.Debug(ctx, "ticket created", map[string]interface{}{"ticketID": t.TicketID, "signalID": t.SignalID})
	return id, nil
}

// UpdateTicket persists mutated fields of an existing ticket.
func (r *Repository) UpdateTicket(ctx context.Context, t *domain.Ticket) error {
	const query = `
	UPDATE tickets
	SET kind = ?, volume = ?, open_price = ?, stop_loss = ?, take_profit = ?,
	    saved_steps = ?, closed = ?, close_reason = ?, closed_at = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		t.Kind, t.Volume, t.OpenPrice, t.StopLoss, t.TakeProfit,
		t.SavedSteps, t.Closed, nullString(string(t.CloseReason)), nullTime(t.ClosedAt), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update ticket ID %d: %w", t.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for ticket ID %d: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("ticket ID %d not found for update", t.ID)
	}
	return nil
}

const ticketColumns = `id, ticket_id, signal_id, symbol, kind, volume, open_price,
       stop_loss, take_profit, saved_steps, closed, close_reason, opened_at, closed_at`

// FindTicketByID retrieves a ticket by its row id, returning nil, nil when unknown.
func (r *Repository) FindTicketByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	t, err := scanTicket(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query ticket by ID %d: %w", id, err)
	}
	return t, nil
}

// FindOpenTicketsBySignal returns the signal's not-yet-closed tickets.
func (r *Repository) FindOpenTicketsBySignal(ctx context.Context, signalID int64) ([]*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE signal_id = ? AND closed = 0 ORDER BY opened_at`
	rows, err := r.db.QueryContext(ctx, query, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open tickets for signal %d: %w", signalID, err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

// FindAllOpenTickets returns every not-yet-closed ticket across signals.
func (r *Repository) FindAllOpenTickets(ctx context.Context) ([]*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE closed = 0 ORDER BY opened_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

// --- MessageLedger implementation ---

// Seen reports whether the (channel, message, event) key was already recorded.
func (r *Repository) Seen(ctx context.Context, ref domain.MessageRef, event string) (bool, error) {
	const query = `SELECT COUNT(*) FROM processed_messages WHERE channel_id = ? AND message_id = ? AND event = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, ref.ChannelID, ref.MessageID, event).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check message ledger for %s/%s: %w", ref, event, err)
	}
	return count > 0, nil
}

// Record durably marks the key as applied. Recording an existing key is a no-op.
func (r *Repository) Record(ctx context.Context, ref domain.MessageRef, event string) error {
	const query = `
	INSERT OR IGNORE INTO processed_messages (channel_id, message_id, event, processed_at)
	VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, ref.ChannelID, ref.MessageID, event, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record message %s/%s: %w", ref, event, err)
	}
	return nil
}

// --- Helper scan functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(s scanner) (*domain.Signal, error) {
	sig := &domain.Signal{}
	var direction, status, takeProfits string
	err := s.Scan(
		&sig.ID, &sig.Symbol, &direction, &sig.Entry, &sig.SecondEntry, &sig.StopLoss, &takeProfits,
		&sig.Source.ChannelID, &sig.Source.MessageID, &status, &sig.CreatedAt, &sig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sig.Direction = domain.Direction(direction)
	sig.Status = domain.SignalStatus(status)
	sig.TakeProfits, err = decodePrices(takeProfits)
	if err != nil {
		return nil, fmt.Errorf("corrupt take_profits for signal %d: %w", sig.ID, err)
	}
	return sig, nil
}

func collectSignals(rows *sql.Rows) ([]*domain.Signal, error) {
	signals := make([]*domain.Signal, 0)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

func scanTicket(s scanner) (*domain.Ticket, error) {
	t := &domain.Ticket{}
	var kind string
	var closeReason sql.NullString
	var closedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.TicketID, &t.SignalID, &t.Symbol, &kind, &t.Volume, &t.OpenPrice,
		&t.StopLoss, &t.TakeProfit, &t.SavedSteps, &t.Closed, &closeReason, &t.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = domain.TicketKind(kind)
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}

func collectTickets(rows *sql.Rows) ([]*domain.Ticket, error) {
	tickets := make([]*domain.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket rows: %w", err)
	}
	return tickets, nil
}

// encodePrices stores an ordered price list as comma-joined text.
func encodePrices(prices []float64) string {
	parts := make([]string, 0, len(prices))
	for _, p := range prices {
		parts = append(parts, strconv.FormatFloat(p, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

func decodePrices(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
