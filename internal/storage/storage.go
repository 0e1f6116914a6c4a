package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/shopspring/decimal"

	"confluence-trade-bot-go/internal/models"
)

// Store is the authoritative persistence layer: cash, positions, trades and
// decisions live here. The in-memory ledger is a projection of this store and
// is rebuilt from it at startup. Monetary values are stored as TEXT so the
// decimal representation survives the round trip exactly.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	createBotsTableSQL := `
	CREATE TABLE IF NOT EXISTS bots (
		id TEXT PRIMARY KEY,
		cash TEXT NOT NULL,
		initial_cash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(createBotsTableSQL); err != nil {
		return err
	}

	createPositionsTableSQL := `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		current_price TEXT NOT NULL,
		stop_loss TEXT NOT NULL,
		take_profit TEXT NOT NULL,
		status TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME
	);`
	if _, err := db.Exec(createPositionsTableSQL); err != nil {
		return err
	}

	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		bot_id TEXT NOT NULL,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		fees TEXT NOT NULL,
		realized_pnl TEXT,
		executed_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	createDecisionsTableSQL := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		side TEXT,
		confidence REAL NOT NULL,
		size_pct REAL,
		stop_loss_pct REAL,
		take_profit_pct REAL,
		rationale TEXT,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(createDecisionsTableSQL); err != nil {
		return err
	}

	return nil
}

// EnsureBot creates the bot row with its starting cash if it does not exist.
// An existing row is left untouched so a restart never resets capital.
func (s *Store) EnsureBot(botID string, initialCash decimal.Decimal) error {
	now := time.Now().UTC()
	query := `
	INSERT OR IGNORE INTO bots (id, cash, initial_cash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query, botID, initialCash.String(), initialCash.String(), now, now); err != nil {
		return fmt.Errorf("failed to ensure bot %s: %w", botID, err)
	}
	return nil
}

// GetCash reads the authoritative cash balance. The executor calls this
// immediately before sizing an order; it never trusts pipeline-stale state.
func (s *Store) GetCash(botID string) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRow(`SELECT cash FROM bots WHERE id = ?`, botID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, fmt.Errorf("unknown bot %s", botID)
		}
		return decimal.Zero, fmt.Errorf("failed to read cash for bot %s: %w", botID, err)
	}
	cash, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt cash value %q for bot %s: %w", raw, botID, err)
	}
	return cash, nil
}

// CommitEntry persists a new position, its entry trade and the updated cash
// balance in one transaction. Either all three land or none do.
func (s *Store) CommitEntry(pos *models.Position, trade *models.Trade, newCash decimal.Decimal) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin entry transaction: %w", err)
	}
	defer tx.Rollback()

	insertPositionSQL := `
	INSERT INTO positions (id, bot_id, symbol, side, quantity, entry_price, current_price, stop_loss, take_profit, status, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err = tx.Exec(insertPositionSQL,
		pos.ID, pos.BotID, pos.Symbol, string(pos.Side),
		pos.Quantity.String(), pos.EntryPrice.String(), pos.CurrentPrice.String(),
		pos.StopLoss.String(), pos.TakeProfit.String(), string(pos.Status), pos.OpenedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert position %s: %w", pos.ID, err)
	}

	if err = insertTrade(tx, trade); err != nil {
		return err
	}
	if err = updateCash(tx, pos.BotID, newCash); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entry for %s: %w", pos.Symbol, err)
	}
	return nil
}

// CommitExit closes the position, persists the exit trade and the updated
// cash balance in one transaction.
func (s *Store) CommitExit(pos *models.Position, trade *models.Trade, newCash decimal.Decimal) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin exit transaction: %w", err)
	}
	defer tx.Rollback()

	updatePositionSQL := `
	UPDATE positions SET status = ?, current_price = ?, closed_at = ?
	WHERE id = ?`
	res, err := tx.Exec(updatePositionSQL, string(models.PositionClosed), pos.CurrentPrice.String(), pos.ClosedAt.UTC(), pos.ID)
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", pos.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to close position %s: no such row", pos.ID)
	}

	if err = insertTrade(tx, trade); err != nil {
		return err
	}
	if err = updateCash(tx, pos.BotID, newCash); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exit for %s: %w", pos.Symbol, err)
	}
	return nil
}

func insertTrade(tx *sql.Tx, trade *models.Trade) error {
	var realized interface{}
	if trade.RealizedPnL.Valid {
		realized = trade.RealizedPnL.Decimal.String()
	}
	query := `
	INSERT INTO trades (id, bot_id, position_id, symbol, side, quantity, price, fees, realized_pnl, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.Exec(query,
		trade.ID, trade.BotID, trade.PositionID, trade.Symbol, string(trade.Side),
		trade.Quantity.String(), trade.Price.String(), trade.Fees.String(), realized, trade.ExecutedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", trade.ID, err)
	}
	return nil
}

func updateCash(tx *sql.Tx, botID string, cash decimal.Decimal) error {
	res, err := tx.Exec(`UPDATE bots SET cash = ?, updated_at = ? WHERE id = ?`, cash.String(), time.Now().UTC(), botID)
	if err != nil {
		return fmt.Errorf("failed to update cash for bot %s: %w", botID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update cash: unknown bot %s", botID)
	}
	return nil
}

// LoadOpenPositions returns every open position of the bot, oldest first.
// Used to rebuild the ledger after a restart.
func (s *Store) LoadOpenPositions(botID string) ([]*models.Position, error) {
	query := `
	SELECT id, bot_id, symbol, side, quantity, entry_price, current_price, stop_loss, take_profit, status, opened_at
	FROM positions
	WHERE bot_id = ? AND status = ?
	ORDER BY opened_at ASC`
	rows, err := s.db.Query(query, botID, string(models.PositionOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		var p models.Position
		var side, status string
		var qty, entry, current, stop, take string
		if err := rows.Scan(&p.ID, &p.BotID, &p.Symbol, &side, &qty, &entry, &current, &stop, &take, &status, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		p.Side = models.PositionSide(side)
		p.Status = models.PositionStatus(status)
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("corrupt quantity for position %s: %w", p.ID, err)
		}
		if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("corrupt entry price for position %s: %w", p.ID, err)
		}
		if p.CurrentPrice, err = decimal.NewFromString(current); err != nil {
			return nil, fmt.Errorf("corrupt current price for position %s: %w", p.ID, err)
		}
		if p.StopLoss, err = decimal.NewFromString(stop); err != nil {
			return nil, fmt.Errorf("corrupt stop loss for position %s: %w", p.ID, err)
		}
		if p.TakeProfit, err = decimal.NewFromString(take); err != nil {
			return nil, fmt.Errorf("corrupt take profit for position %s: %w", p.ID, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// RecordDecision appends one decision to the audit trail.
func (s *Store) RecordDecision(botID string, d models.Decision) error {
	query := `
	INSERT INTO decisions (bot_id, symbol, action, side, confidence, size_pct, stop_loss_pct, take_profit_pct, rationale, source, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query,
		botID, d.Symbol, string(d.Action), string(d.Side), d.Confidence,
		d.SizePct, d.StopLossPct, d.TakeProfitPct, d.Rationale, d.Source, d.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to record decision for %s: %w", d.Symbol, err)
	}
	return nil
}

// RecentDecisions returns the latest decisions, newest first.
func (s *Store) RecentDecisions(botID string, limit int) ([]models.Decision, error) {
	query := `
	SELECT symbol, action, side, confidence, size_pct, stop_loss_pct, take_profit_pct, rationale, source, created_at
	FROM decisions
	WHERE bot_id = ?
	ORDER BY id DESC
	LIMIT ?`
	rows, err := s.db.Query(query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var d models.Decision
		var action, side string
		if err := rows.Scan(&d.Symbol, &action, &side, &d.Confidence, &d.SizePct,
			&d.StopLossPct, &d.TakeProfitPct, &d.Rationale, &d.Source, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		d.Action = models.Action(action)
		d.Side = models.PositionSide(side)
		out = append(out, d)
	}
	return out, rows.Err()
}
