// Package storage persists games and their transactions in SQLite.
//
// Every operation runs inside its own database transaction, so a caller never
// observes a partial write and every read sees one consistent snapshot.
// Timestamps are generated here, never by callers.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gameledger/internal/core"
	"gameledger/internal/log"

	_ "modernc.org/sqlite"
)

type Store struct {
	db          *sql.DB
	dsn         string
	now         func() time.Time
	enforceRefs bool
	logger      *log.Logger
}

type Option func(*Store)

// WithClock sets the time source used for start, end and transaction dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger for row-level debug output.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.WithComponent(log.ComponentStorage)
		}
	}
}

// WithEnforcedReferences makes SQLite reject transactions whose game id does
// not exist. Off by default.
func WithEnforcedReferences(enforce bool) Option {
	return func(s *Store) {
		s.enforceRefs = enforce
	}
}

// Open opens (creating if needed) the database file at path and initializes
// the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("database path is required")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "create db directory", Err: err}
	}

	s := &Store{now: time.Now, logger: log.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	s.dsn = buildDSN(path, s.enforceRefs)

	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, &StorageError{Op: "open sqlite database", Err: err}
	}
	// One connection: SQLite has a single writer and ids must come from the insert that made them
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping database", Err: err}
	}
	s.db = db

	if err := s.Initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func buildDSN(path string, enforceRefs bool) string {
	fk := 0
	if enforceRefs {
		fk = 1
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(%d)", filepath.Clean(path), fk)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping database", Err: err}
	}
	return nil
}

// Initialize creates the game and transaction tables if they are absent.
// Safe to call on every startup.
func (s *Store) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "initialize", Err: err}
	}
	if err := RunMigrations(s.dsn); err != nil {
		return &StorageError{Op: "initialize", Err: err}
	}
	return nil
}

func (s *Store) timestamp() string {
	return core.NewTimestamp(s.now()).String()
}

// withTx runs fn as one unit of work. Any failure rolls back and is reported
// as a StorageError tagged with op.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return &StorageError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

// CloseActiveGames sets the end date of every open game to now and returns
// how many games were closed. Zero is the common case.
func (s *Store) CloseActiveGames(ctx context.Context) (int64, error) {
	var closed int64
	err := s.withTx(ctx, "close active games", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE game_info SET end_date = ? WHERE end_date IS NULL`,
			s.timestamp())
		if err != nil {
			return err
		}
		closed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return closed, nil
}

// NewGame inserts an open game and returns the id assigned to it.
func (s *Store) NewGame(ctx context.Context, description string) (int64, error) {
	var id int64
	err := s.withTx(ctx, "new game", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO game_info (start_date, end_date, description) VALUES (?, NULL, ?)`,
			s.timestamp(), description)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.DebugContext(ctx, "Game row inserted", log.FieldGameID, id)
	return id, nil
}

// SaveTransaction records an amount for a user against gameID. The game is
// not required to be the active one.
func (s *Store) SaveTransaction(ctx context.Context, gameID int64, userID string, amount int64) error {
	return s.withTx(ctx, "save transaction", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO game_transactions (game_id, user_id, amount, date) VALUES (?, ?, ?, ?)`,
			gameID, userID, amount, s.timestamp())
		return err
	})
}

// AllTransactions returns every transaction, most recent first.
func (s *Store) AllTransactions(ctx context.Context) ([]core.Transaction, error) {
	transactions := []core.Transaction{}
	err := s.withTx(ctx, "get all transactions", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT game_id, user_id, amount, date FROM game_transactions ORDER BY date DESC, rowid DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t    core.Transaction
				date string
			)
			if err := rows.Scan(&t.GameID, &t.UserID, &t.Amount, &date); err != nil {
				return err
			}
			if t.Date, err = core.ParseTimestamp(date); err != nil {
				return err
			}
			transactions = append(transactions, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// Profit returns the sum of all transactions per user, ordered by user id.
func (s *Store) Profit(ctx context.Context) ([]core.Profit, error) {
	profits := []core.Profit{}
	err := s.withTx(ctx, "get profit", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT user_id, SUM(amount) AS total FROM game_transactions GROUP BY user_id ORDER BY user_id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p core.Profit
			if err := rows.Scan(&p.UserID, &p.Amount); err != nil {
				return err
			}
			profits = append(profits, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return profits, nil
}

// ProfitByDay returns the sum of transactions per user and calendar day,
// most recent day first. The day is SQLite's date() of the stored text.
func (s *Store) ProfitByDay(ctx context.Context) ([]core.DailyProfit, error) {
	profits := []core.DailyProfit{}
	err := s.withTx(ctx, "get profit by day", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT user_id, date("date") AS day, SUM(amount) AS total
			 FROM game_transactions
			 GROUP BY user_id, date("date")
			 ORDER BY day DESC, user_id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				p   core.DailyProfit
				day string
			)
			if err := rows.Scan(&p.UserID, &day, &p.Amount); err != nil {
				return err
			}
			if p.Date, err = core.ParseDate(day); err != nil {
				return err
			}
			profits = append(profits, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return profits, nil
}

// Games returns every game ordered by id.
func (s *Store) Games(ctx context.Context) ([]core.Game, error) {
	games := []core.Game{}
	err := s.withTx(ctx, "get games", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, start_date, end_date, description FROM game_info ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			g, err := scanGame(rows)
			if err != nil {
				return err
			}
			games = append(games, g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return games, nil
}

// ActiveGame returns the game that has no end date. found is false when
// every game is closed.
func (s *Store) ActiveGame(ctx context.Context) (game core.Game, found bool, err error) {
	err = s.withTx(ctx, "get active game", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, start_date, end_date, description FROM game_info
			 WHERE end_date IS NULL ORDER BY id DESC LIMIT 1`)
		g, err := scanGame(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		game, found = g, true
		return nil
	})
	if err != nil {
		return core.Game{}, false, err
	}
	return game, found, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (core.Game, error) {
	var (
		g         core.Game
		start     string
		end, desc sql.NullString
	)
	if err := row.Scan(&g.ID, &start, &end, &desc); err != nil {
		return core.Game{}, err
	}

	var err error
	if g.StartDate, err = core.ParseTimestamp(start); err != nil {
		return core.Game{}, err
	}
	if end.Valid {
		ts, err := core.ParseTimestamp(end.String)
		if err != nil {
			return core.Game{}, err
		}
		g.EndDate = &ts
	}
	g.Description = desc.String
	return g, nil
}
