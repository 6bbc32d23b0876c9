package storage

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gameledger/internal/log"
)

// stepClock returns a fixed instant that moves forward by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "ledger.sqlite"), opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Initialize(ctx); err != nil {
			t.Fatalf("initialize #%d: %v", i+1, err)
		}
	}

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('game_info', 'game_transactions')`).Scan(&n)
	if err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 ledger tables, got %d", n)
	}
}

func TestOpenAdoptsExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.sqlite")

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	stmts := []string{
		`CREATE TABLE game_info (id INTEGER PRIMARY KEY, start_date TEXT NOT NULL, end_date TEXT NULL, description TEXT NULL)`,
		`CREATE TABLE game_transactions (game_id INTEGER NOT NULL, user_id TEXT NOT NULL, amount INTEGER NOT NULL, date TEXT NOT NULL, FOREIGN KEY (game_id) REFERENCES game_info(id))`,
		`INSERT INTO game_info (start_date, end_date, description) VALUES ('2024-01-01 08:00:00', NULL, 'legacy')`,
		`INSERT INTO game_transactions (game_id, user_id, amount, date) VALUES (1, 'carol', 300, '2024-01-01 09:00:00')`,
	}
	for _, stmt := range stmts {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	raw.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open existing: %v", err)
	}
	defer s.Close()

	txs, err := s.AllTransactions(context.Background())
	if err != nil {
		t.Fatalf("all transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].UserID != "carol" || txs[0].Date.String() != "2024-01-01 09:00:00" {
		t.Fatalf("unexpected transactions: %+v", txs)
	}

	game, found, err := s.ActiveGame(context.Background())
	if err != nil || !found || game.Description != "legacy" {
		t.Fatalf("unexpected active game: %+v found=%v err=%v", game, found, err)
	}
}

func TestNewGameIDsIncrease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.NewGame(ctx, "round")
		if err != nil {
			t.Fatalf("new game: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestCloseActiveGames(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	s := openTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	closed, err := s.CloseActiveGames(ctx)
	if err != nil || closed != 0 {
		t.Fatalf("closing with no games: closed=%d err=%v", closed, err)
	}

	if _, err := s.NewGame(ctx, "A"); err != nil {
		t.Fatalf("new game: %v", err)
	}
	if _, err := s.NewGame(ctx, "B"); err != nil {
		t.Fatalf("new game: %v", err)
	}

	closed, err = s.CloseActiveGames(ctx)
	if err != nil || closed != 2 {
		t.Fatalf("expected 2 closed, got %d (err=%v)", closed, err)
	}
	closed, err = s.CloseActiveGames(ctx)
	if err != nil || closed != 0 {
		t.Fatalf("second close should be a no-op, got %d (err=%v)", closed, err)
	}

	games, err := s.Games(ctx)
	if err != nil {
		t.Fatalf("games: %v", err)
	}
	for _, g := range games {
		if g.Active() {
			t.Fatalf("game %d still active", g.ID)
		}
		if g.EndDate.Before(g.StartDate.Time) {
			t.Fatalf("game %d ends before it starts", g.ID)
		}
	}

	if _, found, err := s.ActiveGame(ctx); err != nil || found {
		t.Fatalf("expected no active game, found=%v err=%v", found, err)
	}
}

func TestScenario(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	s := openTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	mustStart := func(desc string) int64 {
		t.Helper()
		if _, err := s.CloseActiveGames(ctx); err != nil {
			t.Fatalf("close active games: %v", err)
		}
		id, err := s.NewGame(ctx, desc)
		if err != nil {
			t.Fatalf("new game: %v", err)
		}
		return id
	}
	mustSave := func(gameID int64, user string, amount int64) {
		t.Helper()
		if err := s.SaveTransaction(ctx, gameID, user, amount); err != nil {
			t.Fatalf("save transaction: %v", err)
		}
	}

	g1 := mustStart("A")
	mustSave(g1, "alice", 500)
	mustSave(g1, "bob", -200)
	g2 := mustStart("B")
	mustSave(g2, "alice", 100)

	if g1 != 1 || g2 != 2 {
		t.Fatalf("unexpected ids %d, %d", g1, g2)
	}

	profit, err := s.Profit(ctx)
	if err != nil {
		t.Fatalf("profit: %v", err)
	}
	if len(profit) != 2 ||
		profit[0].UserID != "alice" || profit[0].Amount != 600 ||
		profit[1].UserID != "bob" || profit[1].Amount != -200 {
		t.Fatalf("unexpected profit: %+v", profit)
	}

	txs, err := s.AllTransactions(ctx)
	if err != nil {
		t.Fatalf("all transactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if txs[0].GameID != g2 || txs[0].Amount != 100 || txs[2].UserID != "alice" || txs[2].Amount != 500 {
		t.Fatalf("transactions not newest first: %+v", txs)
	}

	games, err := s.Games(ctx)
	if err != nil {
		t.Fatalf("games: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("expected 2 games, got %d", len(games))
	}
	if games[0].Active() || !games[1].Active() {
		t.Fatalf("expected only game 2 active: %+v", games)
	}
	if games[0].EndDate.After(games[1].StartDate.Time) {
		t.Fatalf("game 1 closed at %s after game 2 started at %s", games[0].EndDate, games[1].StartDate)
	}
}

func TestSameSecondTransactionsNewestFirst(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	for i, amount := range []int64{1, 2, 3} {
		if err := s.SaveTransaction(ctx, 1, "alice", amount); err != nil {
			t.Fatalf("save #%d: %v", i, err)
		}
	}
	txs, err := s.AllTransactions(ctx)
	if err != nil {
		t.Fatalf("all transactions: %v", err)
	}
	if txs[0].Amount != 3 || txs[1].Amount != 2 || txs[2].Amount != 1 {
		t.Fatalf("expected insertion order reversed, got %+v", txs)
	}
}

func TestProfitByDay(t *testing.T) {
	clock := &stepClock{step: time.Minute}
	s := openTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	save := func(at time.Time, user string, amount int64) {
		t.Helper()
		clock.Set(at)
		if err := s.SaveTransaction(ctx, 1, user, amount); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	save(day1.Add(23*time.Hour+59*time.Minute+59*time.Second), "alice", 500)
	save(day1.Add(time.Hour), "bob", -200)
	save(day1.Add(2*time.Hour), "alice", 50)
	save(day2, "alice", 100)
	// 01:30 in UTC+2 is still the previous UTC day
	save(time.Date(2024, 5, 3, 1, 30, 0, 0, time.FixedZone("UTC+2", 2*60*60)), "bob", 7)

	byDay, err := s.ProfitByDay(ctx)
	if err != nil {
		t.Fatalf("profit by day: %v", err)
	}

	type row struct {
		user   string
		day    string
		amount int64
	}
	want := []row{
		{"alice", "2024-05-02", 100},
		{"bob", "2024-05-02", 7},
		{"alice", "2024-05-01", 550},
		{"bob", "2024-05-01", -200},
	}
	if len(byDay) != len(want) {
		t.Fatalf("expected %d rows, got %+v", len(want), byDay)
	}
	for i, w := range want {
		got := byDay[i]
		if got.UserID != w.user || got.Date.String() != w.day || got.Amount != w.amount {
			t.Fatalf("row %d: got %+v, want %+v", i, got, w)
		}
	}

	for i := 1; i < len(byDay); i++ {
		if byDay[i].Date.After(byDay[i-1].Date.Time) {
			t.Fatalf("rows not ordered by day descending: %+v", byDay)
		}
	}

	profit, err := s.Profit(ctx)
	if err != nil {
		t.Fatalf("profit: %v", err)
	}
	totals := map[string]int64{}
	for _, p := range byDay {
		totals[p.UserID] += p.Amount
	}
	for _, p := range profit {
		if totals[p.UserID] != p.Amount {
			t.Fatalf("daily totals for %s sum to %d, profit says %d", p.UserID, totals[p.UserID], p.Amount)
		}
	}
}

func TestEmptyResultsAreEmptySlices(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	txs, err := s.AllTransactions(ctx)
	if err != nil || txs == nil || len(txs) != 0 {
		t.Fatalf("transactions: %v (err=%v)", txs, err)
	}
	profit, err := s.Profit(ctx)
	if err != nil || profit == nil || len(profit) != 0 {
		t.Fatalf("profit: %v (err=%v)", profit, err)
	}
	byDay, err := s.ProfitByDay(ctx)
	if err != nil || byDay == nil || len(byDay) != 0 {
		t.Fatalf("profit by day: %v (err=%v)", byDay, err)
	}
	games, err := s.Games(ctx)
	if err != nil || games == nil || len(games) != 0 {
		t.Fatalf("games: %v (err=%v)", games, err)
	}
}

func TestTransactionReferences(t *testing.T) {
	ctx := context.Background()

	t.Run("loose by default", func(t *testing.T) {
		s := openTestStore(t)
		if err := s.SaveTransaction(ctx, 42, "alice", 10); err != nil {
			t.Fatalf("expected unknown game id to be accepted: %v", err)
		}
	})

	t.Run("enforced", func(t *testing.T) {
		s := openTestStore(t, WithEnforcedReferences(true))
		err := s.SaveTransaction(ctx, 42, "alice", 10)
		if !IsStorageError(err) {
			t.Fatalf("expected storage error, got %v", err)
		}

		id, err := s.NewGame(ctx, "A")
		if err != nil {
			t.Fatalf("new game: %v", err)
		}
		if err := s.SaveTransaction(ctx, id, "alice", 10); err != nil {
			t.Fatalf("save against existing game: %v", err)
		}
		// closed games still accept transactions
		if _, err := s.CloseActiveGames(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := s.SaveTransaction(ctx, id, "bob", -10); err != nil {
			t.Fatalf("save against closed game: %v", err)
		}
	})
}

func TestFailuresAreStorageErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Close()

	if _, err := s.NewGame(ctx, "A"); !IsStorageError(err) {
		t.Fatalf("new game: expected storage error, got %v", err)
	}
	if err := s.SaveTransaction(ctx, 1, "a", 1); !IsStorageError(err) {
		t.Fatalf("save: expected storage error, got %v", err)
	}
	if _, err := s.Profit(ctx); !IsStorageError(err) {
		t.Fatalf("profit: expected storage error, got %v", err)
	}
	if err := s.Ping(ctx); !IsStorageError(err) {
		t.Fatalf("ping: expected storage error, got %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); !IsStorageError(err) {
		t.Fatalf("expected storage error for empty path, got %v", err)
	}
}

func TestStoreLogsThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	s := openTestStore(t, WithLogger(log.New(log.Config{Level: slog.LevelDebug, Output: &buf})))

	id, err := s.NewGame(context.Background(), "logged")
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "component=storage") || !strings.Contains(out, "game_id="+strconv.FormatInt(id, 10)) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
