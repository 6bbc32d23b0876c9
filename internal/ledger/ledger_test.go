package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gameledger/internal/core"
	"gameledger/internal/log"
	"gameledger/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	calls    []string
	inFlight int
	overlap  bool
	nextID   int64
	closeErr error
	newErr   error
	saveErr  error
	games    []core.Game
	txs      []core.Transaction
}

func (f *fakeStore) enter(name string) func() {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	// widen the window so an unlocked caller would overlap
	time.Sleep(time.Millisecond)
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func (f *fakeStore) CloseActiveGames(context.Context) (int64, error) {
	defer f.enter("close")()
	return 0, f.closeErr
}

func (f *fakeStore) NewGame(context.Context, string) (int64, error) {
	defer f.enter("new")()
	if f.newErr != nil {
		return 0, f.newErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID, nil
}

func (f *fakeStore) SaveTransaction(context.Context, int64, string, int64) error {
	defer f.enter("save")()
	return f.saveErr
}

func (f *fakeStore) AllTransactions(context.Context) ([]core.Transaction, error) {
	defer f.enter("transactions")()
	return f.txs, nil
}

func (f *fakeStore) Profit(context.Context) ([]core.Profit, error) {
	defer f.enter("profit")()
	return []core.Profit{}, nil
}

func (f *fakeStore) ProfitByDay(context.Context) ([]core.DailyProfit, error) {
	defer f.enter("profit_by_day")()
	return []core.DailyProfit{}, nil
}

func (f *fakeStore) Games(context.Context) ([]core.Game, error) {
	defer f.enter("games")()
	return f.games, nil
}

func (f *fakeStore) ActiveGame(context.Context) (core.Game, bool, error) {
	defer f.enter("active")()
	return core.Game{}, false, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	err     error
	started []int64
	saved   []string
}

func (p *fakePublisher) PublishGameStarted(_ context.Context, gameID int64, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, gameID)
	return p.err
}

func (p *fakePublisher) PublishTransactionSaved(_ context.Context, _ int64, userID string, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, userID)
	return p.err
}

func TestStartGameClosesBeforeCreating(t *testing.T) {
	store := &fakeStore{}
	l := New(store)

	id, err := l.StartGame(context.Background(), "friday")
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}
	if len(store.calls) != 2 || store.calls[0] != "close" || store.calls[1] != "new" {
		t.Fatalf("calls = %v, want [close new]", store.calls)
	}
}

func TestStartGameStoreErrors(t *testing.T) {
	closeErr := errors.New("close failed")
	newErr := errors.New("insert failed")

	tests := []struct {
		name      string
		store     *fakeStore
		wantErr   error
		wantCalls int
	}{
		{"close fails", &fakeStore{closeErr: closeErr}, closeErr, 1},
		{"insert fails", &fakeStore{newErr: newErr}, newErr, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			l := New(tt.store, WithPublisher(pub))

			_, err := l.StartGame(context.Background(), "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(tt.store.calls) != tt.wantCalls {
				t.Fatalf("calls = %v", tt.store.calls)
			}
			if len(pub.started) != 0 {
				t.Fatalf("event published for a failed start: %v", pub.started)
			}
		})
	}
}

func TestPublishFailureDoesNotFailCall(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	l := New(&fakeStore{}, WithPublisher(pub), WithLogger(nil))
	ctx := context.Background()

	id, err := l.StartGame(ctx, "night")
	if err != nil || id != 1 {
		t.Fatalf("StartGame = %d, %v", id, err)
	}
	if err := l.SaveTransaction(ctx, id, "alice", 10); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}
	if len(pub.started) != 1 || len(pub.saved) != 1 || pub.saved[0] != "alice" {
		t.Fatalf("published started=%v saved=%v", pub.started, pub.saved)
	}
}

func TestPublishFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	pub := &fakePublisher{err: errors.New("broker down")}
	l := New(&fakeStore{}, WithPublisher(pub),
		WithLogger(log.New(log.Config{Level: slog.LevelInfo, Output: &buf})))

	if _, err := l.StartGame(context.Background(), "night"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"component=ledger", "operation=publish", "broker down"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %s", want, out)
		}
	}
}

func TestSaveTransactionError(t *testing.T) {
	saveErr := &storage.StorageError{Op: "insert transaction", Err: errors.New("locked")}
	pub := &fakePublisher{}
	l := New(&fakeStore{saveErr: saveErr}, WithPublisher(pub))

	err := l.SaveTransaction(context.Background(), 1, "bob", -5)
	if !storage.IsStorageError(err) {
		t.Fatalf("err = %v, want storage error", err)
	}
	if len(pub.saved) != 0 {
		t.Fatalf("event published for a failed save")
	}
}

func TestCallsDoNotInterleave(t *testing.T) {
	store := &fakeStore{}
	l := New(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			l.StartGame(ctx, "")
		}()
		go func() {
			defer wg.Done()
			l.SaveTransaction(ctx, 1, "u", 1)
		}()
		go func() {
			defer wg.Done()
			l.Profit(ctx)
		}()
	}
	wg.Wait()

	if store.overlap {
		t.Fatal("store calls overlapped")
	}
	// every close must be followed directly by its insert
	for i, c := range store.calls {
		if c == "close" && (i+1 >= len(store.calls) || store.calls[i+1] != "new") {
			t.Fatalf("close at %d not followed by new: %v", i, store.calls)
		}
	}
}

func newStoreLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestOnlyLatestGameStaysActive(t *testing.T) {
	l := newStoreLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.StartGame(ctx, "concurrent"); err != nil {
				t.Errorf("StartGame: %v", err)
			}
		}()
	}
	wg.Wait()

	games, err := l.Games(ctx)
	if err != nil {
		t.Fatalf("Games: %v", err)
	}
	if len(games) != 10 {
		t.Fatalf("got %d games, want 10", len(games))
	}

	active := 0
	var maxID int64
	for _, g := range games {
		if g.Active() {
			active++
		}
		if g.ID > maxID {
			maxID = g.ID
		}
	}
	if active != 1 {
		t.Fatalf("%d active games, want 1", active)
	}

	g, ok, err := l.ActiveGame(ctx)
	if err != nil || !ok {
		t.Fatalf("ActiveGame = %v, %v", ok, err)
	}
	if g.ID != maxID {
		t.Fatalf("active game %d, want latest %d", g.ID, maxID)
	}
}

func TestLedgerScenario(t *testing.T) {
	l := newStoreLedger(t)
	ctx := context.Background()

	id, err := l.StartGame(ctx, "poker")
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	for _, tx := range []struct {
		user   string
		amount int64
	}{{"alice", 100}, {"bob", -40}, {"alice", -30}} {
		if err := l.SaveTransaction(ctx, id, tx.user, tx.amount); err != nil {
			t.Fatalf("SaveTransaction: %v", err)
		}
	}

	txs, err := l.AllTransactions(ctx)
	if err != nil || len(txs) != 3 {
		t.Fatalf("AllTransactions = %d, %v", len(txs), err)
	}

	profit, err := l.Profit(ctx)
	if err != nil {
		t.Fatalf("Profit: %v", err)
	}
	got := map[string]int64{}
	for _, p := range profit {
		got[p.UserID] = p.Amount
	}
	if len(got) != 2 || got["alice"] != 70 || got["bob"] != -40 {
		t.Fatalf("profit = %v", got)
	}

	daily, err := l.ProfitByDay(ctx)
	if err != nil {
		t.Fatalf("ProfitByDay: %v", err)
	}
	var sum int64
	for _, d := range daily {
		sum += d.Amount
	}
	if sum != 30 {
		t.Fatalf("daily profit sums to %d, want 30", sum)
	}
}

// cancelAfterClose cancels the caller's context once the close step returns.
type cancelAfterClose struct {
	*storage.Store
	cancel context.CancelFunc
}

func (c *cancelAfterClose) CloseActiveGames(ctx context.Context) (int64, error) {
	n, err := c.Store.CloseActiveGames(ctx)
	c.cancel()
	return n, err
}

func TestStartGameCompletesWhenCanceledAfterClose(t *testing.T) {
	s, err := storage.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	first, err := New(s).StartGame(context.Background(), "A")
	if err != nil {
		t.Fatalf("StartGame(A): %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := New(&cancelAfterClose{Store: s, cancel: cancel})

	id, err := l.StartGame(ctx, "B")
	if err != nil {
		t.Fatalf("StartGame(B): %v", err)
	}
	if id == first {
		t.Fatalf("StartGame(B) returned the old id %d", id)
	}

	g, ok, err := s.ActiveGame(context.Background())
	if err != nil || !ok {
		t.Fatalf("ActiveGame = %v, %v", ok, err)
	}
	if g.ID != id || g.Description != "B" {
		t.Fatalf("active game = %+v, want id %d", g, id)
	}
}

func TestStartGameCanceledBeforeClose(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	l := New(store, WithPublisher(pub))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.StartGame(ctx, "late"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(store.calls) != 0 || len(pub.started) != 0 {
		t.Fatalf("calls = %v, published = %v", store.calls, pub.started)
	}
}
