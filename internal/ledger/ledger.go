// Package ledger applies the game rules on top of storage: starting a game
// closes the previous ones, and every call runs under one lock so store
// operations never interleave.
package ledger

import (
	"context"
	"sync"

	"gameledger/internal/core"
	"gameledger/internal/log"
)

// Store is the persistence the ledger needs. *storage.Store satisfies it.
type Store interface {
	CloseActiveGames(ctx context.Context) (int64, error)
	NewGame(ctx context.Context, description string) (int64, error)
	SaveTransaction(ctx context.Context, gameID int64, userID string, amount int64) error
	AllTransactions(ctx context.Context) ([]core.Transaction, error)
	Profit(ctx context.Context) ([]core.Profit, error)
	ProfitByDay(ctx context.Context) ([]core.DailyProfit, error)
	Games(ctx context.Context) ([]core.Game, error)
	ActiveGame(ctx context.Context) (core.Game, bool, error)
}

// Publisher announces ledger changes to other services. *amqp.Client
// satisfies it.
type Publisher interface {
	PublishGameStarted(ctx context.Context, gameID int64, description string) error
	PublishTransactionSaved(ctx context.Context, gameID int64, userID string, amount int64) error
}

type Ledger struct {
	mu        sync.Mutex
	store     Store
	publisher Publisher
	logger    *log.Logger
}

type Option func(*Ledger)

func WithPublisher(p Publisher) Option {
	return func(l *Ledger) {
		l.publisher = p
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger.WithComponent(log.ComponentLedger)
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartGame closes every active game and opens a new one, returning its id.
//
// The close and the insert are two separate store transactions; the lock is
// held across both so no other ledger call runs in between. Cancelling ctx
// only stops the call before the close; once games are closed the insert
// always runs. A crash between them leaves every game closed and no new game.
func (l *Ledger) StartGame(ctx context.Context, description string) (int64, error) {
	id, err := l.startGame(ctx, description)
	if err != nil {
		return 0, err
	}

	if l.publisher != nil {
		if err := l.publisher.PublishGameStarted(ctx, id, description); err != nil {
			// the game is already stored
			l.logger.ErrorContext(ctx, "Failed to publish game started event",
				log.FieldOperation, log.OpPublish,
				log.FieldGameID, id,
				log.FieldError, err)
		}
	}

	return id, nil
}

func (l *Ledger) startGame(ctx context.Context, description string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ctx = context.WithoutCancel(ctx)

	closed, err := l.store.CloseActiveGames(ctx)
	if err != nil {
		return 0, err
	}
	l.logger.InfoContext(ctx, "Closed all previous active games", log.FieldClosed, closed)

	id, err := l.store.NewGame(ctx, description)
	if err != nil {
		return 0, err
	}
	l.logger.InfoContext(ctx, "New game record created", log.FieldGameID, id, log.FieldDesc, description)

	return id, nil
}

// SaveTransaction records amount for userID against gameID. The game id is
// taken as given: it need not be the active game.
func (l *Ledger) SaveTransaction(ctx context.Context, gameID int64, userID string, amount int64) error {
	if err := l.saveTransaction(ctx, gameID, userID, amount); err != nil {
		return err
	}

	if l.publisher != nil {
		if err := l.publisher.PublishTransactionSaved(ctx, gameID, userID, amount); err != nil {
			l.logger.ErrorContext(ctx, "Failed to publish transaction saved event",
				log.FieldOperation, log.OpPublish,
				log.FieldGameID, gameID,
				log.FieldUserID, userID,
				log.FieldError, err)
		}
	}

	return nil
}

func (l *Ledger) saveTransaction(ctx context.Context, gameID int64, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.SaveTransaction(ctx, gameID, userID, amount); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "User performed transaction",
		log.FieldGameID, gameID,
		log.FieldUserID, userID,
		log.FieldAmount, amount)
	return nil
}

func (l *Ledger) AllTransactions(ctx context.Context) ([]core.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.AllTransactions(ctx)
}

func (l *Ledger) Profit(ctx context.Context) ([]core.Profit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Profit(ctx)
}

func (l *Ledger) ProfitByDay(ctx context.Context) ([]core.DailyProfit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.ProfitByDay(ctx)
}

func (l *Ledger) Games(ctx context.Context) ([]core.Game, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Games(ctx)
}

// ActiveGame returns the open game, if there is one.
func (l *Ledger) ActiveGame(ctx context.Context) (core.Game, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.ActiveGame(ctx)
}
