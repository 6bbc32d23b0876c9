package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gameledger/internal/amqp"
	"gameledger/internal/core"
	"gameledger/internal/log"
)

// EventWorker tails ledger events: it logs each one and keeps a running
// per-user total of the transactions it has seen since it started.
type EventWorker struct {
	logger *log.Logger

	mu         sync.Mutex
	activeGame int64
	gamesSeen  int64
	txSeen     int64
	totals     map[string]int64
}

func NewEventWorker(logger *log.Logger) *EventWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &EventWorker{
		logger: logger.WithComponent(log.ComponentWorker),
		totals: make(map[string]int64),
	}
}

// HandleEvent is the consumer callback. An error requeues the delivery.
func (w *EventWorker) HandleEvent(ctx context.Context, e *amqp.LedgerEvent) error {
	switch e.Type {
	case amqp.EventGameStarted:
		w.mu.Lock()
		w.activeGame = e.GameID
		w.gamesSeen++
		w.mu.Unlock()

		w.logger.InfoContext(ctx, "Game started",
			log.FieldEventType, e.Type,
			log.FieldGameID, e.GameID,
			log.FieldDesc, e.Description)

	case amqp.EventTransactionSaved:
		if e.Amount == nil {
			return fmt.Errorf("transaction event for game %d has no amount", e.GameID)
		}
		w.mu.Lock()
		w.txSeen++
		w.totals[e.UserID] += *e.Amount
		total := w.totals[e.UserID]
		stale := w.activeGame != 0 && e.GameID != w.activeGame
		w.mu.Unlock()

		fields := log.NewFields().WithTransaction(e.GameID, e.UserID, *e.Amount)
		fields[log.FieldEventType] = e.Type
		fields["running_total"] = total
		w.logger.InfoContext(ctx, "Transaction saved", fields.ToSlice()...)
		if stale {
			w.logger.WarnContext(ctx, "Transaction recorded against a game that is not the latest started",
				log.FieldGameID, e.GameID,
				"latest_game_id", w.latestGame())
		}

	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func (w *EventWorker) latestGame() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeGame
}

// Totals returns the per-user sums seen so far, ordered by user id.
func (w *EventWorker) Totals() []core.Profit {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]core.Profit, 0, len(w.totals))
	for user, amount := range w.totals {
		out = append(out, core.Profit{UserID: user, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// LogSummary writes one line with the counters, used on shutdown.
func (w *EventWorker) LogSummary(ctx context.Context) {
	w.mu.Lock()
	games, txs, users := w.gamesSeen, w.txSeen, len(w.totals)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Event worker summary",
		"games_started", games,
		"transactions", txs,
		"users", users)
}
