package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventGameStarted      = "game.started"
	EventTransactionSaved = "transaction.saved"
)

// LedgerEvent announces a change already committed to the ledger store.
// Consumers must not expect the event to carry the stored timestamps: the
// Timestamp is when the event was built.
type LedgerEvent struct {
	Type        string    `json:"type"`
	GameID      int64     `json:"game_id"`
	UserID      string    `json:"user_id"`
	Amount      *int64    `json:"amount,omitempty"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewGameStartedEvent(gameID int64, description string) *LedgerEvent {
	return &LedgerEvent{
		Type:        EventGameStarted,
		GameID:      gameID,
		Description: description,
		Timestamp:   time.Now().UTC(),
	}
}

func NewTransactionSavedEvent(gameID int64, userID string, amount int64) *LedgerEvent {
	return &LedgerEvent{
		Type:      EventTransactionSaved,
		GameID:    gameID,
		UserID:    userID,
		Amount:    &amount,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event and rejects unknown types.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	switch e.Type {
	case EventGameStarted:
	case EventTransactionSaved:
		// an empty user id is a valid ledger entry
		if e.Amount == nil {
			return nil, fmt.Errorf("transaction event for game %d is missing amount", e.GameID)
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}
