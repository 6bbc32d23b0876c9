package core

import (
	"bytes"
	"errors"
	"time"
)

// Layouts of the persisted timestamp text. TimestampLayout matches the output
// of SQLite's datetime(), DateLayout the output of date().
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

type (
	// Timestamp is a UTC instant with second precision.
	Timestamp struct {
		time.Time
	}

	// Date is a calendar day in UTC.
	Date struct {
		time.Time
	}

	Game struct {
		ID          int64      `json:"id"`
		StartDate   Timestamp  `json:"start_date"`
		EndDate     *Timestamp `json:"end_date"`
		Description string     `json:"description"`
	}

	Transaction struct {
		GameID int64     `json:"game_id"`
		UserID string    `json:"user_id"`
		Amount int64     `json:"amount"`
		Date   Timestamp `json:"date"`
	}

	// Profit is the total of every transaction of one user.
	Profit struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
	}

	// DailyProfit is the total of one user's transactions on one day.
	DailyProfit struct {
		UserID string `json:"user_id"`
		Date   Date   `json:"date"`
		Amount int64  `json:"amount"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidGameID    = errors.New("invalid game id")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Active reports whether the game has not been closed yet.
func (g Game) Active() bool {
	return g.EndDate == nil
}

// NewTimestamp truncates t to whole seconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

// ParseTimestamp parses the persisted "YYYY-MM-DD HH:MM:SS" text.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return Timestamp{}, errors.Join(ErrInvalidTimestamp, err)
	}
	return Timestamp{Time: t}, nil
}

// String returns the persisted text form.
func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTimestamp(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDate parses the "YYYY-MM-DD" text produced by SQLite's date().
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return Date{}, errors.Join(ErrInvalidTimestamp, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.UTC().Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDate(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
