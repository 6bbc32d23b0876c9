// Package http exposes the ledger over HTTP.
//
// This file implements the request body parsing shared by the write
// endpoints. Bodies may be form-encoded or JSON objects.

package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"gameledger/internal/core"
)

// maxBodyBytes bounds request bodies; the write endpoints take a few short fields.
const maxBodyBytes = 1 << 16

// RequestBodyParser handles different content types for request body parsing.
// It reads the body once and stores it for subsequent parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request. A body larger
// than maxBodyBytes fails with *http.MaxBytesError.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.IsJSONContent() || p.body[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(p.body))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = fmt.Errorf("invalid JSON body: %w", err)
			return p.err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	if p.err != nil {
		p.err = fmt.Errorf("invalid form body: %w", p.err)
	}
	return p.err
}

// Lookup returns the value stored under key and whether the key was present.
func (p *RequestBodyParser) Lookup(key string) (string, bool) {
	if p.jsonData != nil {
		val, ok := p.jsonData[key]
		if !ok {
			return "", false
		}
		return sanitizeInput(stringValue(val)), true
	}
	if p.formData != nil {
		vals, ok := p.formData[key]
		if !ok || len(vals) == 0 {
			return "", false
		}
		return sanitizeInput(vals[0]), true
	}
	return "", false
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	v, _ := p.Lookup(key)
	return v
}

// IsJSONContent reports whether the client declared a JSON body.
func (p *RequestBodyParser) IsJSONContent() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(p.contentType)), "application/json")
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON scalar to its text form. Numbers keep
// their literal text so int64 amounts are not rounded through float64.
// Objects, arrays and null become "".
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// startGameRequest is the input of POST /start_game.
type startGameRequest struct {
	Description string
}

// saveTransactionRequest is the input of POST /save_transaction.
type saveTransactionRequest struct {
	GameID int64
	UserID string
	Amount int64
}

// fieldError reports a missing or malformed field; handlers answer it with 400.
type fieldError struct {
	field string
	err   error
}

func (e *fieldError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("missing field %q", e.field)
	}
	return fmt.Sprintf("invalid field %q: %v", e.field, e.err)
}

func (e *fieldError) Unwrap() error { return e.err }

func parseStartGame(w http.ResponseWriter, r *http.Request) (startGameRequest, error) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		return startGameRequest{}, err
	}

	desc, ok := p.Lookup("description")
	if !ok {
		return startGameRequest{}, &fieldError{field: "description"}
	}
	return startGameRequest{Description: desc}, nil
}

func parseSaveTransaction(w http.ResponseWriter, r *http.Request) (saveTransactionRequest, error) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		return saveTransactionRequest{}, err
	}

	var req saveTransactionRequest

	raw, ok := p.Lookup("game_id")
	if !ok {
		return req, &fieldError{field: "game_id"}
	}
	id, err := core.ParseGameID(raw)
	if err != nil {
		return req, &fieldError{field: "game_id", err: err}
	}
	req.GameID = id

	userID, ok := p.Lookup("user_id")
	if !ok {
		return req, &fieldError{field: "user_id"}
	}
	req.UserID = userID

	raw, ok = p.Lookup("amount")
	if !ok {
		return req, &fieldError{field: "amount"}
	}
	amount, err := core.ParseAmount(raw)
	if err != nil {
		return req, &fieldError{field: "amount", err: err}
	}
	req.Amount = amount

	return req, nil
}
