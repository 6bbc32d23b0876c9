package http

import (
	"net/http"
	"strings"

	"gameledger/internal/log"
)

// sanitizeInput removes control characters other than tab, newline and
// carriage return. The value is otherwise kept as sent.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// writeLedgerError logs a failed ledger call and answers 500 with the
// error text.
func writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger := log.NewStructuredLogger(log.FromContext(r.Context()))
	logger.LogError(r.Context(), "Ledger operation failed", err, log.ComponentHTTP, op, nil)
	InternalServerError(err.Error()).Write(w)
}
