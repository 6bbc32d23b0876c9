package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"gameledger/internal/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().Text("ok").Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ServiceUnavailableError("store unavailable: " + err.Error()).Write(w)
			return
		}
	}
	NewResponse().Text("ready").Write(w)
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	req, err := parseStartGame(w, r)
	if err != nil {
		requestError(err).Write(w)
		return
	}

	id, err := s.ledger.StartGame(r.Context(), req.Description)
	if err != nil {
		writeLedgerError(w, r, log.OpStartGame, err)
		return
	}

	OK().Header("X-Game-Id", strconv.FormatInt(id, 10)).Write(w)
}

func (s *Server) handleSaveTransaction(w http.ResponseWriter, r *http.Request) {
	req, err := parseSaveTransaction(w, r)
	if err != nil {
		requestError(err).Write(w)
		return
	}

	if err := s.ledger.SaveTransaction(r.Context(), req.GameID, req.UserID, req.Amount); err != nil {
		writeLedgerError(w, r, log.OpSaveTransaction, err)
		return
	}

	OK().Write(w)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.AllTransactions(r.Context())
	if err != nil {
		writeLedgerError(w, r, log.OpList, err)
		return
	}
	writeList(w, txs)
}

func (s *Server) handleProfit(w http.ResponseWriter, r *http.Request) {
	profit, err := s.ledger.Profit(r.Context())
	if err != nil {
		writeLedgerError(w, r, log.OpList, err)
		return
	}
	writeList(w, profit)
}

func (s *Server) handleProfitByDay(w http.ResponseWriter, r *http.Request) {
	profit, err := s.ledger.ProfitByDay(r.Context())
	if err != nil {
		writeLedgerError(w, r, log.OpList, err)
		return
	}
	writeList(w, profit)
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.ledger.Games(r.Context())
	if err != nil {
		writeLedgerError(w, r, log.OpList, err)
		return
	}
	writeList(w, games)
}

func (s *Server) handleActiveGame(w http.ResponseWriter, r *http.Request) {
	game, ok, err := s.ledger.ActiveGame(r.Context())
	if err != nil {
		writeLedgerError(w, r, log.OpList, err)
		return
	}
	if !ok {
		NotFoundError("no active game").Write(w)
		return
	}
	NewResponse().JSON(game).Write(w)
}

// requestError answers a body that could not be parsed: 413 when it was too
// large, 400 otherwise.
func requestError(err error) *ResponseBuilder {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return PayloadTooLargeError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}
	return BadRequestError(err.Error())
}

// writeList encodes items as a JSON array; nil becomes [].
func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	NewResponse().JSON(items).Write(w)
}
