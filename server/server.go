package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/decred/slog"
	"github.com/gagliardetto/solana-go"

	"github.com/soltomm/boss-fight-pump-fun/bossgame"
	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

// LedgerAPI is the read/build subset of the ledger client the HTTP surface
// needs. Tests substitute fakes; the authority signer never crosses this
// boundary.
type LedgerAPI interface {
	RoundAccount(ctx context.Context, roundID uint64) (*ledger.RoundAccount, error)
	FetchBet(ctx context.Context, roundID uint64, bettor solana.PublicKey) (*ledger.BetRecord, error)
	PrepareBetTx(ctx context.Context, p ledger.PrepareBetParams) (string, solana.PublicKey, error)
}

type ServerConfig struct {
	Log          slog.Logger
	Orchestrator *bossgame.Orchestrator
	Ledger       LedgerAPI
	Addr         string // e.g. ":8080"
	StaticDir    string
}

// Server exposes the HTTP API, the websocket realtime channel, and the
// static overlay assets.
type Server struct {
	log    slog.Logger
	orch   *bossgame.Orchestrator
	ledger LedgerAPI
	hub    *Hub

	httpServer *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		log:    cfg.Log,
		orch:   cfg.Orchestrator,
		ledger: cfg.Ledger,
		hub:    NewHub(cfg.Log, cfg.Orchestrator),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/game-status", s.handleGameStatus)
	mux.HandleFunc("GET /api/current-round", s.handleCurrentRound)
	mux.HandleFunc("GET /api/betting-round/{roundID}", s.handleBettingRound)
	mux.HandleFunc("POST /api/place-bet", s.handlePlaceBet)
	mux.HandleFunc("POST /api/bet-notification", s.handleBetNotification)
	mux.HandleFunc("GET /api/bet-status/{wallet}/{roundID}", s.handleBetStatus)
	mux.HandleFunc("GET /test", s.handleTestInject)
	mux.HandleFunc("GET /status", s.handleLegacyStatus)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// Hub returns the broadcaster for orchestrator wiring.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Infof("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown disconnects subscribers first so no overlay hangs on a dead
// socket, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server shut down")
	return nil
}
