package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/soltomm/boss-fight-pump-fun/bossgame"
	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// GET /api/game-status
func (s *Server) handleGameStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

// GET /api/current-round
func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"roundId":           snap.RoundID,
		"phase":             snap.Phase,
		"bettingRoundPDA":   snap.BettingRoundPDA,
		"escrowPDA":         snap.EscrowPDA,
		"totalDeathBets":    snap.TotalDeathBets,
		"totalSurvivalBets": snap.TotalSurvivalBets,
		"timeRemainingMs":   snap.TimeRemainingMS,
	})
}

// GET /api/betting-round/{roundID} proxies the on-chain round account.
func (s *Server) handleBettingRound(w http.ResponseWriter, r *http.Request) {
	roundID, err := strconv.ParseUint(r.PathValue("roundID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	acct, err := s.ledger.RoundAccount(r.Context(), roundID)
	if err != nil {
		if errors.Is(err, ledger.ErrRoundNotFound) {
			s.writeError(w, http.StatusNotFound, "betting round not found")
			return
		}
		s.log.Errorf("read round account %d: %v", roundID, err)
		s.writeError(w, http.StatusBadGateway, "failed to read round account")
		return
	}
	s.writeJSON(w, http.StatusOK, acct)
}

type placeBetRequest struct {
	WalletAddress string              `json:"walletAddress"`
	Username      string              `json:"username"`
	Amount        uint64              `json:"amount"`
	Prediction    bossgame.Prediction `json:"prediction"`
}

// POST /api/place-bet builds an unsigned bet transaction for the caller's
// wallet to sign. Refused outside the betting window and for duplicate bets.
func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	snap := s.orch.Snapshot()
	if snap.Phase != bossgame.PhaseBetting {
		s.writeError(w, http.StatusConflict, "betting is not open")
		return
	}
	bettor, err := solana.PublicKeyFromBase58(req.WalletAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	predCode, ok := bossgame.PredictionCode(req.Prediction)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "prediction must be death or survival")
		return
	}
	if req.Amount == 0 {
		s.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	existing, err := s.ledger.FetchBet(r.Context(), snap.RoundID, bettor)
	if err != nil {
		s.log.Errorf("bet lookup for %s: %v", bettor, err)
		s.writeError(w, http.StatusBadGateway, "failed to check existing bet")
		return
	}
	if existing != nil {
		s.writeError(w, http.StatusConflict, "bet already placed for this round")
		return
	}

	tx, betPDA, err := s.ledger.PrepareBetTx(r.Context(), ledger.PrepareBetParams{
		RoundID:    snap.RoundID,
		Bettor:     bettor,
		Amount:     req.Amount,
		Prediction: predCode,
		Username:   req.Username,
	})
	if err != nil {
		s.log.Errorf("prepare bet tx for %s: %v", bettor, err)
		s.writeError(w, http.StatusBadGateway, "failed to build bet transaction")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction": tx,
		"betPDA":      betPDA.String(),
		"roundId":     snap.RoundID,
	})
}

type betNotificationRequest struct {
	WalletAddress string              `json:"walletAddress"`
	Username      string              `json:"username"`
	Amount        uint64              `json:"amount"`
	Prediction    bossgame.Prediction `json:"prediction"`
}

// POST /api/bet-notification mirrors a just-confirmed bet for UI liveness.
// Authoritative totals still come from the chain scan at fight start.
func (s *Server) handleBetNotification(w http.ResponseWriter, r *http.Request) {
	var req betNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := solana.PublicKeyFromBase58(req.WalletAddress); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	if _, ok := bossgame.PredictionCode(req.Prediction); !ok {
		s.writeError(w, http.StatusBadRequest, "prediction must be death or survival")
		return
	}
	s.orch.NotifyBet(req.WalletAddress, bossgame.BetSummary{
		Username:   req.Username,
		Amount:     req.Amount,
		Prediction: req.Prediction,
		TS:         time.Now().UnixMilli(),
	})
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /api/bet-status/{wallet}/{roundID}
func (s *Server) handleBetStatus(w http.ResponseWriter, r *http.Request) {
	bettor, err := solana.PublicKeyFromBase58(r.PathValue("wallet"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	roundID, err := strconv.ParseUint(r.PathValue("roundID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	bet, err := s.ledger.FetchBet(r.Context(), roundID, bettor)
	if err != nil {
		s.log.Errorf("bet lookup for %s round %d: %v", bettor, roundID, err)
		s.writeError(w, http.StatusBadGateway, "failed to read bet account")
		return
	}
	if bet == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"exists": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"exists": true, "bet": bet})
}

// GET /test?user=&msg= injects a synthetic chat message. Only effective
// while the fight runs; outside it the orchestrator ignores the input.
func (s *Server) handleTestInject(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	msg := r.URL.Query().Get("msg")
	if user == "" || msg == "" {
		s.writeError(w, http.StatusBadRequest, "user and msg are required")
		return
	}
	s.orch.HandleChat(user, msg, time.Now().UnixMilli())
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /status is the legacy boss-HP snapshot kept for old overlays.
func (s *Server) handleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bossHP":  snap.BossHP,
		"maxHP":   snap.MaxHP,
		"phase":   snap.Phase,
		"roundId": snap.RoundID,
	})
}
