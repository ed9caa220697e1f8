package bossgame

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/slog"

	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

// PayoutResult is one successful winner payout.
type PayoutResult struct {
	Username    string `json:"username"`
	Wallet      string `json:"wallet"`
	BetAmount   uint64 `json:"betAmount"`
	PrizeShare  uint64 `json:"prizeShare"`
	TotalPayout uint64 `json:"totalPayout"`
	Signature   string `json:"signature"`
}

// SettlementSummary is broadcast as payouts_processed after a round settles.
type SettlementSummary struct {
	RoundID     uint64         `json:"roundId"`
	WinningSide Prediction     `json:"winningSide"`
	Winners     []PayoutResult `json:"winners"`
	TotalPaid   uint64         `json:"totalPaidLamports"`
	Failures    int            `json:"failures"`
	FeesClaimed bool           `json:"feesClaimed"`
}

// Settler computes and executes payouts for one ended round. All amounts are
// integer lamports; every division floors, and the per-share residue that
// flooring leaves in escrow is collected by claim_fees together with the fee.
type Settler struct {
	Ledger Ledger
	Log    slog.Logger
}

// Settle runs once per round, after end_fight has landed. Per-bettor payout
// failures are logged and skipped; only a failure to read the authoritative
// round state aborts settlement.
func (s *Settler) Settle(ctx context.Context, roundID uint64) (*SettlementSummary, error) {
	acct, err := s.Ledger.RoundAccount(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("read round account: %w", err)
	}

	winning := PredictionSurvival
	winnerTotal, loserTotal := acct.TotalSurvivalBets, acct.TotalDeathBets
	if acct.BossDefeated {
		winning = PredictionDeath
		winnerTotal, loserTotal = acct.TotalDeathBets, acct.TotalSurvivalBets
	}
	summary := &SettlementSummary{RoundID: roundID, WinningSide: winning}

	if winnerTotal == 0 {
		// Nobody to pay; the whole pool drains to the treasury.
		s.Log.Infof("round %d: no winning bets; claiming fees only", roundID)
		summary.FeesClaimed = s.claimFees(ctx, roundID)
		return summary, nil
	}

	bets, err := s.Ledger.ScanBets(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("scan bets: %w", err)
	}

	fee := loserTotal * uint64(acct.FeePercentage) / 100
	prizePool := loserTotal - fee
	winCode, _ := PredictionCode(winning)

	for _, bet := range bets {
		if bet.Prediction != winCode {
			continue
		}
		if bet.Claimed {
			s.Log.Debugf("round %d: bet %s already claimed; skipping", roundID, bet.Address)
			continue
		}
		share := mulDiv(prizePool, bet.Amount, winnerTotal)
		total := bet.Amount + share

		sig, err := s.Ledger.ClaimPayout(ctx, roundID, bet.Bettor)
		if err != nil {
			if errors.Is(err, ledger.ErrAlreadyClaimed) {
				s.Log.Debugf("round %d: payout for %s raced an earlier claim", roundID, bet.Bettor)
				continue
			}
			s.Log.Errorf("round %d: claim payout for %s failed: %v", roundID, bet.Bettor, err)
			summary.Failures++
			continue
		}
		s.Log.Infof("round %d: paid %s %d lamports (bet %d + share %d); sig=%s",
			roundID, bet.Bettor, total, bet.Amount, share, sig)
		summary.Winners = append(summary.Winners, PayoutResult{
			Username:    bet.Username,
			Wallet:      bet.Bettor.String(),
			BetAmount:   bet.Amount,
			PrizeShare:  share,
			TotalPayout: total,
			Signature:   sig.String(),
		})
		summary.TotalPaid += total
	}

	summary.FeesClaimed = s.claimFees(ctx, roundID)
	return summary, nil
}

func (s *Settler) claimFees(ctx context.Context, roundID uint64) bool {
	sig, err := s.Ledger.ClaimFees(ctx, roundID)
	if err != nil {
		s.Log.Errorf("round %d: claim fees failed: %v", roundID, err)
		return false
	}
	s.Log.Infof("round %d: fees claimed; sig=%s", roundID, sig)
	return true
}

// mulDiv computes floor(a*b/d) without overflowing uint64.
func mulDiv(a, b, d uint64) uint64 {
	var prod big.Int
	prod.Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Div(&prod, new(big.Int).SetUint64(d))
	return prod.Uint64()
}
