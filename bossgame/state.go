package bossgame

import (
	"sort"

	"github.com/gagliardetto/solana-go"
)

// Phase of the round lifecycle. Transitions form
// Idle -> Betting -> Fighting -> Ended -> (Betting | Idle).
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseBetting  Phase = "betting"
	PhaseFighting Phase = "fighting"
	PhaseEnded    Phase = "ended"
)

// Prediction side of a bet as exposed to clients.
type Prediction string

const (
	PredictionDeath    Prediction = "death"
	PredictionSurvival Prediction = "survival"
)

// HitEntry is one chronological damage or heal event. Delta is -1 for
// damage, +1 for heal.
type HitEntry struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	TS       int64  `json:"ts"`
	Delta    int    `json:"delta"`
}

// BetSummary mirrors one on-chain bet for display and auditing. The
// authoritative amounts live in the bet accounts themselves.
type BetSummary struct {
	Username   string     `json:"username"`
	Amount     uint64     `json:"amountLamports"`
	Prediction Prediction `json:"prediction"`
	TS         int64      `json:"ts"`
}

// TopHitter is one leaderboard row.
type TopHitter struct {
	Username string `json:"username"`
	Hits     uint32 `json:"hits"`
}

// GameState is the single mutable game state. It is owned exclusively by the
// Orchestrator goroutine; everything outside reads immutable Snapshot copies.
type GameState struct {
	Phase   Phase
	RoundID uint64

	BossHP uint32
	MaxHP  uint32

	UserHits      map[string]uint32
	Chronological []HitEntry
	TotalHits     uint32
	LastHitter    string

	// Absolute deadlines in unix milliseconds; zero when no timer is armed.
	BettingEndTime int64
	FightEndTime   int64

	HasPDAs         bool
	BettingRoundPDA solana.PublicKey
	EscrowPDA       solana.PublicKey

	OnChainBets       map[string]BetSummary
	TotalDeathBets    uint64
	TotalSurvivalBets uint64
}

func NewGameState() *GameState {
	return &GameState{
		Phase:       PhaseIdle,
		UserHits:    make(map[string]uint32),
		OnChainBets: make(map[string]BetSummary),
	}
}

// ResetRound zeroes all per-round fields and arms a fresh round.
func (g *GameState) ResetRound(roundID uint64, initialHP uint32) {
	g.RoundID = roundID
	g.BossHP = initialHP
	g.MaxHP = initialHP
	g.UserHits = make(map[string]uint32)
	g.Chronological = nil
	g.TotalHits = 0
	g.LastHitter = ""
	g.BettingEndTime = 0
	g.FightEndTime = 0
	g.HasPDAs = false
	g.BettingRoundPDA = solana.PublicKey{}
	g.EscrowPDA = solana.PublicKey{}
	g.OnChainBets = make(map[string]BetSummary)
	g.TotalDeathBets = 0
	g.TotalSurvivalBets = 0
}

// ApplyDamage records one point of damage from username and returns true
// when this hit dropped the boss to zero. HP never goes below zero.
func (g *GameState) ApplyDamage(username, message string, ts int64) (defeated bool) {
	g.TotalHits++
	g.UserHits[username]++
	g.LastHitter = username
	g.Chronological = append(g.Chronological, HitEntry{
		Username: username, Message: message, TS: ts, Delta: -1,
	})
	wasAlive := g.BossHP > 0
	if g.BossHP > 0 {
		g.BossHP--
	}
	return wasAlive && g.BossHP == 0
}

// ApplyHeal records one point of healing. Heals never touch UserHits or
// LastHitter, and HP is clamped at MaxHP.
func (g *GameState) ApplyHeal(username, message string, ts int64) {
	g.Chronological = append(g.Chronological, HitEntry{
		Username: username, Message: message, TS: ts, Delta: 1,
	})
	if g.BossHP < g.MaxHP {
		g.BossHP++
	}
}

// TopHitters returns the n highest damagers, ties broken by username so the
// ordering is stable across snapshots.
func (g *GameState) TopHitters(n int) []TopHitter {
	top := make([]TopHitter, 0, len(g.UserHits))
	for user, hits := range g.UserHits {
		top = append(top, TopHitter{Username: user, Hits: hits})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Hits != top[j].Hits {
			return top[i].Hits > top[j].Hits
		}
		return top[i].Username < top[j].Username
	})
	if len(top) > n {
		top = top[:n]
	}
	return top
}

// RecentEntries returns the newest n chronological entries, oldest first.
func (g *GameState) RecentEntries(n int) []HitEntry {
	start := len(g.Chronological) - n
	if start < 0 {
		start = 0
	}
	return append([]HitEntry(nil), g.Chronological[start:]...)
}

// Snapshot is an immutable copy of the public game state. It is what the
// hub hands to a freshly joined subscriber and what HTTP readers see.
type Snapshot struct {
	Phase             Phase                 `json:"phase"`
	RoundID           uint64                `json:"roundId"`
	BossHP            uint32                `json:"bossHP"`
	MaxHP             uint32                `json:"maxHP"`
	TotalHits         uint32                `json:"totalHits"`
	Top               []TopHitter           `json:"top"`
	LastHitter        string                `json:"lastHitter,omitempty"`
	Recent            []HitEntry            `json:"recent"`
	TotalDeathBets    uint64                `json:"totalDeathBets"`
	TotalSurvivalBets uint64                `json:"totalSurvivalBets"`
	OnChainBets       map[string]BetSummary `json:"onChainBets"`
	TimeRemainingMS   int64                 `json:"timeRemainingMs"`
	BettingEndMS      int64                 `json:"bettingEndTime,omitempty"`
	FightEndMS        int64                 `json:"fightEndTime,omitempty"`
	ChatConnected     bool                  `json:"chatConnected"`
	BettingRoundPDA   string                `json:"bettingRoundPDA,omitempty"`
	EscrowPDA         string                `json:"escrowPDA,omitempty"`
}

// snapshot builds a Snapshot at wall time nowMS.
func (g *GameState) snapshot(nowMS int64, chatConnected bool) *Snapshot {
	s := &Snapshot{
		Phase:             g.Phase,
		RoundID:           g.RoundID,
		BossHP:            g.BossHP,
		MaxHP:             g.MaxHP,
		TotalHits:         g.TotalHits,
		Top:               g.TopHitters(3),
		LastHitter:        g.LastHitter,
		Recent:            g.RecentEntries(10),
		TotalDeathBets:    g.TotalDeathBets,
		TotalSurvivalBets: g.TotalSurvivalBets,
		OnChainBets:       make(map[string]BetSummary, len(g.OnChainBets)),
		ChatConnected:     chatConnected,
	}
	for wallet, bet := range g.OnChainBets {
		s.OnChainBets[wallet] = bet
	}
	switch g.Phase {
	case PhaseBetting:
		s.TimeRemainingMS = remaining(g.BettingEndTime, nowMS)
		s.BettingEndMS = g.BettingEndTime
	case PhaseFighting:
		s.TimeRemainingMS = remaining(g.FightEndTime, nowMS)
		s.FightEndMS = g.FightEndTime
	}
	if g.HasPDAs {
		s.BettingRoundPDA = g.BettingRoundPDA.String()
		s.EscrowPDA = g.EscrowPDA.String()
	}
	return s
}

func remaining(deadlineMS, nowMS int64) int64 {
	if deadlineMS <= nowMS {
		return 0
	}
	return deadlineMS - nowMS
}

// FightResult is the frozen outcome of one round, broadcast at fight end and
// handed to the exporter.
type FightResult struct {
	RoundID           uint64                `json:"roundId"`
	Coin              string                `json:"coin"`
	BossDefeated      bool                  `json:"bossDefeated"`
	FinalHP           uint32                `json:"finalHP"`
	MaxHP             uint32                `json:"maxHP"`
	TotalHits         uint32                `json:"totalHits"`
	UserHits          map[string]uint32     `json:"userHits"`
	Top               []TopHitter           `json:"top"`
	LastHitter        string                `json:"lastHitter,omitempty"`
	Chronological     []HitEntry            `json:"chronological"`
	OnChainBets       map[string]BetSummary `json:"onChainBets"`
	TotalDeathBets    uint64                `json:"totalDeathBets"`
	TotalSurvivalBets uint64                `json:"totalSurvivalBets"`
	EndedAtMS         int64                 `json:"endedAt"`
}

// buildResult freezes the current round into a FightResult.
func (g *GameState) buildResult(coin string, nowMS int64) *FightResult {
	res := &FightResult{
		RoundID:           g.RoundID,
		Coin:              coin,
		BossDefeated:      g.BossHP == 0,
		FinalHP:           g.BossHP,
		MaxHP:             g.MaxHP,
		TotalHits:         g.TotalHits,
		UserHits:          make(map[string]uint32, len(g.UserHits)),
		Top:               g.TopHitters(3),
		LastHitter:        g.LastHitter,
		Chronological:     append([]HitEntry(nil), g.Chronological...),
		OnChainBets:       make(map[string]BetSummary, len(g.OnChainBets)),
		TotalDeathBets:    g.TotalDeathBets,
		TotalSurvivalBets: g.TotalSurvivalBets,
		EndedAtMS:         nowMS,
	}
	for user, hits := range g.UserHits {
		res.UserHits[user] = hits
	}
	for wallet, bet := range g.OnChainBets {
		res.OnChainBets[wallet] = bet
	}
	return res
}
