package bossgame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFightingState(hp uint32) *GameState {
	g := NewGameState()
	g.ResetRound(42, hp)
	g.Phase = PhaseFighting
	return g
}

func TestApplyDamageDefeat(t *testing.T) {
	g := newFightingState(3)

	assert.False(t, g.ApplyDamage("alice", "hit", 1))
	assert.False(t, g.ApplyDamage("bob", "hit", 2))
	assert.True(t, g.ApplyDamage("alice", "hit", 3), "third hit must defeat")
	assert.Equal(t, uint32(0), g.BossHP)

	// Further damage past zero: accounting continues, HP stays clamped and
	// defeat is not reported again.
	assert.False(t, g.ApplyDamage("carol", "hit", 4))
	assert.Equal(t, uint32(0), g.BossHP)
	assert.Equal(t, uint32(4), g.TotalHits)
	assert.Equal(t, uint32(2), g.UserHits["alice"])
	assert.Equal(t, uint32(1), g.UserHits["bob"])
	assert.Equal(t, "carol", g.LastHitter)
	assert.Len(t, g.Chronological, 4)
	assert.Equal(t, -1, g.Chronological[0].Delta)
}

func TestApplyHealClampsAndSkipsAccounting(t *testing.T) {
	g := newFightingState(5)

	// Heal at full HP: entry recorded, HP unchanged.
	g.ApplyHeal("dave", "heal", 1)
	assert.Equal(t, uint32(5), g.BossHP)

	g.ApplyDamage("alice", "hit", 2)
	g.ApplyHeal("dave", "heal", 3)
	assert.Equal(t, uint32(5), g.BossHP)

	// Heals never count as hits or claim last-hitter.
	assert.Equal(t, uint32(1), g.TotalHits)
	assert.NotContains(t, g.UserHits, "dave")
	assert.Equal(t, "alice", g.LastHitter)
	require.Len(t, g.Chronological, 3)
	assert.Equal(t, 1, g.Chronological[2].Delta)
}

func TestTopHittersOrderingAndTies(t *testing.T) {
	g := newFightingState(100)
	for i := 0; i < 5; i++ {
		g.ApplyDamage("zed", "hit", int64(i))
	}
	for i := 0; i < 5; i++ {
		g.ApplyDamage("amy", "hit", int64(i))
	}
	for i := 0; i < 7; i++ {
		g.ApplyDamage("bob", "hit", int64(i))
	}
	g.ApplyDamage("eve", "hit", 0)

	top := g.TopHitters(3)
	require.Len(t, top, 3)
	assert.Equal(t, TopHitter{Username: "bob", Hits: 7}, top[0])
	// 5-hit tie breaks alphabetically.
	assert.Equal(t, TopHitter{Username: "amy", Hits: 5}, top[1])
	assert.Equal(t, TopHitter{Username: "zed", Hits: 5}, top[2])
}

func TestRecentEntries(t *testing.T) {
	g := newFightingState(100)
	for i := 0; i < 15; i++ {
		g.ApplyDamage("alice", "hit", int64(i))
	}
	recent := g.RecentEntries(10)
	require.Len(t, recent, 10)
	assert.Equal(t, int64(5), recent[0].TS)
	assert.Equal(t, int64(14), recent[9].TS)

	g2 := newFightingState(100)
	g2.ApplyDamage("alice", "hit", 1)
	assert.Len(t, g2.RecentEntries(10), 1)
}

func TestResetRoundClearsEverything(t *testing.T) {
	g := newFightingState(3)
	g.ApplyDamage("alice", "hit", 1)
	g.TotalDeathBets = 500
	g.OnChainBets["w1"] = BetSummary{Username: "alice", Amount: 500}
	g.BettingEndTime = 123
	g.FightEndTime = 456

	g.ResetRound(99, 10)
	assert.Equal(t, uint64(99), g.RoundID)
	assert.Equal(t, uint32(10), g.BossHP)
	assert.Equal(t, uint32(10), g.MaxHP)
	assert.Empty(t, g.UserHits)
	assert.Empty(t, g.Chronological)
	assert.Empty(t, g.OnChainBets)
	assert.Zero(t, g.TotalHits)
	assert.Zero(t, g.TotalDeathBets)
	assert.Zero(t, g.BettingEndTime)
	assert.Zero(t, g.FightEndTime)
	assert.Empty(t, g.LastHitter)
	assert.False(t, g.HasPDAs)
}

func TestSnapshotTimeRemaining(t *testing.T) {
	g := newFightingState(10)
	g.FightEndTime = 10_000

	snap := g.snapshot(4_000, true)
	assert.Equal(t, int64(6_000), snap.TimeRemainingMS)
	assert.Equal(t, int64(10_000), snap.FightEndMS)
	assert.True(t, snap.ChatConnected)

	// Past the deadline the remaining time clamps at zero.
	snap = g.snapshot(12_000, false)
	assert.Zero(t, snap.TimeRemainingMS)

	g.Phase = PhaseEnded
	snap = g.snapshot(4_000, false)
	assert.Zero(t, snap.TimeRemainingMS)
	assert.Zero(t, snap.FightEndMS)
}

func TestSnapshotIsACopy(t *testing.T) {
	g := newFightingState(10)
	g.OnChainBets["w1"] = BetSummary{Username: "alice", Amount: 100}
	snap := g.snapshot(0, false)

	g.OnChainBets["w2"] = BetSummary{Username: "bob", Amount: 200}
	g.ApplyDamage("alice", "hit", 1)
	assert.Len(t, snap.OnChainBets, 1)
	assert.Zero(t, snap.TotalHits)
}

func TestBuildResult(t *testing.T) {
	g := newFightingState(2)
	g.ApplyDamage("alice", "hit", 1)
	g.ApplyDamage("bob", "hit", 2)
	g.TotalDeathBets = 700
	g.TotalSurvivalBets = 300

	res := g.buildResult("COIN", 5_000)
	assert.True(t, res.BossDefeated)
	assert.Equal(t, uint32(0), res.FinalHP)
	assert.Equal(t, uint32(2), res.MaxHP)
	assert.Equal(t, "COIN", res.Coin)
	assert.Equal(t, "bob", res.LastHitter)
	assert.Equal(t, int64(5_000), res.EndedAtMS)
	assert.Equal(t, uint32(1), res.UserHits["alice"])
	assert.Len(t, res.Chronological, 2)

	// Survival outcome.
	g2 := newFightingState(5)
	g2.ApplyDamage("alice", "hit", 1)
	res2 := g2.buildResult("COIN", 0)
	assert.False(t, res2.BossDefeated)
	assert.Equal(t, uint32(4), res2.FinalHP)
}
