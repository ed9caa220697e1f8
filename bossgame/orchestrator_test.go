package bossgame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

// fakeLedger is an in-memory stand-in for the on-chain program.
type fakeLedger struct {
	mu sync.Mutex

	initCalls  []ledger.InitRoundParams
	initErr    error
	startCalls int
	startErr   error
	endCalls   int
	endErr     error

	acct    *ledger.RoundAccount
	acctErr error
	bets    []ledger.BetRecord
	scanErr error

	paid       []solana.PublicKey
	payoutErrs map[string]error
	feesClaims int
	feesErr    error
}

func (f *fakeLedger) DerivePDAs(roundID uint64) (ledger.RoundPDAs, error) {
	return ledger.RoundPDAs{
		BettingRound: solana.NewWallet().PublicKey(),
		Escrow:       solana.NewWallet().PublicKey(),
	}, nil
}

func (f *fakeLedger) InitRound(ctx context.Context, p ledger.InitRoundParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls = append(f.initCalls, p)
	return f.initErr
}

func (f *fakeLedger) StartFight(ctx context.Context, roundID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeLedger) EndFight(ctx context.Context, roundID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	return f.endErr
}

func (f *fakeLedger) RoundAccount(ctx context.Context, roundID uint64) (*ledger.RoundAccount, error) {
	if f.acctErr != nil {
		return nil, f.acctErr
	}
	if f.acct == nil {
		return nil, ledger.ErrRoundNotFound
	}
	return f.acct, nil
}

func (f *fakeLedger) ScanBets(ctx context.Context, roundID uint64) ([]ledger.BetRecord, error) {
	return f.bets, f.scanErr
}

func (f *fakeLedger) ClaimPayout(ctx context.Context, roundID uint64, bettor solana.PublicKey) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.payoutErrs[bettor.String()]; ok {
		return solana.Signature{}, err
	}
	f.paid = append(f.paid, bettor)
	return solana.Signature{}, nil
}

func (f *fakeLedger) ClaimFees(ctx context.Context, roundID uint64) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feesClaims++
	return solana.Signature{}, f.feesErr
}

// recordingHub captures broadcasts in order.
type recordingHub struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingHub) Broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingHub) byType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingHub) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

const (
	testSecret = "sekrit"
	testWallet = "adminwallet"
)

func newTestOrchestrator(t *testing.T, led *fakeLedger) (*Orchestrator, *recordingHub) {
	t.Helper()
	hub := &recordingHub{}
	o := NewOrchestrator(Config{
		Ledger:          led,
		Broadcast:       hub,
		Interpreter:     NewInterpreter("hit", "heal"),
		Log:             slog.Disabled,
		Coin:            "TESTCOIN",
		InitialHP:       3,
		BettingDuration: time.Minute,
		FightDuration:   time.Minute,
		FeePercentage:   5,
		AdminSecret:     testSecret,
		AdminWallet:     testWallet,
		Now:             func() time.Time { return time.UnixMilli(1_000_000) },
	})
	return o, hub
}

// startFighting drives a test orchestrator from idle into the fighting
// phase by dispatching the admin command and the betting deadline directly.
func startFighting(t *testing.T, o *Orchestrator) uint64 {
	t.Helper()
	ctx := context.Background()
	o.handleAdmin(ctx, adminInput{action: AdminStartBetting, key: testSecret, wallet: testWallet})
	require.Equal(t, PhaseBetting, o.state.Phase)
	roundID := o.state.RoundID
	o.handleTimer(ctx, timerInput{roundID: roundID, phase: PhaseBetting})
	require.Equal(t, PhaseFighting, o.state.Phase)
	return roundID
}

func TestStartBetting(t *testing.T) {
	led := &fakeLedger{}
	o, hub := newTestOrchestrator(t, led)

	o.handleAdmin(context.Background(), adminInput{action: AdminStartBetting, key: testSecret, wallet: testWallet})

	assert.Equal(t, PhaseBetting, o.state.Phase)
	assert.Equal(t, uint64(1_000_000), o.state.RoundID)
	require.Len(t, led.initCalls, 1)
	assert.Equal(t, uint64(1_000_000), led.initCalls[0].RoundID)
	assert.Equal(t, uint32(3), led.initCalls[0].InitialHP)

	changes := hub.byType(EventPhaseChange)
	require.Len(t, changes, 1)
	data := changes[0].Data.(PhaseChangeData)
	assert.Equal(t, PhaseBetting, data.Phase)
	assert.Equal(t, time.Minute.Milliseconds(), data.TimeRemainingMS)

	snap := o.Snapshot()
	assert.Equal(t, PhaseBetting, snap.Phase)
	assert.NotEmpty(t, snap.BettingRoundPDA)
}

func TestAdminRejections(t *testing.T) {
	led := &fakeLedger{}
	o, hub := newTestOrchestrator(t, led)
	ctx := context.Background()

	var replies []Event
	reply := func(ev Event) { replies = append(replies, ev) }

	o.handleAdmin(ctx, adminInput{action: AdminStartBetting, key: "wrong", wallet: testWallet, reply: reply})
	o.handleAdmin(ctx, adminInput{action: AdminStartBetting, key: testSecret, wallet: "wrong", reply: reply})
	o.handleAdmin(ctx, adminInput{action: "explode", key: testSecret, wallet: testWallet, reply: reply})
	require.Len(t, replies, 3)
	for _, ev := range replies {
		assert.Equal(t, EventAdminError, ev.Type)
	}
	assert.Equal(t, PhaseIdle, o.state.Phase)
	assert.Empty(t, led.initCalls)
	// Rejections go only to the caller, never to the room.
	assert.Empty(t, hub.byType(EventAdminError))

	// A round in progress refuses a second start.
	o.handleAdmin(ctx, adminInput{action: AdminStartBetting, key: testSecret, wallet: testWallet})
	require.Equal(t, PhaseBetting, o.state.Phase)
	o.handleAdmin(ctx, adminInput{action: AdminStartBetting, key: testSecret, wallet: testWallet, reply: reply})
	require.Len(t, replies, 4)
	assert.Len(t, led.initCalls, 1)
}

func TestStartBettingInitFailure(t *testing.T) {
	led := &fakeLedger{initErr: errors.New("rpc down")}
	o, hub := newTestOrchestrator(t, led)

	var replies []Event
	o.handleAdmin(context.Background(), adminInput{
		action: AdminStartBetting, key: testSecret, wallet: testWallet,
		reply: func(ev Event) { replies = append(replies, ev) },
	})

	assert.Equal(t, PhaseIdle, o.state.Phase)
	require.Len(t, replies, 1)
	assert.Equal(t, EventAdminError, replies[0].Type)
	// No on-chain round exists, so no phase change may be announced.
	assert.Empty(t, hub.byType(EventPhaseChange))
}

func TestEnterFighting(t *testing.T) {
	bettor := solana.NewWallet().PublicKey()
	led := &fakeLedger{
		acct: &ledger.RoundAccount{TotalDeathBets: 700, TotalSurvivalBets: 300},
		bets: []ledger.BetRecord{{
			Bettor: bettor, Amount: 700, Prediction: ledger.PredictionDeath, Username: "alice",
		}},
	}
	o, hub := newTestOrchestrator(t, led)
	startFighting(t, o)

	assert.Equal(t, 1, led.startCalls)
	assert.Equal(t, uint64(700), o.state.TotalDeathBets)
	assert.Equal(t, uint64(300), o.state.TotalSurvivalBets)
	require.Contains(t, o.state.OnChainBets, bettor.String())
	assert.Equal(t, PredictionDeath, o.state.OnChainBets[bettor.String()].Prediction)

	// The fighting phase change precedes the bet mirror update.
	types := hub.types()
	var fightIdx, betIdx int = -1, -1
	for i, typ := range types {
		if typ == EventPhaseChange && fightIdx < 0 && i > 0 {
			fightIdx = i
		}
		if typ == EventBettingUpdate {
			betIdx = i
		}
	}
	require.GreaterOrEqual(t, fightIdx, 0)
	require.GreaterOrEqual(t, betIdx, 0)
	assert.Less(t, fightIdx, betIdx)
}

func TestStartFightFailureAbortsRound(t *testing.T) {
	led := &fakeLedger{startErr: errors.New("betting still active forever")}
	o, hub := newTestOrchestrator(t, led)
	ctx := context.Background()

	o.handleAdmin(ctx, adminInput{action: AdminStartBetting, key: testSecret, wallet: testWallet})
	roundID := o.state.RoundID
	o.handleTimer(ctx, timerInput{roundID: roundID, phase: PhaseBetting})

	assert.Equal(t, PhaseIdle, o.state.Phase)
	changes := hub.byType(EventPhaseChange)
	require.Len(t, changes, 2)
	last := changes[1].Data.(PhaseChangeData)
	assert.Equal(t, PhaseIdle, last.Phase)
	assert.NotEmpty(t, last.Message)
}

func TestFightDefeatFlow(t *testing.T) {
	winner := solana.NewWallet().PublicKey()
	loser := solana.NewWallet().PublicKey()
	led := &fakeLedger{
		acct: &ledger.RoundAccount{
			TotalDeathBets:    1000,
			TotalSurvivalBets: 400,
			FeePercentage:     5,
			BossDefeated:      true,
		},
		bets: []ledger.BetRecord{
			{Bettor: winner, Amount: 1000, Prediction: ledger.PredictionDeath, Username: "alice"},
			{Bettor: loser, Amount: 400, Prediction: ledger.PredictionSurvival, Username: "bob"},
		},
	}
	o, hub := newTestOrchestrator(t, led)
	startFighting(t, o)
	ctx := context.Background()

	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 1})
	o.handleChat(ctx, chatInput{username: "bob", message: "big hit", ts: 2})
	assert.Equal(t, uint32(1), o.state.BossHP)
	assert.Equal(t, PhaseFighting, o.state.Phase)

	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 3})

	assert.Equal(t, PhaseEnded, o.state.Phase)
	assert.Equal(t, 1, led.endCalls)
	assert.Equal(t, []solana.PublicKey{winner}, led.paid)
	assert.Equal(t, 1, led.feesClaims)

	ended := hub.byType(EventFightEnded)
	require.Len(t, ended, 1)
	res := ended[0].Data.(*FightResult)
	assert.True(t, res.BossDefeated)
	assert.Equal(t, uint32(3), res.TotalHits)
	assert.Equal(t, uint32(2), res.UserHits["alice"])
	assert.Equal(t, uint32(1), res.UserHits["bob"])
	assert.Equal(t, "alice", res.LastHitter)

	payouts := hub.byType(EventPayoutsProcessed)
	require.Len(t, payouts, 1)
	sum := payouts[0].Data.(*SettlementSummary)
	assert.Equal(t, PredictionDeath, sum.WinningSide)
	require.Len(t, sum.Winners, 1)
	// Loser pool 400, 5% fee = 20, prize 380, sole winner takes it all.
	assert.Equal(t, uint64(380), sum.Winners[0].PrizeShare)
	assert.Equal(t, uint64(1380), sum.Winners[0].TotalPayout)

	// Chat after the end is dead.
	o.handleChat(ctx, chatInput{username: "carol", message: "hit", ts: 4})
	assert.Equal(t, uint32(3), o.state.TotalHits)
}

func TestFightTimeoutSurvival(t *testing.T) {
	led := &fakeLedger{
		acct: &ledger.RoundAccount{TotalSurvivalBets: 100, FeePercentage: 5},
	}
	o, hub := newTestOrchestrator(t, led)
	roundID := startFighting(t, o)
	ctx := context.Background()

	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 1})
	o.handleTimer(ctx, timerInput{roundID: roundID, phase: PhaseFighting})

	assert.Equal(t, PhaseEnded, o.state.Phase)
	ended := hub.byType(EventFightEnded)
	require.Len(t, ended, 1)
	res := ended[0].Data.(*FightResult)
	assert.False(t, res.BossDefeated)
	assert.Equal(t, uint32(2), res.FinalHP)
}

func TestChatIgnoredOutsideFight(t *testing.T) {
	led := &fakeLedger{}
	o, _ := newTestOrchestrator(t, led)
	ctx := context.Background()

	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 1})
	assert.Zero(t, o.state.TotalHits)

	o.handleAdmin(ctx, adminInput{action: AdminStartBetting, key: testSecret, wallet: testWallet})
	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 2})
	assert.Zero(t, o.state.TotalHits)
	assert.Equal(t, uint32(3), o.state.BossHP)
}

func TestHealDuringFight(t *testing.T) {
	led := &fakeLedger{}
	o, _ := newTestOrchestrator(t, led)
	startFighting(t, o)
	ctx := context.Background()

	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 1})
	o.handleChat(ctx, chatInput{username: "dave", message: "heal", ts: 2})
	assert.Equal(t, uint32(3), o.state.BossHP)
	// Ambiguous messages do nothing.
	o.handleChat(ctx, chatInput{username: "eve", message: "hit and heal", ts: 3})
	assert.Equal(t, uint32(3), o.state.BossHP)
	assert.Equal(t, uint32(1), o.state.TotalHits)
}

func TestStaleTimerIgnored(t *testing.T) {
	led := &fakeLedger{}
	o, _ := newTestOrchestrator(t, led)
	roundID := startFighting(t, o)
	ctx := context.Background()

	// Betting deadline from the already-transitioned phase is stale.
	o.handleTimer(ctx, timerInput{roundID: roundID, phase: PhaseBetting})
	assert.Equal(t, PhaseFighting, o.state.Phase)

	// A timer from a different round is stale too.
	o.handleTimer(ctx, timerInput{roundID: roundID + 1, phase: PhaseFighting})
	assert.Equal(t, PhaseFighting, o.state.Phase)
}

func TestEndFightFailureKeepsFightingClosed(t *testing.T) {
	led := &fakeLedger{
		endErr: errors.New("rpc down"),
		acct:   &ledger.RoundAccount{TotalSurvivalBets: 100},
	}
	o, hub := newTestOrchestrator(t, led)
	roundID := startFighting(t, o)
	ctx := context.Background()

	o.handleTimer(ctx, timerInput{roundID: roundID, phase: PhaseFighting})

	assert.Equal(t, PhaseFighting, o.state.Phase)
	assert.True(t, o.ending)
	assert.Empty(t, hub.byType(EventFightEnded))

	// The round is over even though the chain has not accepted it yet.
	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 1})
	assert.Zero(t, o.state.TotalHits)

	// The retry timer succeeds once the chain recovers.
	led.endErr = nil
	o.handleTimer(ctx, timerInput{roundID: roundID, phase: PhaseFighting})
	assert.Equal(t, PhaseEnded, o.state.Phase)
	assert.False(t, o.ending)
	assert.Len(t, hub.byType(EventFightEnded), 1)
}

func TestResetMidRound(t *testing.T) {
	led := &fakeLedger{}
	o, hub := newTestOrchestrator(t, led)
	roundID := startFighting(t, o)
	ctx := context.Background()

	o.handleChat(ctx, chatInput{username: "alice", message: "hit", ts: 1})
	o.handleAdmin(ctx, adminInput{action: AdminReset, key: testSecret, wallet: testWallet})

	assert.Equal(t, PhaseIdle, o.state.Phase)
	assert.Zero(t, o.state.TotalHits)
	assert.Equal(t, uint32(3), o.state.BossHP)

	resets := hub.byType(EventGameReset)
	require.Len(t, resets, 1)
	assert.Equal(t, roundID, resets[0].Data.(GameResetData).PreviousRoundID)

	// Timers armed for the dead round must not transition anything.
	o.handleTimer(ctx, timerInput{roundID: roundID, phase: PhaseFighting})
	assert.Equal(t, PhaseIdle, o.state.Phase)
}

func TestConnectionStatusAndBetNotifications(t *testing.T) {
	led := &fakeLedger{}
	o, hub := newTestOrchestrator(t, led)
	ctx := context.Background()

	o.dispatch(ctx, connInput{connected: true})
	assert.True(t, o.Snapshot().ChatConnected)
	o.dispatch(ctx, connInput{connected: false})
	assert.False(t, o.Snapshot().ChatConnected)
	assert.Len(t, hub.byType(EventConnectionStatus), 2)

	o.dispatch(ctx, betNotifInput{wallet: "w1", bet: BetSummary{Username: "alice", Amount: 100, Prediction: PredictionDeath}})
	assert.Contains(t, o.Snapshot().OnChainBets, "w1")
	assert.Len(t, hub.byType(EventBettingUpdate), 1)
}

func TestRunServesInbox(t *testing.T) {
	led := &fakeLedger{}
	o, _ := newTestOrchestrator(t, led)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	o.SetChatConnected(true)
	require.Eventually(t, func() bool {
		return o.Snapshot().ChatConnected
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
