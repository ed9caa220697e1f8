package bossgame

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/gagliardetto/solana-go"

	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

// Ledger is the on-chain surface the game consumes. *ledger.Client satisfies
// it; tests substitute fakes.
type Ledger interface {
	DerivePDAs(roundID uint64) (ledger.RoundPDAs, error)
	InitRound(ctx context.Context, p ledger.InitRoundParams) error
	StartFight(ctx context.Context, roundID uint64) error
	EndFight(ctx context.Context, roundID uint64) error
	RoundAccount(ctx context.Context, roundID uint64) (*ledger.RoundAccount, error)
	ScanBets(ctx context.Context, roundID uint64) ([]ledger.BetRecord, error)
	ClaimPayout(ctx context.Context, roundID uint64, bettor solana.PublicKey) (solana.Signature, error)
	ClaimFees(ctx context.Context, roundID uint64) (solana.Signature, error)
}

// Admin actions accepted over the realtime channel.
const (
	AdminStartBetting = "start_betting"
	AdminReset        = "reset"
)

const (
	inboxSize         = 1024
	timerTickEvery    = 100 * time.Millisecond
	endFightRetryWait = 10 * time.Second
)

// Config wires an Orchestrator.
type Config struct {
	Ledger      Ledger
	Broadcast   Broadcaster
	Interpreter *Interpreter
	Exporter    *Exporter // optional
	Log         slog.Logger

	Coin            string
	InitialHP       uint32
	BettingDuration time.Duration
	FightDuration   time.Duration
	FeePercentage   uint8
	AdminSecret     string
	AdminWallet     string

	// Now overrides the wall clock in tests.
	Now func() time.Time
}

// Orchestrator is the single writer of GameState. Every stimulus (chat,
// admin commands, timers, bet notifications, connection status) is
// serialized through its inbox and applied by one goroutine; readers only
// ever see atomically published Snapshot copies.
type Orchestrator struct {
	cfg     Config
	log     slog.Logger
	ledger  Ledger
	hub     Broadcaster
	settler *Settler

	inbox chan input
	snap  atomic.Pointer[Snapshot]

	// Everything below is touched only by the Run goroutine.
	state         *GameState
	chatConnected bool
	ending        bool
	bettingTimer  *time.Timer
	fightTimer    *time.Timer
}

type input interface{}

type chatInput struct {
	username string
	message  string
	ts       int64
}

type timerInput struct {
	roundID uint64
	phase   Phase
}

type adminInput struct {
	action string
	key    string
	wallet string
	reply  func(Event)
}

type connInput struct{ connected bool }

type betNotifInput struct {
	wallet string
	bet    BetSummary
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Broadcast == nil {
		cfg.Broadcast = NopBroadcaster{}
	}
	o := &Orchestrator{
		cfg:    cfg,
		log:    cfg.Log,
		ledger: cfg.Ledger,
		hub:    cfg.Broadcast,
		settler: &Settler{
			Ledger: cfg.Ledger,
			Log:    cfg.Log,
		},
		inbox: make(chan input, inboxSize),
		state: NewGameState(),
	}
	o.state.BossHP = cfg.InitialHP
	o.state.MaxHP = cfg.InitialHP
	o.publish()
	return o
}

// SetBroadcaster replaces the event sink. The websocket hub needs the
// orchestrator to hand new subscribers their snapshot, so it is constructed
// second and attached here. Must be called before Run.
func (o *Orchestrator) SetBroadcaster(b Broadcaster) {
	if b != nil {
		o.hub = b
	}
}

// Run processes the inbox until ctx is cancelled. It must be called exactly
// once.
func (o *Orchestrator) Run(ctx context.Context) {
	go o.timerTicks(ctx)
	for {
		select {
		case <-ctx.Done():
			o.stopTimers()
			o.log.Infof("orchestrator stopped")
			return
		case in := <-o.inbox:
			o.dispatch(ctx, in)
		}
	}
}

// Snapshot returns the latest published state copy.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.snap.Load()
}

// HandleChat feeds one normalized chat message into the state machine. It
// never blocks; under sustained overload messages are dropped (the fight is
// best-effort realtime, not a durable log).
func (o *Orchestrator) HandleChat(username, message string, ts int64) {
	select {
	case o.inbox <- chatInput{username: username, message: message, ts: ts}:
	default:
		o.log.Warnf("inbox full; dropping chat message from %q", username)
	}
}

// Admin submits an admin command. reply, when non-nil, receives the
// admin_error event on validation or execution failure and nothing on
// success (success is observable as a broadcast phase change).
func (o *Orchestrator) Admin(action, key, wallet string, reply func(Event)) {
	o.inbox <- adminInput{action: action, key: key, wallet: wallet, reply: reply}
}

// NotifyBet mirrors a client-reported confirmed bet for UI liveness. It does
// not affect authoritative totals.
func (o *Orchestrator) NotifyBet(wallet string, bet BetSummary) {
	select {
	case o.inbox <- betNotifInput{wallet: wallet, bet: bet}:
	default:
		o.log.Warnf("inbox full; dropping bet notification for %s", wallet)
	}
}

// SetChatConnected records upstream chat connectivity.
func (o *Orchestrator) SetChatConnected(connected bool) {
	select {
	case o.inbox <- connInput{connected: connected}:
	default:
	}
}

func (o *Orchestrator) nowMS() int64 {
	return o.cfg.Now().UnixMilli()
}

func (o *Orchestrator) publish() {
	o.snap.Store(o.state.snapshot(o.nowMS(), o.chatConnected))
}

func (o *Orchestrator) dispatch(ctx context.Context, in input) {
	switch v := in.(type) {
	case chatInput:
		o.handleChat(ctx, v)
	case adminInput:
		o.handleAdmin(ctx, v)
	case timerInput:
		o.handleTimer(ctx, v)
	case connInput:
		o.chatConnected = v.connected
		o.publish()
		o.hub.Broadcast(Event{Type: EventConnectionStatus, Data: ConnectionStatusData{Connected: v.connected}})
	case betNotifInput:
		o.state.OnChainBets[v.wallet] = v.bet
		o.publish()
		o.hub.Broadcast(Event{Type: EventBettingUpdate, Data: o.bettingUpdate()})
	}
}

func (o *Orchestrator) handleChat(ctx context.Context, in chatInput) {
	// Damage and heals exist only inside the fight window; once the end
	// flow has begun the fight is over regardless of what the timer says.
	if o.state.Phase != PhaseFighting || o.ending {
		return
	}
	switch o.cfg.Interpreter.Classify(in.message) {
	case EffectDamage:
		defeated := o.state.ApplyDamage(in.username, in.message, in.ts)
		o.publish()
		o.broadcastUpdate()
		if defeated {
			o.finishFight(ctx)
		}
	case EffectHeal:
		o.state.ApplyHeal(in.username, in.message, in.ts)
		o.publish()
		o.broadcastUpdate()
	}
}

func (o *Orchestrator) broadcastUpdate() {
	last := o.state.Chronological[len(o.state.Chronological)-1]
	o.hub.Broadcast(Event{Type: EventUpdate, Data: UpdateData{
		BossHP:          o.state.BossHP,
		MaxHP:           o.state.MaxHP,
		TotalHits:       o.state.TotalHits,
		Top:             o.state.TopHitters(3),
		LastHitter:      o.state.LastHitter,
		Entry:           last,
		TimeRemainingMS: remaining(o.state.FightEndTime, o.nowMS()),
	}})
}

func (o *Orchestrator) handleAdmin(ctx context.Context, in adminInput) {
	fail := func(msg string) {
		o.log.Warnf("admin %s rejected: %s", in.action, msg)
		if in.reply != nil {
			in.reply(Event{Type: EventAdminError, Data: AdminErrorData{Action: in.action, Message: msg}})
		}
	}
	if in.key != o.cfg.AdminSecret || in.wallet != o.cfg.AdminWallet {
		fail("invalid admin credentials")
		return
	}
	switch strings.ToLower(in.action) {
	case AdminStartBetting:
		if o.state.Phase == PhaseBetting || o.state.Phase == PhaseFighting {
			fail("a round is already in progress")
			return
		}
		o.startBetting(ctx, fail)
	case AdminReset:
		o.reset()
	default:
		fail("unknown admin action")
	}
}

func (o *Orchestrator) startBetting(ctx context.Context, fail func(string)) {
	roundID := uint64(o.nowMS())
	o.state.ResetRound(roundID, o.cfg.InitialHP)

	pdas, err := o.ledger.DerivePDAs(roundID)
	if err != nil {
		o.log.Errorf("derive PDAs for round %d: %v", roundID, err)
		o.revertToIdle()
		fail("failed to derive round addresses")
		return
	}
	o.state.HasPDAs = true
	o.state.BettingRoundPDA = pdas.BettingRound
	o.state.EscrowPDA = pdas.Escrow

	err = o.ledger.InitRound(ctx, ledger.InitRoundParams{
		RoundID:         roundID,
		BettingDuration: o.cfg.BettingDuration,
		FightDuration:   o.cfg.FightDuration,
		InitialHP:       o.cfg.InitialHP,
		FeePercentage:   o.cfg.FeePercentage,
	})
	if err != nil {
		// No on-chain round exists, so no phase change is published.
		o.log.Errorf("initialize round %d: %v", roundID, err)
		o.revertToIdle()
		fail("failed to initialize betting round on chain")
		return
	}

	o.state.Phase = PhaseBetting
	o.state.BettingEndTime = o.nowMS() + o.cfg.BettingDuration.Milliseconds()
	o.bettingTimer = o.scheduleTimer(o.cfg.BettingDuration, roundID, PhaseBetting)
	o.publish()
	o.log.Infof("round %d: betting open for %s", roundID, o.cfg.BettingDuration)
	o.hub.Broadcast(Event{Type: EventPhaseChange, Data: PhaseChangeData{
		Phase:           PhaseBetting,
		RoundID:         roundID,
		TimeRemainingMS: o.cfg.BettingDuration.Milliseconds(),
	}})
}

func (o *Orchestrator) revertToIdle() {
	o.stopTimers()
	o.state.ResetRound(0, o.cfg.InitialHP)
	o.state.Phase = PhaseIdle
	o.ending = false
	o.publish()
}

func (o *Orchestrator) reset() {
	prev := o.state.RoundID
	o.revertToIdle()
	o.log.Infof("game reset (previous round %d)", prev)
	o.hub.Broadcast(Event{Type: EventGameReset, Data: GameResetData{PreviousRoundID: prev}})
}

func (o *Orchestrator) scheduleTimer(d time.Duration, roundID uint64, phase Phase) *time.Timer {
	return time.AfterFunc(d, func() {
		select {
		case o.inbox <- timerInput{roundID: roundID, phase: phase}:
		default:
			// Inbox saturated; the 100ms tick loop will not fire transitions,
			// but a full inbox of chat cannot persist for long and the timer
			// deadline check is against absolute time, so re-arm briefly.
			time.AfterFunc(timerTickEvery, func() {
				o.inbox <- timerInput{roundID: roundID, phase: phase}
			})
		}
	})
}

func (o *Orchestrator) handleTimer(ctx context.Context, in timerInput) {
	// Stale timers from cancelled or superseded rounds are ignored.
	if in.roundID != o.state.RoundID || o.state.Phase != in.phase {
		return
	}
	switch in.phase {
	case PhaseBetting:
		o.enterFighting(ctx)
	case PhaseFighting:
		o.finishFight(ctx)
	}
}

func (o *Orchestrator) enterFighting(ctx context.Context) {
	roundID := o.state.RoundID
	if err := o.ledger.StartFight(ctx, roundID); err != nil {
		o.log.Errorf("round %d: start fight failed: %v", roundID, err)
		o.revertToIdle()
		o.hub.Broadcast(Event{Type: EventPhaseChange, Data: PhaseChangeData{
			Phase:   PhaseIdle,
			Message: "fight could not be started on chain; round aborted",
		}})
		return
	}

	o.state.Phase = PhaseFighting
	o.state.FightEndTime = o.nowMS() + o.cfg.FightDuration.Milliseconds()
	o.fightTimer = o.scheduleTimer(o.cfg.FightDuration, roundID, PhaseFighting)
	o.refreshBets(ctx)
	o.publish()
	o.log.Infof("round %d: fight started, HP %d/%d", roundID, o.state.BossHP, o.state.MaxHP)
	o.hub.Broadcast(Event{Type: EventPhaseChange, Data: PhaseChangeData{
		Phase:           PhaseFighting,
		RoundID:         roundID,
		TimeRemainingMS: o.cfg.FightDuration.Milliseconds(),
	}})
	o.hub.Broadcast(Event{Type: EventBettingUpdate, Data: o.bettingUpdate()})
}

// refreshBets mirrors authoritative on-chain bets into the display state.
// Failures leave the mirror stale; they never affect the fight itself.
func (o *Orchestrator) refreshBets(ctx context.Context) {
	roundID := o.state.RoundID
	if acct, err := o.ledger.RoundAccount(ctx, roundID); err != nil {
		o.log.Warnf("round %d: read round account: %v", roundID, err)
	} else {
		o.state.TotalDeathBets = acct.TotalDeathBets
		o.state.TotalSurvivalBets = acct.TotalSurvivalBets
	}
	bets, err := o.ledger.ScanBets(ctx, roundID)
	if err != nil {
		o.log.Warnf("round %d: scan bets: %v", roundID, err)
		return
	}
	o.state.OnChainBets = make(map[string]BetSummary, len(bets))
	for _, b := range bets {
		o.state.OnChainBets[b.Bettor.String()] = BetSummary{
			Username:   b.Username,
			Amount:     b.Amount,
			Prediction: predictionFromCode(b.Prediction),
			TS:         b.Timestamp,
		}
	}
}

func (o *Orchestrator) bettingUpdate() BettingUpdateData {
	bets := make(map[string]BetSummary, len(o.state.OnChainBets))
	for w, b := range o.state.OnChainBets {
		bets[w] = b
	}
	return BettingUpdateData{
		RoundID:           o.state.RoundID,
		TotalDeathBets:    o.state.TotalDeathBets,
		TotalSurvivalBets: o.state.TotalSurvivalBets,
		Bets:              bets,
	}
}

// finishFight drives the end-of-round flow: end_fight on chain, settlement,
// results, export. While it runs (and retries), incoming chat is discarded.
func (o *Orchestrator) finishFight(ctx context.Context) {
	roundID := o.state.RoundID
	o.ending = true
	if o.fightTimer != nil {
		o.fightTimer.Stop()
		o.fightTimer = nil
	}

	if err := o.ledger.EndFight(ctx, roundID); err != nil {
		o.log.Errorf("round %d: end fight failed: %v", roundID, err)
		// The fight stays formally in Fighting until the chain accepts the
		// transition; damage is no longer accepted and the end is retried.
		o.fightTimer = o.scheduleTimer(endFightRetryWait, roundID, PhaseFighting)
		o.hub.Broadcast(Event{Type: EventPhaseChange, Data: PhaseChangeData{
			Phase:   PhaseFighting,
			RoundID: roundID,
			Message: "finalizing fight on chain failed; retrying",
		}})
		return
	}

	summary, err := o.settler.Settle(ctx, roundID)
	if err != nil {
		o.log.Errorf("round %d: settlement failed: %v", roundID, err)
	}

	o.state.Phase = PhaseEnded
	o.state.FightEndTime = 0
	o.ending = false
	result := o.state.buildResult(o.cfg.Coin, o.nowMS())
	o.publish()
	o.log.Infof("round %d ended; bossDefeated=%t totalHits=%d", roundID, result.BossDefeated, result.TotalHits)
	o.hub.Broadcast(Event{Type: EventFightEnded, Data: result})
	if summary != nil {
		o.hub.Broadcast(Event{Type: EventPayoutsProcessed, Data: summary})
	}
	if o.cfg.Exporter != nil {
		if err := o.cfg.Exporter.Export(result); err != nil {
			o.log.Errorf("round %d: export failed: %v", roundID, err)
		}
	}
}

func (o *Orchestrator) stopTimers() {
	if o.bettingTimer != nil {
		o.bettingTimer.Stop()
		o.bettingTimer = nil
	}
	if o.fightTimer != nil {
		o.fightTimer.Stop()
		o.fightTimer = nil
	}
}

// timerTicks broadcasts advisory timer_update events on a 100ms cadence
// while a phase timer is armed. Ticks read the published snapshot only.
func (o *Orchestrator) timerTicks(ctx context.Context) {
	t := time.NewTicker(timerTickEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap := o.Snapshot()
			if snap == nil {
				continue
			}
			deadline := snap.BettingEndMS
			if snap.Phase == PhaseFighting {
				deadline = snap.FightEndMS
			} else if snap.Phase != PhaseBetting {
				continue
			}
			o.hub.Broadcast(Event{Type: EventTimerUpdate, Data: TimerUpdateData{
				Phase:           snap.Phase,
				TimeRemainingMS: remaining(deadline, o.nowMS()),
			}})
		}
	}
}

func predictionFromCode(code uint8) Prediction {
	if code == ledger.PredictionSurvival {
		return PredictionSurvival
	}
	return PredictionDeath
}

// PredictionCode maps the client-facing side name onto the on-chain enum.
func PredictionCode(p Prediction) (uint8, bool) {
	switch p {
	case PredictionDeath:
		return ledger.PredictionDeath, true
	case PredictionSurvival:
		return ledger.PredictionSurvival, true
	}
	return 0, false
}
