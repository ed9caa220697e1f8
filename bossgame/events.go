package bossgame

// Event is one realtime message for overlay subscribers. Each Type carries a
// fixed payload struct; subscribers decode once on the type tag.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EventState            = "state"
	EventUpdate           = "update"
	EventPhaseChange      = "phase_change"
	EventBettingUpdate    = "betting_update"
	EventTimerUpdate      = "timer_update"
	EventFightEnded       = "fight_ended"
	EventPayoutsProcessed = "payouts_processed"
	EventConnectionStatus = "connection_status"
	EventGameReset        = "game_reset"
	EventAdminError       = "admin_error"
)

// Droppable reports whether a slow subscriber may lose this event. Phase
// transitions, results, and resets must always be delivered in order;
// everything else is a refreshable diff.
func (e Event) Droppable() bool {
	switch e.Type {
	case EventUpdate, EventTimerUpdate, EventBettingUpdate, EventConnectionStatus:
		return true
	}
	return false
}

// UpdateData is the per-hit diff sent while the fight runs.
type UpdateData struct {
	BossHP          uint32      `json:"bossHP"`
	MaxHP           uint32      `json:"maxHP"`
	TotalHits       uint32      `json:"totalHits"`
	Top             []TopHitter `json:"top"`
	LastHitter      string      `json:"lastHitter,omitempty"`
	Entry           HitEntry    `json:"entry"`
	TimeRemainingMS int64       `json:"timeRemainingMs"`
}

// PhaseChangeData announces a phase transition. Message is informational,
// set on failure paths (e.g. fight aborted back to idle).
type PhaseChangeData struct {
	Phase           Phase  `json:"phase"`
	RoundID         uint64 `json:"roundId"`
	TimeRemainingMS int64  `json:"timeRemainingMs,omitempty"`
	Message         string `json:"message,omitempty"`
}

// BettingUpdateData carries the on-chain bet mirror.
type BettingUpdateData struct {
	RoundID           uint64                `json:"roundId"`
	TotalDeathBets    uint64                `json:"totalDeathBets"`
	TotalSurvivalBets uint64                `json:"totalSurvivalBets"`
	Bets              map[string]BetSummary `json:"bets"`
}

// TimerUpdateData is the advisory countdown tick.
type TimerUpdateData struct {
	Phase           Phase `json:"phase"`
	TimeRemainingMS int64 `json:"timeRemainingMs"`
}

// ConnectionStatusData reports upstream chat connectivity.
type ConnectionStatusData struct {
	Connected bool `json:"connected"`
}

// GameResetData announces an admin reset.
type GameResetData struct {
	PreviousRoundID uint64 `json:"previousRoundId,omitempty"`
}

// AdminErrorData is sent only to the subscriber whose admin command failed.
type AdminErrorData struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Broadcaster fans events out to overlay subscribers. Implementations must
// not block the caller; the hub applies per-subscriber queueing and the
// Droppable policy.
type Broadcaster interface {
	Broadcast(Event)
}

// NopBroadcaster discards all events. Used in tests and as a default.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(Event) {}
