package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Bet prediction sides as stored on chain.
const (
	PredictionDeath    uint8 = 0
	PredictionSurvival uint8 = 1
)

// Byte offset of the round id inside a BetAccount, counted from the start of
// the account data: 8 (discriminator) + 32 (bettor pubkey).
const betRoundIDOffset = 8 + 32

// anchorDiscriminator returns the 8-byte anchor discriminator for the given
// namespaced name, e.g. "account:BetAccount" or "global:place_bet".
func anchorDiscriminator(name string) [8]byte {
	h := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], h[:8])
	return d
}

var (
	betAccountDiscriminator   = anchorDiscriminator("account:BetAccount")
	roundAccountDiscriminator = anchorDiscriminator("account:BettingRound")

	ixInitializeBettingRound = anchorDiscriminator("global:initialize_betting_round")
	ixStartFightPhase        = anchorDiscriminator("global:start_fight_phase")
	ixEndFight               = anchorDiscriminator("global:end_fight")
	ixPlaceBet               = anchorDiscriminator("global:place_bet")
	ixClaimPayout            = anchorDiscriminator("global:claim_payout")
	ixClaimFees              = anchorDiscriminator("global:claim_fees")
)

// RoundPDAs holds the program-derived addresses for one betting round.
type RoundPDAs struct {
	BettingRound solana.PublicKey
	Escrow       solana.PublicKey
}

// BetRecord is one decoded BetAccount.
type BetRecord struct {
	Address    solana.PublicKey `json:"address"`
	Bettor     solana.PublicKey `json:"bettor"`
	RoundID    uint64           `json:"roundId"`
	Amount     uint64           `json:"amountLamports"`
	Prediction uint8            `json:"prediction"`
	Username   string           `json:"username"`
	Timestamp  int64            `json:"ts"`
	Claimed    bool             `json:"claimed"`
}

// RoundAccount is the decoded on-chain BettingRound account. Its totals and
// bossDefeated flag are the authoritative inputs to settlement.
type RoundAccount struct {
	Authority         solana.PublicKey `json:"authority"`
	RoundID           uint64           `json:"roundId"`
	BettingEnd        int64            `json:"bettingEnd"`
	FightEnd          int64            `json:"fightEnd"`
	InitialHP         uint32           `json:"initialHP"`
	TotalDeathBets    uint64           `json:"totalDeathBets"`
	TotalSurvivalBets uint64           `json:"totalSurvivalBets"`
	FeePercentage     uint8            `json:"feePercentage"`
	Phase             uint8            `json:"phase"`
	BossDefeated      bool             `json:"bossDefeated"`
}

// betAccountData mirrors the borsh layout of BetAccount after the 8-byte
// discriminator. Field order is the wire order; the round id lands at byte
// offset 40 of the raw account data, which ScanBets relies on for memcmp
// filtering.
type betAccountData struct {
	Bettor     solana.PublicKey
	RoundID    uint64
	Amount     uint64
	Prediction uint8
	Username   string
	Timestamp  int64
	Claimed    bool
}

type roundAccountData struct {
	Authority         solana.PublicKey
	RoundID           uint64
	BettingEnd        int64
	FightEnd          int64
	InitialHP         uint32
	TotalDeathBets    uint64
	TotalSurvivalBets uint64
	FeePercentage     uint8
	Phase             uint8
	BossDefeated      bool
}

func roundIDSeed(roundID uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, roundID)
	return b
}

// DerivePDAs derives the betting round and escrow addresses for roundID.
// The derivation is a pure function of the round id and the program id.
func DerivePDAs(programID solana.PublicKey, roundID uint64) (RoundPDAs, error) {
	seed := roundIDSeed(roundID)
	round, _, err := solana.FindProgramAddress([][]byte{[]byte("betting_round"), seed}, programID)
	if err != nil {
		return RoundPDAs{}, fmt.Errorf("derive betting round pda: %w", err)
	}
	escrow, _, err := solana.FindProgramAddress([][]byte{[]byte("escrow"), seed}, programID)
	if err != nil {
		return RoundPDAs{}, fmt.Errorf("derive escrow pda: %w", err)
	}
	return RoundPDAs{BettingRound: round, Escrow: escrow}, nil
}

// BetPDA derives the per-bettor bet account address for (roundID, bettor).
func BetPDA(programID solana.PublicKey, roundID uint64, bettor solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bet"), roundIDSeed(roundID), bettor.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bet pda: %w", err)
	}
	return pda, nil
}

func decodeBetAccount(addr solana.PublicKey, data []byte) (*BetRecord, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("bet account %s: short data (%d bytes)", addr, len(data))
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	if disc != betAccountDiscriminator {
		return nil, fmt.Errorf("bet account %s: wrong discriminator", addr)
	}
	var raw betAccountData
	if err := bin.NewBorshDecoder(data[8:]).Decode(&raw); err != nil {
		return nil, fmt.Errorf("bet account %s: %w", addr, err)
	}
	return &BetRecord{
		Address:    addr,
		Bettor:     raw.Bettor,
		RoundID:    raw.RoundID,
		Amount:     raw.Amount,
		Prediction: raw.Prediction,
		Username:   raw.Username,
		Timestamp:  raw.Timestamp,
		Claimed:    raw.Claimed,
	}, nil
}

func decodeRoundAccount(data []byte) (*RoundAccount, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("round account: short data (%d bytes)", len(data))
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	if disc != roundAccountDiscriminator {
		return nil, fmt.Errorf("round account: wrong discriminator")
	}
	var raw roundAccountData
	if err := bin.NewBorshDecoder(data[8:]).Decode(&raw); err != nil {
		return nil, fmt.Errorf("round account: %w", err)
	}
	return &RoundAccount{
		Authority:         raw.Authority,
		RoundID:           raw.RoundID,
		BettingEnd:        raw.BettingEnd,
		FightEnd:          raw.FightEnd,
		InitialHP:         raw.InitialHP,
		TotalDeathBets:    raw.TotalDeathBets,
		TotalSurvivalBets: raw.TotalSurvivalBets,
		FeePercentage:     raw.FeePercentage,
		Phase:             raw.Phase,
		BossDefeated:      raw.BossDefeated,
	}, nil
}

func encodeInitRoundData(roundID uint64, bettingSecs, fightSecs int64, initialHP uint32, feePct uint8) ([]byte, error) {
	buf := make([]byte, 0, 8+8+8+8+4+1)
	buf = append(buf, ixInitializeBettingRound[:]...)
	enc := struct {
		RoundID         uint64
		BettingDuration int64
		FightDuration   int64
		InitialHP       uint32
		FeePercentage   uint8
	}{roundID, bettingSecs, fightSecs, initialHP, feePct}
	body, err := borshMarshal(&enc)
	if err != nil {
		return nil, err
	}
	return append(buf, body...), nil
}

func encodePlaceBetData(amount uint64, prediction uint8, username string) ([]byte, error) {
	enc := struct {
		Amount     uint64
		Prediction uint8
		Username   string
	}{amount, prediction, username}
	body, err := borshMarshal(&enc)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, ixPlaceBet[:]...), body...), nil
}

func borshMarshal(v interface{}) ([]byte, error) {
	out, err := bin.MarshalBorsh(v)
	if err != nil {
		return nil, fmt.Errorf("borsh encode: %w", err)
	}
	return out, nil
}
