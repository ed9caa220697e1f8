package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

func TestAnchorDiscriminator(t *testing.T) {
	want := sha256.Sum256([]byte("global:place_bet"))
	got := anchorDiscriminator("global:place_bet")
	assert.Equal(t, want[:8], got[:])

	// Namespacing keeps account and instruction spaces apart.
	assert.NotEqual(t, anchorDiscriminator("account:BetAccount"), anchorDiscriminator("global:BetAccount"))
}

func TestDerivePDAsDeterministic(t *testing.T) {
	a, err := DerivePDAs(testProgramID, 42)
	require.NoError(t, err)
	b, err := DerivePDAs(testProgramID, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a.BettingRound, a.Escrow)

	c, err := DerivePDAs(testProgramID, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a.BettingRound, c.BettingRound)
}

func TestBetPDADeterministic(t *testing.T) {
	bettor := solana.NewWallet().PublicKey()
	a, err := BetPDA(testProgramID, 42, bettor)
	require.NoError(t, err)
	b, err := BetPDA(testProgramID, 42, bettor)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := BetPDA(testProgramID, 42, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

// buildBetAccount assembles raw account bytes the way the program lays them
// out on chain.
func buildBetAccount(t *testing.T, bettor solana.PublicKey, roundID, amount uint64, prediction uint8, username string, ts int64, claimed bool) []byte {
	t.Helper()
	body, err := bin.MarshalBorsh(&betAccountData{
		Bettor:     bettor,
		RoundID:    roundID,
		Amount:     amount,
		Prediction: prediction,
		Username:   username,
		Timestamp:  ts,
		Claimed:    claimed,
	})
	require.NoError(t, err)
	return append(append([]byte{}, betAccountDiscriminator[:]...), body...)
}

func TestDecodeBetAccount(t *testing.T) {
	bettor := solana.NewWallet().PublicKey()
	addr := solana.NewWallet().PublicKey()
	data := buildBetAccount(t, bettor, 42, 5000, PredictionSurvival, "alice", 123456, true)

	rec, err := decodeBetAccount(addr, data)
	require.NoError(t, err)
	assert.Equal(t, addr, rec.Address)
	assert.Equal(t, bettor, rec.Bettor)
	assert.Equal(t, uint64(42), rec.RoundID)
	assert.Equal(t, uint64(5000), rec.Amount)
	assert.Equal(t, PredictionSurvival, rec.Prediction)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, int64(123456), rec.Timestamp)
	assert.True(t, rec.Claimed)
}

func TestDecodeBetAccountRoundIDOffset(t *testing.T) {
	// ScanBets memcmp-filters on the round id at a fixed byte offset; the
	// layout must keep it there.
	data := buildBetAccount(t, solana.NewWallet().PublicKey(), 0xAABBCCDD, 1, PredictionDeath, "x", 0, false)
	require.GreaterOrEqual(t, len(data), betRoundIDOffset+8)
	got := binary.LittleEndian.Uint64(data[betRoundIDOffset : betRoundIDOffset+8])
	assert.Equal(t, uint64(0xAABBCCDD), got)
}

func TestDecodeBetAccountRejectsBadData(t *testing.T) {
	addr := solana.NewWallet().PublicKey()

	_, err := decodeBetAccount(addr, []byte{1, 2, 3})
	assert.ErrorContains(t, err, "short data")

	data := buildBetAccount(t, solana.NewWallet().PublicKey(), 1, 1, 0, "a", 0, false)
	data[0] ^= 0xFF
	_, err = decodeBetAccount(addr, data)
	assert.ErrorContains(t, err, "wrong discriminator")

	// Truncated borsh body.
	data = buildBetAccount(t, solana.NewWallet().PublicKey(), 1, 1, 0, "a", 0, false)
	_, err = decodeBetAccount(addr, data[:len(data)-4])
	assert.Error(t, err)
}

func TestDecodeRoundAccount(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	body, err := bin.MarshalBorsh(&roundAccountData{
		Authority:         authority,
		RoundID:           7,
		BettingEnd:        100,
		FightEnd:          200,
		InitialHP:         50,
		TotalDeathBets:    1000,
		TotalSurvivalBets: 2000,
		FeePercentage:     5,
		Phase:             2,
		BossDefeated:      true,
	})
	require.NoError(t, err)
	data := append(append([]byte{}, roundAccountDiscriminator[:]...), body...)

	acct, err := decodeRoundAccount(data)
	require.NoError(t, err)
	assert.Equal(t, authority, acct.Authority)
	assert.Equal(t, uint64(7), acct.RoundID)
	assert.Equal(t, int64(200), acct.FightEnd)
	assert.Equal(t, uint32(50), acct.InitialHP)
	assert.Equal(t, uint64(1000), acct.TotalDeathBets)
	assert.Equal(t, uint64(2000), acct.TotalSurvivalBets)
	assert.Equal(t, uint8(5), acct.FeePercentage)
	assert.True(t, acct.BossDefeated)

	data[3] ^= 0xFF
	_, err = decodeRoundAccount(data)
	assert.ErrorContains(t, err, "wrong discriminator")
}

func TestEncodeInitRoundData(t *testing.T) {
	data, err := encodeInitRoundData(42, 60, 90, 100, 5)
	require.NoError(t, err)
	require.Len(t, data, 8+8+8+8+4+1)
	assert.Equal(t, ixInitializeBettingRound[:], data[:8])
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, uint64(60), binary.LittleEndian.Uint64(data[16:24]))
	assert.Equal(t, uint64(90), binary.LittleEndian.Uint64(data[24:32]))
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(data[32:36]))
	assert.Equal(t, uint8(5), data[36])
}

func TestEncodePlaceBetData(t *testing.T) {
	data, err := encodePlaceBetData(5000, PredictionDeath, "alice")
	require.NoError(t, err)
	assert.Equal(t, ixPlaceBet[:], data[:8])
	assert.Equal(t, uint64(5000), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, PredictionDeath, data[16])
	// Borsh strings are u32 length prefixed.
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(data[17:21]))
	assert.Equal(t, "alice", string(data[21:26]))
}
