package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/slog"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	// startFight retry policy: BettingStillActive means the chain clock has
	// not crossed the betting deadline yet; anything else is not retried.
	startFightAttempts = 5
	startFightSpacing  = 2 * time.Second

	defaultRPCTimeout  = 30 * time.Second
	confirmPollEvery   = 500 * time.Millisecond
)

// Config holds everything the client needs to talk to the betting program.
type Config struct {
	RPCURL            string
	ProgramID         solana.PublicKey
	AuthorityKeyPath  string
	Treasury          solana.PublicKey
	RPCTimeout        time.Duration // defaults to 30s
	Log               slog.Logger
}

// Client is a thin facade over the on-chain betting program. It owns the
// authority keypair; no other component reads it.
type Client struct {
	log       slog.Logger
	rpc       *rpc.Client
	programID solana.PublicKey
	authority solana.PrivateKey
	treasury  solana.PublicKey
	timeout   time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger: missing RPC URL")
	}
	authority, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.AuthorityKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: load authority keypair from %s: %w", cfg.AuthorityKeyPath, err)
	}
	timeout := cfg.RPCTimeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	c := &Client{
		log:       cfg.Log,
		rpc:       rpc.New(cfg.RPCURL),
		programID: cfg.ProgramID,
		authority: authority,
		treasury:  cfg.Treasury,
		timeout:   timeout,
	}
	c.log.Infof("ledger client ready; program=%s authority=%s", cfg.ProgramID, authority.PublicKey())
	return c, nil
}

// Authority returns the public half of the signing identity.
func (c *Client) Authority() solana.PublicKey { return c.authority.PublicKey() }

// DerivePDAs derives the round and escrow addresses for roundID.
func (c *Client) DerivePDAs(roundID uint64) (RoundPDAs, error) {
	return DerivePDAs(c.programID, roundID)
}

// InitRoundParams carries the arguments of initialize_betting_round.
type InitRoundParams struct {
	RoundID         uint64
	BettingDuration time.Duration
	FightDuration   time.Duration
	InitialHP       uint32
	FeePercentage   uint8
}

// InitRound creates the on-chain betting round. Requires the authority
// signature; the round and escrow accounts are created at their PDAs.
func (c *Client) InitRound(ctx context.Context, p InitRoundParams) error {
	pdas, err := c.DerivePDAs(p.RoundID)
	if err != nil {
		return err
	}
	data, err := encodeInitRoundData(p.RoundID,
		int64(p.BettingDuration/time.Second), int64(p.FightDuration/time.Second),
		p.InitialHP, p.FeePercentage)
	if err != nil {
		return err
	}
	ix := solana.NewInstruction(c.programID, solana.AccountMetaSlice{
		solana.Meta(pdas.BettingRound).WRITE(),
		solana.Meta(pdas.Escrow).WRITE(),
		solana.Meta(c.authority.PublicKey()).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data)
	sig, err := c.sendAndConfirm(ctx, ix)
	if err != nil {
		return fmt.Errorf("initialize_betting_round: %w", err)
	}
	c.log.Infof("round %d initialized on chain; sig=%s", p.RoundID, sig)
	return nil
}

// StartFight transitions the on-chain round into the fight phase. It retries
// up to 5 times at 2s spacing while the program still reports
// BettingStillActive; the last classified error is returned otherwise.
func (c *Client) StartFight(ctx context.Context, roundID uint64) error {
	pdas, err := c.DerivePDAs(roundID)
	if err != nil {
		return err
	}
	ix := solana.NewInstruction(c.programID, solana.AccountMetaSlice{
		solana.Meta(pdas.BettingRound).WRITE(),
		solana.Meta(c.authority.PublicKey()).SIGNER(),
	}, ixStartFightPhase[:])

	var lastErr error
	for attempt := 1; attempt <= startFightAttempts; attempt++ {
		sig, err := c.sendAndConfirm(ctx, ix)
		if err == nil {
			c.log.Infof("fight phase started for round %d; sig=%s", roundID, sig)
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return fmt.Errorf("start_fight_phase: %w", err)
		}
		c.log.Warnf("start_fight_phase attempt %d/%d: betting still active", attempt, startFightAttempts)
		if attempt < startFightAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(startFightSpacing):
			}
		}
	}
	return fmt.Errorf("start_fight_phase: %w", lastErr)
}

// EndFight records the fight outcome on chain and closes the round for new
// bets. bossDefeated is read back by settlement from the round account.
func (c *Client) EndFight(ctx context.Context, roundID uint64) error {
	pdas, err := c.DerivePDAs(roundID)
	if err != nil {
		return err
	}
	ix := solana.NewInstruction(c.programID, solana.AccountMetaSlice{
		solana.Meta(pdas.BettingRound).WRITE(),
		solana.Meta(c.authority.PublicKey()).SIGNER(),
	}, ixEndFight[:])
	sig, err := c.sendAndConfirm(ctx, ix)
	if err != nil {
		return fmt.Errorf("end_fight: %w", err)
	}
	c.log.Infof("fight ended on chain for round %d; sig=%s", roundID, sig)
	return nil
}

// PrepareBetParams carries the inputs of an unsigned place_bet transaction.
type PrepareBetParams struct {
	RoundID    uint64
	Bettor     solana.PublicKey
	Amount     uint64
	Prediction uint8
	Username   string
}

// PrepareBetTx builds an unsigned place_bet transaction with a fresh recent
// blockhash and the bettor as fee payer, serialized as base64 for the
// browser wallet to sign and submit.
func (c *Client) PrepareBetTx(ctx context.Context, p PrepareBetParams) (string, solana.PublicKey, error) {
	pdas, err := c.DerivePDAs(p.RoundID)
	if err != nil {
		return "", solana.PublicKey{}, err
	}
	betPDA, err := BetPDA(c.programID, p.RoundID, p.Bettor)
	if err != nil {
		return "", solana.PublicKey{}, err
	}
	data, err := encodePlaceBetData(p.Amount, p.Prediction, p.Username)
	if err != nil {
		return "", solana.PublicKey{}, err
	}
	ix := solana.NewInstruction(c.programID, solana.AccountMetaSlice{
		solana.Meta(pdas.BettingRound).WRITE(),
		solana.Meta(betPDA).WRITE(),
		solana.Meta(pdas.Escrow).WRITE(),
		solana.Meta(p.Bettor).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", solana.PublicKey{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix},
		recent.Value.Blockhash, solana.TransactionPayer(p.Bettor))
	if err != nil {
		return "", solana.PublicKey{}, fmt.Errorf("build place_bet tx: %w", err)
	}
	b64, err := tx.ToBase64()
	if err != nil {
		return "", solana.PublicKey{}, fmt.Errorf("serialize place_bet tx: %w", err)
	}
	return b64, betPDA, nil
}

// ScanBets enumerates every BetAccount of the given round by filtering
// program accounts on the account discriminator at offset 0 and the
// little-endian round id at offset 40.
func (c *Client) ScanBets(ctx context.Context, roundID uint64) ([]BetRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.rpc.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(betAccountDiscriminator[:])}},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: betRoundIDOffset, Bytes: solana.Base58(roundIDSeed(roundID))}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan bets for round %d: %w", roundID, err)
	}
	bets := make([]BetRecord, 0, len(res))
	for _, ka := range res {
		rec, err := decodeBetAccount(ka.Pubkey, ka.Account.Data.GetBinary())
		if err != nil {
			// A malformed account is skipped; totals remain authoritative on
			// the round account either way.
			c.log.Warnf("skipping undecodable bet account: %v", err)
			continue
		}
		bets = append(bets, *rec)
	}
	return bets, nil
}

// FetchBet returns the decoded bet account for (roundID, bettor), or nil if
// no bet account exists at the derived address.
func (c *Client) FetchBet(ctx context.Context, roundID uint64, bettor solana.PublicKey) (*BetRecord, error) {
	betPDA, err := BetPDA(c.programID, roundID, bettor)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.rpc.GetAccountInfoWithOpts(ctx, betPDA, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch bet account %s: %w", betPDA, err)
	}
	if res.Value == nil {
		return nil, nil
	}
	return decodeBetAccount(betPDA, res.Value.Data.GetBinary())
}

// RoundAccount reads and decodes the authoritative betting round account.
func (c *Client) RoundAccount(ctx context.Context, roundID uint64) (*RoundAccount, error) {
	pdas, err := c.DerivePDAs(roundID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.rpc.GetAccountInfoWithOpts(ctx, pdas.BettingRound, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("fetch round account %s: %w", pdas.BettingRound, err)
	}
	if res.Value == nil {
		return nil, ErrRoundNotFound
	}
	return decodeRoundAccount(res.Value.Data.GetBinary())
}

// ClaimPayout pays out one winning bettor from escrow. The program marks the
// bet claimed, so a replayed claim fails with ErrAlreadyClaimed and no funds
// move twice.
func (c *Client) ClaimPayout(ctx context.Context, roundID uint64, bettor solana.PublicKey) (solana.Signature, error) {
	pdas, err := c.DerivePDAs(roundID)
	if err != nil {
		return solana.Signature{}, err
	}
	betPDA, err := BetPDA(c.programID, roundID, bettor)
	if err != nil {
		return solana.Signature{}, err
	}
	ix := solana.NewInstruction(c.programID, solana.AccountMetaSlice{
		solana.Meta(pdas.BettingRound).WRITE(),
		solana.Meta(betPDA).WRITE(),
		solana.Meta(pdas.Escrow).WRITE(),
		solana.Meta(bettor).WRITE(),
		solana.Meta(c.authority.PublicKey()).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, ixClaimPayout[:])
	sig, err := c.sendAndConfirm(ctx, ix)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("claim_payout for %s: %w", bettor, err)
	}
	return sig, nil
}

// ClaimFees drains the fee plus any rounding residue left in escrow to the
// treasury wallet.
func (c *Client) ClaimFees(ctx context.Context, roundID uint64) (solana.Signature, error) {
	pdas, err := c.DerivePDAs(roundID)
	if err != nil {
		return solana.Signature{}, err
	}
	ix := solana.NewInstruction(c.programID, solana.AccountMetaSlice{
		solana.Meta(pdas.BettingRound).WRITE(),
		solana.Meta(pdas.Escrow).WRITE(),
		solana.Meta(c.treasury).WRITE(),
		solana.Meta(c.authority.PublicKey()).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, ixClaimFees[:])
	sig, err := c.sendAndConfirm(ctx, ix)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("claim_fees: %w", err)
	}
	return sig, nil
}

// sendAndConfirm signs with the authority, submits, and polls the signature
// status until the cluster confirms it or the per-call timeout expires. A
// timeout is reported like any other error.
func (c *Client) sendAndConfirm(ctx context.Context, instrs ...solana.Instruction) (solana.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instrs, recent.Value.Blockhash,
		solana.TransactionPayer(c.authority.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build tx: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.authority.PublicKey()) {
			return &c.authority
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign tx: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, classifyProgramErr(err)
	}

	tick := time.NewTicker(confirmPollEvery)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return solana.Signature{}, fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-tick.C:
			st, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				c.log.Debugf("signature status poll failed: %v", err)
				continue
			}
			if len(st.Value) == 0 || st.Value[0] == nil {
				continue
			}
			status := st.Value[0]
			if status.Err != nil {
				return solana.Signature{}, classifyProgramErr(fmt.Errorf("transaction %s failed: %v", sig, status.Err))
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return sig, nil
			}
		}
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrBettingStillActive)
}
