package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Classified program errors. The anchor program reports failures as custom
// error codes inside the RPC error payload; callers branch on these with
// errors.Is.
var (
	// ErrBettingStillActive is returned by StartFight while the on-chain
	// betting window has not elapsed yet. Retryable.
	ErrBettingStillActive = errors.New("betting phase still active")

	// ErrAlreadyClaimed is returned by ClaimPayout when the bet was settled
	// by an earlier attempt. Safe to ignore.
	ErrAlreadyClaimed = errors.New("payout already claimed")

	// ErrRoundNotFound is returned when the betting round account does not
	// exist at the derived address.
	ErrRoundNotFound = errors.New("betting round account not found")
)

// Anchor custom error codes of the betting program.
const (
	codeBettingStillActive = 0x1776
	codeAlreadyClaimed     = 0x1779
)

// classifyProgramErr maps a raw RPC error onto one of the sentinel errors
// above when the payload carries a known custom error code. Unknown errors
// pass through unchanged.
func classifyProgramErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case hasCustomCode(msg, codeBettingStillActive) || strings.Contains(msg, "BettingStillActive"):
		return fmt.Errorf("%w: %v", ErrBettingStillActive, err)
	case hasCustomCode(msg, codeAlreadyClaimed) || strings.Contains(msg, "AlreadyClaimed"):
		return fmt.Errorf("%w: %v", ErrAlreadyClaimed, err)
	}
	return err
}

func hasCustomCode(msg string, code int) bool {
	return strings.Contains(msg, fmt.Sprintf("custom program error: %#x", code))
}
