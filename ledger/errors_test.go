package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyProgramErr(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error // nil means the error passes through unchanged
	}{
		{
			name: "betting active by code",
			in:   errors.New("Transaction simulation failed: custom program error: 0x1776"),
			want: ErrBettingStillActive,
		},
		{
			name: "betting active by name",
			in:   errors.New("Error Code: BettingStillActive. Error Number: 6006"),
			want: ErrBettingStillActive,
		},
		{
			name: "already claimed by code",
			in:   errors.New("custom program error: 0x1779"),
			want: ErrAlreadyClaimed,
		},
		{
			name: "already claimed by name",
			in:   errors.New("Error Code: AlreadyClaimed"),
			want: ErrAlreadyClaimed,
		},
		{
			name: "unknown code passes through",
			in:   errors.New("custom program error: 0x1"),
		},
		{
			name: "unrelated error passes through",
			in:   errors.New("connection refused"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyProgramErr(tt.in)
			if tt.want == nil {
				assert.Equal(t, tt.in, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.Nil(t, classifyProgramErr(nil))
}
