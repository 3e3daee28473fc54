package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("market: create: %w", ErrEmptyName), KindValidation},
		{fmt.Errorf("ledger: %w", ErrTokenNotFound), KindNotFound},
		{fmt.Errorf("settlement: %w", ErrAlreadyStaked), KindPrecondition},
		{fmt.Errorf("oracle: %w: %w", ErrPriceFeed, errors.New("dial tcp")), KindExternal},
		{ErrUnauthorized, KindAccess},
		{errors.New("boom"), KindInternal},
		{nil, KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
	assert.Equal(t, "precondition", KindPrecondition.String())
}

func TestCodesRoundTrip(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range codes {
		assert.False(t, seen[c.code], "duplicate code %s", c.code)
		seen[c.code] = true
		assert.Equal(t, c.code, CodeOf(fmt.Errorf("wrapped: %w", c.err)))
		assert.Same(t, c.err, ErrorForCode(c.code))
	}
	assert.Equal(t, "internal", CodeOf(errors.New("x")))
	assert.Empty(t, CodeOf(nil))
	assert.Nil(t, ErrorForCode("nope"))
}

func TestParseOutcome(t *testing.T) {
	for in, want := range map[string]Outcome{"a": OutcomeA, " B ": OutcomeB, "1": OutcomeA, "2": OutcomeB, "": OutcomeUnset} {
		got, err := ParseOutcome(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOutcome("C")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
	assert.Equal(t, OutcomeB, OutcomeA.Other())
	assert.Equal(t, OutcomeUnset, OutcomeUnset.Other())
}
