package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSample = NewError(KindState, "sample.closed", "sample is closed")

func TestErrorMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", errSample.WithMessage("sample %d is closed", 7))
	require.ErrorIs(t, err, errSample)
	require.ErrorIs(t, err, ErrState)
	require.NotErrorIs(t, err, ErrValidation)
	require.NotErrorIs(t, err, NewError(KindState, "other", ""))
	require.Equal(t, KindState, KindOf(err))
	require.Equal(t, "sample 7 is closed", AsError(err).Message)
}

func TestRuleViolationCarriesVectors(t *testing.T) {
	err := RuleViolation("payment.rejected", []string{"a", "b"}, []string{"w"})
	require.ErrorIs(t, err, ErrRuleViolation)
	require.Equal(t, []string{"a", "b"}, err.Violations)
	require.Equal(t, []string{"w"}, err.Warnings)
	require.Equal(t, "a; b", err.Error())
}

func TestAsErrorWrapsUnknown(t *testing.T) {
	e := AsError(errors.New("disk on fire"))
	require.Equal(t, KindInternal, e.Kind)
	require.Equal(t, "internal error: disk on fire", e.Error())
}

func TestRetryOnRace(t *testing.T) {
	calls := 0
	err := RetryOnRace(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return ErrRace.WithMessage("conflict")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = RetryOnRace(context.Background(), 2, func() error {
		calls++
		return ErrRace.WithMessage("conflict")
	})
	require.ErrorIs(t, err, ErrRace)
	require.Equal(t, 2, calls)

	calls = 0
	err = RetryOnRace(context.Background(), 5, func() error {
		calls++
		return ErrValidation
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, 1, calls)
}
