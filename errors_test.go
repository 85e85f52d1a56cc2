package trackz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateErrorMessage(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tests := []struct {
		name string
		err  *StateError
		want string
	}{
		{
			name: "TrackedInstance",
			err:  &StateError{Class: "DatabaseConnection", ID: id, Op: "process", Err: ErrClosed},
			want: "trackz: process: DatabaseConnection#6ba7b810-9dad-11d1-80b4-00c04fd430c8 closed",
		},
		{
			name: "UntrackedValue",
			err:  &StateError{Op: "enter", Err: ErrNotTracked},
			want: "trackz: enter: not tracked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestStateErrorUnwrap(t *testing.T) {
	reg := newTestRegistry(t)
	connections := Define[DatabaseConnection](reg, "DatabaseConnection")

	db, err := connections.New(nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.Enter()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	assert.NotErrorIs(t, err, ErrClosed)

	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "enter", se.Op)
	assert.Equal(t, "DatabaseConnection", se.Class)
	assert.Equal(t, db.ID(), se.ID)

	// Wrapping by callers keeps the cause reachable.
	wrapped := fmt.Errorf("checkout: %w", err)
	assert.ErrorIs(t, wrapped, ErrAlreadyClosed)
	assert.ErrorAs(t, wrapped, &se)
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrAlreadyClosed,
		ErrClosed,
		ErrNotTracked,
		ErrRegistryClosed,
		ErrAlreadyUnhooked,
		ErrHookNotFound,
		ErrTooManyHooks,
		ErrQueueFull,
		ErrHookPanicked,
	}

	for i, a := range sentinels {
		assert.NotEmpty(t, a.Error())
		for j, b := range sentinels {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}
