package domain

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	state := errors.Wrap(&StateError{OrderID: 7, Op: "approve", Status: StatusRejected}, "approve")
	assert.True(t, errors.Is(state, ErrInvalidState))
	var se *StateError
	assert.True(t, errors.As(state, &se))
	assert.Equal(t, StatusRejected, se.Status)

	at := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	used := &UsedError{OrderID: 42, CheckedInAt: at}
	assert.True(t, errors.Is(used, ErrAlreadyUsed))
	assert.False(t, errors.Is(used, ErrConflict))

	race := &UsedError{OrderID: 42, CheckedInAt: at, Race: true}
	assert.True(t, errors.Is(race, ErrConflict))
	assert.False(t, errors.Is(race, ErrAlreadyUsed))

	storage := StorageFailure(errors.New("connection refused"), "get order")
	assert.True(t, errors.Is(storage, ErrStorage))
	assert.Contains(t, storage.Error(), "connection refused")
	assert.Nil(t, StorageFailure(nil, "noop"))
}

func TestStorageFailure_MatchesWithEitherErrorsPackage(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := errors.Wrap(StorageFailure(cause, "mark checked in"), "commit")

	// testify uses the standard library errors.Is.
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.False(t, errors.Is(err, ErrConflict))

	var se *StorageError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "mark checked in", se.Op)
}

func TestVerdictAdmit(t *testing.T) {
	at := time.Now()
	assert.True(t, Verdict{Kind: VerdictValid}.Admit())
	for _, v := range []Verdict{
		{Kind: VerdictNotFound},
		{Kind: VerdictInvalid, Status: StatusPending},
		{Kind: VerdictAlreadyUsed, CheckedInAt: &at},
	} {
		assert.False(t, v.Admit(), v.Kind)
		assert.Contains(t, v.Message(), "do not admit")
	}
}

func TestVerdictMessage_AlreadyUsedWithoutTimestamp(t *testing.T) {
	v := Verdict{Kind: VerdictAlreadyUsed}
	assert.NotPanics(t, func() { _ = v.Message() })
	assert.Equal(t, "ticket already used, do not admit", v.Message())
}
