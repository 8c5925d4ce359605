package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/dberr"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(dberr.New(dberr.KindConcurrentWrite, "x")))
	assert.True(t, IsRetryable(dberr.New(dberr.KindSerializationFailure, "x")))
	assert.False(t, IsRetryable(dberr.New(dberr.KindConstraint, "x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return dberr.New(dberr.KindConcurrentWrite, "lost the race")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsImmediatelyOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		attempts++
		return dberr.New(dberr.KindConstraint, "not null violation")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, dberr.KindConstraint, dberr.KindOf(err))
}
