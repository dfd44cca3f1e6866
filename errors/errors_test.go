package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapTransient(t *testing.T) {
	base := stderrors.New("connection refused")
	err := WrapTransient(base, "search", "Query", "provider query")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.Query: provider query failed")
	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalid(err))
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestSentinelClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"bucket overflow is transient", ErrTooManyBuckets, ErrorTransient},
		{"timeout is transient", ErrConnectionTimeout, ErrorTransient},
		{"context deadline is transient", context.DeadlineExceeded, ErrorTransient},
		{"bad duration is invalid", ErrInvalidDuration, ErrorInvalid},
		{"parse failure is invalid", ErrParsingFailed, ErrorInvalid},
		{"missing config is fatal", ErrMissingConfig, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestSentinelClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("scan: %w", ErrInvalidDuration)
	assert.True(t, IsInvalid(err))
	assert.Equal(t, ErrorInvalid, Classify(err))
}

func TestIsAccessDenied(t *testing.T) {
	assert.True(t, IsAccessDenied(ErrAccessDenied))
	assert.True(t, IsAccessDenied(fmt.Errorf("api: %w", ErrNotAuthed)))
	assert.False(t, IsAccessDenied(ErrInvalidData))
	assert.False(t, IsAccessDenied(nil))
}

func TestUnknownErrorDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("some novel failure")))
}
