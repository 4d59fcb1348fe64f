package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNetwork, KindOf(Newf(KindNetwork, "dial", "refused")))
	assert.Equal(t, KindAuth, KindOf(New(KindAuth, "auth", errors.New("401"))))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := Newf(KindNotFound, "get room", "status 404")
	wrapped := fmt.Errorf("sync: %w", inner)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestKindOf_ContextDeadline(t *testing.T) {
	assert.Equal(t, KindNetwork, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindNetwork, KindOf(fmt.Errorf("do: %w", context.DeadlineExceeded)))
}

func TestRetryPolicy(t *testing.T) {
	assert.True(t, IsRetryable(Newf(KindNetwork, "send", "timeout")))
	assert.False(t, IsRetryable(Newf(KindAuth, "send", "401")))
	assert.False(t, IsRetryable(Newf(KindParse, "send", "bad payload")))

	assert.True(t, IsAuth(Newf(KindAuth, "send", "401")))
	assert.True(t, IsNotFound(Newf(KindNotFound, "room", "404")))
}

func TestErrorMessage(t *testing.T) {
	err := New(KindStorage, "cache write", errors.New("disk full"))
	assert.Equal(t, "cache write: disk full", err.Error())

	bare := &Error{Kind: KindUnknown, Op: "op only"}
	assert.Equal(t, "op only", bare.Error())
	assert.Nil(t, errors.Unwrap(bare))
}
