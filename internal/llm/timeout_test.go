package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout(t *testing.T) {
	t.Run("passes through", func(t *testing.T) {
		fake := NewFake("ok")
		out, err := WithTimeout(fake, time.Second).Complete(context.Background(), userRequest("hi"))
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		fake := NewFake()
		fake.Block = true
		start := time.Now()
		_, err := WithTimeout(fake, 20*time.Millisecond).Complete(context.Background(), userRequest("hi"))
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, IsRetryable(err))
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("provider errors pass through", func(t *testing.T) {
		fake := NewFake().Push(FakeResponse{Err: newError("fake", KindInvalidCredentials, 401, errors.New("bad key"))})
		_, err := WithTimeout(fake, time.Second).Complete(context.Background(), userRequest("hi"))
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("zero disables", func(t *testing.T) {
		fake := NewFake("ok")
		assert.Same(t, fake, WithTimeout(fake, 0))
	})
}

func TestFake_ScriptAndRecord(t *testing.T) {
	fake := NewFake("first", "second")
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		out, err := fake.Complete(ctx, userRequest(want))
		require.NoError(t, err)
		assert.Equal(t, want, out)
	}
	assert.Equal(t, 3, fake.Calls())
	assert.Len(t, fake.Requests(), 3)
	assert.Equal(t, "first", fake.Requests()[0].Messages[0].Content)
}

func TestProviderError(t *testing.T) {
	err := newError("anthropic", KindRateLimited, 429, errors.New("slow down"))
	assert.Equal(t, "anthropic: rate_limited (status 429): slow down", err.Error())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrOverloaded)
	assert.True(t, err.Retryable())

	unknown := newError("openai", KindUnknown, 0, nil)
	assert.Equal(t, "openai: unknown", unknown.Error())
	assert.False(t, unknown.Retryable())
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindRateLimited, kindForStatus(429))
	assert.Equal(t, KindOverloaded, kindForStatus(529))
	assert.Equal(t, KindOverloaded, kindForStatus(502))
	assert.Equal(t, KindInvalidCredentials, kindForStatus(401))
	assert.Equal(t, KindTimeout, kindForStatus(408))
	assert.Equal(t, KindBadRequest, kindForStatus(422))
	assert.Equal(t, KindUnknown, kindForStatus(302))
}
