package secure

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueReveal(t *testing.T) {
	t.Parallel()

	secret := "Zq8!x-Long-Generated-Password"
	v := NewValue(secret)

	plain, err := v.Reveal()
	require.NoError(t, err)
	assert.Equal(t, secret, plain)
	assert.Equal(t, len(secret), v.Len())

	// Reveal is repeatable.
	again, err := v.Reveal()
	require.NoError(t, err)
	assert.Equal(t, secret, again)
}

func TestValueEmpty(t *testing.T) {
	t.Parallel()

	v := NewValue("")
	plain, err := v.Reveal()
	require.NoError(t, err)
	assert.Empty(t, plain)
	assert.Zero(t, v.Len())
}

func TestValueDestroy(t *testing.T) {
	t.Parallel()

	v := NewValue("to-be-destroyed")
	v.Destroy()
	v.Destroy()

	_, err := v.Reveal()
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestValueFormatting(t *testing.T) {
	t.Parallel()

	v := NewValue("do-not-print-me")
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", v))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", v))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", v))
}

func TestValueConcurrentReveal(t *testing.T) {
	t.Parallel()

	v := NewValue("shared-secret-value")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plain, err := v.Reveal()
			assert.NoError(t, err)
			assert.Equal(t, "shared-secret-value", plain)
		}()
	}
	wg.Wait()
}
