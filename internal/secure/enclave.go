package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned by Reveal after Destroy.
var ErrDestroyed = errors.New("secure value destroyed")

// Value holds a secret string inside a memguard enclave.
type Value struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewValue seals s. The caller's string is not modified; the intermediate
// byte copy is wiped by memguard.
func NewValue(s string) *Value {
	v := &Value{size: len(s)}
	if len(s) > 0 {
		// NewEnclave wipes its input.
		v.enclave = memguard.NewEnclave([]byte(s))
	}
	return v
}

// Reveal decrypts and returns the plaintext.
func (v *Value) Reveal() (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.destroyed {
		return "", ErrDestroyed
	}
	if v.enclave == nil {
		return "", nil
	}

	locked, err := v.enclave.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	// Copy before Destroy wipes the locked memory.
	return string(locked.Bytes()), nil
}

// Len returns the plaintext length without decrypting.
func (v *Value) Len() int {
	return v.size
}

// Destroy drops the enclave. It is idempotent.
func (v *Value) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.enclave = nil
	v.destroyed = true
}

// String implements fmt.Stringer without exposing the secret.
func (v *Value) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer without exposing the secret.
func (v *Value) GoString() string {
	return "[REDACTED]"
}

// Purge wipes all memguard state. Call it on process exit.
func Purge() {
	memguard.Purge()
}
