// Package secure keeps generated credentials out of plain process memory.
//
// A Value wraps a memguard enclave: the plaintext is encrypted while idle
// and only decrypted into a locked buffer for the duration of Reveal. Values
// format as [REDACTED] so they are safe to pass to the logger.
//
//	v := secure.NewValue(password)
//	defer v.Destroy()
//
//	plain, err := v.Reveal()
//
// Call memguard.Purge (or secure.Purge) before the process exits to wipe
// every enclave key.
package secure
