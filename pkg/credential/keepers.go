package credential

import "sync"

// DefaultKeepersLimit bounds how many trigger keys a Keepers cache remembers.
const DefaultKeepersLimit = 4

// Keepers memoizes a value against the trigger key that produced it. The value
// is recomputed only when asked for a key it has not seen. Oldest keys are
// evicted first once the limit is reached.
type Keepers[V any] struct {
	mu      sync.Mutex
	limit   int
	order   []string
	entries map[string]V
}

// NewKeepers creates a cache holding at most limit keys (DefaultKeepersLimit if limit <= 0).
func NewKeepers[V any](limit int) *Keepers[V] {
	if limit <= 0 {
		limit = DefaultKeepersLimit
	}
	return &Keepers[V]{
		limit:   limit,
		entries: make(map[string]V),
	}
}

// Get returns the value cached for key.
func (k *Keepers[V]) Get(key string) (V, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.entries[key]
	return v, ok
}

// GetOrCompute returns the cached value for key or stores the result of
// compute. The boolean reports a cache hit. compute runs under the cache
// lock so concurrent callers for one key observe a single value.
func (k *Keepers[V]) GetOrCompute(key string, compute func() (V, error)) (V, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if v, ok := k.entries[key]; ok {
		return v, true, nil
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, false, err
	}
	k.put(key, v)
	return v, false, nil
}

// Seed stores v under key, replacing any earlier value.
func (k *Keepers[V]) Seed(key string, v V) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.put(key, v)
}

// Forget drops key.
func (k *Keepers[V]) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.entries[key]; !ok {
		return
	}
	delete(k.entries, key)
	for i, existing := range k.order {
		if existing == key {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached keys.
func (k *Keepers[V]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keepers[V]) put(key string, v V) {
	if _, ok := k.entries[key]; !ok {
		k.order = append(k.order, key)
	}
	k.entries[key] = v
	for len(k.order) > k.limit {
		oldest := k.order[0]
		k.order = k.order[1:]
		delete(k.entries, oldest)
	}
}
