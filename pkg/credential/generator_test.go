package credential

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/epoch"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	epoch1 = epoch.Epoch{ID: 1, CreatedAt: t0}
	epoch2 = epoch.Epoch{ID: 2, CreatedAt: t0.Add(25 * time.Hour)}
)

func testPolicy() CredentialPolicy {
	return CredentialPolicy{
		Login:    LoginPolicy(9),
		Password: DefaultPasswordPolicy(),
	}
}

func reveal(t *testing.T, c *Credential) string {
	t.Helper()
	plain, err := c.Password.Reveal()
	require.NoError(t, err)
	return plain
}

func TestGenerateMemoizesByEpoch(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	policy := testPolicy()

	first, err := g.Generate(epoch1, policy)
	require.NoError(t, err)
	second, err := g.Generate(epoch1, policy)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, uint64(1), first.EpochID)
	assert.Equal(t, t0, first.CreatedAt)
	assert.True(t, strings.HasPrefix(first.ID, "1-"))

	cached, ok := g.Cached(epoch1, policy)
	assert.True(t, ok)
	assert.Same(t, first, cached)
}

func TestGenerateNewEpochDrawsFreshValues(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	policy := testPolicy()

	first, err := g.Generate(epoch1, policy)
	require.NoError(t, err)
	next, err := g.Generate(epoch2, policy)
	require.NoError(t, err)

	assert.NotSame(t, first, next)
	assert.NotEqual(t, first.ID, next.ID)
	assert.NotEqual(t, reveal(t, first), reveal(t, next))
}

func TestGeneratorKeepersLimit(t *testing.T) {
	t.Parallel()

	g := NewGenerator(WithKeepersLimit(1))
	policy := testPolicy()

	_, err := g.Generate(epoch1, policy)
	require.NoError(t, err)
	_, err = g.Generate(epoch2, policy)
	require.NoError(t, err)

	_, ok := g.Cached(epoch1, policy)
	assert.False(t, ok, "older epoch forgotten")
	_, ok = g.Cached(epoch2, policy)
	assert.True(t, ok)
}

func TestGeneratePolicyChangeDrawsFreshValues(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	policy := testPolicy()
	first, err := g.Generate(epoch1, policy)
	require.NoError(t, err)

	policy.Password.Length = 40
	longer, err := g.Generate(epoch1, policy)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, longer.ID)
	assert.Len(t, reveal(t, longer), 40)
}

func TestGenerateFormats(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	policy := testPolicy()

	for i := uint64(1); i <= 50; i++ {
		cred, err := g.Generate(epoch.Epoch{ID: i, CreatedAt: t0}, policy)
		require.NoError(t, err)

		assert.True(t, ValidLogin(cred.Login, 9), "login %q", cred.Login)

		pw := reveal(t, cred)
		assert.Len(t, pw, 32)
		assert.True(t, strings.ContainsAny(pw, LowerChars))
		assert.True(t, strings.ContainsAny(pw, UpperChars))
		assert.True(t, strings.ContainsAny(pw, NumericChars))
		assert.True(t, strings.ContainsAny(pw, DefaultSpecial))
	}
}

func TestGeneratePolicyViolation(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.Password = Policy{
		Length: 32, Lower: true, Upper: true, Numeric: true, Special: true,
		OverrideSpecial: strPtr(""),
	}

	cred, err := NewGenerator().Generate(epoch1, policy)
	assert.Nil(t, cred)
	assert.ErrorIs(t, err, dserrors.ErrPolicyViolation)
}

func TestValueMinimums(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	p := Policy{
		Length: 12, Lower: true, Upper: true, Numeric: true, Special: true,
		MinNumeric: 5, MinSpecial: 3, OverrideSpecial: strPtr("#%"),
	}

	for i := 0; i < 25; i++ {
		v, err := g.Value(p)
		require.NoError(t, err)
		assert.Len(t, v, 12)
		assert.GreaterOrEqual(t, countIn(v, NumericChars), 5)
		assert.GreaterOrEqual(t, countIn(v, "#%"), 3)
		assert.Zero(t, countIn(v, "!@$&*"), "only override specials allowed")
	}
}

func TestValueForcePrefix(t *testing.T) {
	t.Parallel()

	// Digits only: the raw value never starts with a letter.
	p := Policy{Length: 10, Numeric: true, ForcePrefix: "db"}
	v, err := NewGenerator().Value(p)
	require.NoError(t, err)
	assert.Len(t, v, 10)
	assert.True(t, strings.HasPrefix(v, "db"))
	assert.Equal(t, 8, countIn(v, NumericChars))

	// Letters only: the prefix is never needed.
	p = Policy{Length: 10, Lower: true, ForcePrefix: "Z"}
	v, err = NewGenerator().Value(p)
	require.NoError(t, err)
	assert.Len(t, v, 10)
	assert.Zero(t, strings.Count(v, "Z"))
}

func TestValueCoversCharset(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	p := Policy{Length: 64, Numeric: true}
	seen := map[rune]int{}
	for i := 0; i < 50; i++ {
		v, err := g.Value(p)
		require.NoError(t, err)
		for _, r := range v {
			seen[r]++
		}
	}
	// 3200 draws over 10 digits: every digit shows up, none dominates.
	require.Len(t, seen, 10)
	for r, n := range seen {
		assert.Greater(t, n, 200, "digit %q underrepresented", r)
		assert.Less(t, n, 450, "digit %q overrepresented", r)
	}
}

func TestGeneratorSeed(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	policy := testPolicy()
	restored := &Credential{
		ID:       TriggerKey(epoch1, policy),
		EpochID:  1,
		Login:    "aRestored",
		Password: nil,
	}
	g.Seed(restored)

	got, err := g.Generate(epoch1, policy)
	require.NoError(t, err)
	assert.Same(t, restored, got)
}

func TestGeneratorRandomFailure(t *testing.T) {
	t.Parallel()

	g := NewGenerator(WithRandom(strings.NewReader("")))
	_, err := g.Generate(epoch1, testPolicy())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to generate login")

	// Failed draws are not cached.
	_, ok := g.Cached(epoch1, testPolicy())
	assert.False(t, ok)
}

func TestGenerateConcurrentSameEpoch(t *testing.T) {
	t.Parallel()

	g := NewGenerator()
	policy := testPolicy()

	results := make([]*Credential, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := g.Generate(epoch1, policy)
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results[1:] {
		assert.Same(t, results[0], c)
	}
}

func countIn(s, chars string) int {
	n := 0
	for _, r := range s {
		if strings.ContainsRune(chars, r) {
			n++
		}
	}
	return n
}
