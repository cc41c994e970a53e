package credential

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/systmms/credrotate/internal/secure"
	"github.com/systmms/credrotate/pkg/epoch"
)

// Credential is a generated login and password bound to the epoch that
// produced it. Credentials are replaced, never mutated.
type Credential struct {
	// ID is the trigger key: epoch id plus policy fingerprint.
	ID        string
	EpochID   uint64
	Login     string
	Password  *secure.Value
	CreatedAt time.Time
}

// TriggerKey returns the memoization key for an epoch and policy.
func TriggerKey(e epoch.Epoch, policy CredentialPolicy) string {
	return fmt.Sprintf("%d-%s", e.ID, policy.Fingerprint())
}

// Generator produces credentials memoized by trigger key.
type Generator struct {
	random io.Reader
	cache  *Keepers[*Credential]
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) GeneratorOption {
	return func(g *Generator) {
		g.random = r
	}
}

// WithKeepersLimit sets how many trigger keys are remembered.
func WithKeepersLimit(limit int) GeneratorOption {
	return func(g *Generator) {
		g.cache = NewKeepers[*Credential](limit)
	}
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		random: rand.Reader,
		cache:  NewKeepers[*Credential](DefaultKeepersLimit),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the credential for e under policy. Calls with the same
// epoch id and policy return the identical *Credential; a new epoch id
// yields freshly drawn values.
func (g *Generator) Generate(e epoch.Epoch, policy CredentialPolicy) (*Credential, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	cred, _, err := g.cache.GetOrCompute(TriggerKey(e, policy), func() (*Credential, error) {
		return g.draw(e, policy)
	})
	return cred, err
}

// Cached returns the memoized credential for e and policy without generating.
func (g *Generator) Cached(e epoch.Epoch, policy CredentialPolicy) (*Credential, bool) {
	return g.cache.Get(TriggerKey(e, policy))
}

// Seed registers a credential restored from persisted state so that Generate
// returns it instead of drawing a new one.
func (g *Generator) Seed(cred *Credential) {
	g.cache.Seed(cred.ID, cred)
}

func (g *Generator) draw(e epoch.Epoch, policy CredentialPolicy) (*Credential, error) {
	login, err := g.Value(policy.Login)
	if err != nil {
		return nil, fmt.Errorf("failed to generate login: %w", err)
	}
	password, err := g.Value(policy.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}

	return &Credential{
		ID:        TriggerKey(e, policy),
		EpochID:   e.ID,
		Login:     login,
		Password:  secure.NewValue(password),
		CreatedAt: e.CreatedAt,
	}, nil
}

// Value draws one random value satisfying p. It is not memoized.
func (g *Generator) Value(p Policy) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	raw, err := g.fill(p, p.Length)
	if err != nil {
		return "", err
	}
	if p.ForcePrefix == "" || startsWithLetter(raw) {
		return raw, nil
	}

	body, err := g.fill(p, p.Length-len(p.ForcePrefix))
	if err != nil {
		return "", err
	}
	return p.ForcePrefix + body, nil
}

// fill draws length characters: every class minimum first, the remainder
// from the union of enabled classes, then a uniform shuffle.
func (g *Generator) fill(p Policy, length int) (string, error) {
	classes := p.classes()

	var all string
	out := make([]byte, 0, length)
	for _, c := range classes {
		all += c.chars
		for i := 0; i < c.min; i++ {
			ch, err := g.pick(c.chars)
			if err != nil {
				return "", err
			}
			out = append(out, ch)
		}
	}
	for len(out) < length {
		ch, err := g.pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := g.intn(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func (g *Generator) pick(chars string) (byte, error) {
	i, err := g.intn(len(chars))
	if err != nil {
		return 0, err
	}
	return chars[i], nil
}

func (g *Generator) intn(n int) (int, error) {
	v, err := rand.Int(g.random, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return int(v.Int64()), nil
}
