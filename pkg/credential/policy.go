package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"unicode"

	dserrors "github.com/systmms/credrotate/internal/errors"
)

// Character sets for the policy classes.
const (
	LowerChars     = "abcdefghijklmnopqrstuvwxyz"
	UpperChars     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	NumericChars   = "0123456789"
	DefaultSpecial = "!@#$%&*()-_=+[]{}<>:?"
)

// Policy describes how one random value is generated.
type Policy struct {
	Length int `yaml:"length" json:"length"`

	Lower   bool `yaml:"lower" json:"lower"`
	Upper   bool `yaml:"upper" json:"upper"`
	Numeric bool `yaml:"numeric" json:"numeric"`
	Special bool `yaml:"special" json:"special"`

	MinLower   int `yaml:"min_lower,omitempty" json:"min_lower,omitempty"`
	MinUpper   int `yaml:"min_upper,omitempty" json:"min_upper,omitempty"`
	MinNumeric int `yaml:"min_numeric,omitempty" json:"min_numeric,omitempty"`
	MinSpecial int `yaml:"min_special,omitempty" json:"min_special,omitempty"`

	// OverrideSpecial replaces DefaultSpecial. nil means "use the default";
	// a non-nil empty string is an explicit, invalid, empty set.
	OverrideSpecial *string `yaml:"override_special,omitempty" json:"override_special,omitempty"`

	// ForcePrefix is prepended when the raw value does not start with a letter.
	ForcePrefix string `yaml:"force_prefix,omitempty" json:"force_prefix,omitempty"`
}

// CredentialPolicy pairs the login and password policies of one credential.
type CredentialPolicy struct {
	Login    Policy `yaml:"login" json:"login"`
	Password Policy `yaml:"password" json:"password"`
}

// DefaultLoginPrefix is the literal prepended to logins that start with a digit.
const DefaultLoginPrefix = "a"

// LoginPolicy returns an alphanumeric policy for administrator logins. The
// generated login always matches ^[A-Za-z][A-Za-z0-9]{length-1}$.
func LoginPolicy(length int) Policy {
	return Policy{
		Length:      length,
		Lower:       true,
		Upper:       true,
		Numeric:     true,
		ForcePrefix: DefaultLoginPrefix,
	}
}

// DefaultPasswordPolicy mirrors a typical managed-database password rule set.
func DefaultPasswordPolicy() Policy {
	return Policy{
		Length:     32,
		Lower:      true,
		Upper:      true,
		Numeric:    true,
		Special:    true,
		MinLower:   1,
		MinUpper:   1,
		MinNumeric: 1,
		MinSpecial: 1,
	}
}

type charClass struct {
	name  string
	chars string
	min   int
}

// SpecialChars returns the effective special character set.
func (p Policy) SpecialChars() string {
	if p.OverrideSpecial != nil {
		return *p.OverrideSpecial
	}
	return DefaultSpecial
}

// classes returns the enabled classes. Every enabled class is mandated at
// least once.
func (p Policy) classes() []charClass {
	var out []charClass
	add := func(enabled bool, name, chars string, min int) {
		if !enabled {
			return
		}
		if min < 1 {
			min = 1
		}
		out = append(out, charClass{name: name, chars: chars, min: min})
	}
	add(p.Lower, "lower", LowerChars, p.MinLower)
	add(p.Upper, "upper", UpperChars, p.MinUpper)
	add(p.Numeric, "numeric", NumericChars, p.MinNumeric)
	add(p.Special, "special", p.SpecialChars(), p.MinSpecial)
	return out
}

// Validate fails with ErrPolicyViolation when no value can satisfy p.
func (p Policy) Validate() error {
	if p.Length <= 0 {
		return dserrors.PolicyViolation("length", "must be positive, got %d", p.Length)
	}
	for name, min := range map[string]int{
		"min_lower": p.MinLower, "min_upper": p.MinUpper,
		"min_numeric": p.MinNumeric, "min_special": p.MinSpecial,
	} {
		if min < 0 {
			return dserrors.PolicyViolation(name, "must not be negative, got %d", min)
		}
	}

	classes := p.classes()
	if len(classes) == 0 {
		return dserrors.PolicyViolation("classes", "at least one character class must be enabled")
	}
	if p.Special && p.OverrideSpecial != nil && *p.OverrideSpecial == "" {
		return dserrors.PolicyViolation("override_special", "empty while special characters are required")
	}
	if p.OverrideSpecial != nil && !validSpecialSet(*p.OverrideSpecial) {
		return dserrors.PolicyViolation("override_special", "must be distinct printable ASCII symbols")
	}

	if p.ForcePrefix != "" {
		if !startsWithLetter(p.ForcePrefix) {
			return dserrors.PolicyViolation("force_prefix", "%q must start with a letter", p.ForcePrefix)
		}
		if len(p.ForcePrefix) >= p.Length {
			return dserrors.PolicyViolation("force_prefix", "%q leaves no room in length %d", p.ForcePrefix, p.Length)
		}
	}

	required := 0
	for _, c := range classes {
		required += c.min
	}
	available := p.Length - len(p.ForcePrefix)
	if required > available {
		return dserrors.PolicyViolation("length",
			"%d characters cannot hold %d mandated characters", available, required)
	}
	return nil
}

// Fingerprint is a short stable digest of the policy. A policy change
// produces a new trigger key and therefore a new value.
func (p Policy) Fingerprint() string {
	override := "-"
	if p.OverrideSpecial != nil {
		override = "=" + *p.OverrideSpecial
	}
	canonical := fmt.Sprintf("%d|%t%t%t%t|%d,%d,%d,%d|%s|%s",
		p.Length, p.Lower, p.Upper, p.Numeric, p.Special,
		p.MinLower, p.MinUpper, p.MinNumeric, p.MinSpecial,
		override, p.ForcePrefix)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:4])
}

// Validate checks both policies.
func (cp CredentialPolicy) Validate() error {
	if err := cp.Login.Validate(); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if cp.Login.Special {
		return dserrors.PolicyViolation("login.special", "logins must be alphanumeric")
	}
	if !startsWithLetter(cp.Login.ForcePrefix) {
		return dserrors.PolicyViolation("login.force_prefix", "logins must start with a letter; set a prefix such as %q", DefaultLoginPrefix)
	}
	if err := cp.Password.Validate(); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	return nil
}

// Fingerprint digests both policies.
func (cp CredentialPolicy) Fingerprint() string {
	return cp.Login.Fingerprint() + cp.Password.Fingerprint()
}

var loginShape = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// ValidLogin reports whether login matches ^[A-Za-z][A-Za-z0-9]{length-1}$.
func ValidLogin(login string, length int) bool {
	return len(login) == length && loginShape.MatchString(login)
}

func startsWithLetter(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func validSpecialSet(s string) bool {
	seen := make(map[rune]bool, len(s))
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPunct(r) && !unicode.IsSymbol(r) || seen[r] {
			return false
		}
		seen[r] = true
	}
	return true
}
