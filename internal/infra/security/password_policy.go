package security

import (
	"strings"

	"github.com/arklim/appmarket-accounts/internal/core/port"
)

const (
	defaultMinPasswordLength   = 10
	defaultMaxPasswordLength   = 128
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// PasswordPolicy checks new account passwords. A validator is built per call so the
// strength rule can see the account's own email and display name.
type PasswordPolicy struct {
	minLength  int
	minClasses int
	minScore   int
}

// NewPasswordPolicy returns the registration policy: length, character mix and zxcvbn score.
func NewPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		minLength:  defaultMinPasswordLength,
		minClasses: defaultMinCharacterClasses,
		minScore:   defaultMinZxcvbnScore,
	}
}

func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	inputs := make([]string, 0, len(userInputs)*2)
	for _, input := range userInputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		inputs = append(inputs, input)
		if local, _, ok := strings.Cut(input, "@"); ok && local != "" {
			inputs = append(inputs, local)
		}
	}

	return NewPasswordValidator(
		MinLengthRule(p.minLength),
		MaxLengthRule(defaultMaxPasswordLength),
		RequireCharacterClassesRule(p.minClasses),
		RequirePasswordStrengthRule(p.minScore, inputs...),
	).Validate(password)
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
