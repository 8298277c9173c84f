package user

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/entity"
)

const (
	usernamePattern = `^[a-zA-Z0-9_-]{4,16}$`
	emailPattern    = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?)+$`
	maxEmailLength  = 255
)

// PasswordPolicy decides whether a plaintext password is acceptable. It
// returns a human readable reason on rejection.
type PasswordPolicy interface {
	Check(pw string) (reason string, ok bool)
}

// StrengthPolicy is a length/composition policy.
type StrengthPolicy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy requires 8 to 72 bytes with upper, lower and digit.
// 72 is the bcrypt input bound.
func DefaultPasswordPolicy() StrengthPolicy {
	return StrengthPolicy{MinLength: 8, MaxLength: 72, RequireUpper: true, RequireLower: true, RequireDigit: true}
}

func (p StrengthPolicy) Check(pw string) (string, bool) {
	if len(pw) < p.MinLength {
		return fmt.Sprintf("must be at least %d characters", p.MinLength), false
	}
	if p.MaxLength > 0 && len(pw) > p.MaxLength {
		return fmt.Sprintf("must be at most %d bytes", p.MaxLength), false
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	var missing []string
	if p.RequireUpper && !upper {
		missing = append(missing, "an upper-case letter")
	}
	if p.RequireLower && !lower {
		missing = append(missing, "a lower-case letter")
	}
	if p.RequireDigit && !digit {
		missing = append(missing, "a digit")
	}
	if p.RequireSymbol && !symbol {
		missing = append(missing, "a symbol")
	}
	if len(missing) > 0 {
		return "must contain " + strings.Join(missing, ", "), false
	}
	return "", true
}

// Validator checks and normalizes registration input. Patterns are compiled
// once; a Validator is immutable and safe for concurrent use.
type Validator struct {
	username *regexp.Regexp
	email    *regexp.Regexp
	policy   PasswordPolicy
}

// NewValidator compiles the patterns. A nil policy selects DefaultPasswordPolicy.
func NewValidator(policy PasswordPolicy) *Validator {
	if policy == nil {
		policy = DefaultPasswordPolicy()
	}
	return &Validator{
		username: regexp.MustCompile(usernamePattern),
		email:    regexp.MustCompile(emailPattern),
		policy:   policy,
	}
}

// Validate reports every offending field as a single ValidationFailed error.
// On success it returns the input trimmed, with username and email lower-cased.
func (v *Validator) Validate(in entity.NewUser) (entity.NewUser, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	var violations []apperr.Violation
	if !v.username.MatchString(username) {
		violations = append(violations, apperr.Violation{
			Field:  "username",
			Reason: "must be 4-16 characters of letters, digits, '_' or '-'",
		})
	}
	if len(email) > maxEmailLength || !v.email.MatchString(email) {
		violations = append(violations, apperr.Violation{Field: "email", Reason: "invalid email address"})
	}
	if reason, ok := v.policy.Check(in.Password); !ok {
		violations = append(violations, apperr.Violation{Field: "password", Reason: reason})
	}
	if len(violations) > 0 {
		return entity.NewUser{}, apperr.ValidationFailed(violations...)
	}

	return entity.NewUser{
		Username: strings.ToLower(username),
		Email:    strings.ToLower(email),
		Password: in.Password,
	}, nil
}
