package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/entity"
)

func TestValidateNormalizes(t *testing.T) {
	v := NewValidator(nil)

	out, err := v.Validate(entity.NewUser{Username: "  Bob_1 ", Email: "Bob1@Example.COM", Password: "Str0ngPass!"})
	require.NoError(t, err)
	assert.Equal(t, "bob_1", out.Username)
	assert.Equal(t, "bob1@example.com", out.Email)
	assert.Equal(t, "Str0ngPass!", out.Password)

	again, err := v.Validate(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestValidateUsername(t *testing.T) {
	v := NewValidator(nil)
	tests := []struct {
		username string
		ok       bool
	}{
		{"abc", false},
		{"abcd", true},
		{strings.Repeat("a", 16), true},
		{strings.Repeat("a", 17), false},
		{"with space", false},
		{"dash-and_under", true},
		{"émile", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			_, err := v.Validate(entity.NewUser{Username: tt.username, Email: "a@example.com", Password: "Str0ngPass!"})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			de := apperr.As(err)
			require.NotNil(t, de)
			assert.Equal(t, apperr.KindValidationFailed, de.Kind)
			assert.Equal(t, "username", de.Field())
		})
	}
}

func TestValidateEmail(t *testing.T) {
	v := NewValidator(nil)
	tests := []struct {
		email string
		ok    bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.org", true},
		{"no-at-sign.example.com", false},
		{"user@", false},
		{"@example.com", false},
		{"user@localhost", false},
		{"user@exa mple.com", false},
		{"user@-example.com", false},
		{strings.Repeat("a", 250) + "@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			_, err := v.Validate(entity.NewUser{Username: "valid", Email: tt.email, Password: "Str0ngPass!"})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, "email", apperr.As(err).Field())
		})
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	_, err := NewValidator(nil).Validate(entity.NewUser{Username: "ab", Email: "nope", Password: "short"})
	de := apperr.As(err)
	require.NotNil(t, de)
	require.Len(t, de.Violations, 3)
	assert.Equal(t, "username", de.Violations[0].Field)
	assert.Equal(t, "email", de.Violations[1].Field)
	assert.Equal(t, "password", de.Violations[2].Field)
	assert.NotContains(t, err.Error(), "short")
}

func TestStrengthPolicy(t *testing.T) {
	p := DefaultPasswordPolicy()
	tests := []struct {
		pw     string
		ok     bool
		reason string
	}{
		{"Str0ngPass!", true, ""},
		{"Sh0rt", false, "at least 8"},
		{"alllowercase1", false, "upper-case"},
		{"ALLUPPERCASE1", false, "lower-case"},
		{"NoDigitsHere", false, "digit"},
		{strings.Repeat("Aa1", 25), false, "at most 72"},
	}
	for _, tt := range tests {
		t.Run(tt.pw, func(t *testing.T) {
			reason, ok := p.Check(tt.pw)
			assert.Equal(t, tt.ok, ok)
			assert.Contains(t, reason, tt.reason)
		})
	}

	p.RequireSymbol = true
	_, ok := p.Check("Str0ngPass")
	assert.False(t, ok)
	_, ok = p.Check("Str0ngPass!")
	assert.True(t, ok)
}

type rejectAll struct{}

func (rejectAll) Check(string) (string, bool) { return "rejected by policy", false }

func TestValidatorUsesPluggablePolicy(t *testing.T) {
	_, err := NewValidator(rejectAll{}).Validate(entity.NewUser{Username: "valid", Email: "a@example.com", Password: "Str0ngPass!"})
	de := apperr.As(err)
	require.NotNil(t, de)
	assert.Equal(t, "password", de.Field())
	assert.Equal(t, "rejected by policy", de.Violations[0].Reason)
}
