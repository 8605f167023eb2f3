package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// SpecialCharacters is the accepted set for the special-character rule.
const SpecialCharacters = `!@#$%^&*(),.?":{}|<>`

const defaultMinPasswordLength = 8

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string) *PasswordValidationError
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) *PasswordValidationError

// Validate executes the underlying rule function.
func (f PasswordRuleFunc) Validate(password string) *PasswordValidationError {
	return f(password)
}

// PasswordStrength is the outcome of checking every rule. Score is the zxcvbn 0-4
// estimate and is informational only.
type PasswordStrength struct {
	Valid      bool                      `json:"valida"`
	Violations []PasswordValidationError `json:"erros"`
	Score      int                       `json:"score"`
}

// Messages returns the violation messages in rule order.
func (p PasswordStrength) Messages() []string {
	out := make([]string, 0, len(p.Violations))
	for _, v := range p.Violations {
		out = append(out, v.Message)
	}
	return out
}

// PasswordValidator applies every configured rule and reports all violations.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator constructs a validator with the provided rules.
func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordValidator{rules: copied}
}

// DefaultPasswordValidator enforces length >= 8 plus upper, lower, digit and special characters.
func DefaultPasswordValidator() *PasswordValidator {
	return NewPasswordValidator(
		MinLengthRule(defaultMinPasswordLength),
		RequireUppercaseRule(),
		RequireLowercaseRule(),
		RequireDigitRule(),
		RequireSpecialRule(SpecialCharacters),
	)
}

// Check evaluates every rule independently.
func (v *PasswordValidator) Check(password string, userInputs ...string) PasswordStrength {
	result := PasswordStrength{Violations: []PasswordValidationError{}}
	if v != nil {
		for _, rule := range v.rules {
			if violation := rule.Validate(password); violation != nil {
				result.Violations = append(result.Violations, *violation)
			}
		}
	}
	result.Valid = len(result.Violations) == 0
	if password != "" {
		result.Score = zxcvbn.PasswordStrength(password, userInputs).Score
	}
	return result
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("A senha deve ter pelo menos %d caracteres", min),
			}
		}
		return nil
	})
}

// RequireUppercaseRule ensures at least one uppercase letter.
func RequireUppercaseRule() PasswordRule {
	return classRule("uppercase", "A senha deve conter pelo menos uma letra maiúscula", unicode.IsUpper)
}

// RequireLowercaseRule ensures at least one lowercase letter.
func RequireLowercaseRule() PasswordRule {
	return classRule("lowercase", "A senha deve conter pelo menos uma letra minúscula", unicode.IsLower)
}

// RequireDigitRule ensures the password contains at least one digit.
func RequireDigitRule() PasswordRule {
	return classRule("digit", "A senha deve conter pelo menos um número", unicode.IsDigit)
}

// RequireSpecialRule ensures at least one character from charset.
func RequireSpecialRule(charset string) PasswordRule {
	return classRule("special", "A senha deve conter pelo menos um caractere especial", func(r rune) bool {
		return strings.ContainsRune(charset, r)
	})
}

func classRule(code, message string, match func(rune) bool) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		for _, r := range password {
			if match(r) {
				return nil
			}
		}
		return &PasswordValidationError{Code: code, Message: message}
	})
}
