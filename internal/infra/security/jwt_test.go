package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokenService(t *testing.T, now time.Time) *TokenService {
	t.Helper()
	svc, err := NewTokenService(testSecret, "PLI-Sistema", "PLI-Users", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService returned error: %v", err)
	}
	return svc.WithClock(func() time.Time { return now })
}

func TestTokenServiceRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, now)

	token, exp, err := svc.Issue(Claims{UserID: "u-1", Email: "a@pli.gov.br", Name: "Ana", Status: "active", SessionID: "s-1"}, 0)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.UserID != "u-1" || claims.SessionID != "s-1" || claims.Name != "Ana" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "PLI-Sistema" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
}

func TestTokenServiceFailuresAreIndistinguishable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, now)

	token, _, err := svc.Issue(Claims{UserID: "u-1"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	expired := newTestTokenService(t, now.Add(2*time.Minute))
	_, expiredErr := expired.Verify(token)

	other, err := NewTokenService("fedcba9876543210fedcba9876543210", "PLI-Sistema", "PLI-Users", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService returned error: %v", err)
	}
	_, badSigErr := other.WithClock(func() time.Time { return now }).Verify(token)

	_, malformedErr := svc.Verify("not.a.jwt")

	wrongAud, _ := NewTokenService(testSecret, "PLI-Sistema", "someone-else", time.Hour)
	_, audErr := wrongAud.WithClock(func() time.Time { return now }).Verify(token)

	for name, got := range map[string]error{
		"expired":   expiredErr,
		"bad_sig":   badSigErr,
		"malformed": malformedErr,
		"audience":  audErr,
	} {
		if !errors.Is(got, ErrInvalidToken) || got.Error() != ErrInvalidToken.Error() {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, got)
		}
	}
}

func TestTokenServiceRejectsAlgNone(t *testing.T) {
	now := time.Now()
	svc := newTestTokenService(t, now)

	claims := Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "PLI-Sistema",
		Audience:  jwt.ClaimStrings{"PLI-Users"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := svc.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

func TestNewTokenServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", "i", "a", time.Hour); !errors.Is(err, ErrWeakSigningKey) {
		t.Fatalf("expected ErrWeakSigningKey, got %v", err)
	}
}

func TestTokenHelpers(t *testing.T) {
	hexToken, err := GenerateHexToken(32)
	if err != nil {
		t.Fatalf("GenerateHexToken returned error: %v", err)
	}
	if len(hexToken) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hexToken))
	}
	if HashToken(hexToken) == hexToken || len(HashToken(hexToken)) != 64 {
		t.Fatalf("unexpected digest")
	}
	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
