package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"grip/internal/platform/config"
)

func newTestService() *TokenService {
	return NewTokenService(config.JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Hour,
		ClaimStateTTL:  10 * time.Minute,
	})
}

func TestAccessTokenRoundTrip(t *testing.T) {
	s := newTestService()

	token, err := s.GenerateAccessToken("usr_1", "octocat")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "usr_1" || claims.Login != "octocat" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestValidateTokenRejectsOtherSecret(t *testing.T) {
	token, _ := newTestService().GenerateAccessToken("usr_1", "octocat")

	other := NewTokenService(config.JWTConfig{Secret: "another", AccessTokenTTL: time.Hour})
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("expected signature error")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	s := NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: -time.Minute})
	token, _ := s.GenerateAccessToken("usr_1", "octocat")
	if _, err := s.ValidateToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestClaimStateIsNotASessionToken(t *testing.T) {
	s := newTestService()

	state, err := s.GenerateClaimState(ClaimState{UserID: "usr_1", OrganizationID: "org_1", Owner: "acme", Repo: "widgets"})
	if err != nil {
		t.Fatalf("GenerateClaimState() error = %v", err)
	}

	parsed, err := s.ParseClaimState(state)
	if err != nil {
		t.Fatalf("ParseClaimState() error = %v", err)
	}
	if parsed.OrganizationID != "org_1" || parsed.Repo != "widgets" {
		t.Errorf("unexpected state %+v", parsed)
	}

	session, _ := s.GenerateAccessToken("usr_1", "octocat")
	if _, err := s.ParseClaimState(session); err == nil {
		t.Error("session token must not be accepted as claim state")
	}
}

func TestGenerateAppToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	signed, err := GenerateAppToken(1234, key, time.Now())
	if err != nil {
		t.Fatalf("GenerateAppToken() error = %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("parse app token: %v", err)
	}
	if claims.Issuer != "1234" {
		t.Errorf("expected issuer 1234, got %s", claims.Issuer)
	}
}
