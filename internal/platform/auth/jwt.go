package auth

import (
	"crypto/rsa"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"grip/internal/platform/config"
)

const issuer = "grip"

type Claims struct {
	UserID string `json:"uid"`
	Login  string `json:"login"`
	jwt.RegisteredClaims
}

// ClaimState is the signed state carried through a GitHub App installation round trip.
type ClaimState struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
	Owner          string `json:"owner,omitempty"`
	Repo           string `json:"repo,omitempty"`
	CallbackURL    string `json:"callbackUrl,omitempty"`
	jwt.RegisteredClaims
}

type TokenService struct {
	config config.JWTConfig
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{config: cfg}
}

func (s *TokenService) GenerateAccessToken(userID, login string) (string, error) {
	claims := Claims{
		UserID: userID,
		Login:  login,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *TokenService) GenerateClaimState(state ClaimState) (string, error) {
	state.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   state.UserID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.config.ClaimStateTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{"github-install"},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, state)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) ParseClaimState(tokenString string) (*ClaimState, error) {
	state := &ClaimState{}
	if err := s.parse(tokenString, state, jwt.WithAudience("github-install")); err != nil {
		return nil, err
	}
	if state.UserID == "" {
		return nil, errors.New("invalid state")
	}
	return state, nil
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithIssuer(issuer))
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// GenerateAppToken signs the short-lived RS256 JWT GitHub expects from an App before it
// hands out installation tokens. iat is backdated to absorb clock drift.
func GenerateAppToken(appID int64, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(key)
}
