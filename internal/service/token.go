package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const Issuer = "tillsync"

var ErrTokenInvalid = errors.New("token invalid")

// UserClaims carries the operator identity in queue-admin tokens.
type UserClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"sub"`
	Role     string `json:"role"`
	Terminal string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies operator tokens with a shared HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

func (s *TokenService) Issue(op OperatorInfo) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID:   op.UserID,
		Username: op.Name,
		Role:     op.Role,
		Terminal: op.Terminal,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *TokenService) Parse(token string) (*OperatorInfo, error) {
	parsed, err := jwt.ParseWithClaims(token, &UserClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*UserClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	return &OperatorInfo{
		UserID:   claims.UserID,
		Name:     claims.Username,
		Role:     claims.Role,
		Terminal: claims.Terminal,
	}, nil
}
