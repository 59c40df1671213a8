package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

const issuer = "angple-messenger"

// Claims - messenger access token payload
// user_id is the stable identifier used as sender/receiver id
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
}

// Manager issues and verifies HMAC signed access tokens
type Manager struct {
	secretKey []byte
	expiresIn time.Duration
}

// NewManager creates a Manager; expiresIn is in seconds
func NewManager(secretKey string, expiresIn int) *Manager {
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &Manager{
		secretKey: []byte(secretKey),
		expiresIn: time.Duration(expiresIn) * time.Second,
	}
}

// GenerateToken signs an access token for userID
func (m *Manager) GenerateToken(userID, nickname string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken validates the signature and expiry and returns the claims
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
