package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Claims carried by tokens the identity service issues for live sessions.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	PIN         string `json:"pin,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidRole  = errors.New("invalid role")
)

// TokenConfig holds JWT signing configuration.
type TokenConfig struct {
	Secret    []byte
	AccessTTL time.Duration // default: 1 hour
	Issuer    string
}

// Manager validates tokens. Issuance lives in the identity service; Generate
// exists for tooling and tests.
type Manager struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
}

// NewManager creates a JWT token manager.
func NewManager(cfg TokenConfig) *Manager {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 1 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "live-quiz"
	}

	return &Manager{
		secret:    cfg.Secret,
		accessTTL: cfg.AccessTTL,
		issuer:    cfg.Issuer,
	}
}

// Identity is the subject a token is generated for.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
	PIN         string
}

// GenerateAccessToken signs a short-lived access token.
func (m *Manager) GenerateAccessToken(id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Role:        id.Role,
		PIN:         id.PIN,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateAccessToken parses and validates an access token.
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))

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
	if claims.Role != RoleTeacher && claims.Role != RoleStudent {
		return nil, ErrInvalidRole
	}

	return claims, nil
}
