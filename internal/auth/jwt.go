package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleDevice is the only role admitted on the WebSocket endpoint
	RoleDevice = "device"

	bearerPrefix = "Bearer "

	defaultTokenTTL = 24 * time.Hour
)

var (
	// ErrMissingToken is returned when no bearer token was presented
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when a token fails validation
	ErrInvalidToken = errors.New("invalid token")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	DeviceID string `json:"device_id"`
	ClientID string `json:"client_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Validator issues and validates HS256 device tokens
type Validator struct {
	secret []byte
	ttl    time.Duration
}

// NewValidator creates a validator for the given shared secret
func NewValidator(secret string) *Validator {
	return &Validator{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
	}
}

// WithTTL returns a copy of the validator issuing tokens with the given lifetime
func (v *Validator) WithTTL(ttl time.Duration) *Validator {
	return &Validator{secret: v.secret, ttl: ttl}
}

// GenerateDeviceToken generates a JWT token for device authentication
func (v *Validator) GenerateDeviceToken(deviceID, clientID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(v.ttl)
	claims := &JWTClaims{
		DeviceID: deviceID,
		ClientID: clientID,
		Role:     RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a device token and returns its claims
func (v *Validator) ValidateToken(tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleDevice {
		return nil, fmt.Errorf("%w: role %q is not allowed", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
