package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the middleware for downstream handlers.
const (
	ContextCourierID = "courier_id"
	ContextSessionID = "session_id"
)

// CourierClaims is the JWT payload of a courier device token. The session id
// ties the token to one login; a newer login invalidates older tokens through
// session fencing, not token expiry.
type CourierClaims struct {
	CourierID int64  `json:"courier_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies courier device tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a token manager with the given HMAC secret.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for one courier session.
func (tm *TokenManager) Issue(courierID int64, sessionID string) (string, error) {
	now := time.Now()
	claims := CourierClaims{
		CourierID: courierID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("courier:%d", courierID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// Verify parses and validates a token, returning its claims.
func (tm *TokenManager) Verify(tokenString string) (*CourierClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CourierClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*CourierClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.CourierID == 0 || claims.SessionID == "" {
		return nil, errors.New("token missing courier or session identity")
	}
	return claims, nil
}

// Middleware authenticates courier requests via a Bearer token and exposes the
// courier and session ids to handlers.
func (tm *TokenManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		claims, err := tm.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ContextCourierID, claims.CourierID)
		c.Set(ContextSessionID, claims.SessionID)
		c.Next()
	}
}

// CourierFromContext returns the authenticated courier and session ids.
func CourierFromContext(c *gin.Context) (int64, string, bool) {
	courierID, ok := c.Get(ContextCourierID)
	if !ok {
		return 0, "", false
	}
	sessionID, ok := c.Get(ContextSessionID)
	if !ok {
		return 0, "", false
	}
	return courierID.(int64), sessionID.(string), true
}
