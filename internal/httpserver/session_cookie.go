package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"commercetools-storefront/internal/storefront"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionCookieName = "storefront_session"
	sessionCookieTTL  = 30 * 24 * time.Hour
	sessionIssuer     = "commercetools-storefront"
	storefrontKey     = "storefront"
)

// ErrInvalidSession is returned for cookies that fail verification.
var ErrInvalidSession = errors.New("invalid session cookie")

type sessionClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionCodec signs and verifies the cookie that binds a browser to its
// storefront instance.
type SessionCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionCodec(secret []byte) (*SessionCodec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	return &SessionCodec{secret: secret, ttl: sessionCookieTTL, now: time.Now}, nil
}

// Issue returns a signed token carrying sid.
func (s *SessionCodec) Issue(sid string) (string, error) {
	now := s.now()
	claims := sessionClaims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies token and returns its session id.
func (s *SessionCodec) Parse(token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(token, &sessionClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidSession
	}
	if _, err := uuid.Parse(claims.SID); err != nil {
		return "", fmt.Errorf("%w: bad sid", ErrInvalidSession)
	}
	return claims.SID, nil
}

// sessionMiddleware resolves the caller's storefront from the session
// cookie, starting a new session when the cookie is missing or invalid.
// The cookie is re-issued on every request so active browsers keep it.
func sessionMiddleware(codec *SessionCodec, registry *storefront.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := ""
		if raw, err := c.Cookie(sessionCookieName); err == nil && raw != "" {
			if parsed, err := codec.Parse(raw); err == nil {
				sid = parsed
			}
		}
		if sid == "" {
			sid = uuid.NewString()
		}

		token, err := codec.Issue(sid)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "session unavailable"})
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookieName, token, int(codec.ttl.Seconds()), "/", "", c.Request.TLS != nil, true)

		c.Set(storefrontKey, registry.Get(sid))
		c.Next()
	}
}

func storefrontFrom(c *gin.Context) *storefront.Storefront {
	return c.MustGet(storefrontKey).(*storefront.Storefront)
}
