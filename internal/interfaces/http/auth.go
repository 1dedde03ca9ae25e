package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/garyjia/reimburse-approvals/internal/domain/entity"
)

const principalKey = "principal"

// Claims are the token claims the API accepts. The subject is the
// principal id; everything else is reloaded from storage.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"company_id,omitempty"`
	Role      string `json:"role,omitempty"`
}

// PrincipalLoader looks up the principal named by a token subject
type PrincipalLoader interface {
	GetPrincipal(ctx context.Context, id string) (*entity.Principal, error)
}

// AuthConfig holds token verification settings
type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Authenticator verifies bearer tokens and resolves the acting principal
type Authenticator struct {
	config AuthConfig
	loader PrincipalLoader
	now    func() time.Time
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(config AuthConfig, loader PrincipalLoader) *Authenticator {
	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}
	return &Authenticator{config: config, loader: loader, now: time.Now}
}

// Issue signs a token for p. Tokens are normally minted by the identity
// provider; the API issues one at signup so a new tenant can log in.
func (a *Authenticator) Issue(p *entity.Principal) (string, error) {
	if a.config.Secret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenTTL)),
		},
		CompanyID: p.CompanyID,
		Role:      p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.Secret))
}

// Parse validates tokenString and returns its claims
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token's principal in the gin context
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			abort(c, http.StatusUnauthorized, "authorization header must be: Bearer <token>")
			return
		}

		claims, err := a.Parse(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		p, err := a.loader.GetPrincipal(c.Request.Context(), claims.Subject)
		if err != nil || p == nil {
			abort(c, http.StatusUnauthorized, "unknown principal")
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: msg})
}

// currentPrincipal returns the principal set by the auth middleware
func currentPrincipal(c *gin.Context) *entity.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*entity.Principal)
	return p
}
