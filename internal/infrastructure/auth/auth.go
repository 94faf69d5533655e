// Package auth resolves the calling user from a JWT, or from trusted headers when auth is off.
package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/config"
)

const (
	principalKey = "auth_principal"

	// HeaderUserID and HeaderStaff identify the caller when auth is disabled.
	HeaderUserID = "X-User-ID"
	HeaderStaff  = "X-User-Staff"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID  string
	IsStaff bool
}

// Validator validates JWTs using JWKS.
type Validator struct {
	cfg     *config.Config
	log     zerolog.Logger
	jwks    *keyfunc.JWKS
	keyfunc jwt.Keyfunc
}

// NewValidator initializes JWKS fetching when auth is enabled.
func NewValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Validator, error) {
	log = log.With().Str("component", "auth").Logger()
	if !cfg.AuthEnabled {
		return &Validator{cfg: cfg, log: log}, nil
	}

	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Msg("jwks refresh error")
		},
	}

	jwks, err := keyfunc.Get(cfg.AuthJWKSURL, options)
	if err != nil {
		return nil, err
	}

	return &Validator{
		cfg:     cfg,
		log:     log,
		jwks:    jwks,
		keyfunc: jwks.Keyfunc,
	}, nil
}

// Middleware resolves the Principal of every request or aborts with 401.
func (v *Validator) Middleware() gin.HandlerFunc {
	if !v.cfg.AuthEnabled {
		return func(c *gin.Context) {
			userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
			if userID == "" {
				abortUnauthorized(c, "missing "+HeaderUserID+" header")
				return
			}
			staff, _ := strconv.ParseBool(c.GetHeader(HeaderStaff))
			c.Set(principalKey, Principal{UserID: userID, IsStaff: staff})
			c.Next()
		}
	}

	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		token, err := jwt.Parse(tokenString, v.keyfunc,
			jwt.WithIssuer(v.cfg.AuthIssuer),
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		)
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abortUnauthorized(c, "invalid token claims")
			return
		}

		if audience := strings.TrimSpace(v.cfg.Account); audience != "" && !hasAudience(claims, audience) {
			abortUnauthorized(c, "invalid token audience")
			return
		}

		principal, ok := principalFromClaims(claims, v.cfg.AuthStaffRole)
		if !ok {
			abortUnauthorized(c, "token has no subject")
			return
		}

		c.Set("auth_token", token)
		c.Set(principalKey, principal)
		c.Next()
	}
}

// Ready indicates if the validator is prepared.
func (v *Validator) Ready() bool {
	if v == nil || !v.cfg.AuthEnabled {
		return true
	}
	return v.jwks != nil
}

// Close stops the JWKS refresh loop.
func (v *Validator) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// FromContext returns the principal set by the middleware.
func FromContext(c *gin.Context) (Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := value.(Principal)
	return p, ok
}

// SetPrincipal stores p on the request, as the middleware does.
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

func principalFromClaims(claims jwt.MapClaims, staffRole string) (Principal, bool) {
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return Principal{}, false
	}
	return Principal{UserID: subject, IsStaff: hasRealmRole(claims, staffRole)}, true
}

func hasRealmRole(claims jwt.MapClaims, role string) bool {
	if role == "" {
		return false
	}
	realm, ok := claims["realm_access"].(map[string]any)
	if !ok {
		return false
	}
	roles, ok := realm["roles"].([]any)
	if !ok {
		return false
	}
	for _, r := range roles {
		if s, ok := r.(string); ok && s == role {
			return true
		}
	}
	return false
}

func hasAudience(claims jwt.MapClaims, audience string) bool {
	audClaim, ok := claims["aud"]
	if !ok {
		return true
	}
	switch aud := audClaim.(type) {
	case string:
		return aud == audience
	case []any:
		for _, entry := range aud {
			if s, ok := entry.(string); ok && s == audience {
				return true
			}
		}
	}
	return false
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
	})
}
