package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsContextKey = "Claims"

// AccountClaims are the JWT claims the API accepts. A token is scoped to one
// account unless Admin is set.
type AccountClaims struct {
	Account string `json:"account"`
	Admin   bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for account.
func GenerateToken(secret, account string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccountClaims{
		Account: account,
		Admin:   admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (*AccountClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccountClaims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*AccountClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes. An empty secret
// disables authentication.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		tokenStr, ok := bearerToken(c)
		if !ok {
			return
		}
		claims, err := parseToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// bearerToken reads the Authorization header, or the token query parameter
// for clients such as browser websockets that cannot set headers. It aborts
// the request when neither carries a usable token.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":  "MISSING_TOKEN",
			"error": "missing Authorization header",
		})
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_AUTH_HEADER",
			"error": "invalid Authorization header",
		})
		return "", false
	}
	return parts[1], true
}

// CurrentClaims returns the authenticated claims, or nil when auth is off.
func CurrentClaims(c *gin.Context) *AccountClaims {
	if v, ok := c.Get(claimsContextKey); ok {
		if claims, okCast := v.(*AccountClaims); okCast {
			return claims
		}
	}
	return nil
}

// requestAccount resolves the account a request acts on: the token's
// account, then the fallback.
func requestAccount(c *gin.Context, fallback string) string {
	if claims := CurrentClaims(c); claims != nil && !claims.Admin {
		return claims.Account
	}
	return fallback
}

// requireAccount rejects tokens scoped to another account than :account.
func requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims != nil && !claims.Admin && claims.Account != c.Param("account") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "FORBIDDEN",
				"error": "token is not valid for this account",
			})
			return
		}
		c.Next()
	}
}

// requireAdmin rejects non-admin tokens.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := CurrentClaims(c); claims != nil && !claims.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "FORBIDDEN",
				"error": "admin token required",
			})
			return
		}
		c.Next()
	}
}
