package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type subjectKey struct{}

// GetSubject returns the token subject stored by JWTMiddleware.
func GetSubject(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	subject, ok := ctx.Value(subjectKey{}).(string)
	return subject, ok && subject != ""
}

// JWTMiddleware accepts HMAC-signed bearer tokens that carry a subject and
// an expiry. A non-empty audience must appear in the token's aud claim.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if aud := strings.TrimSpace(audience); aud != "" {
		options = append(options, jwt.WithAudience(aud))
	}
	parser := jwt.NewParser(options...)
	keyFunc := func(*jwt.Token) (interface{}, error) { return key, nil }

	return func(c *gin.Context) {
		if len(key) == 0 {
			deny(c, "gateway auth is not configured")
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			deny(c, "bearer token required")
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
			deny(c, "invalid token")
			return
		}
		if claims.Subject == "" {
			deny(c, "token has no subject")
			return
		}

		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), subjectKey{}, claims.Subject))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
