package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/siwaht/EchoSenseiX-sub003/internal/auth"
	"github.com/siwaht/EchoSenseiX-sub003/internal/httpx"
)

// AuthRequired is a middleware that validates the JWT token and stores the
// caller's identity and tenant in the request context
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httpx.FailErr(c, httpx.ErrUnauthorized("missing authorization header"))
			c.Abort()
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid authorization header format"))
			c.Abort()
			return
		}

		tokenString := parts[1]

		// Parse and validate token
		claims, err := auth.ParseToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				httpx.FailErr(c, httpx.ErrTokenExpired("token expired"))
			} else {
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid token"))
			}
			c.Abort()
			return
		}

		// Set user info in context
		c.Set("uid", claims.UID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Set("orgId", claims.OrgID)

		c.Next()
	}
}

// AdminRequired gates a route group to administrators. Must run after
// AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get("role")
		if role != "admin" {
			httpx.FailErr(c, httpx.ErrForbidden("administrator role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallerUID returns the authenticated user's id from the request context
func CallerUID(c *gin.Context) int {
	uid, _ := c.Get("uid")
	id, _ := uid.(int)
	return id
}

// CallerOrgID returns the authenticated user's organization id from the
// request context
func CallerOrgID(c *gin.Context) string {
	orgID, _ := c.Get("orgId")
	id, _ := orgID.(string)
	return id
}
