package middleware

import (
	"net/http"
	"strings"

	"tillsync/internal/service"

	"github.com/gin-gonic/gin"
)

// JWTMiddleware guards queue administration. In dev mode the X-Dev-Pass
// header stands in for a token.
func JWTMiddleware(tokens *service.TokenService, devMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devMode && c.GetHeader("X-Dev-Pass") == "true" {
			ctx := service.WithOperator(c.Request.Context(), &service.OperatorInfo{
				UserID: "dev",
				Name:   "dev-operator",
				Role:   "admin",
			})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		tokenString := ""
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}

		op, err := tokens.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		c.Request = c.Request.WithContext(service.WithOperator(c.Request.Context(), op))
		c.Next()
	}
}
