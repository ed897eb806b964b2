package handler

import (
	"net/http"
	"strings"

	"github.com/choraleia/plugbot/pkg/event"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// LocalUserID is the identity used for every request when no JWT secret is
// configured.
const LocalUserID = "local"

// AuthMiddleware resolves the caller identity from an HS256 bearer token
// carrying a "userId" claim. The websocket endpoint may also pass the token
// as the "token" query parameter. With an empty secret all requests run as
// LocalUserID.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Set(event.IdentityKey, LocalUserID)
			c.Next()
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer"))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}
		userID, ok := claims["userId"].(string)
		if !ok || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token userId"})
			return
		}

		c.Set(event.IdentityKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(event.IdentityKey)
}
