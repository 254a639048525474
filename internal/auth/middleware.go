package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aggreader/internal/database"
)

// UserContextKey is where middleware stores the resolved user.
const UserContextKey = "user"

// authHeaderPrefix is the GoogleLogin scheme used by Reader clients.
const authHeaderPrefix = "GoogleLogin auth="

type Middleware struct {
	service *Service
}

func NewMiddleware(service *Service) *Middleware {
	return &Middleware{service: service}
}

// RequireToken authenticates the request from its Authorization header
// and aborts with 401 when the token does not resolve.
func (m *Middleware) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			c.Header("WWW-Authenticate", `GoogleLogin realm="aggreader"`)
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		user, err := m.service.ValidateToken(token)
		if err != nil {
			c.Header("WWW-Authenticate", `GoogleLogin realm="aggreader"`)
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		c.Set(UserContextKey, user)
		c.Next()
	}
}

// TokenFromRequest extracts the bearer token from the GoogleLogin
// Authorization header.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, authHeaderPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, authHeaderPrefix))
}

// CurrentUser reads the authenticated user set by RequireToken.
func CurrentUser(c *gin.Context) *database.User {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return nil
	}
	user, ok := value.(*database.User)
	if !ok {
		return nil
	}
	return user
}
