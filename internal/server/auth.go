package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/dealbridge/internal/auditcontext"
)

const (
	RoleBuyer      = "buyer"
	RoleCardholder = "cardholder"
	RoleAdmin      = "admin"
)

const actorContextKey = "dealbridge.actor"

// Actor is the authenticated caller extracted from the bearer token.
type Actor struct {
	ID   snowflake.ID
	Role string
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func unauthorizedError() *apiError {
	return &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "missing or invalid credentials"}
}

func forbiddenError() *apiError {
	return &apiError{Status: http.StatusForbidden, Code: "forbidden", Message: "insufficient role"}
}

// RequireAuth validates the bearer token and stores the Actor on the
// request context.
func (s *Server) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			AbortWithError(c, unauthorizedError())
			return
		}

		claims := &tokenClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.cfg.Auth.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			AbortWithError(c, unauthorizedError())
			return
		}

		id, err := snowflake.ParseString(claims.Subject)
		if err != nil {
			AbortWithError(c, unauthorizedError())
			return
		}
		switch claims.Role {
		case RoleBuyer, RoleCardholder, RoleAdmin:
		default:
			AbortWithError(c, unauthorizedError())
			return
		}

		actor := Actor{ID: id, Role: claims.Role}
		c.Set(actorContextKey, actor)

		ctx := auditcontext.WithActor(c.Request.Context(), actor.Role, actor.ID.String())
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		if requestID := c.GetHeader("X-Request-Id"); requestID != "" {
			ctx = auditcontext.WithRequestID(ctx, requestID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole gates a route to specific roles; admin passes everything.
func (s *Server) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			AbortWithError(c, unauthorizedError())
			return
		}
		if actor.Role == RoleAdmin {
			c.Next()
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		AbortWithError(c, forbiddenError())
	}
}

func actorFrom(c *gin.Context) (Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	return actor, ok
}
