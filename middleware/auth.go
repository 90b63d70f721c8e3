package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dropgate/dropgate/config"
	"github.com/dropgate/dropgate/utils"
)

const (
	// ContextUserIDKey is the key used to store the authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextRoleKey stores the caller's role inside Gin context.
	ContextRoleKey = "role"

	// RoleAdmin marks callers allowed to manage any grant.
	RoleAdmin = "admin"
)

// roleFor resolves the effective role: a token role, or admin when the
// subject is allow-listed in configuration.
func roleFor(subject, tokenRole string) string {
	if tokenRole != "" {
		return tokenRole
	}
	for _, name := range config.Get().AdminUsernames {
		if name == subject {
			return RoleAdmin
		}
	}
	return ""
}

func bearerToken(ctx *gin.Context) (string, bool) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, ok := bearerToken(ctx)
		if !ok {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization required")
			ctx.Abort()
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid token")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, claims.Subject)
		ctx.Set(ContextRoleKey, roleFor(claims.Subject, claims.Role))
		ctx.Next()
	}
}

// OptionalAuth attaches identity when a valid token is present but never
// rejects the request. Anonymous callers simply carry no identity.
func OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token, ok := bearerToken(ctx); ok {
			if claims, err := utils.ParseToken(token); err == nil {
				ctx.Set(ContextUserIDKey, claims.Subject)
				ctx.Set(ContextRoleKey, roleFor(claims.Subject, claims.Role))
			}
		}
		ctx.Next()
	}
}

// AdminRequired allows only admin-role callers through. Must run after
// AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetString(ContextRoleKey) != RoleAdmin {
			utils.Error(ctx, http.StatusForbidden, 40301, "admin access required")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// CallerID returns the authenticated user ID, or "" for anonymous requests.
func CallerID(ctx *gin.Context) string {
	return ctx.GetString(ContextUserIDKey)
}

// IsAdmin reports whether the caller carries the admin role.
func IsAdmin(ctx *gin.Context) bool {
	return ctx.GetString(ContextRoleKey) == RoleAdmin
}
