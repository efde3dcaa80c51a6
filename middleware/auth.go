package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/alsoviewed/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
)

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(ctx *gin.Context) (token string, present bool) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

// identify validates token and stores the identity in the context.
func identify(ctx *gin.Context, token string) bool {
	if token == "" || utils.IsTokenBlacklisted(ctx.Request.Context(), token) {
		return false
	}
	claims, err := utils.ParseToken(token)
	if err != nil {
		return false
	}
	ctx.Set(ContextUserIDKey, claims.UserID)
	ctx.Set(ContextUsernameKey, claims.Username)
	return true
}

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, present := bearerToken(ctx)
		if !present {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
			ctx.Abort()
			return
		}
		if token == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
			ctx.Abort()
			return
		}
		if !identify(ctx, token) {
			utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid or revoked token")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// OptionalAuth identifies the visitor when a valid bearer token is sent and
// lets anonymous requests through untouched. Invalid tokens count as anonymous.
func OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token, present := bearerToken(ctx); present {
			identify(ctx, token)
		}
		ctx.Next()
	}
}

// IsAuthenticated reports whether an earlier auth middleware identified the visitor.
func IsAuthenticated(ctx *gin.Context) bool {
	_, ok := ctx.Get(ContextUserIDKey)
	return ok
}
