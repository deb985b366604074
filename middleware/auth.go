package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/agribbs/models"
	"github.com/cppla/agribbs/services"
	"github.com/cppla/agribbs/utils"
)

const (
	// ContextCallerKey is the key used to store the authenticated caller in Gin context.
	ContextCallerKey = "caller"
	// ContextUserIDKey stores the authenticated user ID.
	ContextUserIDKey = "user_id"
)

// IdentityLookup resolves the account behind a token.
type IdentityLookup interface {
	FindUser(ctx context.Context, id uint) (*models.User, error)
}

// Authenticator turns bearer tokens into callers.
type Authenticator struct {
	secret string
	users  IdentityLookup
	log    *zap.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(secret string, users IdentityLookup, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{secret: secret, users: users, log: log}
}

// Required rejects requests without a valid token for an active account.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetHeader("Authorization") == "" {
			utils.Abort(ctx, http.StatusUnauthorized, "authorization header missing")
			return
		}
		if a.authenticate(ctx) {
			ctx.Next()
		}
	}
}

// Optional attaches the caller when a token is present. Requests without one
// continue as anonymous; a bad token is still rejected.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetHeader("Authorization") == "" {
			ctx.Next()
			return
		}
		if a.authenticate(ctx) {
			ctx.Next()
		}
	}
}

// authenticate validates the header and stores the caller. On failure it has
// already aborted the request.
func (a *Authenticator) authenticate(ctx *gin.Context) bool {
	parts := strings.SplitN(ctx.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		utils.Abort(ctx, http.StatusUnauthorized, "invalid authorization header format")
		return false
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		utils.Abort(ctx, http.StatusUnauthorized, "empty bearer token")
		return false
	}

	claims, err := utils.ParseToken(a.secret, tokenString)
	if err != nil {
		utils.Abort(ctx, http.StatusUnauthorized, "invalid token")
		return false
	}

	user, err := a.users.FindUser(ctx.Request.Context(), claims.UserID)
	if err != nil {
		if services.IsNotFound(err) {
			utils.Abort(ctx, http.StatusUnauthorized, "user not found")
			return false
		}
		a.log.Error("identity lookup failed", zap.Uint("user_id", claims.UserID), zap.Error(err))
		utils.Abort(ctx, http.StatusInternalServerError, "server error")
		return false
	}
	if !user.IsActive {
		utils.Abort(ctx, http.StatusForbidden, "account is deactivated")
		return false
	}

	ctx.Set(ContextCallerKey, services.Caller{
		ID:        user.ID,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
		Role:      user.Role,
	})
	ctx.Set(ContextUserIDKey, user.ID)
	return true
}

// AdminRequired must run after Required.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !CallerFrom(ctx).IsAdmin() {
			utils.Abort(ctx, http.StatusForbidden, "admin access required")
			return
		}
		ctx.Next()
	}
}

// CallerFrom returns the caller stored by the Authenticator, or an anonymous caller.
func CallerFrom(ctx *gin.Context) services.Caller {
	if v, ok := ctx.Get(ContextCallerKey); ok {
		if c, ok := v.(services.Caller); ok {
			return c
		}
	}
	return services.Caller{}
}
