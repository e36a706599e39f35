package auth

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
)

const (
	CtxUserIDKey = "user_id"
	CtxRoleKey   = "role"
)

func abort(c *gin.Context, err *apierr.APIError) {
	c.AbortWithStatusJSON(apierr.ToHTTPStatus(err), apierr.Body(err.Code, err.Message))
}

// RequireAuth: Authorization: Bearer <token> を検証して context に user_id/role を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			abort(c, apierr.ErrUnauthenticated("missing Authorization header"))
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, apierr.ErrUnauthenticated("invalid Authorization header"))
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			abort(c, apierr.ErrUnauthenticated("empty token"))
			return
		}

		claims, err := ParseToken(secret, tokenStr)
		if err != nil {
			abort(c, apierr.ErrUnauthenticated("invalid token"))
			return
		}
		uid, err := claims.UserID()
		if err != nil || uid <= 0 {
			abort(c, apierr.ErrUnauthenticated("invalid sub"))
			return
		}

		c.Set(CtxUserIDKey, uid)
		c.Set(CtxRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole: 例) admin のみ許可したい時に追加
func RequireRole(roles ...string) gin.HandlerFunc {
	roleSet := make(map[string]struct{})
	for _, r := range roles {
		if r == "" {
			continue
		}
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role := c.GetString(CtxRoleKey)
		if role == "" {
			abort(c, apierr.ErrForbidden("missing role"))
			return
		}
		if _, allowed := roleSet[role]; !allowed {
			abort(c, apierr.ErrForbidden("forbidden"))
			return
		}
		c.Next()
	}
}

// RequireSelfOrRole: パスの :param が自分の user_id か、roles のいずれかなら通す
func RequireSelfOrRole(param string, roles ...string) gin.HandlerFunc {
	byRole := RequireRole(roles...)
	return func(c *gin.Context) {
		if id, err := strconv.ParseInt(c.Param(param), 10, 64); err == nil {
			if uid, ok := CurrentUserID(c); ok && uid == id {
				c.Next()
				return
			}
		}
		byRole(c)
	}
}

func CurrentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
