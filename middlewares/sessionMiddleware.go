package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/redis/go-redis/v9"
)

// SessionMiddleware resolves the handheld session token ("token" header) through
// redis and loads the user's role.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		rdb := config.GetRedisDB()
		if rdb == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		username, err := rdb.Get(c.Request.Context(), "Token:"+token).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "redis get", nil, err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		if db := config.GetDB(); db != nil {
			user, err := models.FindUserByUsername(db.WithContext(ctx), username)
			if err != nil {
				config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "FindUserByUsername", username, err)
			}
			if user == nil || !user.IsActive {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			ctx = utils.SetUserIdInContext(ctx, user.ID)
			ctx = utils.SetRoleInContext(ctx, string(user.Role))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestContext propagates the correlation id and the scanning device id.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader("x-correlation-id"))
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		if device := strings.TrimSpace(c.GetHeader("x-device-id")); device != "" {
			ctx = utils.SetDeviceIdInContext(ctx, device)
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
