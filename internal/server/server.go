// Package server はルーティングとミドルウェアを組み立てる。
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"library-backend/internal/library/books"
	"library-backend/internal/library/loans"
	"library-backend/internal/library/users"
	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/config"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/docs"
	"library-backend/internal/platform/httpx"
)

const apiPrefix = "/api/v1"

func New(cfg *config.Config, conn *sql.DB, d db.Dialect, log *slog.Logger) *gin.Engine {
	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.AccessLog(log), httpx.Timeout(cfg.HTTP.RequestTimeout))
	_ = r.SetTrustedProxies(nil)

	if cfg.IsDev() && len(cfg.HTTP.AllowOrigins) > 0 {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.HTTP.AllowOrigins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location", httpx.HeaderRequestID},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			log.WarnContext(ctx, "healthz: db ping failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cfg.Version})
	})
	docs.RegisterRoutes(r)

	authSvc := auth.NewService(auth.NewStore(conn), []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.Auth.LoginPerMinute)

	public := r.Group(apiPrefix)
	protected := r.Group(apiPrefix, auth.RequireAuth(authSvc.Secret()))

	auth.RegisterRoutes(public, authSvc)
	users.RegisterRoutes(public, protected, users.NewService(conn, d))
	// 蔵書の登録・更新・削除（在庫数の直接変更を含む）は admin のみ
	catalog := protected.Group("", auth.RequireRole(auth.RoleAdmin))
	books.RegisterRoutes(public, catalog, books.NewService(conn, d))
	loans.RegisterRoutes(protected, loans.NewService(loans.NewStore(conn, d), loans.WithLogger(log)))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, apierr.Body(apierr.CodeNotFound, "route not found"))
	})
	return r
}
