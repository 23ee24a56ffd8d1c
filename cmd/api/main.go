package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/feed"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	repo := session.NewRepository(db.Client)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var f feed.Feed
	if cfg.FeedBackend == "memory" {
		f = feed.NewInMemory(64)
	} else {
		f = feed.NewRedisFeed(redisClient.Client, "")
	}

	svc := session.NewService(repo, f, cfg.AppURL, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/sessions", func(c *gin.Context) {
		var req struct {
			LectureName     string `json:"lecture_name" binding:"required"`
			DurationMinutes int    `json:"duration_minutes" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
			return
		}

		sess, err := svc.CreateSession(c.Request.Context(), req.LectureName, req.DurationMinutes)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		operatorToken, err := auth.IssueOperator(sess.ID, cfg.JWTIssuer, cfg.JWTSigningKey, sess.ExpiresAt)
		if err != nil {
			logger.Error("operator token issue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"session_id":     sess.ID,
			"session_url":    "/session/" + sess.ID,
			"operator_token": operatorToken,
		})
	})

	r.GET("/v1/sessions/:sessionID", func(c *gin.Context) {
		sess, err := svc.GetSession(c.Request.Context(), c.Param("sessionID"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	r.GET("/v1/sessions/:sessionID/current-qr", func(c *gin.Context) {
		qr, err := svc.CurrentQR(c.Request.Context(), c.Param("sessionID"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, qr)
	})

	r.POST("/v1/sessions/:sessionID/attend", func(c *gin.Context) {
		var req session.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
			return
		}
		att, err := svc.SubmitAttendance(c.Request.Context(), c.Param("sessionID"), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success":      true,
			"attendee_id":  att.ID,
			"submitted_at": att.SubmittedAt,
		})
	})

	operator := r.Group("/v1/sessions/:sessionID", auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	operator.GET("/attendees", func(c *gin.Context) {
		attendees, err := svc.ListAttendees(c.Request.Context(), c.Param("sessionID"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		if attendees == nil {
			attendees = []session.Attendee{}
		}
		c.JSON(http.StatusOK, gin.H{"attendees": attendees, "total": len(attendees)})
	})

	operator.DELETE("/attendees/:attendeeID", func(c *gin.Context) {
		err := svc.RemoveAttendee(c.Request.Context(), c.Param("sessionID"), c.Param("attendeeID"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	operator.PATCH("/end", func(c *gin.Context) {
		if err := svc.EndSession(c.Request.Context(), c.Param("sessionID")); err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	operator.GET("/export", func(c *gin.Context) {
		filename, body, err := svc.Export(c.Request.Context(), c.Param("sessionID"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(body))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// respondError maps gate outcomes to status codes. Every classified
// rejection is an expected client outcome; only store failures are logged.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, session.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "expired"})
	case errors.Is(err, session.ErrEnded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "ended"})
	case errors.Is(err, session.ErrTokenInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "token_invalid"})
	case errors.Is(err, session.ErrDuplicateMatric):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_matric"})
	case errors.Is(err, session.ErrDuplicateDevice):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_device"})
	default:
		logger.Error("store failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_unavailable"})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
