package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthport/healthport/internal/config"
	"github.com/healthport/healthport/internal/family"
	"github.com/healthport/healthport/internal/guard"
	"github.com/healthport/healthport/internal/identity"
	"github.com/healthport/healthport/internal/otp"
	"github.com/healthport/healthport/internal/platform/auth"
	"github.com/healthport/healthport/internal/platform/db"
	"github.com/healthport/healthport/internal/platform/middleware"
	"github.com/healthport/healthport/internal/platform/notification"
	platformredis "github.com/healthport/healthport/internal/platform/redis"
	"github.com/healthport/healthport/internal/profile"
	"github.com/healthport/healthport/internal/report"
	"github.com/healthport/healthport/internal/resolver"
	"github.com/healthport/healthport/pkg/pagination"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Health report portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Database
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis: one-time codes, session revocation, share tokens
	rdb, err := platformredis.NewClient(ctx, cfg.RedisURL, "", 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	logger.Info().Msg("connected to redis")

	// SMS channel. The log sender stands in for a real gateway; delivery
	// still goes through the retry wrapper so gateway wiring is a one-line
	// swap.
	var sms notification.SMSSender = &notification.RetrySender{
		Next: &notification.LogSender{Logger: logger},
	}

	// Stores and services
	codeStore := identity.NewRedisCodeStore(rdb)
	sessionStore := identity.NewRedisSessionStore(rdb)

	jwtCfg := auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		TTL:    cfg.SessionTTL(),
		Revoked: func(ctx context.Context, sessionID string) bool {
			return sessionStore.IsRevoked(ctx, sessionID)
		},
	}

	identitySvc := identity.NewService(
		identity.NewUserRepoPG(pool),
		codeStore,
		sessionStore,
		sms,
		jwtCfg,
		cfg.OTPCodeTTL(),
		logger,
	)

	profileSvc := profile.NewService(profile.NewRepoPG(pool), identitySvc, logger)

	resolverSvc := resolver.NewService(
		resolver.NewMembershipRepoPG(pool),
		cfg.RoleTimeout(),
		logger,
	)

	reportSvc := report.NewService(
		report.NewRepoPG(pool),
		report.NewGrantRepoPG(pool),
		report.NewRedisShareStore(rdb, 30*24*time.Hour),
		profileSvc,
		cfg.BaseURL,
		logger,
	)

	familySvc := family.NewService(
		family.NewMemberRepoPG(pool),
		family.NewInviteRepoPG(pool),
		reportSvc,
		profileSvc,
		cfg.BaseURL,
		cfg.InviteTTL(),
		logger,
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(auth.JWTMiddleware(jwtCfg))
	e.Use(resolverSvc.Middleware())

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// API group with the general rate limit; OTP send gets its own tighter
	// bucket on top.
	api := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	public := e.Group("")

	otp.NewHandler(identitySvc, profileSvc, cfg.ResendCooldown(), cfg.OTPCodeTTL()).
		RegisterRoutes(api, middleware.RateLimit(middleware.OTPSendRateLimitConfig()))
	identity.NewHandler(identitySvc).RegisterRoutes(api)
	profile.NewHandler(profileSvc).RegisterRoutes(api)
	family.NewHandler(familySvc).RegisterRoutes(api, public)
	report.NewHandler(reportSvc).RegisterRoutes(api, public)

	// Guarded navigation entry points. The API routes above authorize per
	// endpoint; these apply the full redirect decision chain.
	patientPages := e.Group("/patient", guard.Middleware(guard.Options{
		Role:     resolver.RolePatient,
		Profiles: profileSvc,
	}))
	patientPages.GET("", func(c echo.Context) error {
		userID, _ := auth.UserUUID(c.Request().Context())
		reports, err := reportSvc.ListForPatient(c.Request().Context(), userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"reports": reports})
	})

	labPages := e.Group("/lab", guard.Middleware(guard.Options{
		Role: resolver.RoleLab,
	}))
	labPages.GET("", func(c echo.Context) error {
		labID, err := parseLabID(c)
		if err != nil {
			return err
		}
		p := pagination.FromContext(c)
		reports, total, err := reportSvc.ListForLab(c.Request().Context(), labID, p)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(reports, total, p))
	})

	// Start with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func parseLabID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.LabIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no lab membership")
	}
	return id, nil
}
