package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicore/clinicore/internal/config"
	"github.com/clinicore/clinicore/internal/domain/directory"
	"github.com/clinicore/clinicore/internal/domain/reporting"
	"github.com/clinicore/clinicore/internal/domain/scheduling"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/internal/platform/middleware"
	"github.com/clinicore/clinicore/internal/platform/telemetry"
	"github.com/clinicore/clinicore/pkg/apperror"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicore-server",
		Short: "Clinic scheduling portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "clinicore-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	go publishPoolStats(ctx, pool, metrics)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(metrics.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Unauthenticated surface
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// Identity
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
		}))
	}
	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")

	store := middleware.NewRateLimiterStore(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	store.StartSweeper(ctx, 5*time.Minute, 15*time.Minute)
	apiV1.Use(middleware.RateLimit(store))

	// Domain wiring
	txRunner := db.Runner(pool)

	directorySvc := directory.NewService(
		directory.NewDepartmentRepoPG(pool),
		directory.NewAccountRepoPG(pool),
		directory.NewDoctorRepoPG(pool),
		directory.NewPatientRepoPG(pool),
		txRunner,
	)
	schedulingSvc := scheduling.NewService(
		scheduling.NewSlotRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		scheduling.NewTreatmentRepoPG(pool),
		directorySvc,
		txRunner,
	)
	reportingSvc := reporting.NewService(reporting.NewRepoPG(pool))

	directory.NewHandler(directorySvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc, metrics.OperationRecorder()).RegisterRoutes(apiV1)
	reporting.NewHandler(reportingSvc).RegisterRoutes(apiV1)

	// Serve until interrupted.
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(":" + cfg.Port)
	}()
	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server started")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	logger.Info().Msg("server stopped")
	return nil
}

// publishPoolStats refreshes the pool gauges until the context ends.
func publishPoolStats(ctx context.Context, pool *pgxpool.Pool, metrics *telemetry.Provider) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			metrics.SetPoolStats(stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns())
		}
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "migrations", "Path to migrations directory")
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
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
	statusCmd.Flags().String("dir", "migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("migrate down is destructive and not supported by the built-in runner.")
			return nil
		},
	})

	return cmd
}

// seedDepartments are the clinic's standing departments.
var seedDepartments = []string{
	"Cardiology", "Neurology", "Orthopedics", "Pediatrics", "General Medicine",
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load departments and sample accounts (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			return runSeed(ctx, cfg, pool)
		},
	}
}

func runSeed(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	svc := directory.NewService(
		directory.NewDepartmentRepoPG(pool),
		directory.NewAccountRepoPG(pool),
		directory.NewDoctorRepoPG(pool),
		directory.NewPatientRepoPG(pool),
		db.Runner(pool),
	)

	for _, name := range seedDepartments {
		err := svc.CreateDepartment(ctx, &directory.Department{Name: name, Active: true})
		switch {
		case err == nil:
			fmt.Printf("department created: %s\n", name)
		case apperror.CodeOf(err) == apperror.CodeDuplicate:
			fmt.Printf("department exists:  %s\n", name)
		default:
			return fmt.Errorf("seed department %s: %w", name, err)
		}
	}

	// The admin account is an actor row with no profile. The fixed id
	// matches the development auth default.
	adminID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	if _, err := pool.Exec(ctx, `
		INSERT INTO actor (id, role, full_name, email, active)
		VALUES ($1, 'admin', 'Portal Admin', 'admin@clinicore.local', TRUE)
		ON CONFLICT (id) DO NOTHING`, adminID); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	fmt.Println("admin account ready")

	var generalMedicine uuid.UUID
	if err := pool.QueryRow(ctx,
		`SELECT id FROM department WHERE name = 'General Medicine'`).Scan(&generalMedicine); err != nil {
		return fmt.Errorf("look up department: %w", err)
	}

	doctor := &directory.Doctor{
		FullName:       "Dr. Asha Rao",
		Email:          "asha.rao@clinicore.local",
		Active:         true,
		DepartmentID:   generalMedicine,
		LicenseNumber:  "GM-0001",
		Specialization: "General Practice",
	}
	if err := svc.CreateDoctor(ctx, doctor); err != nil && apperror.CodeOf(err) != apperror.CodeDuplicate {
		return fmt.Errorf("seed doctor: %w", err)
	}

	patient := &directory.Patient{
		FullName: "Sam Mistry",
		Email:    "sam.mistry@example.com",
		Active:   true,
	}
	if err := svc.CreatePatient(ctx, patient); err != nil && apperror.CodeOf(err) != apperror.CodeDuplicate {
		return fmt.Errorf("seed patient: %w", err)
	}
	fmt.Println("sample doctor and patient ready")

	if cfg.JWTSecret != "" {
		token, err := auth.SignToken(
			auth.JWTConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
			auth.Actor{ID: adminID, Role: auth.RoleAdmin, FullName: "Portal Admin"},
			24*time.Hour,
		)
		if err != nil {
			return fmt.Errorf("sign admin token: %w", err)
		}
		fmt.Printf("admin token (24h): %s\n", token)
	}
	return nil
}
