// anonfeedback/main.go
package main

import (
	"anonfeedback/config"
	"anonfeedback/database"
	"anonfeedback/feedback"
	"anonfeedback/handlers"
	"anonfeedback/models"
	"anonfeedback/platform"
	"anonfeedback/sessions"
	"anonfeedback/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

// sessionRetention keeps pending uploads around past their TTL so late
// deliveries are reported as expired rather than missing.
const sessionRetention = 2 * config.UploadTTL

type Application struct {
	db          *database.DatabaseService
	feedback    *feedback.Service
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
	uploadDir   string
	backupDir   string
	apiKeyHash  string
}

// Methods to satisfy the handlers.App interface
func (a *Application) Feedback() *feedback.Service      { return a.feedback }
func (a *Application) DB() *database.DatabaseService    { return a.db }
func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *Application) Logger() *slog.Logger             { return a.logger }
func (a *Application) UploadDir() string                { return a.uploadDir }
func (a *Application) BackupDir() string                { return a.backupDir }
func (a *Application) APIKeyHash() string               { return a.apiKeyHash }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(os.Args); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "anonfeedback",
		Usage:   "pseudonymous feedback engine for forum threads",
		Version: config.AppVersion,
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db-path",
			Value:   "./feedback.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate",
			EnvVars: []string{"FEEDBACK_DB_PATH"},
		},
		&cli.StringFlag{
			Name:    "backup-dir",
			Value:   "./backups",
			EnvVars: []string{"FEEDBACK_BACKUP_DIR"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		backupCmd,
	}

	return app.Run(args)
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the command API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "port",
			Value:   "8080",
			EnvVars: []string{"FEEDBACK_PORT"},
		},
		&cli.StringFlag{
			Name:    "config-file",
			Usage:   "JSON file listing admins and forum channels",
			Value:   "./config.json",
			EnvVars: []string{"FEEDBACK_CONFIG_FILE"},
		},
		&cli.StringFlag{
			Name:     "gateway-url",
			Usage:    "base URL of the chat gateway",
			Required: true,
			EnvVars:  []string{"FEEDBACK_GATEWAY_URL"},
		},
		&cli.StringFlag{
			Name:    "gateway-token",
			EnvVars: []string{"FEEDBACK_GATEWAY_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "api-key-hash",
			Usage:   "bcrypt hash of the key the gateway presents",
			EnvVars: []string{"FEEDBACK_API_KEY_HASH"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "share pending uploads through redis instead of process memory",
			EnvVars: []string{"FEEDBACK_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "upload-dir",
			Value:   "./uploads",
			EnvVars: []string{"FEEDBACK_UPLOAD_DIR"},
		},
		&cli.StringFlag{
			Name:    "public-url",
			Usage:   "prefix for locally stored attachment links",
			EnvVars: []string{"FEEDBACK_PUBLIC_URL"},
		},
	},
	Action: runServe,
}

var backupCmd = &cli.Command{
	Name:  "backup",
	Usage: "write an online backup of the database and exit",
	Action: func(cctx *cli.Context) error {
		logger := slog.Default()
		db, err := database.InitDB(cctx.String("db-path"), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		path, err := db.BackupDatabase(cctx.String("backup-dir"))
		if err != nil {
			return err
		}
		logger.Info("Database backup created successfully", "path", path)
		return nil
	},
}

// durationEnv parses a duration variable, falling back to def when invalid.
func durationEnv(logger *slog.Logger, key, def string) time.Duration {
	d, err := time.ParseDuration(utils.GetEnv(key, def))
	if err != nil {
		logger.Warn("Invalid duration, using default", "key", key, "value", utils.GetEnv(key, ""), "default", def)
		d, _ = time.ParseDuration(def)
	}
	return d
}

func newStorage(ctx context.Context, cctx *cli.Context, logger *slog.Logger) (models.StorageService, error) {
	if utils.GetEnv("FEEDBACK_S3_ENABLED", "false") != "true" {
		logger.Info("Local Storage initialized", "dir", cctx.String("upload-dir"))
		return &utils.LocalStorage{UploadDir: cctx.String("upload-dir"), PublicURL: cctx.String("public-url")}, nil
	}
	endpoint := utils.GetEnv("FEEDBACK_S3_ENDPOINT", "")
	bucket := utils.GetEnv("FEEDBACK_S3_BUCKET", "")
	s3, err := utils.NewS3Storage(ctx,
		endpoint,
		utils.GetEnv("FEEDBACK_S3_ACCESS_KEY", ""),
		utils.GetEnv("FEEDBACK_S3_SECRET_KEY", ""),
		bucket,
		utils.GetEnv("FEEDBACK_S3_REGION", "us-east-1"),
		utils.GetEnv("FEEDBACK_S3_PUBLIC_URL", ""),
		utils.GetEnv("FEEDBACK_S3_USE_SSL", "true") == "true",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
	}
	logger.Info("S3 Storage initialized", "endpoint", endpoint, "bucket", bucket)
	return s3, nil
}

func newSessionStore(cctx *cli.Context, logger *slog.Logger) (sessions.Store, error) {
	if url := cctx.String("redis-url"); url != "" {
		store, err := sessions.NewRedisStore(url, sessionRetention)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis upload session store initialized")
		return store, nil
	}
	return sessions.NewMemStore(config.MaxSessions, sessionRetention), nil
}

func runServe(cctx *cli.Context) error {
	logger := slog.Default()
	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backupDir := cctx.String("backup-dir")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("could not create backup directory %s: %w", backupDir, err)
	}

	dbService, err := database.InitDB(cctx.String("db-path"), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := dbService.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	provider, err := config.NewFileProvider(cctx.String("config-file"))
	if err != nil {
		return err
	}
	storage, err := newStorage(ctx, cctx, logger)
	if err != nil {
		return err
	}
	store, err := newSessionStore(cctx, logger)
	if err != nil {
		return err
	}
	gateway := platform.NewGateway(cctx.String("gateway-url"), cctx.String("gateway-token"), logger)

	svc := feedback.NewService(feedback.ServiceConfig{
		Logger:   logger,
		DB:       dbService,
		Platform: gateway,
		Config:   provider,
		Sessions: store,
		Storage:  storage,
	})

	burst, err := strconv.Atoi(utils.GetEnv("FEEDBACK_THROTTLE_BURST", strconv.Itoa(config.DefaultThrottleBurst)))
	if err != nil {
		logger.Warn("Invalid FEEDBACK_THROTTLE_BURST integer, using default", "default", config.DefaultThrottleBurst)
		burst = config.DefaultThrottleBurst
	}
	app := &Application{
		db:       dbService,
		feedback: svc,
		rateLimiter: models.NewRateLimiter(
			durationEnv(logger, "FEEDBACK_THROTTLE_EVERY", config.DefaultThrottleEvery),
			burst,
			durationEnv(logger, "FEEDBACK_THROTTLE_PRUNE", config.DefaultThrottlePrune),
			durationEnv(logger, "FEEDBACK_THROTTLE_EXPIRE", config.DefaultThrottleExpire),
		),
		logger:     logger,
		uploadDir:  cctx.String("upload-dir"),
		backupDir:  backupDir,
		apiKeyHash: cctx.String("api-key-hash"),
	}
	if app.apiKeyHash == "" {
		logger.Warn("No API key hash configured, the command API is unauthenticated")
	}

	scheduler := newScheduler(ctx, app, provider)
	scheduler.Start()
	defer scheduler.Stop()

	// --- Graceful Shutdown ---
	server := &http.Server{Addr: ":" + cctx.String("port"), Handler: handlers.SetupRouter(app)}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("anonfeedback server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+cctx.String("port"),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed unexpectedly: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exiting")
	return nil
}

// newScheduler registers the periodic maintenance jobs.
func newScheduler(ctx context.Context, app *Application, provider *config.FileProvider) *cron.Cron {
	logger := app.logger.With("component", "scheduler")
	c := cron.New()

	jobs := []struct {
		name     string
		schedule string
		fn       func()
	}{
		{"config_reload", "@every 1m", func() {
			if err := provider.Reload(); err != nil {
				logger.Warn("Config reload failed, keeping previous settings", "error", err)
			}
		}},
		{"purge_uploads", "@every 1m", func() {
			n, err := app.feedback.PurgeExpiredUploads(ctx)
			if err != nil {
				logger.Error("Failed to purge expired uploads", "error", err)
				return
			}
			if n > 0 {
				logger.Info("Expired upload sessions purged", "count", n)
			}
		}},
		{"daily_backup", "@daily", func() {
			path, err := app.db.BackupDatabase(app.backupDir)
			if err != nil {
				logger.Error("Scheduled database backup failed", "error", err)
				return
			}
			logger.Info("Scheduled database backup created", "path", path)
		}},
	}
	for _, job := range jobs {
		if _, err := c.AddFunc(job.schedule, job.fn); err != nil {
			logger.Error("Failed to schedule job", "job", job.name, "error", err)
		}
	}
	return c
}
