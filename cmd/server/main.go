package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"task-tracker/internal/backup"
	"task-tracker/internal/config"
	apphttp "task-tracker/internal/http"
	"task-tracker/internal/logging"
	"task-tracker/internal/repository/sqlite"
	"task-tracker/internal/service"
	"task-tracker/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "tasktracker",
		Short:         "Multi-user task tracker web application",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "backup",
			Short: "Snapshot the database to object storage once and exit",
			RunE:  runBackup,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg    config.Config
	logger *logrus.Logger
	logs   io.Closer
	db     *sql.DB
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, logs, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{cfg: cfg, logger: logger, logs: logs, db: db}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.logs.Close()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	if err := cfg.Validate(); err != nil {
		return err
	}

	userRepo := sqlite.NewUserRepository(a.db)
	taskRepo := sqlite.NewTaskRepository(a.db)
	if err := sqlite.InitSchema(ctx, userRepo, taskRepo); err != nil {
		return err
	}

	userService := service.NewUserService(userRepo, cfg.Auth.BcryptCost)
	taskService := service.NewTaskService(taskRepo)
	sessions := service.NewSessionManager(cfg.Auth.SessionSecret, time.Duration(cfg.Auth.SessionTTLMinutes)*time.Minute)

	var backups backup.Manager
	if cfg.Backup.Bucket != "" {
		backups, err = buildBackups(ctx, cfg, a.db, logger)
		if err != nil {
			return fmt.Errorf("setup backups: %w", err)
		}
		if err := backups.Start(ctx); err != nil {
			return fmt.Errorf("start backups: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, taskService, sessions, a.db, logger, cfg.Auth.SecureCookie)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if backups != nil {
		backups.Shutdown()
	}

	logger.Info("bye")
	return nil
}

func runBackup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Backup.Bucket == "" {
		return fmt.Errorf("backup bucket is required")
	}
	backups, err := buildBackups(ctx, a.cfg, a.db, a.logger)
	if err != nil {
		return err
	}
	location, err := backups.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	a.logger.Infof("backup written to %s", location)
	return nil
}

func buildBackups(ctx context.Context, cfg config.Config, db *sql.DB, logger *logrus.Logger) (backup.Manager, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Backup.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Backup.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Backup.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s) for backups", cfg.Backup.Bucket, cfg.Backup.Region)

	return backup.NewManager(backup.Config{
		Bucket:    cfg.Backup.Bucket,
		KeyPrefix: cfg.Backup.KeyPrefix,
		Interval:  time.Duration(cfg.Backup.IntervalMinutes) * time.Minute,
		Retain:    cfg.Backup.Retain,
		Logger:    logger,
	}, db, storage.NewS3Service(client)), nil
}
