package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/trellis/pkg/audit"
	"github.com/platinummonkey/trellis/pkg/auth"
	"github.com/platinummonkey/trellis/pkg/config"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/softdelete"
	"github.com/platinummonkey/trellis/pkg/storage/archive"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
)

var (
	runOnce = flag.Bool("run-once", false, "Purge once and exit")
	dryRun  = flag.Bool("dry-run", false, "Load configuration and connect, but do not purge")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := observability.WithLogger(context.Background(), logger)

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL: cfg.Storage.PostgresURL,
		MaxConns:   2,
		MinConns:   1,
		Timeout:    cfg.Storage.PostgresTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conns.Close()

	auditDB, err := audit.NewDBLogger(conns.Primary())
	if err != nil {
		log.Fatalf("Failed to initialize audit log: %v", err)
	}
	auditLog := audit.NewMultiLogger(audit.NewLogLogger(logger), auditDB)
	defer auditLog.Close()

	opts := []softdelete.PurgerOption{
		softdelete.WithRetention(cfg.Purge.Retention),
		softdelete.WithLogger(logger),
		softdelete.WithAudit(auditLog),
	}
	if cfg.Storage.S3Bucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize archive: %v", err)
		}
		opts = append(opts, softdelete.WithArchiver(archiver))
		log.WithField("bucket", cfg.Storage.S3Bucket).Info("Archiving purged rows to S3")
	}
	purger := softdelete.NewPurger(conns.Primary(), opts...)
	tokens := auth.NewTokenManager(conns.Primary())
	cleanupTokens := func() {
		n, err := tokens.CleanupExpiredTokens(ctx, time.Now().UTC().Add(-cfg.Purge.Retention))
		if err != nil {
			logger.WithError(err).Error("token cleanup failed")
			return
		}
		logger.WithField("rows", n).Info("expired tokens removed")
	}

	log.WithField("retention", cfg.Purge.Retention).Info("Purger configured")
	if *dryRun {
		return
	}

	if *runOnce {
		purged, err := purger.Purge(ctx)
		if err != nil {
			log.Fatalf("Purge failed: %v", err)
		}
		for table, n := range purged {
			log.WithFields(logrus.Fields{"table": table, "rows": n}).Info("Purged")
		}
		cleanupTokens()
		return
	}

	c := cron.New()
	if _, err := purger.Schedule(c, cfg.Purge.Schedule); err != nil {
		log.Fatalf("Failed to schedule purge: %v", err)
	}
	if _, err := c.AddFunc(cfg.Purge.Schedule, cleanupTokens); err != nil {
		log.Fatalf("Failed to schedule token cleanup: %v", err)
	}
	c.Start()
	log.WithField("schedule", cfg.Purge.Schedule).Info("Trellis purger started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down gracefully...")

	// Wait for a running purge to finish.
	<-c.Stop().Done()
	log.Info("Purger stopped")
}
