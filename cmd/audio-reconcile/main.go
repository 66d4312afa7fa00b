// Package main implements the desktop reconciliation variant entrypoint
// from section 4.7: it watches a local directory for transcript/summary
// files produced out-of-band and uploads each one to its derived remote
// key once a matching downloaded record is found.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/audio-pipeline/config"
	"github.com/gurre/audio-pipeline/objectstore"
	"github.com/gurre/audio-pipeline/progress"
	"github.com/gurre/audio-pipeline/reconcile"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "audio-reconcile",
		Usage: "watch a local directory and upload derived files matched by filename identifier",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "path to a .env file", EnvVars: []string{"ENV_FILE"}},
			&cli.StringFlag{Name: "dir", Required: true, Usage: "local directory to watch for derived output files"},
			&cli.StringFlag{Name: "upload-acl", Value: "", Usage: "canned ACL applied to uploaded files"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := config.Endpoint(cfg.Region)
	defaultClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Region = cfg.Region
		o.BaseEndpoint = &endpoint
		o.UsePathStyle = true
	})
	store := objectstore.NewClient(cfg.Region, defaultClient, objectstore.NewSDKClientFactory(awsCfg), logger)

	var progStore interface {
		progress.Store
		progress.SubstringFinder
	}
	switch cfg.ProgressStoreKind {
	case "postgres":
		pg, err := progress.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("failed to open postgres progress store: %w", err)
		}
		progStore = pg
	default:
		js := progress.NewJSONStore(cfg.ProgressStorePath)
		if err := js.Load(); err != nil {
			return fmt.Errorf("failed to load progress store: %w", err)
		}
		progStore = js
	}

	s := reconcile.New(c.String("dir"), store, progStore, c.String("upload-acl"), logger)

	logger.Info("reconciliation started", zap.String("dir", c.String("dir")))
	s.Run(ctx)
	logger.Info("reconciliation stopped")
	return nil
}
