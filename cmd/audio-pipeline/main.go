// Package main implements the always-on scanning server entrypoint
// specified in section 6 of the design specification: it wires config,
// the object store, the progress and operation log stores, the scanner,
// worker pool, and pipeline together, then runs until signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/audio-pipeline/config"
	"github.com/gurre/audio-pipeline/metrics"
	"github.com/gurre/audio-pipeline/objectstore"
	"github.com/gurre/audio-pipeline/oplog"
	"github.com/gurre/audio-pipeline/pipeline"
	"github.com/gurre/audio-pipeline/progress"
	"github.com/gurre/audio-pipeline/scanner"
	"github.com/gurre/audio-pipeline/transcribe"
	"github.com/gurre/audio-pipeline/workerpool"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "audio-pipeline",
		Usage: "scan an S3-compatible bucket for audio, transcribe and summarize it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "path to a .env file", EnvVars: []string{"ENV_FILE"}},
			&cli.StringFlag{Name: "download-dir", Value: "downloads", Usage: "local directory audio is downloaded into"},
			&cli.StringFlag{Name: "upload-acl", Value: "", Usage: "canned ACL applied to uploaded transcripts and summaries"},
			&cli.StringFlag{Name: "report-interval", Value: "5m", Usage: "how often the metrics report is uploaded when REPORT_S3_URI is set"},
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
	cfg.StartPath = c.Args().First()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reportInterval, err := time.ParseDuration(c.String("report-interval"))
	if err != nil {
		return fmt.Errorf("invalid report interval: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(staticCredentials(cfg)),
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

	progressStore, err := buildProgressStore(cfg)
	if err != nil {
		return err
	}

	opLog := oplog.New(cfg.OperationLogPath)
	if err := opLog.Load(); err != nil {
		return fmt.Errorf("failed to load operation log: %w", err)
	}

	sc := scanner.New(store, progressStore, opLog, logger)
	m := metrics.NewMetrics()
	pool := workerpool.New(opLog, m, logger)

	pc := pipeline.Config{
		StartPath:       cfg.StartPath,
		MaxBatch:        cfg.MaxBatch,
		IdleScanDelay:   cfg.IdleScanDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		DownloadDir:     c.String("download-dir"),
		UploadACL:       c.String("upload-acl"),
	}
	p := pipeline.New(pc, store, sc, progressStore, opLog, pool, m, logger)

	processor := transcribe.NewWhisperProcessor(m, logger)

	if !p.StartScanning(processor) {
		return fmt.Errorf("pipeline was already running")
	}
	logger.Info("scanning started", zap.String("start_path", cfg.StartPath))

	reportDone := make(chan struct{})
	go runReportLoop(ctx, cfg, m, store, reportInterval, logger, reportDone)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work")
	p.StopScanning()
	<-reportDone

	fmt.Println(m.GenerateReport().String())
	return nil
}

// runReportLoop, when cfg.ReportS3URI is set, generates and uploads a
// metrics report on every interval tick, per section 9's Supplemented
// Feature #6. It exits once ctx is canceled, after uploading one final
// report; without a report URI it only waits for cancellation.
func runReportLoop(ctx context.Context, cfg *config.Config, m *metrics.Metrics, store *objectstore.Client, interval time.Duration, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)

	var uploader *metrics.S3ReportUploader
	if cfg.ReportS3URI != "" {
		uploader = metrics.NewS3ReportUploader(store)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if uploader != nil {
				uploadReport(context.Background(), uploader, cfg.ReportS3URI, m, logger)
			}
			return
		case <-ticker.C:
			if uploader != nil {
				uploadReport(ctx, uploader, cfg.ReportS3URI, m, logger)
			}
		}
	}
}

func uploadReport(ctx context.Context, uploader *metrics.S3ReportUploader, uri string, m *metrics.Metrics, logger *zap.Logger) {
	if err := uploader.UploadReport(ctx, uri, m.GenerateReport()); err != nil {
		logger.Warn("failed to upload metrics report", zap.Error(err))
	}
}

// staticCredentials wraps the Wasabi access/secret key pair from cfg in a
// CredentialsProvider, since Wasabi is not discoverable through the AWS
// SDK's usual instance-role/profile chain.
func staticCredentials(cfg *config.Config) credentials.StaticCredentialsProvider {
	return credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
}

func buildProgressStore(cfg *config.Config) (progress.Store, error) {
	switch cfg.ProgressStoreKind {
	case "postgres":
		store, err := progress.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres progress store: %w", err)
		}
		return store, nil
	default:
		store := progress.NewJSONStore(cfg.ProgressStorePath)
		if err := store.Load(); err != nil {
			return nil, fmt.Errorf("failed to load progress store: %w", err)
		}
		return store, nil
	}
}
