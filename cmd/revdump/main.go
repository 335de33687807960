package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/yuxki/revdump"
	"github.com/yuxki/revdump/pkg/config"
	"github.com/yuxki/revdump/pkg/date"
	"github.com/yuxki/revdump/pkg/db"
	"github.com/yuxki/revdump/pkg/dump"
	"gopkg.in/yaml.v3"
)

// TokenEnv is the environment variable holding the bearer token.
const TokenEnv = "REVDUMP_BEARER_TOKEN"

const (
	fetchRole  = "fetch"
	dumpRole   = "dump"
	exportRole = "export"
)

func newDynamoDBExporter(ctx context.Context, cfg config.RevDumpConfig) (db.DynamoDBExporter, error) {
	aCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.DynamoDBRegion),
		awsconfig.WithRetryMaxAttempts(cfg.DynamoDBRetryMaxAttempts),
	)
	if err != nil {
		var exporter db.DynamoDBExporter
		return exporter, err
	}

	var client *dynamodb.Client
	if cfg.DynamoDBEndpoint == "" {
		client = dynamodb.NewFromConfig(aCfg)
	} else {
		client = dynamodb.NewFromConfig(aCfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = &cfg.DynamoDBEndpoint
		})
	}

	elogger := log.Logger.With().Str("role", exportRole).Logger()
	return db.NewDynamoDBExporter(
		client,
		cfg.DynamoDBTableName,
		cfg.DynamoDBTimeout,
		db.WithLogger(&elogger),
	), nil
}

func newExporter(ctx context.Context, cfg config.RevDumpConfig) (db.Exporter, error) {
	switch cfg.Export {
	case config.DynamoDBExport:
		return newDynamoDBExporter(ctx, cfg)
	default:
		return nil, nil
	}
}

func run(ctx context.Context, cfg config.RevDumpConfig, token string, now date.Now) error {
	// Build the exporter before downloading so a broken AWS setup fails fast.
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	return download(ctx, cfg, token, now, exporter)
}

// download fetches the whole list, writes the local files and then hands the
// written record to exporter, if any. An export error is returned after the
// files are on disk.
func download(
	ctx context.Context,
	cfg config.RevDumpConfig,
	token string,
	now date.Now,
	exporter db.Exporter,
) error {
	client, err := revdump.NewHTTPClient(
		cfg.Endpoint,
		token,
		revdump.WithRequestTimeout(time.Second*time.Duration(cfg.Timeout)),
	)
	if err != nil {
		return err
	}

	flogger := log.Logger.With().Str("role", fetchRole).Logger()
	fetcher := revdump.NewFetcher(
		client,
		revdump.WithLogger(&flogger),
		revdump.WithMaxAttempts(cfg.RetryMaxAttempts),
		revdump.WithRetryWait(time.Second*time.Duration(cfg.RetryWait)),
	)

	res, err := fetcher.Run(ctx)
	if err != nil {
		return err
	}

	dlogger := log.Logger.With().Str("role", dumpRole).Logger()
	writer := dump.NewFileWriter(
		cfg.OutputDir,
		cfg.RevocationsFile,
		cfg.MetadataFile,
		dump.WithNow(now),
		dump.WithLogger(&dlogger),
	)

	rec := res.Record()
	meta, err := writer.Write(rec)
	if err != nil {
		return err
	}

	if exporter == nil {
		return nil
	}
	return exporter.Export(ctx, rec, meta)
}

func loadConfig(file string) (config.RevDumpConfig, []error) {
	if file == "" {
		return config.Default(), nil
	}

	cfgF, err := os.Open(file)
	if err != nil {
		return config.RevDumpConfig{}, []error{err}
	}
	defer func() {
		if err := cfgF.Close(); err != nil {
			stdlog.Printf("failed to close file: %v\n", err)
		}
	}()

	var cfgYml config.ConfigYAML
	err = yaml.NewDecoder(cfgF).Decode(&cfgYml)
	if err != nil {
		return config.RevDumpConfig{}, []error{err}
	}

	var cfg config.RevDumpConfig
	return cfgYml.Verify(cfg)
}

func main() {
	cfgPtr := flag.String("c", "", "The path of configuration. Built-in defaults are used when omitted.")
	envPtr := flag.String("env", "", "The path of a dotenv file loaded before the environment is read.")
	validatePtr := flag.Bool(
		"validate",
		false,
		"Only validate the configuration when that has error, exit with 1, and not exit with 0.",
	)
	flag.Parse()

	if *envPtr != "" {
		if err := godotenv.Load(*envPtr); err != nil {
			stdlog.Fatal(err)
		}
	}

	cfg, errs := loadConfig(*cfgPtr)
	if errs != nil {
		for _, err := range errs {
			stdlog.Print(err)
		}
		os.Exit(1)
	}

	token, err := cfg.ResolveToken(os.Getenv(TokenEnv))
	if err != nil {
		stdlog.Fatal(err)
	}

	if *validatePtr {
		stdlog.Print("Validition Success.")
		os.Exit(0)
	}

	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, token, date.NowGMT)
	if err != nil {
		stop()
		stdlog.Fatal(err)
	}
}
