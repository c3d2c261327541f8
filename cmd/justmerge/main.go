package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/justmerge/internal/automerge"
	"github.com/simplesurance/justmerge/internal/cfg"
	"github.com/simplesurance/justmerge/internal/githubclt"
	"github.com/simplesurance/justmerge/internal/logfields"
	"github.com/simplesurance/justmerge/internal/report"
)

const appName = "justmerge"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

// exit runs the goodbye handlers and terminates the process.
var exit = goodbye.Exit

// fatalOnErr logs the error and terminates the process with exit code 1,
// the goodbye handlers are run before. It must only be called after the
// logger was initialized.
func fatalOnErr(msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}

	logger.Error(msg, append(fields, logfields.Event("fatal_error"), zap.Error(err))...)

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
	defer cancelFn()

	exit(ctx, 1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

type arguments struct {
	Verbose       *bool
	ConfigFile    *string
	DryRun        *bool
	SummaryFormat *string
	ShowVersion   *bool
}

var args arguments

const defConfigFile = "justmerge.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the justmerge configuration file",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"evaluate pull requests but do not merge them",
		),
		SummaryFormat: pflag.String(
			"summary-format",
			"",
			"format of the run summary written to stdout (text, json), overwrites the summary_format setting",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMerge GitHub pull requests of bots that are ready to be merged.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	if *args.SummaryFormat != "" {
		config.SummaryFormat = *args.SummaryFormat
	}

	err = config.Validate()
	exitOnErr(fmt.Sprintf("invalid configuration file: %s", *args.ConfigFile), err)

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stderr,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	// stdout is reserved for the run summary
	cfg.OutputPaths = []string{"stderr"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(1)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(1)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func registerMetricsTextfileWriter(path string) {
	if path == "" {
		return
	}

	// lower priority than the logger sync handler, the logs are flushed
	// after the file was written
	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
		if err != nil {
			logger.Warn(
				"writing metrics textfile failed",
				logfields.Event("metrics_textfile_write_failed"),
				zap.String("path", path),
				zap.Error(err),
			)
			return
		}

		logger.Debug(
			"metrics textfile written",
			logfields.Event("metrics_textfile_written"),
			zap.String("path", path),
		)
	}, -1)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustNewGithubClient(config *cfg.Config, token string) *githubclt.Client {
	if config.GithubURL == "" {
		return githubclt.New(token, config.HTTPTimeoutDuration())
	}

	clt, err := githubclt.NewEnterprise(token, config.HTTPTimeoutDuration(), config.GithubURL)
	fatalOnErr("could not create github client", err, zap.String("github_url", config.GithubURL))

	return clt
}

func newMerger(config *cfg.Config, clt *githubclt.Client) automerge.Merger {
	if *args.DryRun {
		return automerge.NewDryMerger(logger)
	}

	return automerge.NewExecutor(
		clt,
		automerge.WithMaxAttempts(config.MergeMaxAttempts),
		automerge.WithCallTimeout(config.MergeCallTimeoutDuration()),
	)
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	token, tokenSrc, err := config.LoadToken()
	fatalOnErr("could not load github api token", err)

	policy, err := config.Policy()
	fatalOnErr("could not create merge policy", err, zap.String("cfg_file", *args.ConfigFile))

	repos := config.AutomergeRepositories()

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("github_api_token", hide(token)),
		zap.String("github_api_token_source", string(tokenSrc)),
		zap.String("github_url", config.GithubURL),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Duration("http_timeout", config.HTTPTimeoutDuration()),
		zap.Duration("merge_call_timeout", config.MergeCallTimeoutDuration()),
		zap.Int("merge_max_attempts", config.MergeMaxAttempts),
		zap.Int("evaluation_concurrency", config.EvaluationConcurrency),
		zap.String("metrics_textfile", config.MetricsTextfile),
		zap.String("summary_format", config.SummaryFormat),
		zap.Int("repositories", len(repos)),
		zap.Bool("dry_run", *args.DryRun),
	)

	registerMetricsTextfileWriter(config.MetricsTextfile)

	// a signal must not interrupt a merge that is in progress, instead of
	// goodbye.Notify(), the signal cancels the context and the run
	// terminates after the current operation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	githubClient := mustNewGithubClient(config, token)

	runner := automerge.NewRunner(
		automerge.NewGithubProvider(githubClient),
		newMerger(config, githubClient),
		policy,
		automerge.WithEvaluationConcurrency(config.EvaluationConcurrency),
	)

	result := runner.Run(ctx, repos)
	stop()

	if err := report.Write(os.Stdout, config.SummaryFormat, result); err != nil {
		logger.Error(
			"writing run summary failed",
			logfields.Event("summary_write_failed"),
			zap.Error(err),
		)
	}

	goodbye.Exit(context.Background(), result.ExitCode())
}
