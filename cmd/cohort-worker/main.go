// Command cohort-worker joins a cohort, runs the jobs its coordinator sends
// and leaves when told to stop or when interrupted.
//
// Usage:
//
//	cohort-worker -coordinator 10.0.0.1:20000 [-bind .:20100] [-ordinal 3] [key=value ...]
//
// Trailing key=value arguments override any configuration sent by the
// coordinator, e.g. "debug.strand_block_size=1024".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/xraph/cohort"
	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/joblistener"
	"github.com/xraph/cohort/middleware"
	"github.com/xraph/cohort/observability"
	"github.com/xraph/cohort/wire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, cohort.ErrTerminated) {
			return
		}
		fmt.Fprintln(os.Stderr, "cohort-worker:", err)
		var interrupted *cohort.InterruptedError
		if errors.As(err, &interrupted) {
			os.Exit(interrupted.Reason.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("cohort-worker", flag.ContinueOnError)
	var (
		coordinator = fs.String("coordinator", "", "coordinator address host[:port]")
		bind        = fs.String("bind", fmt.Sprintf(".:%d", endpoint.DefaultWorkerPort), "listen address")
		ordinal     = fs.Int("ordinal", 0, "provisional worker number, 0 if unknown")
		staticRank  = fs.Int("rank", 0, "rank the coordinator must assign, 0 to accept any")
		buildTag    = fs.String("build-tag", cohort.BuildTag, "build identity declared to the coordinator")
		strict      = fs.Bool("strict-build", true, "fail registration on a build mismatch")
		reconnect   = fs.Bool("reconnect", false, "re-dial dropped links")
		verifyMesh  = fs.Bool("verify-mesh", false, "check reachability of every worker after registration")
		format      = fs.String("format", wire.CodecNameJSON, "wire format: json or msgpack")
		token       = fs.String("token", "", "shared secret for transport links")
		configFile  = fs.String("config", "", "YAML file of local configuration overrides")
		debug       = fs.Bool("debug", false, "enable debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	overrides, rest, err := config.ParseArgs(fs.Args())
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected arguments: %v", rest)
	}
	if *configFile != "" {
		fileTree, loadErr := config.LoadFile(*configFile)
		if loadErr != nil {
			return loadErr
		}
		overrides = config.Merge(fileTree, overrides)
	}
	if overrides.Has(config.KeyWorkerOrdinal) && *ordinal == 0 {
		*ordinal = overrides.Int(config.KeyWorkerOrdinal, 0)
	}

	if *coordinator == "" {
		return cohort.ErrNoCoordinator
	}
	coordEP, err := endpoint.Parse(*coordinator)
	if err != nil {
		return err
	}
	bindEP, err := endpoint.Parse(*bind)
	if err != nil {
		return err
	}

	cfg := cohort.DefaultConfig()
	cfg.Coordinator = coordEP
	cfg.Bind = bindEP
	cfg.Ordinal = *ordinal
	cfg.StaticRank = *staticRank
	cfg.BuildTag = *buildTag
	cfg.StrictBuildCheck = *strict
	cfg.ChannelReconnect = *reconnect || overrides.Bool(config.KeyChannelReconnect, false)
	cfg.VerifyMesh = *verifyMesh
	cfg.Format = *format
	cfg.Token = *token
	cfg.HandleSignals = true

	var listener *joblistener.Listener
	w, err := cohort.New(
		cohort.ExecutorFunc(func(ctx context.Context, cc *cluster.Context) error {
			return listener.Execute(ctx, cc)
		}),
		cohort.WithConfig(cfg),
		cohort.WithLogger(logger),
		cohort.WithOverrides(overrides),
		cohort.WithExtension(observability.NewMetricsExtension()),
	)
	if err != nil {
		return err
	}

	transport, err := w.Transport()
	if err != nil {
		return err
	}
	listener = joblistener.New(transport,
		joblistener.WithLogger(logger),
		joblistener.WithExtensions(w.Extensions()),
		joblistener.WithMiddleware(
			middleware.Logging(logger),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Timeout(logger),
		),
	)
	registerBuiltins(listener, logger)

	return w.Run(context.Background())
}

// registerBuiltins installs the jobs every worker understands.
func registerBuiltins(l *joblistener.Listener, logger *slog.Logger) {
	l.Handle("log", func(_ context.Context, cc *cluster.Context, job *wire.Job) error {
		logger.Info("job", slog.Int("rank", cc.Rank()), slog.String("payload", string(job.Payload)))
		return nil
	})
	l.Handle("sleep", func(ctx context.Context, _ *cluster.Context, job *wire.Job) error {
		d, err := time.ParseDuration(job.Params["duration"])
		if err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	l.Handle("config", func(_ context.Context, cc *cluster.Context, _ *wire.Job) error {
		for _, k := range cc.Config().Keys() {
			v, _ := cc.Config().Get(k)
			logger.Info("config", slog.String("key", k), slog.String("value", v))
		}
		return nil
	})
	l.Handle("fail", func(_ context.Context, _ *cluster.Context, job *wire.Job) error {
		code, err := strconv.Atoi(job.Params["code"])
		if err != nil {
			code = wire.ErrCodeJobFailed
		}
		return &wire.ErrorDetail{Code: code, Message: string(job.Payload)}
	})
}
