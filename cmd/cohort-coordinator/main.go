// Command cohort-coordinator forms a cohort of a fixed number of workers,
// optionally broadcasts jobs to it and tells every worker to stop on
// interrupt.
//
// Usage:
//
//	cohort-coordinator -workers 4 [-bind .:20000] [-redis localhost:6379] [-job log] [key=value ...]
//
// Trailing key=value arguments are sent to every worker as configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/cohort"
	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/coordinator"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/ext"
	"github.com/xraph/cohort/mp"
	"github.com/xraph/cohort/observability"
	"github.com/xraph/cohort/store"
	"github.com/xraph/cohort/store/memory"
	redisstore "github.com/xraph/cohort/store/redis"
	"github.com/xraph/cohort/wire"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "cohort-coordinator:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("cohort-coordinator", flag.ContinueOnError)
	var (
		bind       = fs.String("bind", fmt.Sprintf(".:%d", endpoint.DefaultCoordinatorPort), "listen address")
		workers    = fs.Int("workers", 1, "number of workers to gather")
		buildTag   = fs.String("build-tag", cohort.BuildTag, "build identity announced to workers")
		format     = fs.String("format", wire.CodecNameJSON, "wire format: json or msgpack")
		token      = fs.String("token", "", "shared secret for transport links")
		configFile = fs.String("config", "", "YAML file of configuration sent to workers")
		redisAddr  = fs.String("redis", "", "Redis address for the membership registry")
		namespace  = fs.String("namespace", "", "Redis key namespace")
		probe      = fs.Duration("probe", 0, "interval between liveness probes, 0 to disable")
		job        = fs.String("job", "", "job name broadcast once the group is formed")
		debug      = fs.Bool("debug", false, "enable debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workers < 1 {
		return errors.New("-workers must be at least 1")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	settings, rest, err := config.ParseArgs(fs.Args())
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
		settings = config.Merge(fileTree, settings)
	}

	bindEP, err := endpoint.Parse(*bind)
	if err != nil {
		return err
	}
	if bindEP.Port == 0 {
		bindEP = bindEP.WithPort(endpoint.DefaultCoordinatorPort)
	}
	if bindEP, err = endpoint.Resolve(bindEP); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	members, err := openStore(ctx, *redisAddr, *namespace, logger)
	if err != nil {
		return err
	}
	defer func() { _ = members.Close() }()

	extensions := ext.NewRegistry(logger)
	extensions.Register(observability.NewMetricsExtension())

	var coord *coordinator.Coordinator
	commOpts := []mp.Option{
		mp.WithLogger(logger),
		mp.WithFormat(*format),
		mp.WithOnDisconnect(func(peer endpoint.Endpoint, cause error) {
			if coord != nil {
				coord.PeerLost(peer, cause)
			}
		}),
	}
	if *token != "" {
		commOpts = append(commOpts, mp.WithToken(*token))
	}
	comm := mp.New(endpoint.ControlEndpoint(bindEP), commOpts...)

	coord = coordinator.New(comm, *workers,
		coordinator.WithLogger(logger),
		coordinator.WithStore(members),
		coordinator.WithExtensions(extensions),
		coordinator.WithVersion(cohort.VersionMajor, cohort.VersionMinor),
		coordinator.WithBuildTag(*buildTag),
		coordinator.WithConfig(settings),
		coordinator.WithProbeInterval(*probe),
	)

	if err := comm.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := comm.Stop(); stopErr != nil {
			logger.Warn("transport stop error", slog.String("error", stopErr.Error()))
		}
	}()

	group, err := coord.Gather(ctx)
	if err != nil {
		return err
	}
	logger.Info("group formed", slog.Any("members", group.Strings()))

	served := make(chan error, 1)
	go func() { served <- coord.Serve(ctx) }()

	if *job != "" {
		if err := coord.Broadcast(ctx, wire.Job{Name: *job}); err != nil {
			logger.Error("broadcast failed", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	logger.Info("stopping workers")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := coord.Stop(stopCtx); err != nil {
		logger.Warn("stop failed", slog.String("error", err.Error()))
	}
	printMembers(stopCtx, coord, logger)
	return <-served
}

func openStore(ctx context.Context, addr, namespace string, logger *slog.Logger) (store.Store, error) {
	if addr == "" {
		return memory.New(), nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	s := redisstore.New(client, redisstore.WithLogger(logger), redisstore.WithNamespace(namespace))
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return s, nil
}

func printMembers(ctx context.Context, coord *coordinator.Coordinator, logger *slog.Logger) {
	list, err := coord.Members(ctx)
	if err != nil {
		logger.Warn("list members failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range list {
		attrs := []any{
			slog.Int("rank", m.Rank),
			slog.String("endpoint", m.Endpoint),
			slog.String("state", string(m.State)),
		}
		if m.State != cluster.MemberActive && m.Reason != "" {
			attrs = append(attrs, slog.String("reason", m.Reason))
		}
		logger.Info("member", attrs...)
	}
}
