// Command node runs a safe deposit node: a transport server whose messages
// can reserve drawers in the node's box, plus an admin HTTP API.
//
// Configuration is read from the environment:
//
//	NODE_NAME             node name (random if unset)
//	LISTEN_ADDR           transport address, default 127.0.0.1:7400
//	ADMIN_ADDR            admin HTTP address, default 127.0.0.1:7480; empty disables
//	LOG_LEVEL             debug, info, warn or error
//	MAX_WORKERS           concurrent connections, default 64
//	HANDLER_WORKERS       concurrent deferred handlers, default 8
//	BOX_MAX_KEYS          deposit keys kept before the oldest are incinerated
//	BOX_MONITOR_INTERVAL  how often expired drawers are cleaned out
//	JOURNAL_DIR           when set, every received message is journaled there
//	JOURNAL_ROLL          journal roll interval, default 1h
//	TOPOLOGY_FILE         YAML file of node groups
//	NATS_URL              when set, partition assignments live in a NATS KV bucket
//	PARTITIONS            partition count, default 16
//	PARTITION_SEED        rendezvous hashing seed
//	PROBE_TIMEOUT         how long a probe collects reports, default 5s
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/adapters/nats"
	promadapter "github.com/cloudtrends/semanticdiscoverytoolkit-sub016/adapters/prometheus"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/journal"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/partition"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/process"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/topology"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

type config struct {
	Name           string
	Listen         string
	Admin          string
	LogLevel       string
	MaxWorkers     int
	HandlerWorkers int
	BoxMaxKeys     int
	BoxMonitor     time.Duration
	JournalDir     string
	JournalRoll    time.Duration
	TopologyFile   string
	NatsURL        string
	Partitions     int
	PartitionSeed  string
	ProbeTimeout   time.Duration
}

func loadConfig() config {
	return config{
		Name:           getEnv("NODE_NAME", ""),
		Listen:         getEnv("LISTEN_ADDR", "127.0.0.1:7400"),
		Admin:          getEnv("ADMIN_ADDR", "127.0.0.1:7480"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MaxWorkers:     getEnvInt("MAX_WORKERS", 64),
		HandlerWorkers: getEnvInt("HANDLER_WORKERS", 8),
		BoxMaxKeys:     getEnvInt("BOX_MAX_KEYS", 1024),
		BoxMonitor:     getEnvDuration("BOX_MONITOR_INTERVAL", 10*time.Second),
		JournalDir:     getEnv("JOURNAL_DIR", ""),
		JournalRoll:    getEnvDuration("JOURNAL_ROLL", time.Hour),
		TopologyFile:   getEnv("TOPOLOGY_FILE", ""),
		NatsURL:        getEnv("NATS_URL", ""),
		Partitions:     getEnvInt("PARTITIONS", 16),
		PartitionSeed:  getEnv("PARTITION_SEED", "sdt"),
		ProbeTimeout:   getEnvDuration("PROBE_TIMEOUT", 5*time.Second),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	registerMessages(wire.DefaultRegistry)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := loadConfig()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("node failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// node is everything the admin API reaches into.
type node struct {
	cfg       config
	log       *slog.Logger
	server    *transport.Server
	client    *transport.Client
	box       *deposit.Box
	topo      *topology.Static
	parts     *partition.Partitioner
	probes    *process.Service
	reg       *prometheus.Registry
	startedAt time.Time
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := promadapter.NewAllMetrics(reg)

	n, cleanup, err := newNode(ctx, cfg, log, reg, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := n.server.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	n.topo.Set("self", n.server.Addr())
	log.Info("node up", slog.String("name", n.server.Name()), slog.String("addr", n.server.Addr().String()))

	if cfg.Admin != "" {
		admin := &http.Server{Addr: cfg.Admin, Handler: n.routes()}
		go func() {
			log.Info("admin server starting", slog.String("addr", cfg.Admin))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server error", slog.Any("error", err))
			}
		}()
		defer admin.Shutdown(context.Background())
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case <-n.server.Done():
		log.Info("shutdown requested")
	}
	return nil
}

func newNode(ctx context.Context, cfg config, log *slog.Logger, reg *prometheus.Registry, metrics *promadapter.AllMetrics) (*node, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	topo := topology.NewStatic(nil)
	if cfg.TopologyFile != "" {
		t, err := topology.LoadFile(cfg.TopologyFile)
		if err != nil {
			return nil, nil, err
		}
		topo = t
	}

	store, closeStore, err := partitionStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, closeStore)
	parts := partition.New(partition.Options{Store: store, Log: log, Metrics: metrics.Partition})
	parts.SetPartitionFunction(partition.Rendezvous(cfg.Partitions, cfg.PartitionSeed))

	box := deposit.NewBox(deposit.BoxOptions{
		Name:            cfg.Name,
		MaxKeys:         cfg.BoxMaxKeys,
		MonitorInterval: cfg.BoxMonitor,
		Log:             log,
		Metrics:         metrics.Deposit,
	})
	cleanups = append(cleanups, box.Close)

	var sink transport.MessageSink
	if cfg.JournalDir != "" {
		w, err := journal.NewWriter(journal.WriterOptions{
			Dir:          cfg.JournalDir,
			Prefix:       box.Name(),
			RollInterval: cfg.JournalRoll,
			Log:          log,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = w.Close() })
		sink = w
	}

	server := transport.NewServer(transport.ServerOptions{
		Addr:           cfg.Listen,
		Name:           box.Name(),
		WrapContext:    deposit.WithBox(box),
		MaxWorkers:     cfg.MaxWorkers,
		HandlerWorkers: cfg.HandlerWorkers,
		Log:            log,
		Metrics:        metrics.Transport,
		PoolMetrics:    metrics.Pool,
		Journal:        sink,
	})
	cleanups = append(cleanups, server.Shutdown)

	client := transport.NewClient(transport.ClientOptions{
		Name:        box.Name() + "-client",
		Log:         log,
		Metrics:     metrics.Transport,
		PoolMetrics: metrics.Pool,
	})
	cleanups = append(cleanups, client.Shutdown)

	n := &node{
		cfg:       cfg,
		log:       log,
		server:    server,
		client:    client,
		box:       box,
		topo:      topo,
		parts:     parts,
		reg:       reg,
		startedAt: time.Now(),
	}

	probes, err := process.NewService(process.ServiceOptions{
		Name:    box.Name() + "-probes",
		Factory: n.probeController(metrics.Deposit),
		Log:     log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, probes.Close)
	n.probes = probes

	return n, cleanup, nil
}

func partitionStore(ctx context.Context, cfg config) (partition.Store, func(), error) {
	if cfg.NatsURL == "" {
		return partition.NewMemStore(), func() {}, nil
	}
	kv, err := nats.NewKvStore(ctx, nats.KvConfig{
		Connect: nats.ConnectURL(cfg.NatsURL),
		Bucket:  "sdt_partitions",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("partition store: %w", err)
	}
	return partition.NewKVStore(kv, partition.KVStoreOptions{Prefix: "p."}), kv.Close, nil
}

func (n *node) probeController(m deposit.DepositMetrics) process.Factory {
	return func(_ context.Context, task deposit.Task) (process.Processor, error) {
		p, ok := task.(*Probe)
		if !ok {
			return nil, fmt.Errorf("unsupported task %T", task)
		}
		return deposit.NewController(deposit.ControllerOptions{
			Name: "probe",
			Agent: deposit.AgentOptions{
				Client:            n.client,
				Resolver:          n.topo,
				Task:              task,
				ResponseTimeout:   n.cfg.ProbeTimeout,
				WithdrawalTimeout: n.cfg.ProbeTimeout,
				CloseBox:          true,
				Metrics:           m,
			},
			Groups: []string{p.Group},
			Log:    n.log,
		})
	}
}
