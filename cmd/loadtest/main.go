package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/adapters/nats"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/partition"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/topology"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

// === Config ===

// NOTE: BACKEND=nats needs a server: docker run --net=host nats:latest -js

var (
	logLevel    = slog.LevelWarn
	nodeCount   = getEnvInt("NODES", 8)
	groupCount  = getEnvInt("GROUPS", 2)
	rounds      = getEnvInt("N", 2_000)
	batchSize   = getEnvInt("B", 200)
	units       = getEnvInt("UNITS", 4)
	backendType = getEnv("BACKEND", "mem")
	closeBox    = getEnvBool("CLOSE_BOX", true)
)

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if v == "1" || strings.ToLower(v) == "true" {
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// === Task ===

// Burn does Units steps of busy work on every node and answers with the
// node's name.
type Burn struct {
	Round int
	Units int
}

func (*Burn) MessageType() string  { return "loadtest.Burn" }
func (m *Burn) DepositKey() string { return strconv.Itoa(m.Round) }

func (m *Burn) MarshalWire(e *wire.Encoder) error {
	e.WriteInt(m.Round)
	e.WriteInt(m.Units)
	return nil
}

func (m *Burn) UnmarshalWire(d *wire.Decoder) error {
	m.Round = d.ReadInt()
	m.Units = d.ReadInt()
	return nil
}

func (m *Burn) Generate(_ context.Context, nc transport.Context, counter *deposit.UnitCounter) (wire.Message, error) {
	counter.SetToBeDone(int64(m.Units))
	x := 0
	for i := range m.Units {
		for j := range 1_000 {
			x += i ^ j
		}
		counter.Inc()
	}
	return &wire.Text{Body: fmt.Sprintf("%s:%d", nc.Name(), x)}, nil
}

var _ deposit.Task = (*Burn)(nil)

func init() {
	wire.MustRegisterType[Burn](wire.DefaultRegistry)
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	fmt.Printf("Nodes:   %d in %d groups\n", nodeCount, groupCount)
	fmt.Printf("Backend: %s\n", backendType)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// === nodes ===

	store := createStore(ctx)
	parts := partition.New(partition.Options{Store: store, Log: log})
	parts.SetPartitionFunction(partition.Rendezvous(groupCount, "loadtest"))

	topo := topology.NewStatic(nil)
	members := make(map[string][]transport.NodeAddress)
	for i := range nodeCount {
		name := fmt.Sprintf("node-%d", i)
		box := deposit.NewBox(deposit.BoxOptions{Name: name, Log: log})
		defer box.Close()
		srv := transport.NewServer(transport.ServerOptions{
			Addr:        "127.0.0.1:0",
			Name:        name,
			WrapContext: deposit.WithBox(box),
			Log:         log,
		})
		checkErr(srv.Start(ctx))
		defer srv.Shutdown()

		p, err := parts.Partition(ctx, name)
		checkErr(err)
		group := fmt.Sprintf("g%d", p)
		members[group] = append(members[group], srv.Addr())
	}
	groups := make([]string, 0, len(members))
	for g, addrs := range members {
		topo.Set(g, addrs...)
		groups = append(groups, g)
	}

	client := transport.NewClient(transport.ClientOptions{Name: "loadtest", Log: log})
	defer client.Shutdown()

	ctrl, err := deposit.NewController(deposit.ControllerOptions{
		Name: "loadtest",
		Agent: deposit.AgentOptions{
			Client:       client,
			Resolver:     topo,
			CloseBox:     closeBox,
			PollInterval: 5 * time.Millisecond,
		},
		Groups: groups,
		Log:    log,
	})
	checkErr(err)
	defer ctrl.Close()

	// === START ===

	fmt.Println("==================================")
	fmt.Println("Starting ...")

	startAt := time.Now()
	lastTime := startAt
	var incomplete int

	for i := 1; i <= rounds; i++ {
		results, err := ctrl.Process(ctx, &Burn{Round: i, Units: units})
		checkErr(err)
		for _, r := range results {
			if !r.Complete() {
				incomplete++
			}
		}

		if i%20 == 0 {
			print(".")
		}
		if i%batchSize == 0 {
			mu := getMemUsage()

			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d rounds | %6d ms |  %6d rounds/s | (%d / %d) MiB mem (sys) |\n", batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("   incomplete: %d\n", incomplete)
	fmt.Printf("avg. rounds/s: %d\n", int(float64(rounds)/took.Seconds()))
	fmt.Printf("  node polls/s: %d\n", int(float64(rounds*nodeCount)/took.Seconds()))
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Backend ===

func createStore(ctx context.Context) partition.Store {
	if backendType != "nats" {
		return partition.NewMemStore()
	}
	kv, err := nats.NewKvStore(ctx, nats.KvConfig{
		Connect: nats.ConnectDefault(),
		Bucket:  "loadtest_partitions",
	})
	checkErr(err)
	return partition.NewKVStore(kv, partition.KVStoreOptions{})
}

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
