package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/partd/adapters/hrw"
	"github.com/codewandler/partd/adapters/nats"
	"github.com/codewandler/partd/core/ds"
	"github.com/codewandler/partd/core/partition"
)

// === Config ===

// NOTE: run nats: docker run --net=host nats:latest -js

var (
	logLevel    = slog.LevelInfo
	N           = getEnvInt("N", 50_000)
	batchSize   = getEnvInt("B", 1_000)
	numTenants  = getEnvInt("TENANTS", 200)
	maxRetry    = getEnvInt("MAX_RETRY", 2)
	natsURLFlag = getEnv("NATS_URL", "")
)

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

// === Domain ===

type pingPayload struct {
	Seq int `json:"seq"`
}

type pongPayload struct {
	Seq int `json:"seq"`
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	fmt.Printf("Tenants: %d\n", numTenants)
	fmt.Printf("MaxRetry: %d\n", maxRetry)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	connect := nats.ConnectDefault()
	if natsURLFlag != "" {
		connect = nats.ConnectURL(natsURLFlag)
	}
	nc, closeNc, err := connect()
	checkErr(err)
	defer closeNc()

	nodes := startEchoNodes(nc, 5)
	d := newDispatcher(log, nc, nodes)

	ids := make([]string, numTenants)
	for i := range ids {
		ids[i] = fmt.Sprintf("tenant-%d", i)
	}

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	startAt := time.Now()
	lastTime := time.Now()

	for i := 0; i < N; i++ {
		id := ids[i%len(ids)]
		build := func(node partition.Node, idSet *partition.IDSet[string]) (any, error) {
			return pingPayload{Seq: i}, nil
		}
		_, err := d.SendOne(ctx, id, build, maxRetry, nil, nil)
		checkErr(err)

		if i == 0 {
			continue
		}
		if i%100 == 0 {
			print(".")
		}
		if i%batchSize == 0 {
			mu := getMemUsage()
			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d reqs | %6d ms |  %6d reqs/s | (%d / %d) MiB mem (sys) |\n",
				batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}

	// === stats ===
	println("")
	println("==========================================")

	doneAt := time.Now()
	took := doneAt.Sub(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("avg. requests/s: %d\n", int(float64(N)/took.Seconds()))
}

// === Wiring ===

// newDispatcher assembles a Dispatcher[string, pongPayload] over the
// given NATS connection, seeded with an hrw.Balancer over nodes.
func newDispatcher(log *slog.Logger, nc *natsgo.Conn, nodes []partition.Node) *partition.Dispatcher[string, pongPayload] {
	tp, err := nats.NewTransport[string, pongPayload](nats.TransportConfig[pongPayload]{
		Connect:       func() (*natsgo.Conn, func(), error) { return nc, func() {}, nil },
		Log:           log,
		SubjectPrefix: "loadtest",
	})
	checkErr(err)

	factory := hrw.Factory[string]{
		Key:         func(id string) string { return id },
		PartitionOf: hrw.FNVPartitionFunc[string](func(id string) string { return id }, 256),
		Seed:        "loadtest",
	}
	cache := partition.NewLoadBalancerCache[string](factory)

	endpoints := ds.NewSet[partition.Endpoint]()
	for _, n := range nodes {
		endpoints.Add(partition.Endpoint{Node: n, Alive: true})
	}
	checkErr(cache.Update(endpoints))

	return partition.NewDispatcher[string, pongPayload](partition.DispatcherOptions[string, pongPayload]{
		Cache:     cache,
		Transport: tp,
		Log:       log,
	})
}

// startEchoNodes subscribes count in-process handlers standing in for
// real cluster nodes, each echoing pingPayload back as pongPayload on
// its own "loadtest.<id>" subject.
func startEchoNodes(nc *natsgo.Conn, count int) []partition.Node {
	nodes := make([]partition.Node, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("node-%d", i)
		nodes[i] = partition.Node{ID: id, Addr: id}
		subj := "loadtest." + id
		_, err := nc.Subscribe(subj, func(msg *natsgo.Msg) {
			var req pingPayload
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return
			}
			data, err := json.Marshal(pongPayload{Seq: req.Seq})
			if err != nil {
				return
			}
			frame, err := json.Marshal(struct {
				Data json.RawMessage `json:"data,omitempty"`
			}{Data: data})
			if err != nil {
				return
			}
			_ = nc.Publish(msg.Reply, frame)
		})
		checkErr(err)
	}
	return nodes
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64
	TotalAlloc uint64
	Sys        uint64
	NumGC      uint32
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

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
