package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/channelaccess/snapshot"
)

func main() {
	cfg := snapshot.DefaultConfig()
	cfg.Timeout = 500 * time.Millisecond
	cfg.Sim.PVs = []snapshot.SimPV{
		{Name: "examplePv:test-1", Value: 20},
		{Name: "examplePv:offline", Unreachable: true},
	}

	sink, reports, closeReports := snapshot.NewChannelAudit("watcher", 8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range reports {
			fmt.Printf("[audit] %s %s: %d failed of %d\n", r.Kind, r.ID, len(r.Failures()), len(r.Results))
		}
	}()

	engine, err := snapshot.NewEngine(cfg, snapshot.WithAudit(sink))
	if err != nil {
		log.Fatalf("new engine: %v", err)
	}

	dir, err := os.MkdirTemp("", "pvsnap-channel")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	req := snapshot.RequestSet{"examplePv:test-1", "examplePv:offline"}
	_, _, err = engine.Save(context.Background(), req, filepath.Join(dir, "forced.snap"), snapshot.SaveOptions{Force: true})
	if err != nil {
		log.Printf("save: %v", err)
	}

	_ = engine.Close()
	closeReports()
	wg.Wait()
}
