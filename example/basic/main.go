package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/channelaccess/snapshot"
)

func main() {
	cfg := snapshot.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.Sim.PVs = []snapshot.SimPV{
		{Name: "examplePv:test-1", Value: 20},
		{Name: "examplePv:test-2", Value: 30},
		{Name: "examplePv:waveform", Value: []any{1.5, 2.5, 3.5}},
	}

	engine, err := snapshot.NewEngine(cfg)
	if err != nil {
		log.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	dir, err := os.MkdirTemp("", "pvsnap-example")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "machine.snap")

	ctx := context.Background()
	req := snapshot.RequestSet{"examplePv:test-1", "examplePv:test-2", "examplePv:waveform"}
	snap, report, err := engine.Save(ctx, req, out, snapshot.SaveOptions{
		Metadata: snapshot.Metadata{Keywords: "example", Comment: "basic save"},
	})
	if err != nil {
		log.Fatalf("save: %v", err)
	}
	fmt.Printf("saved %d pvs to %s in %s\n", len(snap.Entries), out, report.Elapsed())

	report, err = engine.RestoreFile(ctx, out, engine.RestoreOptions())
	if err != nil {
		log.Fatalf("restore: %v", err)
	}
	for _, res := range report.Results {
		fmt.Printf("%-20s %s\n", res.Name, res.Status)
	}
}
