package main

import (
	"context"
	"log"

	"github.com/bcastro/ca-radar/internal/app"
	"github.com/bcastro/ca-radar/internal/etl"
)

func main() {
	ctx := context.Background()
	a, err := app.Build(ctx)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Pool.Close()

	err = a.Pipeline.RecomputeAll(ctx, func(p etl.Progress) {
		log.Printf("[%3d%%] %s", p.Percent, p.Text)
	})
	if err != nil {
		log.Fatalf("Recompute failed: %v", err)
	}
}
