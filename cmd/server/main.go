package main

import (
	"context"
	"log"
	"os"

	"github.com/bcastro/ca-radar/internal/api"
	"github.com/bcastro/ca-radar/internal/app"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx := context.Background()
	a, err := app.Build(ctx)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Pool.Close()

	srv := api.NewServer(a.Pool, a.Pipeline, a.Cfg.RetentionDays)
	log.Printf("Server starting on port %s...", port)
	if err := srv.Start(port); err != nil {
		log.Fatal(err)
	}
}
