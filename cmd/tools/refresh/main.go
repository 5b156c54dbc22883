package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/bcastro/ca-radar/internal/app"
	"github.com/bcastro/ca-radar/internal/etl"
)

func main() {
	scopesFlag := flag.String("scopes", etl.ScopeAll, "comma-separated: followed,bid,candidates,all")
	flag.Parse()

	var scopes []string
	for _, s := range strings.Split(*scopesFlag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}

	ctx := context.Background()
	a, err := app.Build(ctx)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Pool.Close()

	err = a.Pipeline.RefreshDetails(ctx, scopes, func(p etl.Progress) {
		log.Printf("[%3d%%] %s", p.Percent, p.Text)
	})
	if err != nil {
		log.Fatalf("Refresh failed: %v", err)
	}
}
