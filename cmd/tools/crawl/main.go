package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/bcastro/ca-radar/internal/app"
	"github.com/bcastro/ca-radar/internal/db"
	"github.com/bcastro/ca-radar/internal/etl"
	"github.com/bcastro/ca-radar/internal/scrape"
)

func main() {
	dateFrom := flag.String("date-from", "", "published-from filter (YYYY-MM-DD)")
	dateTo := flag.String("date-to", "", "published-to filter (YYYY-MM-DD)")
	region := flag.String("region", "", "region filter, ignored when dates are set")
	maxPages := flag.Int("max-pages", 0, "stop after N listing pages (0 = all)")
	top := flag.Int("top", 20, "rows to print after the run")
	flag.Parse()

	ctx := context.Background()
	a, err := app.Build(ctx)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Pool.Close()

	filters := scrape.ListingFilters{DateFrom: *dateFrom, DateTo: *dateTo, Region: *region}
	err = a.Pipeline.RunFullCrawl(ctx, filters, *maxPages, func(p etl.Progress) {
		log.Printf("[%3d%%] %s", p.Percent, p.Text)
	})
	if err != nil {
		log.Fatalf("Crawl failed: %v", err)
	}

	result, err := a.Store.ListTenders(ctx, db.ListParams{
		MinScore: &a.Cfg.Phase1Threshold,
		Limit:    *top,
	})
	if err != nil {
		log.Fatalf("Failed to list results: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Score", "Código", "Organismo", "Nombre", "Cierre"})
	for _, tender := range result.Tenders {
		closes := tender.ClosesAtRaw
		if tender.ClosesAt != nil {
			closes = tender.ClosesAt.Format("02-01-2006 15:04")
		}
		t.AppendRow(table.Row{tender.Score, tender.Code, truncate(tender.OrganizationName, 32), truncate(tender.Name, 48), closes})
	}
	t.Render()
	fmt.Printf("%d of %d tenders at or above score %d (%s)\n",
		len(result.Tenders), result.Total, a.Cfg.Phase1Threshold, time.Now().Format("02-01-2006"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
