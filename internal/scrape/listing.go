package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// SafetyPageCap stops a crawl regardless of what the API reports, so a
// misbehaving pagination counter cannot produce a runaway loop.
const SafetyPageCap = 500

// RawTenderRecord is one tender summary as the listing API returns it.
// Ephemeral: produced by the crawler, consumed by the bulk upsert.
type RawTenderRecord struct {
	Code             string      `json:"codigo"`
	ID               json.Number `json:"id"`
	Name             string      `json:"nombre"`
	Organization     string      `json:"organismo"`
	Unit             string      `json:"unidad"`
	AmountCLP        float64     `json:"monto_disponible_CLP"`
	PublishedAt      string      `json:"fecha_publicacion"`
	ClosesAt         string      `json:"fecha_cierre"`
	ProviderCount    int         `json:"cantidad_provedores_cotizando"`
	StatusText       string      `json:"estado"`
	ConvocationState *int        `json:"estado_convocatoria"`
}

// Key is the dedup identity: the tender code, or the raw id if the API
// omitted the code.
func (r RawTenderRecord) Key() string {
	if r.Code != "" {
		return r.Code
	}
	return r.ID.String()
}

type listingResponse struct {
	Payload struct {
		Results    []RawTenderRecord `json:"resultados"`
		Pagination struct {
			Page      int `json:"page"`
			PageCount int `json:"pageCount"`
		} `json:"pagination"`
	} `json:"payload"`
}

// ListingCrawler walks the paginated listing API with credentials captured
// beforehand. Pages are fetched strictly sequentially with a small random
// pause in between, to stay polite and keep dedup order deterministic.
type ListingCrawler struct {
	Client  *http.Client
	Retry   *RetryPolicy
	APIBase string
	Creds   *SessionCredentials

	// PageDelayMin/Max bound the randomized pause between pages.
	PageDelayMin time.Duration
	PageDelayMax time.Duration
}

func NewListingCrawler(client *http.Client, retry *RetryPolicy, apiBase string, creds *SessionCredentials) *ListingCrawler {
	return &ListingCrawler{
		Client:       client,
		Retry:        retry,
		APIBase:      apiBase,
		Creds:        creds,
		PageDelayMin: 500 * time.Millisecond,
		PageDelayMax: time.Second,
	}
}

// Crawl fetches listing pages until the known page count, maxPages (when
// positive), or the safety cap is reached. A failure on page 1 is fatal;
// later failures truncate the crawl and keep the partial result. Records
// are deduplicated by code, last occurrence wins.
func (c *ListingCrawler) Crawl(ctx context.Context, filters ListingFilters, maxPages int, progress func(string)) ([]RawTenderRecord, error) {
	if c.Creds == nil {
		return nil, errors.New("listing crawl requires session credentials")
	}
	emit := func(msg string) {
		if progress != nil {
			progress(msg)
		}
	}

	header := c.Creds.Header()
	var all []RawTenderRecord
	totalPages := 1

	for page := 1; ; page++ {
		if maxPages > 0 && page > maxPages {
			break
		}
		if page > totalPages {
			break
		}
		if page > SafetyPageCap {
			log.Printf("listing: safety cap of %d pages reached, stopping", SafetyPageCap)
			break
		}

		emit(fmt.Sprintf("Procesando página %d...", page))
		body := c.Retry.Fetch(ctx, c.Client, ListingAPIURL(c.APIBase, page, filters), header)
		if body == nil {
			if page == 1 {
				return nil, fmt.Errorf("listing page 1 failed after %d attempts", c.Retry.MaxAttempts)
			}
			log.Printf("listing: page %d failed, truncating crawl with %d records", page, len(all))
			break
		}

		var resp listingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			if page == 1 {
				return nil, fmt.Errorf("decoding listing page 1: %w", err)
			}
			log.Printf("listing: page %d undecodable, truncating crawl: %v", page, err)
			break
		}

		if page == 1 {
			totalPages = resp.Payload.Pagination.PageCount
			log.Printf("listing: %d total pages reported", totalPages)
			if totalPages == 0 {
				// Not an error: the filter window simply has no tenders.
				return nil, nil
			}
		}

		all = append(all, resp.Payload.Results...)

		if !sleepCtx(ctx, c.pageDelay()) {
			return nil, ctx.Err()
		}
	}

	return dedupeByCode(all), nil
}

func (c *ListingCrawler) pageDelay() time.Duration {
	min, max := c.PageDelayMin, c.PageDelayMax
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// dedupeByCode collapses records sharing a code: the slot keeps its first
// position in crawl order, the value keeps the last occurrence.
func dedupeByCode(records []RawTenderRecord) []RawTenderRecord {
	seen := make(map[string]int, len(records))
	out := make([]RawTenderRecord, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if key == "" {
			continue
		}
		if i, ok := seen[key]; ok {
			out[i] = r
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}
