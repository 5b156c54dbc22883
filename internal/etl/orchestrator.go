package etl

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bcastro/ca-radar/internal/models"
	"github.com/bcastro/ca-radar/internal/score"
	"github.com/bcastro/ca-radar/internal/scrape"
	"github.com/google/uuid"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	UpsertRawRecords(ctx context.Context, records []scrape.RawTenderRecord) error
	UnscoredCandidates(ctx context.Context) ([]models.Tender, error)
	AllCandidatesForRescoring(ctx context.Context) ([]models.Tender, error)
	Phase2Candidates(ctx context.Context, threshold int) ([]models.Tender, error)
	TopCandidatesForRefresh(ctx context.Context, threshold int) ([]models.Tender, error)
	FollowedTenders(ctx context.Context) ([]models.Tender, error)
	BidTenders(ctx context.Context) ([]models.Tender, error)
	BulkUpdateScores(ctx context.Context, updates []models.ScoreUpdate) error
	UpdateWithDetail(ctx context.Context, code string, d *scrape.TenderDetail, description string, totalScore int, trace []string) error
}

// CredentialSource yields portal session credentials.
type CredentialSource interface {
	Acquire(ctx context.Context, progress func(string)) (*scrape.SessionCredentials, error)
}

// ListingSource crawls listing pages.
type ListingSource interface {
	Crawl(ctx context.Context, filters scrape.ListingFilters, maxPages int, progress func(string)) ([]scrape.RawTenderRecord, error)
}

// DetailSource fetches one tender's ficha.
type DetailSource interface {
	Fetch(ctx context.Context, code string) *scrape.TenderDetail
}

// HealthSource probes whether the portal is reachable at all.
type HealthSource interface {
	Check() error
}

// Refresh scopes accepted by RefreshDetails.
const (
	ScopeFollowed   = "followed"
	ScopeBid        = "bid"
	ScopeCandidates = "candidates"
	ScopeAll        = "all"
)

// Orchestrator drives the full pipeline: credential acquisition, listing
// crawl, bulk load, two-phase scoring and detail refreshes. The crawler
// and fetcher are built per run because they are bound to the session
// credentials captured at the start of that run.
type Orchestrator struct {
	Store  Store
	Rules  *score.RuleStore
	Engine *score.Engine
	Creds  CredentialSource
	Health HealthSource

	NewCrawler func(creds *scrape.SessionCredentials) ListingSource
	NewFetcher func(creds *scrape.SessionCredentials) DetailSource

	// Fallback is used by detail refreshes when the browser session
	// yields no token. A full crawl never falls back: the listing API
	// rejects requests without a captured token.
	Fallback *scrape.SessionCredentials

	// Phase2Threshold selects tenders for ficha enrichment after a
	// crawl; FinalThreshold selects the standing candidates a refresh
	// re-fetches.
	Phase2Threshold int
	FinalThreshold  int
	DetailDelay     time.Duration
}

// RunFullCrawl executes the whole pipeline for one date window: acquire
// credentials, crawl the listing, load it, score phase 1, then enrich and
// rescore the top candidates with their fichas. A failed token capture
// aborts the run before any page fetch.
func (o *Orchestrator) RunFullCrawl(ctx context.Context, filters scrape.ListingFilters, maxPages int, progress ProgressFunc) error {
	progress.emit(5, "Iniciando Fase 1 (Buscando token)...")

	creds, err := o.Creds.Acquire(ctx, func(msg string) {
		progress.emit(5, "%s", msg)
	})
	if err != nil {
		return &CredentialAcquisitionError{Err: err}
	}

	records, err := o.NewCrawler(creds).Crawl(ctx, filters, maxPages, func(msg string) {
		progress.emit(10, "%s", msg)
	})
	if err != nil {
		return &ListingFetchError{Err: err}
	}
	if len(records) == 0 {
		log.Printf("etl: crawl returned no records, nothing to load")
		progress.emit(100, "Proceso Completo.")
		return nil
	}

	progress.emit(20, "Guardando %d registros...", len(records))
	if err := o.Store.UpsertRawRecords(ctx, records); err != nil {
		return &BulkLoadError{Err: err}
	}

	o.Rules.Reload(ctx)

	candidates, err := o.Store.UnscoredCandidates(ctx)
	if err != nil {
		return &ScoreTransformError{Phase: 1, Err: err}
	}
	progress.emit(30, "Recalculando %d CAs...", len(candidates))
	if err := o.scorePhase1(ctx, candidates); err != nil {
		return err
	}

	top, err := o.Store.Phase2Candidates(ctx, o.Phase2Threshold)
	if err != nil {
		return &ScoreTransformError{Phase: 2, Err: err}
	}
	progress.emit(30, "Iniciando Fase 2 para %d CAs Top...", len(top))
	if err := o.processPhase2List(ctx, o.NewFetcher(creds), top, progress, 30, 70); err != nil {
		return err
	}

	progress.emit(100, "Proceso Completo.")
	return nil
}

// RecomputeAll rescoring every visible tender against the current rules.
// Tenders with a stored ficha also replay phase 2 from it, so the trace
// stays the combined breakdown.
func (o *Orchestrator) RecomputeAll(ctx context.Context, progress ProgressFunc) error {
	o.Rules.Reload(ctx)

	tenders, err := o.Store.AllCandidatesForRescoring(ctx)
	if err != nil {
		return &ScoreTransformError{Phase: 1, Err: err}
	}
	progress.emit(30, "Recalculando %d CAs...", len(tenders))

	updates := make([]models.ScoreUpdate, 0, len(tenders))
	for _, t := range tenders {
		p1 := o.Engine.Phase1(phase1Input(t))
		total, trace := p1.Score, p1.Trace
		if t.HasDetail && p1.Score != score.ExcludedOrgScore {
			p2 := o.Engine.Phase2(scrape.HTMLToText(t.Description), t.Products)
			total += p2.Score
			trace = append(trace, p2.Trace...)
		}
		updates = append(updates, models.ScoreUpdate{ID: t.ID, Score: total, Trace: trace})
	}

	if err := o.Store.BulkUpdateScores(ctx, updates); err != nil {
		return &ScoreTransformError{Phase: 1, Err: err}
	}
	progress.emit(100, "Proceso Completo.")
	return nil
}

// RefreshDetails re-fetches fichas for the requested scopes and rescores
// each tender from scratch. Duplicate tenders across scopes are fetched
// once.
func (o *Orchestrator) RefreshDetails(ctx context.Context, scopes []string, progress ProgressFunc) error {
	o.Rules.Reload(ctx)

	var tenders []models.Tender
	seen := map[uuid.UUID]bool{}
	for _, scope := range scopes {
		batch, err := o.scopeTenders(ctx, scope)
		if err != nil {
			return err
		}
		for _, t := range batch {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			tenders = append(tenders, t)
		}
	}
	if len(tenders) == 0 {
		progress.emit(100, "Proceso Completo.")
		return nil
	}

	progress.emit(5, "Iniciando Fase 1 (Buscando token)...")
	creds := o.acquireCredentials(ctx, progress)

	progress.emit(10, "Actualizando %d CAs...", len(tenders))
	if err := o.processPhase2List(ctx, o.NewFetcher(creds), tenders, progress, 10, 90); err != nil {
		return err
	}
	progress.emit(100, "Proceso Completo.")
	return nil
}

func (o *Orchestrator) scopeTenders(ctx context.Context, scope string) ([]models.Tender, error) {
	switch scope {
	case ScopeFollowed:
		return o.Store.FollowedTenders(ctx)
	case ScopeBid:
		return o.Store.BidTenders(ctx)
	case ScopeCandidates:
		return o.Store.TopCandidatesForRefresh(ctx, o.FinalThreshold)
	case ScopeAll:
		var out []models.Tender
		for _, s := range []string{ScopeFollowed, ScopeBid, ScopeCandidates} {
			batch, err := o.scopeTenders(ctx, s)
			if err != nil {
				return nil, err
			}
			out = append(out, batch...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown refresh scope %q", scope)
	}
}

// RunHealthCheck probes the portal listing page.
func (o *Orchestrator) RunHealthCheck() error {
	return o.Health.Check()
}

// acquireCredentials runs the browser capture and downgrades to the public
// key on failure. Only detail refreshes use this: the ficha endpoint
// accepts the public key, the listing endpoint does not.
func (o *Orchestrator) acquireCredentials(ctx context.Context, progress ProgressFunc) *scrape.SessionCredentials {
	creds, err := o.Creds.Acquire(ctx, func(msg string) {
		progress.emit(5, "%s", msg)
	})
	if err != nil {
		credErr := &CredentialAcquisitionError{Err: err}
		log.Printf("etl: %v, using public key", credErr)
		return o.Fallback
	}
	return creds
}

func (o *Orchestrator) scorePhase1(ctx context.Context, tenders []models.Tender) error {
	if len(tenders) == 0 {
		return nil
	}
	updates := make([]models.ScoreUpdate, 0, len(tenders))
	for _, t := range tenders {
		r := o.Engine.Phase1(phase1Input(t))
		updates = append(updates, models.ScoreUpdate{ID: t.ID, Score: r.Score, Trace: r.Trace})
	}
	if err := o.Store.BulkUpdateScores(ctx, updates); err != nil {
		return &ScoreTransformError{Phase: 1, Err: err}
	}
	return nil
}

// processPhase2List fetches each tender's ficha, rescores both phases with
// the fetched text, and persists the combined result. Fetch failures skip
// the tender; storage failures abort the run. Per-record progress fills
// the band (base, base+span], so percentages never step backwards past
// what the caller already reported.
func (o *Orchestrator) processPhase2List(ctx context.Context, fetcher DetailSource, tenders []models.Tender, progress ProgressFunc, base, span int) error {
	total := len(tenders)
	for i, t := range tenders {
		progress.emit(base+(i+1)*span/max(total, 1), "Actualizando: %s", t.Code)

		detail := fetcher.Fetch(ctx, t.Code)
		if detail == nil {
			log.Printf("etl: no detail for %s, skipping", t.Code)
			continue
		}

		p1 := o.Engine.Phase1(score.Phase1Input{
			Name:             t.Name,
			OrganizationName: t.OrganizationName,
			StatusText:       statusOr(detail.Status, t.StatusText),
		})
		combined := p1.Score
		trace := p1.Trace
		if p1.Score != score.ExcludedOrgScore {
			p2 := o.Engine.Phase2(scrape.HTMLToText(detail.Description), detail.Products)
			combined += p2.Score
			trace = append(trace, p2.Trace...)
		}

		clean := scrape.SanitizeHTML(detail.Description)
		if err := o.Store.UpdateWithDetail(ctx, t.Code, detail, clean, combined, trace); err != nil {
			return &DetailRefreshError{Code: t.Code, Err: err}
		}

		if i < len(tenders)-1 && o.DetailDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.DetailDelay):
			}
		}
	}
	return nil
}

func phase1Input(t models.Tender) score.Phase1Input {
	return score.Phase1Input{
		Name:             t.Name,
		OrganizationName: t.OrganizationName,
		StatusText:       t.StatusText,
	}
}

func statusOr(fresh, stored string) string {
	if fresh != "" {
		return fresh
	}
	return stored
}
