package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bcastro/ca-radar/internal/models"
	"github.com/bcastro/ca-radar/internal/scrape"
	"github.com/bcastro/ca-radar/internal/score"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// selectCols is the column list shared by every tender query.
const selectCols = `t.id, t.code, t.name, t.organization_id, o.name, s.name,
	t.amount_clp, t.published_at, t.closes_at, t.closes_at_raw, t.second_call_closes,
	t.provider_count, t.status_text, t.convocation_state,
	t.description, t.delivery_address, t.delivery_term, t.products,
	t.score, t.score_trace, t.hidden,
	COALESCE(tr.is_favorite, FALSE), COALESCE(tr.is_bid, FALSE), COALESCE(tr.note, ''),
	t.created_at, t.updated_at`

const fromTenders = ` FROM tenders t
	JOIN organizations o ON o.id = t.organization_id
	JOIN sectors s ON s.id = o.sector_id
	LEFT JOIN tender_tracking tr ON tr.tender_id = t.id`

func scanTender(scan func(dest ...interface{}) error) (models.Tender, error) {
	var t models.Tender
	var description *string
	var productsRaw, traceRaw []byte

	err := scan(
		&t.ID, &t.Code, &t.Name, &t.OrganizationID, &t.OrganizationName, &t.SectorName,
		&t.AmountCLP, &t.PublishedAt, &t.ClosesAt, &t.ClosesAtRaw, &t.SecondCallCloses,
		&t.ProviderCount, &t.StatusText, &t.ConvocationState,
		&description, &t.DeliveryAddress, &t.DeliveryTerm, &productsRaw,
		&t.Score, &traceRaw, &t.Hidden,
		&t.IsFavorite, &t.IsBid, &t.Note,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}

	if description != nil {
		t.Description = *description
		t.HasDetail = true
	}
	if len(productsRaw) > 0 {
		_ = json.Unmarshal(productsRaw, &t.Products)
	}
	if len(traceRaw) > 0 {
		_ = json.Unmarshal(traceRaw, &t.ScoreTrace)
	}
	return t, nil
}

func (s *Store) queryTenders(ctx context.Context, where string, args ...interface{}) ([]models.Tender, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+selectCols+fromTenders+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Tender
	for rows.Next() {
		t, err := scanTender(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertRawRecords loads one crawl's worth of listing records in a single
// transaction. Existing tenders refresh their volatile fields (provider
// count, status, closing date, convocation state); new tenders start with
// score 0 and an empty trace. The whole batch rolls back on failure.
func (s *Store) UpsertRawRecords(ctx context.Context, records []scrape.RawTenderRecord) error {
	log.Printf("store: loading %d raw records", len(records))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, updated := 0, 0
	seen := map[string]bool{}
	for _, r := range records {
		code := r.Key()
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		orgID, err := getOrCreateOrganization(ctx, tx, r.Organization, r.Unit)
		if err != nil {
			return fmt.Errorf("resolving organization %q: %w", r.Organization, err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE tenders SET
				provider_count = $2,
				status_text = $3,
				closes_at = COALESCE($4, closes_at),
				closes_at_raw = $5,
				convocation_state = COALESCE($6, convocation_state),
				updated_at = NOW()
			WHERE code = $1`,
			code, r.ProviderCount, r.StatusText, parseDate(r.ClosesAt), r.ClosesAt, r.ConvocationState)
		if err != nil {
			return fmt.Errorf("updating tender %s: %w", code, err)
		}
		if tag.RowsAffected() > 0 {
			updated++
			continue
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO tenders (code, name, organization_id, amount_clp,
				published_at, closes_at, closes_at_raw, provider_count,
				status_text, convocation_state, score, score_trace)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, '[]')`,
			code, r.Name, orgID, r.AmountCLP,
			parseDate(r.PublishedAt), parseDate(r.ClosesAt), r.ClosesAt,
			r.ProviderCount, r.StatusText, r.ConvocationState)
		if err != nil {
			return fmt.Errorf("inserting tender %s: %w", code, err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	log.Printf("store: load done, %d new, %d updated", inserted, updated)
	return nil
}

func getOrCreateOrganization(ctx context.Context, tx pgx.Tx, orgName, sectorName string) (uuid.UUID, error) {
	orgName = strings.TrimSpace(orgName)
	if orgName == "" {
		orgName = "Organismo No Especificado"
	}
	sectorName = strings.TrimSpace(sectorName)
	if sectorName == "" {
		sectorName = "No Especificado"
	}

	var sectorID uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO sectors (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, sectorName).Scan(&sectorID)
	if err != nil {
		return uuid.Nil, err
	}

	var orgID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO organizations (name, sector_id) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, orgName, sectorID).Scan(&orgID)
	if err != nil {
		return uuid.Nil, err
	}
	return orgID, nil
}

// UnscoredCandidates returns tenders that have neither a computed score
// nor a fetched detail yet.
func (s *Store) UnscoredCandidates(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE t.score = 0 AND t.description IS NULL AND NOT t.hidden")
}

// AllCandidatesForRescoring returns every visible tender, for the full
// phase-1 recompute.
func (s *Store) AllCandidatesForRescoring(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE NOT t.hidden")
}

// Phase2Candidates returns tenders above the threshold that still lack a
// detail, ordered by closing date so urgent ones are enriched first.
func (s *Store) Phase2Candidates(ctx context.Context, threshold int) ([]models.Tender, error) {
	return s.queryTenders(ctx,
		"WHERE t.score >= $1 AND t.description IS NULL AND NOT t.hidden ORDER BY t.closes_at ASC NULLS LAST",
		threshold)
}

// TopCandidatesForRefresh returns high-scoring tenders that are not already
// tracked as favorite or bid.
func (s *Store) TopCandidatesForRefresh(ctx context.Context, threshold int) ([]models.Tender, error) {
	return s.queryTenders(ctx,
		`WHERE t.score >= $1 AND NOT t.hidden
		AND t.id NOT IN (SELECT tender_id FROM tender_tracking WHERE is_favorite OR is_bid)
		ORDER BY t.closes_at ASC NULLS LAST`,
		threshold)
}

// FollowedTenders returns tenders marked as favorites.
func (s *Store) FollowedTenders(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE COALESCE(tr.is_favorite, FALSE) ORDER BY t.closes_at ASC NULLS LAST")
}

// BidTenders returns tenders the user has bid on.
func (s *Store) BidTenders(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE COALESCE(tr.is_bid, FALSE) ORDER BY t.closes_at ASC NULLS LAST")
}

// BulkUpdateScores writes a batch of phase-1 results. The stored trace is
// replaced, never appended to.
func (s *Store) BulkUpdateScores(ctx context.Context, updates []models.ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		trace, err := json.Marshal(emptyIfNil(u.Trace))
		if err != nil {
			return fmt.Errorf("encoding trace for %s: %w", u.ID, err)
		}
		batch.Queue("UPDATE tenders SET score = $2, score_trace = $3, updated_at = NOW() WHERE id = $1",
			u.ID, u.Score, trace)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range updates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("bulk score update: %w", err)
		}
	}
	return nil
}

// UpdateWithDetail persists a phase-2 refresh: the ficha fields, the
// combined score, and the freshly computed trace.
func (s *Store) UpdateWithDetail(ctx context.Context, code string, d *scrape.TenderDetail, description string, totalScore int, trace []string) error {
	products, err := json.Marshal(emptyProductsIfNil(d.Products))
	if err != nil {
		return fmt.Errorf("encoding products for %s: %w", code, err)
	}
	traceJSON, err := json.Marshal(emptyIfNil(trace))
	if err != nil {
		return fmt.Errorf("encoding trace for %s: %w", code, err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tenders SET
			description = $2,
			delivery_address = $3,
			delivery_term = $4,
			products = $5,
			second_call_closes = $6,
			convocation_state = COALESCE($7, convocation_state),
			provider_count = $8,
			status_text = COALESCE(NULLIF($9, ''), status_text),
			score = $10,
			score_trace = $11,
			updated_at = NOW()
		WHERE code = $1`,
		code, description, d.DeliveryAddress, d.DeliveryTerm, products,
		d.SecondCallCloses, d.ConvocationState, d.ProviderCount, d.Status,
		totalScore, traceJSON)
	if err != nil {
		return fmt.Errorf("updating tender %s with detail: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		log.Printf("store: detail update for unknown code %s, skipped", code)
	}
	return nil
}

// GetTender fetches one tender by ID.
func (s *Store) GetTender(ctx context.Context, id uuid.UUID) (*models.Tender, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectCols+fromTenders+" WHERE t.id = $1", id)
	t, err := scanTender(row.Scan)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListParams filters the review listing.
type ListParams struct {
	MinScore      *int
	OnlyFavorites bool
	OnlyBid       bool
	IncludeHidden bool
	ClosesAfter   *time.Time
	ClosesBefore  *time.Time
	SortBy        string // "score" (default) or "closes_at"
	Limit         int
	Offset        int
}

// ListResult is one page of tenders plus the unpaged total.
type ListResult struct {
	Tenders []models.Tender `json:"tenders"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func buildListWhere(p ListParams) (string, []interface{}) {
	conds := []string{}
	args := []interface{}{}
	if !p.IncludeHidden {
		conds = append(conds, "NOT t.hidden")
	}
	if p.MinScore != nil {
		args = append(args, *p.MinScore)
		conds = append(conds, fmt.Sprintf("t.score >= $%d", len(args)))
	}
	if p.OnlyFavorites {
		conds = append(conds, "COALESCE(tr.is_favorite, FALSE)")
	}
	if p.OnlyBid {
		conds = append(conds, "COALESCE(tr.is_bid, FALSE)")
	}
	if p.ClosesAfter != nil {
		args = append(args, *p.ClosesAfter)
		conds = append(conds, fmt.Sprintf("t.closes_at >= $%d", len(args)))
	}
	if p.ClosesBefore != nil {
		args = append(args, *p.ClosesBefore)
		conds = append(conds, fmt.Sprintf("t.closes_at <= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ListTenders returns a filtered, ordered page for the review API.
func (s *Store) ListTenders(ctx context.Context, p ListParams) (*ListResult, error) {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	where, args := buildListWhere(p)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*)"+fromTenders+" "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting tenders: %w", err)
	}

	order := "ORDER BY t.score DESC, t.closes_at ASC NULLS LAST"
	if p.SortBy == "closes_at" {
		order = "ORDER BY t.closes_at ASC NULLS LAST, t.score DESC"
	}

	args = append(args, p.Limit, p.Offset)
	query := fmt.Sprintf("SELECT %s%s %s %s LIMIT $%d OFFSET $%d",
		selectCols, fromTenders, where, order, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tenders: %w", err)
	}
	defer rows.Close()

	tenders := []models.Tender{}
	for rows.Next() {
		t, err := scanTender(rows.Scan)
		if err != nil {
			return nil, err
		}
		tenders = append(tenders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListResult{Tenders: tenders, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// Stats summarizes the stored corpus for the dashboard.
func (s *Store) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}
	var total, scored, withDetail, favorites, bids int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE score > 0),
			COUNT(*) FILTER (WHERE description IS NOT NULL),
			(SELECT COUNT(*) FROM tender_tracking WHERE is_favorite),
			(SELECT COUNT(*) FROM tender_tracking WHERE is_bid)
		FROM tenders WHERE NOT hidden`).
		Scan(&total, &scored, &withDetail, &favorites, &bids)
	if err != nil {
		return nil, fmt.Errorf("collecting stats: %w", err)
	}
	stats["total"] = total
	stats["scored"] = scored
	stats["with_detail"] = withDetail
	stats["favorites"] = favorites
	stats["bids"] = bids
	return stats, nil
}

func (s *Store) SetFavorite(ctx context.Context, tenderID uuid.UUID, favorite bool) error {
	return s.upsertTracking(ctx, tenderID, "is_favorite", favorite)
}

func (s *Store) SetBid(ctx context.Context, tenderID uuid.UUID, bid bool) error {
	return s.upsertTracking(ctx, tenderID, "is_bid", bid)
}

func (s *Store) upsertTracking(ctx context.Context, tenderID uuid.UUID, column string, value bool) error {
	query := fmt.Sprintf(`
		INSERT INTO tender_tracking (tender_id, %s) VALUES ($1, $2)
		ON CONFLICT (tender_id) DO UPDATE SET %s = $2, updated_at = NOW()`, column, column)
	if _, err := s.pool.Exec(ctx, query, tenderID, value); err != nil {
		return fmt.Errorf("updating tracking for %s: %w", tenderID, err)
	}
	return nil
}

// UpdateNote attaches a free-form note to a tracked tender.
func (s *Store) UpdateNote(ctx context.Context, tenderID uuid.UUID, note string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tender_tracking (tender_id, note) VALUES ($1, $2)
		ON CONFLICT (tender_id) DO UPDATE SET note = $2, updated_at = NOW()`,
		tenderID, note)
	if err != nil {
		return fmt.Errorf("updating note for %s: %w", tenderID, err)
	}
	return nil
}

// HideTender soft-deletes a tender from every candidate list and view.
func (s *Store) HideTender(ctx context.Context, tenderID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "UPDATE tenders SET hidden = TRUE, updated_at = NOW() WHERE id = $1", tenderID)
	return err
}

// DeleteTender removes a tender permanently.
func (s *Store) DeleteTender(ctx context.Context, tenderID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM tenders WHERE id = $1", tenderID)
	return err
}

// CleanupOld deletes stale, untracked tenders whose closing date passed
// more than retentionDays ago.
func (s *Store) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tenders
		WHERE closes_at < NOW() - ($1 * INTERVAL '1 day')
		AND id NOT IN (SELECT tender_id FROM tender_tracking WHERE is_favorite OR is_bid)`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleaning up old tenders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AllKeywordRules returns every keyword rule.
func (s *Store) AllKeywordRules(ctx context.Context) ([]models.KeywordRule, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, text, name_points, desc_points, product_points, created_at FROM keyword_rules ORDER BY text")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KeywordRule
	for rows.Next() {
		var k models.KeywordRule
		if err := rows.Scan(&k.ID, &k.Text, &k.NamePoints, &k.DescPoints, &k.ProductPoints, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// AddKeyword upserts a keyword rule. The text is normalized at write time;
// that invariant is what lets the engine compare snapshots verbatim.
func (s *Store) AddKeyword(ctx context.Context, text string, namePoints, descPoints, productPoints int) (*models.KeywordRule, error) {
	normalized := score.Normalize(text)
	if normalized == "" {
		return nil, fmt.Errorf("keyword text is empty after normalization")
	}

	var k models.KeywordRule
	err := s.pool.QueryRow(ctx, `
		INSERT INTO keyword_rules (text, name_points, desc_points, product_points)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (text) DO UPDATE SET
			name_points = EXCLUDED.name_points,
			desc_points = EXCLUDED.desc_points,
			product_points = EXCLUDED.product_points
		RETURNING id, text, name_points, desc_points, product_points, created_at`,
		normalized, namePoints, descPoints, productPoints).
		Scan(&k.ID, &k.Text, &k.NamePoints, &k.DescPoints, &k.ProductPoints, &k.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("adding keyword %q: %w", normalized, err)
	}
	return &k, nil
}

func (s *Store) DeleteKeyword(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM keyword_rules WHERE id = $1", id)
	return err
}

// AllOrganizationRules returns every organization rule.
func (s *Store) AllOrganizationRules(ctx context.Context) ([]models.OrganizationRule, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT organization_id, kind, points, created_at FROM organization_rules")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrganizationRule
	for rows.Next() {
		var r models.OrganizationRule
		if err := rows.Scan(&r.OrganizationID, &r.Kind, &r.Points, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetOrganizationRule upserts the single rule an organization may have.
func (s *Store) SetOrganizationRule(ctx context.Context, orgID uuid.UUID, kind models.OrgRuleKind, points int) error {
	if kind != models.OrgRulePriority {
		points = 0
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organization_rules (organization_id, kind, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id) DO UPDATE SET kind = $2, points = $3`,
		orgID, kind, points)
	if err != nil {
		return fmt.Errorf("setting organization rule for %s: %w", orgID, err)
	}
	return nil
}

func (s *Store) DeleteOrganizationRule(ctx context.Context, orgID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM organization_rules WHERE organization_id = $1", orgID)
	return err
}

// AllOrganizations returns every known organization with its sector.
func (s *Store) AllOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.name, s.name, o.created_at
		FROM organizations o JOIN sectors s ON s.id = o.sector_id
		ORDER BY o.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.SectorName, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OrganizationByName resolves an organization by its exact stored name.
func (s *Store) OrganizationByName(ctx context.Context, name string) (*models.Organization, error) {
	var o models.Organization
	err := s.pool.QueryRow(ctx, `
		SELECT o.id, o.name, s.name, o.created_at
		FROM organizations o JOIN sectors s ON s.id = o.sector_id
		WHERE o.name = $1`, strings.TrimSpace(name)).
		Scan(&o.ID, &o.Name, &o.SectorName, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// EnsureOrganization get-or-creates an organization outside a crawl, for
// seeding rules against organizations that have not been crawled yet.
func (s *Store) EnsureOrganization(ctx context.Context, name, sectorName string) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	id, err := getOrCreateOrganization(ctx, tx, name, sectorName)
	if err != nil {
		return uuid.Nil, err
	}
	return id, tx.Commit(ctx)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyProductsIfNil(p []models.RequestedProduct) []models.RequestedProduct {
	if p == nil {
		return []models.RequestedProduct{}
	}
	return p
}
