package models

import (
	"time"

	"github.com/google/uuid"
)

// Tender is a persisted "compra ágil" record, enriched over time: the
// listing crawl creates it, phase-1 scoring fills Score/ScoreTrace, and a
// detail refresh fills Description, Products and the delivery fields.
type Tender struct {
	ID               uuid.UUID          `json:"id"`
	Code             string             `json:"code"`
	Name             string             `json:"name"`
	OrganizationID   uuid.UUID          `json:"organization_id"`
	OrganizationName string             `json:"organization_name"`
	SectorName       string             `json:"sector_name"`
	AmountCLP        float64            `json:"amount_clp"`
	PublishedAt      *time.Time         `json:"published_at"`
	ClosesAt         *time.Time         `json:"closes_at"`
	ClosesAtRaw      string             `json:"closes_at_raw"`
	SecondCallCloses string             `json:"second_call_closes"`
	ProviderCount    int                `json:"provider_count"`
	StatusText       string             `json:"status_text"`
	ConvocationState *int               `json:"convocation_state"`
	Description      string             `json:"description"`
	HasDetail        bool               `json:"has_detail"`
	DeliveryAddress  string             `json:"delivery_address"`
	DeliveryTerm     string             `json:"delivery_term"`
	Products         []RequestedProduct `json:"products"`
	Score            int                `json:"score"`
	ScoreTrace       []string           `json:"score_trace"`
	IsFavorite       bool               `json:"is_favorite"`
	IsBid            bool               `json:"is_bid"`
	Note             string             `json:"note"`
	Hidden           bool               `json:"hidden"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ScoreUpdate is one row of a bulk score write: the recompute paths batch
// these instead of round-tripping per tender.
type ScoreUpdate struct {
	ID    uuid.UUID
	Score int
	Trace []string
}

// RequestedProduct is a single line item requested by a tender's ficha.
type RequestedProduct struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Organization is a procuring government entity ("organismo").
type Organization struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	SectorName string    `json:"sector_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// KeywordRule scores a keyword independently in three textual contexts.
// Zero points means the keyword is inactive in that context. Keyword text
// is stored normalized (trimmed, lower-cased) at write time.
type KeywordRule struct {
	ID            uuid.UUID `json:"id"`
	Text          string    `json:"text"`
	NamePoints    int       `json:"name_points"`
	DescPoints    int       `json:"desc_points"`
	ProductPoints int       `json:"product_points"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrgRuleKind distinguishes priority organizations from vetoed ones.
type OrgRuleKind string

const (
	OrgRulePriority OrgRuleKind = "priority"
	OrgRuleExcluded OrgRuleKind = "excluded"
)

// OrganizationRule attaches scoring behavior to an organization. At most
// one rule exists per organization; Points only matters for priority rules.
type OrganizationRule struct {
	OrganizationID uuid.UUID   `json:"organization_id"`
	Kind           OrgRuleKind `json:"kind"`
	Points         int         `json:"points"`
	CreatedAt      time.Time   `json:"created_at"`
}
