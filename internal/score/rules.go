package score

import (
	"context"
	"log"
	"sync"

	"github.com/bcastro/ca-radar/internal/models"
	"github.com/google/uuid"
)

// RuleSource is the persistence collaborator the rule cache reads from.
type RuleSource interface {
	AllKeywordRules(ctx context.Context) ([]models.KeywordRule, error)
	AllOrganizationRules(ctx context.Context) ([]models.OrganizationRule, error)
	AllOrganizations(ctx context.Context) ([]models.Organization, error)
}

type ruleSnapshot struct {
	keywords []models.KeywordRule
	priority map[uuid.UUID]int
	excluded map[uuid.UUID]struct{}
	orgIndex map[string]uuid.UUID // normalized organization name -> ID
}

// RuleStore is an in-memory snapshot of scoring rules. Reload swaps the
// snapshot wholesale; readers never observe a partially-updated set.
type RuleStore struct {
	source RuleSource

	mu   sync.RWMutex
	snap ruleSnapshot
}

func NewRuleStore(source RuleSource) *RuleStore {
	return &RuleStore{
		source: source,
		snap: ruleSnapshot{
			priority: map[uuid.UUID]int{},
			excluded: map[uuid.UUID]struct{}{},
			orgIndex: map[string]uuid.UUID{},
		},
	}
}

// Reload re-reads keyword rules, organization rules, and the organization
// name index. A failed read keeps the previous snapshot of that collection:
// losing keywords must not blank the organization rules, and vice versa.
// The name index is best effort and may end up empty.
func (rs *RuleStore) Reload(ctx context.Context) {
	log.Printf("rulestore: reloading rules and keywords")

	rs.mu.RLock()
	next := rs.snap
	rs.mu.RUnlock()

	if kws, err := rs.source.AllKeywordRules(ctx); err != nil {
		log.Printf("rulestore: loading keywords failed, keeping previous set: %v", err)
	} else {
		next.keywords = kws
	}

	if rules, err := rs.source.AllOrganizationRules(ctx); err != nil {
		log.Printf("rulestore: loading organization rules failed, keeping previous set: %v", err)
	} else {
		priority := map[uuid.UUID]int{}
		excluded := map[uuid.UUID]struct{}{}
		for _, r := range rules {
			switch r.Kind {
			case models.OrgRulePriority:
				priority[r.OrganizationID] = r.Points
			case models.OrgRuleExcluded:
				excluded[r.OrganizationID] = struct{}{}
			}
		}
		next.priority = priority
		next.excluded = excluded
	}

	index := map[string]uuid.UUID{}
	if orgs, err := rs.source.AllOrganizations(ctx); err != nil {
		log.Printf("rulestore: building organization index failed, using empty index: %v", err)
	} else {
		for _, o := range orgs {
			if o.Name != "" {
				index[Normalize(o.Name)] = o.ID
			}
		}
	}
	next.orgIndex = index

	rs.mu.Lock()
	rs.snap = next
	rs.mu.Unlock()
}

// Keywords returns the current keyword snapshot. Callers must not mutate it.
func (rs *RuleStore) Keywords() []models.KeywordRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.snap.keywords
}

// OrganizationRule looks up the rule for an organization, if any.
func (rs *RuleStore) OrganizationRule(id uuid.UUID) (models.OrgRuleKind, int, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if _, ok := rs.snap.excluded[id]; ok {
		return models.OrgRuleExcluded, 0, true
	}
	if pts, ok := rs.snap.priority[id]; ok {
		return models.OrgRulePriority, pts, true
	}
	return "", 0, false
}

// OrganizationID resolves a normalized organization name to its identity.
func (rs *RuleStore) OrganizationID(normalizedName string) (uuid.UUID, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	id, ok := rs.snap.orgIndex[normalizedName]
	return id, ok
}
