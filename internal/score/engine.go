package score

import (
	"fmt"
	"strings"

	"github.com/bcastro/ca-radar/internal/models"
)

// ExcludedOrgScore is the sentinel returned when a tender's organization is
// vetoed. It is the only negative score phase 1 ever reports.
const ExcludedOrgScore = -9999

// Phase1Input is the listing-only view of a tender that phase 1 scores.
// Fields are raw, unnormalized text.
type Phase1Input struct {
	Name             string
	OrganizationName string
	StatusText       string
}

// Result pairs a score with its human-readable breakdown.
type Result struct {
	Score int
	Trace []string
}

// Engine computes relevance scores against the current rule snapshot.
// Keyword matching is substring containment over normalized text — no word
// boundaries. Short keywords matching as infixes is intentional and must
// not be "fixed" to token matching.
type Engine struct {
	Rules *RuleStore

	// SecondCallPoints is the bonus for tenders re-opened in a second
	// bidding round ("segundo llamado"). Zero disables the bonus.
	SecondCallPoints int
}

func NewEngine(rules *RuleStore, secondCallPoints int) *Engine {
	return &Engine{Rules: rules, SecondCallPoints: secondCallPoints}
}

// Phase1 scores a tender from its listing fields: organization, title and
// status text. An excluded organization is a hard veto; otherwise the final
// score is floored at zero.
func (e *Engine) Phase1(in Phase1Input) Result {
	nameNorm := Normalize(in.Name)
	if nameNorm == "" {
		return Result{Score: 0, Trace: []string{"Sin nombre"}}
	}

	score := 0
	var trace []string

	if orgID, ok := e.Rules.OrganizationID(Normalize(in.OrganizationName)); ok {
		if kind, pts, ok := e.Rules.OrganizationRule(orgID); ok {
			if kind == models.OrgRuleExcluded {
				return Result{Score: ExcludedOrgScore, Trace: []string{"Organismo No Deseado"}}
			}
			score += pts
			trace = append(trace, fmt.Sprintf("Org. Prioritario (+%d)", pts))
		}
	}

	if strings.Contains(Normalize(in.StatusText), "segundo llamado") {
		score += e.SecondCallPoints
		if e.SecondCallPoints != 0 {
			trace = append(trace, fmt.Sprintf("2° Llamado (+%d)", e.SecondCallPoints))
		}
	}

	for _, kw := range e.Rules.Keywords() {
		if kw.NamePoints == 0 {
			continue
		}
		kwNorm := Normalize(kw.Text)
		if kwNorm == "" {
			continue
		}
		if strings.Contains(nameNorm, kwNorm) {
			score += kw.NamePoints
			trace = append(trace, fmt.Sprintf("KW Título: '%s' (%s%d)", kw.Text, plusSign(kw.NamePoints), kw.NamePoints))
		}
	}

	if score < 0 {
		score = 0
	}
	return Result{Score: score, Trace: trace}
}

// Phase2 scores a tender's detail sheet: the description and the requested
// products. The returned delta is unclamped and may be negative.
func (e *Engine) Phase2(description string, products []models.RequestedProduct) Result {
	descNorm := Normalize(description)

	parts := make([]string, 0, len(products))
	for _, p := range products {
		parts = append(parts, Normalize(p.Name+" "+p.Description))
	}
	prodNorm := strings.Join(parts, " ")

	score := 0
	var trace []string

	for _, kw := range e.Rules.Keywords() {
		kwNorm := Normalize(kw.Text)
		if kwNorm == "" {
			continue
		}

		if kw.DescPoints != 0 && descNorm != "" && strings.Contains(descNorm, kwNorm) {
			score += kw.DescPoints
			trace = append(trace, fmt.Sprintf("KW Desc: '%s' (%s%d)", kw.Text, plusSign(kw.DescPoints), kw.DescPoints))
		}

		if kw.ProductPoints != 0 && prodNorm != "" && strings.Contains(prodNorm, kwNorm) {
			score += kw.ProductPoints
			trace = append(trace, fmt.Sprintf("KW Prod: '%s' (%s%d)", kw.Text, plusSign(kw.ProductPoints), kw.ProductPoints))
		}
	}

	return Result{Score: score, Trace: trace}
}

func plusSign(n int) string {
	if n > 0 {
		return "+"
	}
	return ""
}
