package score

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/bcastro/ca-radar/internal/models"
	"github.com/google/uuid"
)

type fakeRuleSource struct {
	keywords []models.KeywordRule
	orgRules []models.OrganizationRule
	orgs     []models.Organization

	keywordErr error
	orgRuleErr error
	orgErr     error
}

func (f *fakeRuleSource) AllKeywordRules(ctx context.Context) ([]models.KeywordRule, error) {
	return f.keywords, f.keywordErr
}

func (f *fakeRuleSource) AllOrganizationRules(ctx context.Context) ([]models.OrganizationRule, error) {
	return f.orgRules, f.orgRuleErr
}

func (f *fakeRuleSource) AllOrganizations(ctx context.Context) ([]models.Organization, error) {
	return f.orgs, f.orgErr
}

func newTestEngine(t *testing.T, src *fakeRuleSource, secondCallPoints int) *Engine {
	t.Helper()
	rules := NewRuleStore(src)
	rules.Reload(context.Background())
	return NewEngine(rules, secondCallPoints)
}

func TestPhase1PriorityOrgAndTitleKeyword(t *testing.T) {
	orgID := uuid.New()
	src := &fakeRuleSource{
		keywords: []models.KeywordRule{{Text: "computador", NamePoints: 5}},
		orgRules: []models.OrganizationRule{{OrganizationID: orgID, Kind: models.OrgRulePriority, Points: 20}},
		orgs:     []models.Organization{{ID: orgID, Name: "OrgX"}},
	}
	e := newTestEngine(t, src, 0)

	res := e.Phase1(Phase1Input{
		Name:             "Compra de Computadores",
		OrganizationName: "OrgX",
		StatusText:       "Publicada",
	})

	if res.Score != 25 {
		t.Fatalf("score = %d, want 25 (trace %v)", res.Score, res.Trace)
	}
	want := []string{"Org. Prioritario (+20)", "KW Título: 'computador' (+5)"}
	if !reflect.DeepEqual(res.Trace, want) {
		t.Errorf("trace = %v, want %v", res.Trace, want)
	}
}

func TestPhase1ExcludedOrgVetoDominates(t *testing.T) {
	orgID := uuid.New()
	src := &fakeRuleSource{
		keywords: []models.KeywordRule{{Text: "computador", NamePoints: 50}},
		orgRules: []models.OrganizationRule{{OrganizationID: orgID, Kind: models.OrgRuleExcluded}},
		orgs:     []models.Organization{{ID: orgID, Name: "OrgY"}},
	}
	e := newTestEngine(t, src, 10)

	res := e.Phase1(Phase1Input{
		Name:             "Compra de Computadores",
		OrganizationName: "OrgY",
		StatusText:       "Segundo Llamado",
	})

	if res.Score != ExcludedOrgScore {
		t.Fatalf("score = %d, want %d", res.Score, ExcludedOrgScore)
	}
	if len(res.Trace) != 1 || res.Trace[0] != "Organismo No Deseado" {
		t.Errorf("trace = %v, want exactly [Organismo No Deseado]", res.Trace)
	}
}

func TestPhase1EmptyNameShortCircuits(t *testing.T) {
	e := newTestEngine(t, &fakeRuleSource{
		keywords: []models.KeywordRule{{Text: "agua", NamePoints: 5}},
	}, 0)

	for _, name := range []string{"", "   ", "\n\t"} {
		res := e.Phase1(Phase1Input{Name: name, OrganizationName: "Cualquiera"})
		if res.Score != 0 {
			t.Errorf("Phase1 with name %q: score = %d, want 0", name, res.Score)
		}
		if len(res.Trace) != 1 || res.Trace[0] != "Sin nombre" {
			t.Errorf("Phase1 with name %q: trace = %v, want [Sin nombre]", name, res.Trace)
		}
	}
}

func TestPhase1SubstringMatchingIsAccentAndCaseInsensitive(t *testing.T) {
	e := newTestEngine(t, &fakeRuleSource{
		keywords: []models.KeywordRule{{Text: "agua", NamePoints: 3}},
	}, 0)

	for _, name := range []string{"Suministro de AGUA potable", "Àgua fría para faena"} {
		res := e.Phase1(Phase1Input{Name: name})
		if res.Score != 3 {
			t.Errorf("name %q: score = %d, want 3 (trace %v)", name, res.Score, res.Trace)
		}
	}
}

func TestPhase1NegativeTotalFloorsAtZero(t *testing.T) {
	e := newTestEngine(t, &fakeRuleSource{
		keywords: []models.KeywordRule{
			{Text: "arriendo", NamePoints: -10},
			{Text: "impresora", NamePoints: 4},
		},
	}, 0)

	res := e.Phase1(Phase1Input{Name: "Arriendo de impresoras"})
	if res.Score != 0 {
		t.Fatalf("score = %d, want 0 (floored)", res.Score)
	}
	// The trace still explains both contributions.
	want := []string{"KW Título: 'arriendo' (-10)", "KW Título: 'impresora' (+4)"}
	if !reflect.DeepEqual(res.Trace, want) {
		t.Errorf("trace = %v, want %v", res.Trace, want)
	}
}

func TestPhase1SecondCallBonus(t *testing.T) {
	tests := []struct {
		name      string
		points    int
		status    string
		wantScore int
		wantTrace int
	}{
		{name: "bonus applies", points: 7, status: "CA en Segundo Llamado", wantScore: 7, wantTrace: 1},
		{name: "accented status matches", points: 7, status: "SEGUNDO  LLAMADO", wantScore: 7, wantTrace: 1},
		{name: "zero bonus leaves no trace", points: 0, status: "Segundo Llamado", wantScore: 0, wantTrace: 0},
		{name: "first call ignored", points: 7, status: "Publicada", wantScore: 0, wantTrace: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, &fakeRuleSource{}, tt.points)
			res := e.Phase1(Phase1Input{Name: "Compra generica", StatusText: tt.status})
			if res.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", res.Score, tt.wantScore)
			}
			if len(res.Trace) != tt.wantTrace {
				t.Errorf("trace = %v, want %d entries", res.Trace, tt.wantTrace)
			}
		})
	}
}

func TestPhase1Deterministic(t *testing.T) {
	orgID := uuid.New()
	e := newTestEngine(t, &fakeRuleSource{
		keywords: []models.KeywordRule{
			{Text: "computador", NamePoints: 5},
			{Text: "notebook", NamePoints: 3},
		},
		orgRules: []models.OrganizationRule{{OrganizationID: orgID, Kind: models.OrgRulePriority, Points: 20}},
		orgs:     []models.Organization{{ID: orgID, Name: "Municipalidad de Prueba"}},
	}, 2)

	in := Phase1Input{
		Name:             "Computadores y Notebooks Institucionales",
		OrganizationName: "Municipalidad de Prueba",
		StatusText:       "Segundo Llamado",
	}
	first := e.Phase1(in)
	second := e.Phase1(in)

	if first.Score != second.Score || !reflect.DeepEqual(first.Trace, second.Trace) {
		t.Errorf("Phase1 not deterministic: %v vs %v", first, second)
	}
}

func TestPhase2DescriptionAndProducts(t *testing.T) {
	e := newTestEngine(t, &fakeRuleSource{
		keywords: []models.KeywordRule{
			{Text: "laboratorio", DescPoints: 8},
			{Text: "reactivo", ProductPoints: 6},
			{Text: "mueble", DescPoints: 4, ProductPoints: 4},
		},
	}, 0)

	res := e.Phase2("Equipos de laboratorio", []models.RequestedProduct{
		{Name: "Reactivos químicos", Description: "Set de reactivos"},
	})

	if res.Score != 14 {
		t.Fatalf("score = %d, want 14 (trace %v)", res.Score, res.Trace)
	}
	want := []string{"KW Desc: 'laboratorio' (+8)", "KW Prod: 'reactivo' (+6)"}
	if !reflect.DeepEqual(res.Trace, want) {
		t.Errorf("trace = %v, want %v", res.Trace, want)
	}
}

func TestPhase2DeltaMayBeNegative(t *testing.T) {
	e := newTestEngine(t, &fakeRuleSource{
		keywords: []models.KeywordRule{{Text: "usado", DescPoints: -12}},
	}, 0)

	res := e.Phase2("Equipamiento usado en buen estado", nil)
	if res.Score != -12 {
		t.Errorf("score = %d, want -12 (no floor in phase 2)", res.Score)
	}
}

func TestPhase2EmptyDetail(t *testing.T) {
	e := newTestEngine(t, &fakeRuleSource{
		keywords: []models.KeywordRule{{Text: "agua", DescPoints: 5, ProductPoints: 5}},
	}, 0)

	res := e.Phase2("", nil)
	if res.Score != 0 || len(res.Trace) != 0 {
		t.Errorf("empty detail scored %v, want zero result", res)
	}
}

func TestRuleStoreReloadKeepsPreviousOnFailure(t *testing.T) {
	orgID := uuid.New()
	src := &fakeRuleSource{
		keywords: []models.KeywordRule{{Text: "agua", NamePoints: 5}},
		orgRules: []models.OrganizationRule{{OrganizationID: orgID, Kind: models.OrgRuleExcluded}},
		orgs:     []models.Organization{{ID: orgID, Name: "OrgZ"}},
	}
	rules := NewRuleStore(src)
	rules.Reload(context.Background())

	// A keyword read failure must not blank the organization rules, and the
	// previously loaded keywords must survive.
	src.keywordErr = errors.New("db down")
	rules.Reload(context.Background())

	if kws := rules.Keywords(); len(kws) != 1 || kws[0].Text != "agua" {
		t.Errorf("keywords after failed reload = %v, want previous snapshot", kws)
	}
	if kind, _, ok := rules.OrganizationRule(orgID); !ok || kind != models.OrgRuleExcluded {
		t.Errorf("organization rule lost after keyword failure: ok=%v kind=%v", ok, kind)
	}

	// An organization index failure degrades to an empty, best-effort index.
	src.keywordErr = nil
	src.orgErr = errors.New("db down")
	rules.Reload(context.Background())
	if _, ok := rules.OrganizationID(Normalize("OrgZ")); ok {
		t.Error("organization index should be empty after a failed index build")
	}
}
