package db

import (
	"strings"
	"testing"
	"time"
)

func intPtr(n int) *int { return &n }

func TestBuildListWhere(t *testing.T) {
	closesAfter := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		params    ListParams
		wantWhere string
		wantArgs  int
	}{
		{
			name:      "default hides hidden",
			params:    ListParams{},
			wantWhere: "WHERE NOT t.hidden",
			wantArgs:  0,
		},
		{
			name:      "include hidden drops the clause entirely",
			params:    ListParams{IncludeHidden: true},
			wantWhere: "",
			wantArgs:  0,
		},
		{
			name:      "min score binds the first placeholder",
			params:    ListParams{MinScore: intPtr(9)},
			wantWhere: "WHERE NOT t.hidden AND t.score >= $1",
			wantArgs:  1,
		},
		{
			name:      "favorites and bids add tracking clauses",
			params:    ListParams{OnlyFavorites: true, OnlyBid: true},
			wantWhere: "WHERE NOT t.hidden AND COALESCE(tr.is_favorite, FALSE) AND COALESCE(tr.is_bid, FALSE)",
			wantArgs:  0,
		},
		{
			name:      "date bound follows score placeholder",
			params:    ListParams{MinScore: intPtr(5), ClosesAfter: &closesAfter},
			wantWhere: "WHERE NOT t.hidden AND t.score >= $1 AND t.closes_at >= $2",
			wantArgs:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildListWhere(tt.params)
			if where != tt.wantWhere {
				t.Errorf("where = %q, want %q", where, tt.wantWhere)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("got %d args, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestSelectColsMatchScanArity(t *testing.T) {
	// scanTender binds 26 destinations; the shared column list must stay
	// in lockstep or every query in the package breaks at once. Function
	// calls in the list nest their own commas, so strip them first.
	flat := selectCols
	for _, inner := range []string{"(tr.is_favorite, FALSE)", "(tr.is_bid, FALSE)", "(tr.note, '')"} {
		flat = strings.Replace(flat, inner, "()", 1)
	}
	cols := strings.Count(flat, ",") + 1
	if cols != 26 {
		t.Fatalf("selectCols has %d columns, scanTender expects 26", cols)
	}
}

func TestEmptyIfNil(t *testing.T) {
	if got := emptyIfNil(nil); got == nil || len(got) != 0 {
		t.Errorf("emptyIfNil(nil) = %v, want empty slice", got)
	}
	in := []string{"a"}
	if got := emptyIfNil(in); len(got) != 1 || got[0] != "a" {
		t.Errorf("emptyIfNil(%v) = %v", in, got)
	}
}
