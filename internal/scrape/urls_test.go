package scrape

import "testing"

func TestListingAPIURL(t *testing.T) {
	tests := []struct {
		name    string
		page    int
		filters ListingFilters
		want    string
	}{
		{
			name: "no filters",
			page: 1,
			want: "https://api.example/compra-agil?status=2&order_by=recent&page_number=1",
		},
		{
			name:    "date filters",
			page:    3,
			filters: ListingFilters{DateFrom: "2026-08-01", DateTo: "2026-08-31"},
			want:    "https://api.example/compra-agil?status=2&order_by=recent&page_number=3&date_from=2026-08-01&date_to=2026-08-31",
		},
		{
			name:    "region alone is kept",
			page:    1,
			filters: ListingFilters{Region: "13"},
			want:    "https://api.example/compra-agil?status=2&order_by=recent&page_number=1&region=13",
		},
		{
			name:    "region dropped when dates present",
			page:    1,
			filters: ListingFilters{DateFrom: "2026-08-01", Region: "13"},
			want:    "https://api.example/compra-agil?status=2&order_by=recent&page_number=1&date_from=2026-08-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ListingAPIURL("https://api.example", tt.page, tt.filters)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestListingPageURLInjectsRegion(t *testing.T) {
	got := ListingPageURL("https://web.example", 2, ListingFilters{})
	want := "https://web.example/compra-agil?status=2&order_by=recent&page_number=2&region=all"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestFichaURLs(t *testing.T) {
	if got := FichaAPIURL("https://api.example", "1234-56-COT26"); got != "https://api.example/compra-agil?action=ficha&code=1234-56-COT26" {
		t.Errorf("FichaAPIURL = %s", got)
	}
	if got := FichaURL("https://web.example", "1234-56-COT26"); got != "https://web.example/ficha?code=1234-56-COT26" {
		t.Errorf("FichaURL = %s", got)
	}
}
