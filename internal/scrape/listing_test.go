package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func fastCrawler(srv *httptest.Server) *ListingCrawler {
	c := NewListingCrawler(
		srv.Client(),
		&RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		srv.URL,
		&SessionCredentials{Authorization: "Bearer t", APIKey: "k", UserAgent: "ua", Accept: "*/*", Referer: "r"},
	)
	c.PageDelayMin = 0
	c.PageDelayMax = 0
	return c
}

func listingPage(page, pageCount int, records ...RawTenderRecord) []byte {
	var resp listingResponse
	resp.Payload.Results = records
	resp.Payload.Pagination.Page = page
	resp.Payload.Pagination.PageCount = pageCount
	b, _ := json.Marshal(resp)
	return b
}

func record(code, name string) RawTenderRecord {
	return RawTenderRecord{Code: code, Name: name, Organization: "Org", StatusText: "Publicada"}
}

func TestCrawlVisitsExactlyPageCountPages(t *testing.T) {
	var pagesSeen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesSeen.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page_number"))
		w.Write(listingPage(page, 3, record(fmt.Sprintf("CA-%d", page), "Compra")))
	}))
	defer srv.Close()

	got, err := fastCrawler(srv).Crawl(context.Background(), ListingFilters{}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pagesSeen.Load() != 3 {
		t.Errorf("pages fetched = %d, want 3", pagesSeen.Load())
	}
	if len(got) != 3 {
		t.Errorf("records = %d, want 3", len(got))
	}
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	var pagesSeen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesSeen.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page_number"))
		w.Write(listingPage(page, 10, record(fmt.Sprintf("CA-%d", page), "Compra")))
	}))
	defer srv.Close()

	if _, err := fastCrawler(srv).Crawl(context.Background(), ListingFilters{}, 2, nil); err != nil {
		t.Fatal(err)
	}
	if pagesSeen.Load() != 2 {
		t.Errorf("pages fetched = %d, want min(pageCount, maxPages) = 2", pagesSeen.Load())
	}
}

func TestCrawlZeroTotalIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(listingPage(1, 0))
	}))
	defer srv.Close()

	got, err := fastCrawler(srv).Crawl(context.Background(), ListingFilters{}, 0, nil)
	if err != nil {
		t.Fatalf("zero pages must not be an error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("records = %d, want 0", len(got))
	}
}

func TestCrawlPageOneFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := fastCrawler(srv).Crawl(context.Background(), ListingFilters{}, 0, nil); err == nil {
		t.Fatal("expected an error when page 1 exhausts retries")
	}
}

func TestCrawlLaterPageFailureTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page_number"))
		if page >= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(listingPage(page, 5, record("CA-1", "Compra uno")))
	}))
	defer srv.Close()

	got, err := fastCrawler(srv).Crawl(context.Background(), ListingFilters{}, 0, nil)
	if err != nil {
		t.Fatalf("later-page failure must preserve partial results, got %v", err)
	}
	if len(got) != 1 || got[0].Code != "CA-1" {
		t.Errorf("partial records = %v, want the page-1 record", got)
	}
}

func TestCrawlSendsSessionHeaders(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write(listingPage(1, 1))
	}))
	defer srv.Close()

	if _, err := fastCrawler(srv).Crawl(context.Background(), ListingFilters{}, 0, nil); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer t" {
		t.Errorf("Authorization = %q, want the captured bearer token", auth)
	}
}

func TestDedupeByCodeLastWins(t *testing.T) {
	records := []RawTenderRecord{
		{Code: "A", Name: "primera"},
		{Code: "B", Name: "otra"},
		{Code: "A", Name: "ultima"},
		{Name: "sin codigo"}, // dropped: no identity
	}

	got := dedupeByCode(records)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Code != "A" || got[0].Name != "ultima" {
		t.Errorf("got[0] = %+v, want code A with the last-seen name", got[0])
	}
	if got[1].Code != "B" {
		t.Errorf("got[1] = %+v, want code B", got[1])
	}
}

func TestRawTenderRecordKeyFallsBackToID(t *testing.T) {
	r := RawTenderRecord{ID: json.Number("9912")}
	if r.Key() != "9912" {
		t.Errorf("Key() = %q, want id fallback", r.Key())
	}
	r.Code = "CA-1"
	if r.Key() != "CA-1" {
		t.Errorf("Key() = %q, want code to win", r.Key())
	}
}
