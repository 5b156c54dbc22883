package scrape

import "fmt"

// Portal endpoints. The web base renders the React listing page; the api
// base is the JSON backend the page talks to once a session is established.
const (
	DefaultWebBase = "https://buscador.mercadopublico.cl"
	DefaultAPIBase = "https://api.buscador.mercadopublico.cl"
)

// ListingFilters narrows the tender listing. Dates are ISO YYYY-MM-DD.
type ListingFilters struct {
	DateFrom string
	DateTo   string
	Region   string
}

func (f ListingFilters) hasDates() bool {
	return f.DateFrom != "" || f.DateTo != ""
}

func (f ListingFilters) dateQuery() string {
	q := ""
	if f.DateFrom != "" {
		q += "&date_from=" + f.DateFrom
	}
	if f.DateTo != "" {
		q += "&date_to=" + f.DateTo
	}
	return q
}

// ListingPageURL builds the browser-facing listing URL. The rendered page
// wants an explicit region, so "all" is injected when none is given.
func ListingPageURL(webBase string, page int, f ListingFilters) string {
	region := f.Region
	if region == "" {
		region = "all"
	}
	return fmt.Sprintf("%s/compra-agil?status=2&order_by=recent&page_number=%d%s&region=%s",
		webBase, page, f.dateQuery(), region)
}

// ListingAPIURL builds the direct API listing URL. Region is dropped when
// date filters are present: sending both breaks the remote date filter.
func ListingAPIURL(apiBase string, page int, f ListingFilters) string {
	url := fmt.Sprintf("%s/compra-agil?status=2&order_by=recent&page_number=%d%s",
		apiBase, page, f.dateQuery())
	if f.Region != "" && !f.hasDates() {
		url += "&region=" + f.Region
	}
	return url
}

// FichaURL builds the browser-facing detail URL for a tender code.
func FichaURL(webBase, code string) string {
	return fmt.Sprintf("%s/ficha?code=%s", webBase, code)
}

// FichaAPIURL builds the direct API detail URL for a tender code.
func FichaAPIURL(apiBase, code string) string {
	return fmt.Sprintf("%s/compra-agil?action=ficha&code=%s", apiBase, code)
}
