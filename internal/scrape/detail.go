package scrape

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/bcastro/ca-radar/internal/models"
)

// TenderDetail is the ficha payload for a single tender.
type TenderDetail struct {
	Description      string
	DeliveryAddress  string
	FirstCallCloses  string
	SecondCallCloses string
	Products         []models.RequestedProduct
	Status           string
	ProviderCount    int
	ConvocationState *int
	DeliveryTerm     string
}

type detailResponse struct {
	Success string `json:"success"`
	Payload *struct {
		Description      string `json:"descripcion"`
		DeliveryAddress  string `json:"direccion_entrega"`
		FirstCallCloses  string `json:"fecha_cierre_primer_llamado"`
		SecondCallCloses string `json:"fecha_cierre_segundo_llamado"`
		Products         []struct {
			Name        string `json:"nombre"`
			Description string `json:"descripcion"`
		} `json:"productos_solicitados"`
		Status           string `json:"estado"`
		ProviderCount    int    `json:"cantidad_provedores_cotizando"`
		ConvocationState *int   `json:"estado_convocatoria"`
		DeliveryTerm     string `json:"plazo_entrega"`
	} `json:"payload"`
}

// DetailFetcher GETs fichas directly over HTTP with the crawl's captured
// credentials, or with the public fallback key when no session exists.
type DetailFetcher struct {
	Client  *http.Client
	Retry   *RetryPolicy
	APIBase string
	Creds   *SessionCredentials
}

func NewDetailFetcher(client *http.Client, retry *RetryPolicy, apiBase string, creds *SessionCredentials) *DetailFetcher {
	return &DetailFetcher{Client: client, Retry: retry, APIBase: apiBase, Creds: creds}
}

// Fetch returns the detail for a tender code, or nil for any failure or
// unexpected payload shape (including soft rate limiting). The caller
// decides whether to skip or retry the record.
func (f *DetailFetcher) Fetch(ctx context.Context, code string) *TenderDetail {
	body := f.Retry.Fetch(ctx, f.Client, FichaAPIURL(f.APIBase, code), f.Creds.Header())
	if body == nil {
		return nil
	}

	var resp detailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Printf("detail %s: undecodable payload: %v", code, err)
		return nil
	}
	if resp.Success != "OK" || resp.Payload == nil {
		log.Printf("detail %s: unexpected response shape (success=%q)", code, resp.Success)
		return nil
	}

	p := resp.Payload
	products := make([]models.RequestedProduct, 0, len(p.Products))
	for _, prod := range p.Products {
		products = append(products, models.RequestedProduct{Name: prod.Name, Description: prod.Description})
	}

	return &TenderDetail{
		Description:      p.Description,
		DeliveryAddress:  p.DeliveryAddress,
		FirstCallCloses:  p.FirstCallCloses,
		SecondCallCloses: p.SecondCallCloses,
		Products:         products,
		Status:           p.Status,
		ProviderCount:    p.ProviderCount,
		ConvocationState: p.ConvocationState,
		DeliveryTerm:     p.DeliveryTerm,
	}
}
