package scrape

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrTokenNotCaptured means the portal never issued the authenticated API
// call while we watched. Without it no listing page can be fetched, so the
// caller must abort the crawl.
var ErrTokenNotCaptured = errors.New("authorization token not captured")

// DefaultUserAgent is presented both by the browser session and on every
// direct API call made with the captured credentials.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

const acceptJSON = "application/json, text/plain, */*"

// stealthScript hides the one property the portal's anti-bot check reads.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// SessionCredentials is the header set captured from the rendered page.
// Held in memory for the duration of one crawl, never persisted.
type SessionCredentials struct {
	Authorization string
	APIKey        string
	UserAgent     string
	Accept        string
	Referer       string
}

// Header renders the credentials as the headers both portal endpoints want.
func (c *SessionCredentials) Header() http.Header {
	h := http.Header{}
	h.Set("Authorization", c.Authorization)
	h.Set("X-Api-Key", c.APIKey)
	h.Set("User-Agent", c.UserAgent)
	h.Set("Accept", c.Accept)
	h.Set("Referer", c.Referer)
	return h
}

// FallbackCredentials builds a header set around the public API key, for
// detail refreshes that run without a captured browser session.
func FallbackCredentials(webBase, publicKey string) *SessionCredentials {
	return &SessionCredentials{
		APIKey:    publicKey,
		UserAgent: DefaultUserAgent,
		Accept:    acceptJSON,
		Referer:   webBase + "/",
	}
}

// CredentialConfig tunes the browser session used for token sniffing.
type CredentialConfig struct {
	WebBase        string
	APIHost        string // substring that identifies API requests, e.g. "api.buscador"
	PublicAPIKey   string // fallback when the page never exposes x-api-key
	UserAgent      string
	Headless       bool
	NavTimeout     time.Duration // whole-session budget, default 90s per the portal's slow first paint
	PollAttempts   int           // 1s polls before the reload, default 20
	ReloadAttempts int           // 1s polls after the reload, default 10
}

func (c *CredentialConfig) withDefaults() CredentialConfig {
	out := *c
	if out.WebBase == "" {
		out.WebBase = DefaultWebBase
	}
	if out.APIHost == "" {
		out.APIHost = "api.buscador"
	}
	if out.UserAgent == "" {
		out.UserAgent = DefaultUserAgent
	}
	if out.NavTimeout <= 0 {
		out.NavTimeout = 90 * time.Second
	}
	if out.PollAttempts <= 0 {
		out.PollAttempts = 20
	}
	if out.ReloadAttempts <= 0 {
		out.ReloadAttempts = 10
	}
	return out
}

// CredentialAcquirer obtains a valid session token by rendering the listing
// page in Chrome and observing the network requests the page itself makes
// to the API host. The browser is closed as soon as the token is captured;
// the token is reused for every HTTP call in the same crawl.
type CredentialAcquirer struct {
	cfg CredentialConfig
}

func NewCredentialAcquirer(cfg CredentialConfig) *CredentialAcquirer {
	return &CredentialAcquirer{cfg: cfg.withDefaults()}
}

type headerCapture struct {
	mu      sync.Mutex
	headers map[string]string
}

func (h *headerCapture) set(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.headers[key]; !ok && value != "" {
		h.headers[key] = value
	}
}

func (h *headerCapture) get(key string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.headers[key]
}

func (h *headerCapture) hasToken() bool {
	return h.get("authorization") != ""
}

// Acquire runs the capture state machine: load the page, watch outgoing
// requests, poke the UI if the token is slow, reload once, and fail if the
// token never shows up. progress receives user-facing status text.
func (a *CredentialAcquirer) Acquire(ctx context.Context, progress func(string)) (*SessionCredentials, error) {
	cfg := a.cfg
	emit := func(msg string) {
		if progress != nil {
			progress(msg)
		}
	}
	emit("Abriendo Chrome (Modo Stealth)...")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("start-maximized", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, cfg.NavTimeout)
	defer cancelTimeout()

	captured := &headerCapture{headers: map[string]string{}}
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || !strings.Contains(req.Request.URL, cfg.APIHost) {
			return
		}
		for name, raw := range req.Request.Headers {
			value, _ := raw.(string)
			switch strings.ToLower(name) {
			case "authorization":
				captured.set("authorization", value)
			case "x-api-key":
				captured.set("x-api-key", value)
			}
		}
	})

	log.Printf("credentials: navigating to listing page")
	err := chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(ListingPageURL(cfg.WebBase, 1, ListingFilters{})),
	)
	if err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", cfg.WebBase, err)
	}

	if !sleepCtx(taskCtx, 5*time.Second) {
		return nil, taskCtx.Err()
	}

	// The page sometimes only calls the API after user input: nudge it.
	if !captured.hasToken() {
		if err := a.simulateInteraction(taskCtx); err != nil {
			log.Printf("credentials: interaction nudge failed (continuing): %v", err)
		}
	}

	a.pollForToken(taskCtx, captured, cfg.PollAttempts, emit)

	if !captured.hasToken() {
		log.Printf("credentials: token still missing, reloading page")
		emit("Recargando página...")
		if err := chromedp.Run(taskCtx, chromedp.Reload()); err != nil {
			return nil, fmt.Errorf("reloading listing page: %w", err)
		}
		if !sleepCtx(taskCtx, 5*time.Second) {
			return nil, taskCtx.Err()
		}
		a.pollForToken(taskCtx, captured, cfg.ReloadAttempts, emit)
	}

	if !captured.hasToken() {
		return nil, ErrTokenNotCaptured
	}

	apiKey := captured.get("x-api-key")
	if apiKey == "" {
		apiKey = cfg.PublicAPIKey
	}

	log.Printf("credentials: token captured")
	emit("Credenciales capturadas.")
	return &SessionCredentials{
		Authorization: captured.get("authorization"),
		APIKey:        apiKey,
		UserAgent:     cfg.UserAgent,
		Accept:        acceptJSON,
		Referer:       cfg.WebBase + "/",
	}, nil
}

// simulateInteraction performs pointer movement and clicks the search
// button so the page issues its authenticated API call. Bounded by its own
// short timeout: a missing button must not eat the session budget.
func (a *CredentialAcquirer) simulateInteraction(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, 200, 200).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, 400, 400).Do(ctx)
		}),
		chromedp.Click(`//button[contains(., "Buscar")]`, chromedp.BySearch, chromedp.NodeVisible),
	)
}

func (a *CredentialAcquirer) pollForToken(ctx context.Context, captured *headerCapture, attempts int, emit func(string)) {
	for i := 1; i <= attempts && !captured.hasToken(); i++ {
		emit(fmt.Sprintf("Esperando token (%d/%d)...", i, attempts))
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}
