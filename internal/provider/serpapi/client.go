// Package serpapi adapts the SerpAPI google_shopping engine into the deal
// pipeline's Fetcher contract: one query with a pagination offset in, a
// filtered list of canonical offers out.
package serpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"github.com/dealhound/dealhound/internal/domain/deals"
	"github.com/dealhound/dealhound/internal/domain/offer"
)

// Config holds the provider connection settings. FetchCount deliberately
// over-fetches so enough raw candidates survive source filtering and
// pagination.
type Config struct {
	APIKey         string
	BaseURL        string
	GoogleDomain   string
	Country        string
	Language       string
	FetchCount     int
	Timeout        time.Duration
	AllowedSources []string
}

const (
	defaultBaseURL    = "https://serpapi.com/search"
	defaultDomain     = "google.com.au"
	defaultCountry    = "au"
	defaultLanguage   = "en"
	defaultFetchCount = 40
	defaultTimeout    = 10 * time.Second
)

// Client issues shopping searches against SerpAPI.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// New creates a Client, applying defaults for unset Config fields.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.GoogleDomain == "" {
		cfg.GoogleDomain = defaultDomain
	}
	if cfg.Country == "" {
		cfg.Country = defaultCountry
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.FetchCount <= 0 {
		cfg.FetchCount = defaultFetchCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// searchResponse is the subset of the provider payload we consume. Field
// names are provider-defined and mapped here, never exposed.
type searchResponse struct {
	ShoppingResults []shoppingResult `json:"shopping_results"`
}

type shoppingResult struct {
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	ProductLink string  `json:"product_link"`
	Thumbnail   string  `json:"thumbnail"`
	Price       string  `json:"price"`
	Source      string  `json:"source"`
	Rating      float64 `json:"rating"`
	Reviews     int     `json:"reviews"`
	Shipping    string  `json:"shipping"`
}

// Fetch runs one shopping search and returns allow-listed canonical offers,
// each stamped with the fetch time. It returns deals.ErrNoCredential when no
// API key is configured and wraps network and non-2xx failures in
// deals.ErrProviderUnavailable so callers can degrade per product.
func (c *Client) Fetch(ctx context.Context, query string, pageOffset int) ([]offer.Offer, error) {
	if c.cfg.APIKey == "" {
		return nil, deals.ErrNoCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(query, pageOffset), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build provider request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(deals.ErrProviderUnavailable, "shopping search: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(deals.ErrProviderUnavailable, "shopping search: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(deals.ErrProviderUnavailable, "read provider response: %v", err)
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrapf(deals.ErrProviderUnavailable, "decode provider response: %v", err)
	}

	fetchedAt := c.now()
	offers := make([]offer.Offer, 0, len(payload.ShoppingResults))
	for _, raw := range payload.ShoppingResults {
		if !offer.SourceAllowed(raw.Source, preferLink(raw), c.cfg.AllowedSources) {
			continue
		}
		offers = append(offers, offer.Offer{
			Title:     raw.Title,
			Link:      preferLink(raw),
			Image:     raw.Thumbnail,
			Price:     raw.Price,
			Source:    raw.Source,
			Rating:    raw.Rating,
			Reviews:   raw.Reviews,
			Shipping:  raw.Shipping,
			FetchedAt: fetchedAt,
		})
	}
	return offers, nil
}

func (c *Client) searchURL(query string, pageOffset int) string {
	params := url.Values{
		"api_key":       {c.cfg.APIKey},
		"q":             {query},
		"engine":        {"google_shopping"},
		"google_domain": {c.cfg.GoogleDomain},
		"gl":            {c.cfg.Country},
		"hl":            {c.cfg.Language},
		"tdm":           {"shop"},
		"num":           {strconv.Itoa(c.cfg.FetchCount)},
		"direct_link":   {"true"},
	}
	if pageOffset > 0 {
		params.Set("start", strconv.Itoa(pageOffset))
	}
	return c.cfg.BaseURL + "?" + params.Encode()
}

// preferLink picks the direct product link when the provider supplies one.
func preferLink(r shoppingResult) string {
	if r.ProductLink != "" {
		return r.ProductLink
	}
	return r.Link
}
