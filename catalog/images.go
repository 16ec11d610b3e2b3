package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/wfunc/racebot/logger"
	"golang.org/x/time/rate"
)

// ConfirmedImages is the store lookup consulted before any remote source.
type ConfirmedImages interface {
	GetConfirmedCarImage(ctx context.Context, carName string) (string, error)
}

type ImageOptions struct {
	Enabled        bool
	UserAgent      string
	RatePerSecond  float64
	RequestTimeout time.Duration
	FandomURL      string
	WikipediaURL   string
}

// ImageFinder resolves a picture for a car: confirmed store entry first,
// then the Forza fandom wiki, then Wikipedia. Remote calls share one rate limiter.
type ImageFinder struct {
	store   ConfirmedImages
	opts    ImageOptions
	client  *http.Client
	limiter *rate.Limiter

	mu    sync.RWMutex
	cache map[string]string
}

func NewImageFinder(store ConfirmedImages, opts ImageOptions) *ImageFinder {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &ImageFinder{
		store:   store,
		opts:    opts,
		client:  &http.Client{Timeout: opts.RequestTimeout},
		limiter: rate.NewLimiter(limit, 1),
		cache:   make(map[string]string),
	}
}

// Find returns an image URL for carName or "" when nothing is found.
// Lookup failures are logged, never returned.
func (f *ImageFinder) Find(ctx context.Context, carName string) string {
	if f == nil || carName == "" {
		return ""
	}
	if f.store != nil {
		if u, err := f.store.GetConfirmedCarImage(ctx, carName); err == nil && u != "" {
			return u
		}
	}
	if !f.opts.Enabled {
		return ""
	}

	f.mu.RLock()
	cached, ok := f.cache[carName]
	f.mu.RUnlock()
	if ok {
		return cached
	}

	found := ""
	for _, source := range []struct {
		base   string
		origin bool
	}{{f.opts.FandomURL, false}, {f.opts.WikipediaURL, true}} {
		if source.base == "" {
			continue
		}
		u, err := f.mediaWikiImage(ctx, source.base, carName, source.origin)
		if err != nil {
			logger.Log.Warnf("image lookup %s for %q failed: %v", source.base, carName, err)
			continue
		}
		if u != "" {
			found = u
			break
		}
	}

	if found != "" {
		f.mu.Lock()
		f.cache[carName] = found
		f.mu.Unlock()
	}
	return found
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type pageImagesResponse struct {
	Query struct {
		Pages map[string]struct {
			Thumbnail struct {
				Source string `json:"source"`
			} `json:"thumbnail"`
		} `json:"pages"`
	} `json:"query"`
}

// mediaWikiImage runs a title search then a pageimages query against a MediaWiki api.php.
func (f *ImageFinder) mediaWikiImage(ctx context.Context, base, carName string, origin bool) (string, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {carName},
		"srlimit":  {"1"},
		"format":   {"json"},
	}
	if origin {
		params.Set("origin", "*")
	}
	var search searchResponse
	if err := f.getJSON(ctx, base, params, &search); err != nil {
		return "", err
	}
	if len(search.Query.Search) == 0 || search.Query.Search[0].Title == "" {
		return "", nil
	}

	params = url.Values{
		"action":      {"query"},
		"prop":        {"pageimages"},
		"pithumbsize": {"800"},
		"titles":      {search.Query.Search[0].Title},
		"format":      {"json"},
	}
	if origin {
		params.Set("origin", "*")
	}
	var pages pageImagesResponse
	if err := f.getJSON(ctx, base, params, &pages); err != nil {
		return "", err
	}
	for _, page := range pages.Query.Pages {
		return page.Thumbnail.Source, nil
	}
	return "", nil
}

func (f *ImageFinder) getJSON(ctx context.Context, base string, params url.Values, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
