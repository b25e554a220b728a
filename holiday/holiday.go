// ABOUTME: Read-only public holiday feed shown alongside local events
// ABOUTME: Fetches Google's public holiday ICS calendars per country and caches them in memory
package holiday

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/charmbracelet/log"

	"github.com/harperreed/calsync/models"
)

const (
	// DefaultTTL is how long a fetched feed is served from memory.
	DefaultTTL = 12 * time.Hour
	// DefaultFeedURL is Google's public ICS endpoint; %s is the escaped calendar id.
	DefaultFeedURL = "https://calendar.google.com/calendar/ical/%s/public/basic.ics"

	dateLayout = "20060102"
)

// Observances that are not days off.
var skipTitles = map[string]bool{
	"식목일":              true,
	"노동절":              true,
	"어버이날":             true,
	"스승의날":             true,
	"제헌절":              true,
	"국군의 날":            true,
	"국군의날":             true,
	"크리스마스 이브":         true,
	"섣달 그믐날":           true,
	"arbor day":        true,
	"labor day":        true,
	"parents' day":     true,
	"parents day":      true,
	"teachers' day":    true,
	"teachers day":     true,
	"constitution day": true,
	"armed forces day": true,
	"christmas eve":    true,
	"new year's eve":   true,
}

// CalendarID maps a country or locale code to Google's holiday calendar id.
// Unknown codes fall back to the US calendar.
func CalendarID(country string) string {
	switch strings.ToLower(strings.TrimSpace(country)) {
	case "ko", "ko-kr", "kr":
		return "ko.south_korea#holiday@group.v.calendar.google.com"
	case "en-gb", "en-uk", "gb", "uk":
		return "en.uk#holiday@group.v.calendar.google.com"
	case "en-au", "au", "en-nz", "nz":
		return "en.australian#holiday@group.v.calendar.google.com"
	case "en-ca", "ca":
		return "en.ca#holiday@group.v.calendar.google.com"
	case "en-in", "in":
		return "en.indian#holiday@group.v.calendar.google.com"
	default:
		return "en.usa#holiday@group.v.calendar.google.com"
	}
}

// Options configures a Provider. Zero values pick the defaults.
type Options struct {
	HTTPClient *http.Client
	// FeedURL is a format string receiving the escaped calendar id.
	FeedURL string
	TTL     time.Duration
	Logger  *log.Logger
}

type feed struct {
	holidays []models.Holiday
	etag     string
	fetched  time.Time
}

// Provider serves holidays per country.
type Provider struct {
	client  *http.Client
	feedURL string
	ttl     time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu    sync.Mutex
	feeds map[string]*feed
}

// NewProvider creates a holiday provider.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		client:  opts.HTTPClient,
		feedURL: opts.FeedURL,
		ttl:     opts.TTL,
		logger:  opts.Logger,
		now:     time.Now,
		feeds:   make(map[string]*feed),
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 15 * time.Second}
	}
	if p.feedURL == "" {
		p.feedURL = DefaultFeedURL
	}
	if p.ttl <= 0 {
		p.ttl = DefaultTTL
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p
}

// List returns the holidays for country whose date falls in [from, to),
// ordered by date.
func (p *Provider) List(ctx context.Context, country string, from, to time.Time) ([]models.Holiday, error) {
	calID := CalendarID(country)

	all, err := p.load(ctx, calID)
	if err != nil {
		return nil, err
	}

	out := make([]models.Holiday, 0)
	for _, h := range all {
		if !from.IsZero() && h.Date.Before(from) {
			continue
		}
		if !to.IsZero() && !h.Date.Before(to) {
			continue
		}
		h.Country = strings.ToLower(strings.TrimSpace(country))
		out = append(out, h)
	}
	return out, nil
}

func (p *Provider) load(ctx context.Context, calID string) ([]models.Holiday, error) {
	p.mu.Lock()
	cached := p.feeds[calID]
	p.mu.Unlock()

	if cached != nil && p.now().Sub(cached.fetched) < p.ttl {
		return cached.holidays, nil
	}

	fresh, err := p.fetch(ctx, calID, cached)
	if err != nil {
		if cached != nil {
			p.logger.Warn("holiday feed unavailable, serving stale copy", "calendar", calID, "err", err)
			return cached.holidays, nil
		}
		return nil, err
	}

	p.mu.Lock()
	p.feeds[calID] = fresh
	p.mu.Unlock()
	return fresh.holidays, nil
}

func (p *Provider) fetch(ctx context.Context, calID string, cached *feed) (*feed, error) {
	feedURL := fmt.Sprintf(p.feedURL, url.PathEscape(calID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build holiday request: %w", err)
	}
	if cached != nil && cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch holidays: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		if cached == nil {
			return nil, fmt.Errorf("holiday feed returned 304 without a cached copy")
		}
		return &feed{holidays: cached.holidays, etag: cached.etag, fetched: p.now()}, nil
	default:
		return nil, fmt.Errorf("holiday feed returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read holiday feed: %w", err)
	}
	holidays, err := Parse(body)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("fetched holiday feed", "calendar", calID, "count", len(holidays))
	return &feed{holidays: holidays, etag: resp.Header.Get("ETag"), fetched: p.now()}, nil
}

// Parse reads an ICS payload into holidays, dropping observances and
// duplicates. Events without a usable start date are skipped.
func Parse(body []byte) ([]models.Holiday, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse holiday feed: %w", err)
	}

	seen := make(map[string]bool)
	var out []models.Holiday
	for _, ev := range cal.Events() {
		summary := ev.GetProperty(ical.ComponentPropertySummary)
		start := ev.GetProperty(ical.ComponentPropertyDtStart)
		if summary == nil || start == nil {
			continue
		}
		title := strings.TrimSpace(summary.Value)
		if title == "" || skipTitles[strings.ToLower(title)] {
			continue
		}

		value := strings.TrimSpace(start.Value)
		if len(value) < len(dateLayout) {
			continue
		}
		date, err := time.ParseInLocation(dateLayout, value[:len(dateLayout)], time.UTC)
		if err != nil {
			continue
		}

		key := date.Format(dateLayout) + "|" + title
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.Holiday{Title: title, Date: date})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].Title < out[j].Title
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}
