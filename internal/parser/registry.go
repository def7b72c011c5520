package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/IshaanNene/hotline-scraper/internal/types"
)

// Entry is a resolved source with its strategy. Exactly one of Offers or News is set.
type Entry struct {
	Source Source
	Kind   Kind
	Offers OfferStrategy
	News   NewsStrategy
}

type registration struct {
	hostFragment string
	entry        Entry
}

// Registry maps URLs to source strategies. The list is closed and ordered;
// the first host fragment contained in the URL host wins.
type Registry struct {
	sources []registration
}

// NewRegistry builds the registry of every supported source.
func NewRegistry(resolver Resolver, concurrency int, logger *slog.Logger) *Registry {
	return &Registry{
		sources: []registration{
			{"hotline.ua", Entry{Source: SourceHotline, Kind: KindProducts, Offers: NewHotlineStrategy(resolver, concurrency, logger)}},
			// epravda.com.ua contains pravda.com.ua, so it is matched first.
			{"epravda.com.ua", Entry{Source: SourceEpravda, Kind: KindNews, News: NewEpravdaStrategy()}},
			{"politeka.net", Entry{Source: SourcePoliteka, Kind: KindNews, News: NewPolitekaStrategy()}},
			{"pravda.com.ua", Entry{Source: SourcePravda, Kind: KindNews, News: NewPravdaStrategy()}},
		},
	}
}

// Resolve returns the entry for rawURL or a ParsingError wrapping ErrUnsupportedSource.
func (r *Registry) Resolve(rawURL string) (Entry, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return Entry{}, &types.ParsingError{URL: rawURL, Err: fmt.Errorf("%w: %q", types.ErrUnsupportedSource, rawURL)}
	}

	host := strings.ToLower(u.Hostname())
	for _, reg := range r.sources {
		if strings.Contains(host, reg.hostFragment) {
			return reg.entry, nil
		}
	}
	return Entry{}, &types.ParsingError{URL: rawURL, Err: fmt.Errorf("%w: %s", types.ErrUnsupportedSource, host)}
}

// ResolveKind is Resolve restricted to one record kind.
func (r *Registry) ResolveKind(rawURL string, kind Kind) (Entry, error) {
	entry, err := r.Resolve(rawURL)
	if err != nil {
		return Entry{}, err
	}
	if entry.Kind != kind {
		return Entry{}, &types.ParsingError{
			URL:    rawURL,
			Source: entry.Source.String(),
			Err:    fmt.Errorf("%w: %s is not a %s source", types.ErrUnsupportedSource, entry.Source, kind),
		}
	}
	return entry, nil
}

// Sources lists the supported host fragments in match order.
func (r *Registry) Sources() []string {
	out := make([]string, len(r.sources))
	for i, reg := range r.sources {
		out[i] = reg.hostFragment
	}
	return out
}
