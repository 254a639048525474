package aggregator

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownAggregator means a feed references an aggregator id that is
// not registered. Callers treat this as permanent and disable the feed.
var ErrUnknownAggregator = errors.New("unknown aggregator")

// RegistryConfig carries the upstream credentials some aggregators need.
type RegistryConfig struct {
	YouTubeAPIKey      string
	RedditClientID     string
	RedditClientSecret string
}

// Registry is the static table of available aggregators, built once at
// startup and read-only afterwards.
type Registry struct {
	aggregators map[string]Aggregator
}

func NewRegistry(cfg RegistryConfig) *Registry {
	all := []Aggregator{
		NewGenericAggregator(),
		NewFullWebsiteAggregator(),
		NewHeiseAggregator(),
		NewMerkurAggregator(),
		NewTagesschauAggregator(),
		NewMacTechNewsAggregator(),
		NewCaschysAggregator(),
		NewExplosmAggregator(),
		NewDarkLegacyAggregator(),
		NewMeinMMOAggregator(),
		NewOglafAggregator(),
		NewRedditAggregator(cfg.RedditClientID, cfg.RedditClientSecret),
		NewYouTubeAggregator(cfg.YouTubeAPIKey),
		NewPodcastAggregator(),
	}

	aggregators := make(map[string]Aggregator, len(all))
	for _, agg := range all {
		aggregators[agg.Metadata().ID] = agg
	}
	return &Registry{aggregators: aggregators}
}

// Get resolves an aggregator id.
func (r *Registry) Get(id string) (Aggregator, error) {
	agg, ok := r.aggregators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregator, id)
	}
	return agg, nil
}

// List returns all aggregator metadata, sorted by id.
func (r *Registry) List() []Metadata {
	out := make([]Metadata, 0, len(r.aggregators))
	for _, agg := range r.aggregators {
		out = append(out, agg.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
