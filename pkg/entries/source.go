package entries

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tallyhq/tally/pkg/log"
	"github.com/tallyhq/tally/pkg/metrics"
	"github.com/tallyhq/tally/pkg/types"
)

// Entry weights per upstream source.
const (
	followerEntries   = 1
	subscriberEntries = 5
	giftSubEntries    = 5 // per gifted sub
)

// Source computes the target entries mapping from the upstream stat
// service: followers, subscribers and gift-sub grants, each fetched
// independently and each tolerated missing.
type Source struct {
	cfg      types.UpstreamConfig
	client   *http.Client
	excluded map[string]struct{}
	logger   zerolog.Logger
}

// NewSource creates an entries source from upstream config.
func NewSource(cfg types.UpstreamConfig) *Source {
	excluded := make(map[string]struct{}, len(cfg.ExcludedUsers))
	for _, username := range cfg.ExcludedUsers {
		excluded[types.NormalizeUsername(username)] = struct{}{}
	}

	return &Source{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		excluded: excluded,
		logger:   log.WithComponent("entries"),
	}
}

type followersResponse struct {
	Followers []struct {
		Username string `json:"username"`
	} `json:"followers"`
}

type subscribersResponse struct {
	Subscribers []struct {
		Username string `json:"username"`
	} `json:"subscribers"`
}

type giftSubsResponse struct {
	Gifts []struct {
		Gifter   string `json:"gifter"`
		Quantity int    `json:"quantity"`
	} `json:"gifts"`
}

// Compute aggregates the three sources into one entries mapping.
// Usernames are lowercased before aggregation and excluded users are
// omitted entirely. A source that is unreachable or malformed
// contributes nothing for this cycle; Compute only errors if the
// context is done.
func (s *Source) Compute(ctx context.Context) (types.Entries, error) {
	entries := make(types.Entries)

	var followers followersResponse
	followerTotal := 0
	if err := s.fetch(ctx, "followers", s.cfg.FollowersEndpoint, &followers); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	} else {
		for _, f := range followers.Followers {
			followerTotal += s.add(entries, f.Username, followerEntries)
		}
	}
	metrics.EntriesBySource.WithLabelValues("followers").Set(float64(followerTotal))

	var subscribers subscribersResponse
	subscriberTotal := 0
	if err := s.fetch(ctx, "subscribers", s.cfg.SubscribersEndpoint, &subscribers); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	} else {
		for _, sub := range subscribers.Subscribers {
			subscriberTotal += s.add(entries, sub.Username, subscriberEntries)
		}
	}
	metrics.EntriesBySource.WithLabelValues("subscribers").Set(float64(subscriberTotal))

	var gifts giftSubsResponse
	giftTotal := 0
	if err := s.fetch(ctx, "gift_subs", s.cfg.GiftSubsEndpoint, &gifts); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	} else {
		for _, g := range gifts.Gifts {
			giftTotal += s.add(entries, g.Gifter, giftSubEntries*g.Quantity)
		}
	}
	metrics.EntriesBySource.WithLabelValues("gift_subs").Set(float64(giftTotal))

	return entries, nil
}

// add credits a user, skipping excluded users so they never appear in
// the mapping at all. Returns the entries actually credited.
func (s *Source) add(entries types.Entries, username string, count int) int {
	username = types.NormalizeUsername(username)
	if username == "" {
		return 0
	}
	if _, skip := s.excluded[username]; skip {
		return 0
	}
	entries[username] += count
	return count
}

// fetch GETs one upstream endpoint and decodes the JSON body into out.
func (s *Source) fetch(ctx context.Context, source, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+endpoint, nil)
	if err != nil {
		return s.fetchFailed(source, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.fetchFailed(source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.fetchFailed(source, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return s.fetchFailed(source, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

func (s *Source) fetchFailed(source string, err error) error {
	s.logger.Error().Err(err).Str("source", source).Msg("upstream fetch failed")
	metrics.UpstreamFetchFailuresTotal.WithLabelValues(source).Inc()
	return err
}
