package entries

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/pkg/types"
)

func testConfig(baseURL string, excluded ...string) types.UpstreamConfig {
	return types.UpstreamConfig{
		BaseURL:             baseURL,
		FollowersEndpoint:   "/followers",
		SubscribersEndpoint: "/subscribers",
		GiftSubsEndpoint:    "/gift-subs",
		Timeout:             2 * time.Second,
		ExcludedUsers:       excluded,
	}
}

func upstreamStub(t *testing.T, followers, subscribers, giftSubs string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if body == "" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/followers", serve(followers))
	mux.HandleFunc("/subscribers", serve(subscribers))
	mux.HandleFunc("/gift-subs", serve(giftSubs))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestComputeWeights tests the per-source entry weights and aggregation
func TestComputeWeights(t *testing.T) {
	server := upstreamStub(t,
		`{"followers":[{"username":"alice"},{"username":"bob"}]}`,
		`{"subscribers":[{"username":"alice"}]}`,
		`{"gifts":[{"gifter":"alice","quantity":2},{"gifter":"carol","quantity":1}]}`,
	)

	source := NewSource(testConfig(server.URL))
	entries, err := source.Compute(context.Background())
	require.NoError(t, err)

	// alice: 1 follow + 5 sub + 10 gifted, bob: 1 follow, carol: 5 gifted
	assert.Equal(t, types.Entries{
		"alice": 16,
		"bob":   1,
		"carol": 5,
	}, entries)
}

// TestComputeNormalizesCase tests case-insensitive aggregation
func TestComputeNormalizesCase(t *testing.T) {
	server := upstreamStub(t,
		`{"followers":[{"username":"Alice"}]}`,
		`{"subscribers":[{"username":"ALICE"}]}`,
		`{"gifts":[]}`,
	)

	source := NewSource(testConfig(server.URL))
	entries, err := source.Compute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.Entries{"alice": 6}, entries)
}

// TestComputeExcludedUsers tests excluded users are omitted entirely
func TestComputeExcludedUsers(t *testing.T) {
	server := upstreamStub(t,
		`{"followers":[{"username":"alice"},{"username":"streambot"}]}`,
		`{"subscribers":[{"username":"StreamBot"}]}`,
		`{"gifts":[{"gifter":"streambot","quantity":3}]}`,
	)

	source := NewSource(testConfig(server.URL, "STREAMBOT"))
	entries, err := source.Compute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.Entries{"alice": 1}, entries)
	assert.NotContains(t, entries, "streambot")
}

// TestComputePartialFailure tests a failed source degrades to empty
func TestComputePartialFailure(t *testing.T) {
	server := upstreamStub(t,
		`{"followers":[{"username":"alice"}]}`,
		"", // subscribers endpoint returns 500
		`{"gifts":[{"gifter":"alice","quantity":1}]}`,
	)

	source := NewSource(testConfig(server.URL))
	entries, err := source.Compute(context.Background())
	require.NoError(t, err)

	// Subscriber entries are simply missing this cycle
	assert.Equal(t, types.Entries{"alice": 6}, entries)
}

// TestComputeMalformedResponse tests bad JSON degrades to empty
func TestComputeMalformedResponse(t *testing.T) {
	server := upstreamStub(t,
		`{"followers": not json`,
		`{"subscribers":[{"username":"bob"}]}`,
		`{"gifts":[]}`,
	)

	source := NewSource(testConfig(server.URL))
	entries, err := source.Compute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.Entries{"bob": 5}, entries)
}

// TestComputeAllSourcesDown tests the whole upstream being unreachable
func TestComputeAllSourcesDown(t *testing.T) {
	source := NewSource(testConfig("http://127.0.0.1:1"))
	entries, err := source.Compute(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestComputeCancelledContext tests context cancellation is fatal
func TestComputeCancelledContext(t *testing.T) {
	server := upstreamStub(t, `{"followers":[]}`, `{"subscribers":[]}`, `{"gifts":[]}`)
	source := NewSource(testConfig(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Compute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
