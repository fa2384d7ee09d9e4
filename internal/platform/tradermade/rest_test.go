package tradermade

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

type rotatingKeys struct {
	mu  sync.Mutex
	key string
}

func (k *rotatingKeys) APIKey(context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key, nil
}

func (k *rotatingKeys) rotate(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = key
}

func TestFetchPricesResolvesKeyPerRequest(t *testing.T) {
	var mu sync.Mutex
	var seenKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenKeys = append(seenKeys, r.URL.Query().Get("api_key"))
		mu.Unlock()
		fmt.Fprint(w, `{"quotes":[{"instrument":"EURUSD","mid":1.08}],"timestamp":1767225600}`)
	}))
	defer srv.Close()

	keys := &rotatingKeys{key: "first-key"}
	client := NewRESTClient(srv.URL, keys, time.Second)

	_, err := client.FetchPrices(context.Background(), []string{"EURUSD"})
	require.NoError(t, err)

	// A rotated key is picked up on the next call without a new client.
	keys.rotate("second-key")
	result, err := client.FetchPrices(context.Background(), []string{"EURUSD"})
	require.NoError(t, err)
	assert.Equal(t, 1.08, result["EURUSD"].Price)

	assert.Equal(t, []string{"first-key", "second-key"}, seenKeys)
}

func TestFetchPricesUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, &rotatingKeys{key: "rejected"}, time.Second)

	_, err := client.FetchPrices(context.Background(), []string{"EURUSD"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFetchPricesOmitsMissingSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"quotes":[{"instrument":"EURUSD","mid":1.08}],"timestamp":1767225600}`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, &rotatingKeys{key: "k"}, time.Second)

	result, err := client.FetchPrices(context.Background(), []string{"EURUSD", "XAUUSD"})
	require.NoError(t, err)
	assert.Contains(t, result, "EURUSD")
	assert.NotContains(t, result, "XAUUSD")
}
