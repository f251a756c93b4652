package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

func TestDo_ConcurrentCallersJoinSingleExecution(t *testing.T) {
	d := New()
	var calls int32

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err, _ := d.Do("same-key", func() (interface{}, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return "result", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range results {
		require.Equal(t, "result", v)
	}
}

func TestRequestKey_StableAcrossLanguageOrderAndDifferentByIdentity(t *testing.T) {
	ref := types.ContentRef{Kind: types.KindMovie, ImdbID: "tt0111161"}

	k1 := RequestKey("realdebrid", ref, []string{"en", "de"}, "identity-a")
	k2 := RequestKey("realdebrid", ref, []string{"de", "en"}, "identity-a")
	require.Equal(t, k1, k2, "language order must not affect the key")

	k3 := RequestKey("realdebrid", ref, []string{"en", "de"}, "identity-b")
	require.NotEqual(t, k1, k3, "different identities must never coalesce")
}

func TestIdentityHash_DeterministicAndNonReversible(t *testing.T) {
	h1 := IdentityHash("abcd1234")
	h2 := IdentityHash("abcd1234")
	require.Equal(t, h1, h2)
	require.NotContains(t, h1, "abcd1234")
}
