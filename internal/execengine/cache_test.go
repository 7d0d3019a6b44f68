package execengine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizePrompt_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CanonicalizePrompt("  a\tb\n  c  "))
}

func TestPromptCacheKey_StableAcrossFormatting(t *testing.T) {
	k1 := PromptCacheKey("gpt-5", 0.701, "hello   world")
	k2 := PromptCacheKey("gpt-5", 0.699, "hello world")
	assert.Equal(t, k1, k2, "quantized temperature and canonicalized prompt should collide")
}

func TestPromptCacheKey_DiffersOnModel(t *testing.T) {
	k1 := PromptCacheKey("gpt-5", 0.7, "hello")
	k2 := PromptCacheKey("gpt-4", 0.7, "hello")
	assert.NotEqual(t, k1, k2)
}

func TestPromptCache_MissThenHitAfterPut(t *testing.T) {
	c := NewPromptCache(time.Hour)
	key := PromptCacheKey("gpt-5", 0.7, "hi")

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, "mp1", PromptCacheEntry{Key: key, Response: "hello"})
	entry, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "hello", entry.Response)
}

func TestPromptCache_ExpiresAfterTTL(t *testing.T) {
	c := NewPromptCache(1 * time.Millisecond)
	key := PromptCacheKey("gpt-5", 0.7, "hi")
	c.Put(key, "mp1", PromptCacheEntry{Key: key, Response: "hello"})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestPromptCache_InvalidateMasterplanDropsOnlyItsEntries(t *testing.T) {
	c := NewPromptCache(time.Hour)
	k1 := PromptCacheKey("gpt-5", 0.7, "one")
	k2 := PromptCacheKey("gpt-5", 0.7, "two")
	c.Put(k1, "mp1", PromptCacheEntry{Key: k1})
	c.Put(k2, "mp2", PromptCacheEntry{Key: k2})

	c.InvalidateMasterplan("mp1")

	_, ok1 := c.Get(k1)
	_, ok2 := c.Get(k2)
	assert.False(t, ok1)
	assert.True(t, ok2)
}

func TestRetrievalCache_ExactHit(t *testing.T) {
	c := NewRetrievalCache(time.Hour)
	key := RetrievalCacheKey("query", 5)
	c.Put(key, "mp1", RetrievalCacheEntry{Key: key, Response: "docs"})

	entry, ok := c.Get(key, "mp1", nil)
	require.True(t, ok)
	assert.Equal(t, "docs", entry.Response)
}

func TestRetrievalCache_MissWithoutEmbeddingDoesNotFallBack(t *testing.T) {
	c := NewRetrievalCache(time.Hour)
	c.Put("other-key", "mp1", RetrievalCacheEntry{Embedding: []float64{1, 0, 0}})

	_, ok := c.Get("missing-key", "mp1", nil)
	assert.False(t, ok)
}

func TestRetrievalCache_SimilarityFallbackAboveThreshold(t *testing.T) {
	c := NewRetrievalCache(time.Hour)
	c.Put("stored", "mp1", RetrievalCacheEntry{Embedding: []float64{1, 0, 0}, Response: "nearest"})

	entry, ok := c.Get("missing-key", "mp1", []float64{1, 0.01, 0})
	require.True(t, ok)
	assert.Equal(t, "nearest", entry.Response)
}

func TestRetrievalCache_SimilarityFallbackBelowThresholdMisses(t *testing.T) {
	c := NewRetrievalCache(time.Hour)
	c.Put("stored", "mp1", RetrievalCacheEntry{Embedding: []float64{1, 0, 0}, Response: "far"})

	_, ok := c.Get("missing-key", "mp1", []float64{0, 1, 0})
	assert.False(t, ok)
}

func TestRetrievalCache_SimilarityFallbackIgnoresOtherMasterplans(t *testing.T) {
	c := NewRetrievalCache(time.Hour)
	c.Put("stored", "mp-other", RetrievalCacheEntry{Embedding: []float64{1, 0, 0}, Response: "nearest"})

	_, ok := c.Get("missing-key", "mp1", []float64{1, 0, 0})
	assert.False(t, ok)
}

func TestRequestBatcher_FlushesOnMaxSize(t *testing.T) {
	dispatched := make(chan []string, 1)
	b := NewRequestBatcher(time.Hour, 2, func(prompts []string) ([]string, error) {
		dispatched <- prompts
		out := make([]string, len(prompts))
		for i, p := range prompts {
			out[i] = "echo:" + p
		}
		return out, nil
	})

	r1 := b.Submit("a")
	r2 := b.Submit("b")

	select {
	case prompts := <-dispatched:
		assert.Equal(t, []string{"a", "b"}, prompts)
	case <-time.After(time.Second):
		t.Fatal("batch did not flush on reaching maxSize")
	}

	res1 := <-r1
	res2 := <-r2
	assert.Equal(t, "echo:a", res1.Response)
	assert.Equal(t, "echo:b", res2.Response)
}

func TestRequestBatcher_FlushesOnWindowElapse(t *testing.T) {
	b := NewRequestBatcher(5*time.Millisecond, 10, func(prompts []string) ([]string, error) {
		return prompts, nil
	})
	res := b.Submit("solo")
	select {
	case r := <-res:
		assert.Equal(t, "solo", r.Response)
	case <-time.After(time.Second):
		t.Fatal("batch did not flush on window elapse")
	}
}

func TestRequestBatcher_DispatchErrorPropagatesToAllWaiters(t *testing.T) {
	b := NewRequestBatcher(5*time.Millisecond, 10, func(prompts []string) ([]string, error) {
		return nil, errors.New("dispatch failed")
	})
	res := b.Submit("x")
	r := <-res
	assert.Error(t, r.Err)
}

func TestSentinelBatchDispatcher_JoinsAndSplitsAlongSentinel(t *testing.T) {
	gen := &fakeGenerator{resp: GeneratorResponse{
		Text: joinBatchPrompts([]string{"reply-a", "reply-b", "reply-c"}),
	}}
	dispatch := NewSentinelBatchDispatcher(gen, "gpt-5", 0.7, time.Second)

	out, err := dispatch([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"reply-a", "reply-b", "reply-c"}, out)
}

func TestSentinelBatchDispatcher_PropagatesGeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("generator down")}
	dispatch := NewSentinelBatchDispatcher(gen, "gpt-5", 0.7, time.Second)

	_, err := dispatch([]string{"a"})
	assert.Error(t, err)
}

func TestRequestBatcher_WithSentinelDispatcherRoundTrips(t *testing.T) {
	gen := &fakeGenerator{resp: GeneratorResponse{
		Text: joinBatchPrompts([]string{"echo:a", "echo:b"}),
	}}
	b := NewRequestBatcher(time.Hour, 2, NewSentinelBatchDispatcher(gen, "gpt-5", 0.7, time.Second))

	r1 := b.Submit("a")
	r2 := b.Submit("b")

	res1 := <-r1
	res2 := <-r2
	assert.Equal(t, "echo:a", res1.Response)
	assert.Equal(t, "echo:b", res2.Response)
}
