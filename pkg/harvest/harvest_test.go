package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
	"github.com/reblisbiver/emotional-crawler/pkg/emotion"
	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
	"github.com/reblisbiver/emotional-crawler/pkg/extract"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
	"github.com/reblisbiver/emotional-crawler/pkg/ratelimit"
	"github.com/reblisbiver/emotional-crawler/pkg/session"
)

// scriptProvider serves a fixed sequence of pages; each scroll advances
// to the next one and the last page repeats.
type scriptProvider struct {
	pages  []string
	idx    int
	navErr error
	closed bool
}

func (s *scriptProvider) Navigate(ctx context.Context, target string) error {
	if s.navErr != nil {
		return s.navErr
	}
	s.idx = 0
	return nil
}

func (s *scriptProvider) CurrentLocation() string { return "https://example.com/search" }

func (s *scriptProvider) PageHTML(ctx context.Context) (string, error) {
	return s.pages[s.idx], nil
}

func (s *scriptProvider) Scroll(ctx context.Context) error {
	if s.idx < len(s.pages)-1 {
		s.idx++
	}
	return nil
}

func (s *scriptProvider) AwaitReady(ctx context.Context) error { return nil }

func (s *scriptProvider) Close() error {
	s.closed = true
	return nil
}

type classifierFunc func(ctx context.Context, text string) (*emotion.Result, error)

func (f classifierFunc) ClassifyText(ctx context.Context, text string) (*emotion.Result, error) {
	return f(ctx, text)
}

type memStore struct {
	appended []models.ContentItem
	saved    []string
	appends  int
}

func (m *memStore) AppendContentItems(_ models.Platform, items []models.ContentItem) error {
	m.appends++
	m.appended = append(m.appended, items...)
	return nil
}

func (m *memStore) SavePendingImage(platform models.Platform, ownerID string, index int, _ []byte) (*models.ImageAsset, error) {
	name := fmt.Sprintf("%s_%d.jpg", ownerID, index)
	m.saved = append(m.saved, name)
	return &models.ImageAsset{
		Platform: platform,
		OwnerID:  ownerID,
		State:    models.AssetPending,
	}, nil
}

type fetcherFunc func(ctx context.Context, url, referer string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, url, referer string) ([]byte, error) {
	return f(ctx, url, referer)
}

func okFetcher(ctx context.Context, url, referer string) ([]byte, error) {
	return []byte{0xff, 0xd8}, nil
}

func cardHTML(id, text string, images int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<section class="note-item"><a href="/explore/%s">link</a>`, id)
	if text != "" {
		fmt.Fprintf(&b, `<div class="note-text"><span>%s</span></div>`, text)
	}
	if images > 0 {
		b.WriteString(`<div class="swiper">`)
		for i := 0; i < images; i++ {
			fmt.Fprintf(&b, `<img src="https://sns-img.xhscdn.com/%s-%d.jpg">`, id, i)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</section>`)
	return b.String()
}

func pageHTML(cards ...string) string {
	return "<html><body>" + strings.Join(cards, "") + "</body></html>"
}

const longText = "一段足够长的测试正文内容，超过最小长度要求"

func joyResult() *emotion.Result {
	scores := emotion.Scores{}
	for _, c := range emotion.Vocabulary {
		scores[c] = 0.01
	}
	scores[emotion.Joy] = 0.9
	return &emotion.Result{Scores: scores, Dominant: emotion.Joy, Secondary: emotion.Neutral}
}

func neutralResult() *emotion.Result {
	scores := emotion.Scores{}
	for _, c := range emotion.Vocabulary {
		scores[c] = 0.05
	}
	scores[emotion.Neutral] = 0.9
	return &emotion.Result{Scores: scores, Dominant: emotion.Neutral, Secondary: emotion.Joy}
}

func admitAll(ctx context.Context, text string) (*emotion.Result, error) {
	return joyResult(), nil
}

func testController(pages []string, st *memStore, classifier emotion.TextClassifier, fetch fetcherFunc, crawl config.CrawlConfig) *Controller {
	return providerController(&scriptProvider{pages: pages}, st, classifier, fetch, crawl, nil)
}

func providerController(provider *scriptProvider, st *memStore, classifier emotion.TextClassifier, fetch fetcherFunc, crawl config.CrawlConfig, limiter ratelimit.Limiter) *Controller {
	rules := extract.XiaohongshuRules(crawl)
	adapter := session.NewAdapter(provider, 0, time.Minute, "", nil)

	var gate *emotion.Gate
	if classifier != nil {
		gate = emotion.NewGate(0.3, []emotion.Category{
			emotion.Joy, emotion.Anger, emotion.Sadness,
			emotion.Fear, emotion.Surprise, emotion.Disgust,
		})
	}

	return NewController(Deps{
		Adapter:    adapter,
		Extractor:  extract.New(rules, nil),
		Rules:      rules,
		Classifier: classifier,
		Gate:       gate,
		Store:      st,
		Fetcher:    fetch,
		Limiter:    limiter,
		Crawl:      crawl,
	})
}

// countingLimiter records how often the loop waited on it.
type countingLimiter struct{ waits int }

func (c *countingLimiter) Allow() bool { return true }
func (c *countingLimiter) Wait()       { c.waits++ }
func (c *countingLimiter) Reset()      {}

func baseCrawl() config.CrawlConfig {
	return config.CrawlConfig{
		TargetTexts:      10,
		TargetImages:     0,
		MaxPages:         10,
		StagnationLimit:  3,
		MinTextLength:    10,
		MaxImagesPerCard: 3,
	}
}

func TestRunStopsWhenTargetsMet(t *testing.T) {
	crawl := baseCrawl()
	crawl.TargetTexts = 2

	st := &memStore{}
	page := pageHTML(
		cardHTML("id1", longText, 0),
		cardHTML("id2", longText, 0),
		cardHTML("id3", longText, 0),
	)
	c := testController([]string{page}, st, classifierFunc(admitAll), okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, StopTargetsMet, stats.StoppedReason)
	assert.Equal(t, 2, stats.TextsSaved)
	assert.Equal(t, 2, stats.TotalChecked, "processing stops mid-cycle once targets are met")
	require.Len(t, st.appended, 2)
	assert.True(t, st.appended[0].PassedGate)
	assert.Equal(t, "id1", st.appended[0].ExternalID)
	assert.Equal(t, "joy", st.appended[0].DominantCategory)
}

func TestRunEmptyFirstCycleFails(t *testing.T) {
	st := &memStore{}
	c := testController([]string{pageHTML()}, st, classifierFunc(admitAll), okFetcher, baseCrawl())

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.Error(t, err)
	assert.True(t, crawlerrors.Is(err, crawlerrors.KindNoCardsFound))
	assert.Equal(t, 1, stats.Cycles)
}

// Re-rendered cards never reprocess: ids are claimed before extraction,
// and cycles without fresh content eventually stop the run.
func TestRunDeduplicatesAndStopsOnStagnation(t *testing.T) {
	crawl := baseCrawl()
	crawl.StagnationLimit = 2

	classified := 0
	counting := classifierFunc(func(ctx context.Context, text string) (*emotion.Result, error) {
		classified++
		return joyResult(), nil
	})

	st := &memStore{}
	page := pageHTML(cardHTML("id1", longText, 0), cardHTML("id2", longText, 0))
	c := testController([]string{page}, st, counting, okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, StopStagnant, stats.StoppedReason)
	assert.Equal(t, 2, stats.TotalChecked)
	assert.Equal(t, 2, classified, "each card is classified at most once")
	assert.Equal(t, 3, stats.Cycles)
}

func TestRunStopsAtCycleCeiling(t *testing.T) {
	crawl := baseCrawl()
	crawl.MaxPages = 1 // ceiling of five cycles

	var pages []string
	for i := 0; i < 10; i++ {
		pages = append(pages, pageHTML(cardHTML(fmt.Sprintf("id%d", i), longText, 0)))
	}

	reject := classifierFunc(func(ctx context.Context, text string) (*emotion.Result, error) {
		return neutralResult(), nil
	})

	st := &memStore{}
	c := testController(pages, st, reject, okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, StopCycleLimit, stats.StoppedReason)
	assert.Equal(t, 5, stats.Cycles)
	assert.Equal(t, 0, stats.TextsSaved)
	assert.Equal(t, 5, stats.TextsDropped, "gate rejections are dropped, not saved")
	assert.Empty(t, st.appended)
}

// A classification failure drops that one item; the run continues and
// ends through its normal termination conditions.
func TestRunClassifierFailureDropsItem(t *testing.T) {
	crawl := baseCrawl()
	crawl.StagnationLimit = 1

	failing := classifierFunc(func(ctx context.Context, text string) (*emotion.Result, error) {
		return nil, crawlerrors.E(crawlerrors.KindClassificationFailed, "test", "budget exhausted")
	})

	st := &memStore{}
	page := pageHTML(cardHTML("id1", longText, 0))
	c := testController([]string{page}, st, failing, okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ClassifyFailures)
	assert.Equal(t, 1, stats.TextsDropped)
	assert.Empty(t, st.appended)
}

func TestRunDownloadsImagesUpToTarget(t *testing.T) {
	crawl := baseCrawl()
	crawl.TargetTexts = 0
	crawl.TargetImages = 2

	st := &memStore{}
	page := pageHTML(cardHTML("id1", "", 3))
	c := testController([]string{page}, st, classifierFunc(admitAll), okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, StopTargetsMet, stats.StoppedReason)
	assert.Equal(t, 2, stats.ImagesDownloaded)
	assert.Equal(t, []string{"id1_0.jpg", "id1_1.jpg"}, st.saved)
}

// One failed download skips that image only.
func TestRunFailedDownloadAbsorbed(t *testing.T) {
	crawl := baseCrawl()
	crawl.TargetTexts = 0
	crawl.TargetImages = 1

	calls := 0
	flaky := fetcherFunc(func(ctx context.Context, url, referer string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, crawlerrors.E(crawlerrors.KindDownloadFailed, "test", "cdn refused")
		}
		return []byte{1}, nil
	})

	st := &memStore{}
	page := pageHTML(cardHTML("id1", "", 2))
	c := testController([]string{page}, st, classifierFunc(admitAll), flaky, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ImagesDownloaded)
	assert.Equal(t, []string{"id1_1.jpg"}, st.saved)
}

// Without a classifier every extracted text is admitted unscored.
func TestRunWithoutClassifier(t *testing.T) {
	crawl := baseCrawl()
	crawl.TargetTexts = 1

	st := &memStore{}
	page := pageHTML(cardHTML("id1", longText, 0))
	c := testController([]string{page}, st, nil, okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TextsSaved)
	require.Len(t, st.appended, 1)
	assert.True(t, st.appended[0].PassedGate)
	assert.Empty(t, st.appended[0].EmotionScores)
}

// A card without an id is skipped without claiming anything; a later
// cycle may still process its neighbors.
func TestRunDiscardedCardDoesNotCount(t *testing.T) {
	crawl := baseCrawl()
	crawl.TargetTexts = 1

	st := &memStore{}
	noID := `<section class="note-item"><div class="note-text"><span>` + longText + `</span></div></section>`
	page := pageHTML(noID, cardHTML("id1", longText, 0))
	c := testController([]string{page}, st, classifierFunc(admitAll), okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalChecked)
	assert.Equal(t, 1, stats.TextsSaved)
}

func TestRunPersistsOnce(t *testing.T) {
	crawl := baseCrawl()
	crawl.TargetTexts = 2

	st := &memStore{}
	page := pageHTML(cardHTML("id1", longText, 0), cardHTML("id2", longText, 0))
	c := testController([]string{page}, st, classifierFunc(admitAll), okFetcher, crawl)

	_, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)
	assert.Equal(t, 1, st.appends, "admitted items are persisted in one batch per run")
}

// A navigate failure during Open must still release the underlying
// session; the run aborts but the provider is closed.
func TestRunClosesSessionWhenOpenFails(t *testing.T) {
	provider := &scriptProvider{
		pages:  []string{pageHTML(cardHTML("id1", longText, 0))},
		navErr: errors.New("browser gone"),
	}
	st := &memStore{}
	c := providerController(provider, st, classifierFunc(admitAll), okFetcher, baseCrawl(), nil)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.Error(t, err)

	assert.True(t, crawlerrors.Is(err, crawlerrors.KindSessionAborted))
	assert.Equal(t, StopAborted, stats.StoppedReason)
	assert.True(t, provider.closed, "session released on the failed-open path")
}

// Every page advance consults the rate limiter.
func TestRunWaitsBeforeAdvance(t *testing.T) {
	crawl := baseCrawl()
	crawl.StagnationLimit = 2

	limiter := &countingLimiter{}
	provider := &scriptProvider{pages: []string{pageHTML(cardHTML("id1", longText, 0))}}
	st := &memStore{}
	c := providerController(provider, st, nil, okFetcher, crawl, limiter)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, StopStagnant, stats.StoppedReason)
	assert.Equal(t, 3, stats.Cycles)
	assert.Equal(t, 2, limiter.waits, "one wait per advance, none for the final cycle")
}

// A reply the backend mangles on the first attempt surfaces in the run
// statistics as a retry, not only in the logs.
func TestRunCountsTransientRetries(t *testing.T) {
	replies := []string{
		"let me think about that",
		`{"scores": {"joy": 0.9, "anger": 0.01, "sadness": 0.01, "fear": 0.01, ` +
			`"surprise": 0.01, "disgust": 0.01, "neutral": 0.05}, ` +
			`"dominant": "joy", "secondary": "neutral"}`,
	}
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := requests
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		requests++
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": replies[idx]}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := emotion.NewClient(&config.EmotionConfig{
		Enabled:        true,
		Endpoint:       server.URL,
		Model:          "test-model",
		APIKey:         "test-key",
		MaxTextLength:  500,
		RequestTimeout: 5 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}, nil, nil)

	crawl := baseCrawl()
	crawl.TargetTexts = 1

	st := &memStore{}
	page := pageHTML(cardHTML("id1", longText, 0))
	c := testController([]string{page}, st, client, okFetcher, crawl)

	stats, err := c.Run(context.Background(), "https://example.com/search")
	require.NoError(t, err)

	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, stats.ClassifyRetries)
	assert.Equal(t, 0, stats.ClassifyFailures)
	assert.Equal(t, 1, stats.TextsSaved)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &memStore{}
	page := pageHTML(cardHTML("id1", longText, 0))
	c := testController([]string{page}, st, classifierFunc(admitAll), okFetcher, baseCrawl())

	stats, err := c.Run(ctx, "https://example.com/search")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || crawlerrors.Is(err, crawlerrors.KindSessionAborted))
	assert.Equal(t, StopAborted, stats.StoppedReason)
}
