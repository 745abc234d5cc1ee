// Package harvest runs the acquisition loop for one platform: advance
// the listing, locate cards, deduplicate, extract, classify, gate, and
// download images, strictly one card at a time, until a termination
// condition fires.
package harvest

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
	"github.com/reblisbiver/emotional-crawler/pkg/emotion"
	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
	"github.com/reblisbiver/emotional-crawler/pkg/extract"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
	"github.com/reblisbiver/emotional-crawler/pkg/ratelimit"
	"github.com/reblisbiver/emotional-crawler/pkg/session"
)

// Stop reasons recorded in CrawlStats.
const (
	StopTargetsMet = "targets_met"
	StopStagnant   = "stagnation"
	StopCycleLimit = "cycle_limit"
	StopAborted    = "session_aborted"
)

// Downloader fetches image bytes for one URL.
type Downloader interface {
	Fetch(ctx context.Context, url, referer string) ([]byte, error)
}

// TransientReporter is implemented by classifiers that expose their
// transient-failure hook, so retries can be folded into the run
// statistics.
type TransientReporter interface {
	SetOnTransient(fn func(err error))
}

// Store is the slice of the persistence layer the harvest loop needs.
type Store interface {
	AppendContentItems(platform models.Platform, items []models.ContentItem) error
	SavePendingImage(platform models.Platform, ownerID string, index int, data []byte) (*models.ImageAsset, error)
}

// Deps wires a Controller. Classifier may be nil, in which case every
// text is admitted unscored.
type Deps struct {
	Adapter    *session.Adapter
	Extractor  *extract.Extractor
	Rules      *extract.Rules
	Classifier emotion.TextClassifier
	Gate       *emotion.Gate
	Store      Store
	Fetcher    Downloader
	Limiter    ratelimit.Limiter
	Crawl      config.CrawlConfig
	Log        logger.Logger
}

// Controller is the pagination controller for one platform run. It is
// not safe for concurrent use; a run owns it.
type Controller struct {
	deps Deps
	log  logger.Logger
}

// NewController assembles a controller from its dependencies.
func NewController(deps Deps) *Controller {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	return &Controller{deps: deps, log: deps.Log}
}

// runState carries the per-run mutable state.
type runState struct {
	// processed holds every external id seen this run. An id is inserted
	// before extraction, so each card is processed at most once no matter
	// how often the listing re-renders it.
	processed map[string]bool

	admitted []models.ContentItem
	stats    models.CrawlStats

	stagnation int
}

// Run executes the harvest loop against one listing URL and returns the
// run statistics. Admitted items are persisted even when the run ends in
// an error.
func (c *Controller) Run(ctx context.Context, target string) (*models.CrawlStats, error) {
	st := &runState{
		processed: make(map[string]bool),
		stats:     models.CrawlStats{Platform: c.deps.Rules.Platform},
	}

	if reporter, ok := c.deps.Classifier.(TransientReporter); ok {
		reporter.SetOnTransient(func(error) { st.stats.ClassifyRetries++ })
		defer reporter.SetOnTransient(nil)
	}

	// The session is released on every exit path, including a failed
	// open: a login timeout must not leak the underlying automation
	// session.
	defer c.deps.Adapter.Close()

	if err := c.deps.Adapter.Open(ctx, target); err != nil {
		st.stats.StoppedReason = StopAborted
		return &st.stats, err
	}

	err := c.loop(ctx, st)

	if persistErr := c.deps.Store.AppendContentItems(c.deps.Rules.Platform, st.admitted); persistErr != nil {
		c.log.WithError(persistErr).Error("failed to persist admitted items")
		if err == nil {
			err = persistErr
		}
	}

	c.log.InfoWithFields("harvest finished", map[string]interface{}{
		"platform": string(st.stats.Platform),
		"checked":  st.stats.TotalChecked,
		"texts":    st.stats.TextsSaved,
		"images":   st.stats.ImagesDownloaded,
		"cycles":   st.stats.Cycles,
		"retries":  st.stats.ClassifyRetries,
		"reason":   st.stats.StoppedReason,
	})
	return &st.stats, err
}

func (c *Controller) loop(ctx context.Context, st *runState) error {
	const op = "harvest.loop"

	maxCycles := c.deps.Crawl.MaxCycles()
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			st.stats.StoppedReason = StopAborted
			return crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
		}

		st.stats.Cycles = cycle

		cards, err := c.deps.Adapter.Cards(ctx, c.deps.Rules.CardStrategies)
		if err != nil {
			st.stats.StoppedReason = StopAborted
			return err
		}

		// An empty first cycle means every card locator failed against
		// the live page, which is a markup drift signal, not a normal
		// end of content.
		if len(cards) == 0 && cycle == 1 {
			st.stats.StoppedReason = StopAborted
			return crawlerrors.E(crawlerrors.KindNoCardsFound, op,
				"no content cards found on first cycle")
		}

		fresh := c.processCards(ctx, st, cards)

		if c.targetsMet(st) {
			st.stats.StoppedReason = StopTargetsMet
			return nil
		}

		if fresh == 0 {
			st.stagnation++
		} else {
			st.stagnation = 0
		}
		if st.stagnation >= c.deps.Crawl.StagnationLimit {
			st.stats.StoppedReason = StopStagnant
			c.log.InfoWithFields("no new content across consecutive cycles, stopping", map[string]interface{}{
				"cycles_without_new": st.stagnation,
			})
			return nil
		}

		if cycle >= maxCycles {
			st.stats.StoppedReason = StopCycleLimit
			return nil
		}

		c.deps.Limiter.Wait()
		if err := c.deps.Adapter.Advance(ctx); err != nil {
			st.stats.StoppedReason = StopAborted
			return err
		}
	}
}

// processCards walks the visible cards in order and returns how many
// were fresh this cycle.
func (c *Controller) processCards(ctx context.Context, st *runState, cards []*goquery.Selection) int {
	fresh := 0
	for _, card := range cards {
		if c.targetsMet(st) {
			break
		}

		// The id is derived first so seen cards are skipped before any
		// further extraction work.
		id, err := c.deps.Extractor.CardID(card)
		if err != nil {
			// No external id: skip without marking anything processed.
			c.log.WithError(err).Debug("card discarded")
			continue
		}
		if st.processed[id] {
			continue
		}
		st.processed[id] = true
		fresh++
		st.stats.TotalChecked++

		result := c.deps.Extractor.Fields(card, id)

		for _, fieldErr := range result.FieldErrs {
			c.log.WithError(fieldErr).WithField("id", result.ID).Debug("field extraction failed")
		}

		if st.stats.TextsSaved < c.deps.Crawl.TargetTexts && result.HasText() {
			c.handleText(ctx, st, result)
		}
		if st.stats.ImagesDownloaded < c.deps.Crawl.TargetImages && len(result.ImageURLs) > 0 {
			c.handleImages(ctx, st, result)
		}
	}
	return fresh
}

// handleText classifies one text body and admits or drops it. A
// classification failure drops the item and the loop continues; the
// failure never aborts the run.
func (c *Controller) handleText(ctx context.Context, st *runState, result *extract.Result) {
	item := models.ContentItem{
		Platform:   c.deps.Rules.Platform,
		ExternalID: result.ID,
		RawText:    result.Text,
		ImageRefs:  result.ImageURLs,
	}

	if c.deps.Classifier == nil {
		item.PassedGate = true
		item.CrawlTimestamp = nowUTC()
		st.admitted = append(st.admitted, item)
		st.stats.TextsSaved++
		return
	}

	res, err := c.deps.Classifier.ClassifyText(ctx, result.Text)
	if err != nil {
		st.stats.ClassifyFailures++
		st.stats.TextsDropped++
		c.log.WithError(err).WithField("id", result.ID).Warn("classification failed, dropping text")
		return
	}

	passed, dominant, secondary := c.deps.Gate.Admit(res.Scores)
	if !passed {
		st.stats.TextsDropped++
		c.log.DebugWithFields("text below gate threshold", map[string]interface{}{
			"id":       result.ID,
			"dominant": string(dominant),
		})
		return
	}

	item.EmotionScores = res.Scores.StringMap()
	item.DominantCategory = string(dominant)
	item.SecondaryCategory = string(secondary)
	item.PassedGate = true
	item.CrawlTimestamp = nowUTC()
	st.admitted = append(st.admitted, item)
	st.stats.TextsSaved++
}

// handleImages downloads the card's images one by one into the pending
// bucket. A failed download is logged and skipped.
func (c *Controller) handleImages(ctx context.Context, st *runState, result *extract.Result) {
	for idx, url := range result.ImageURLs {
		if st.stats.ImagesDownloaded >= c.deps.Crawl.TargetImages {
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.deps.Limiter.Wait()

		data, err := c.deps.Fetcher.Fetch(ctx, url, c.deps.Rules.Referer)
		if err != nil {
			c.log.WithError(err).WithField("url", url).Warn("image download failed")
			continue
		}
		if _, err := c.deps.Store.SavePendingImage(c.deps.Rules.Platform, result.ID, idx, data); err != nil {
			c.log.WithError(err).WithField("id", result.ID).Warn("failed to save image")
			continue
		}
		st.stats.ImagesDownloaded++
	}
}

func (c *Controller) targetsMet(st *runState) bool {
	return st.stats.TextsSaved >= c.deps.Crawl.TargetTexts &&
		st.stats.ImagesDownloaded >= c.deps.Crawl.TargetImages
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
