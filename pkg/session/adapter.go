package session

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
	"github.com/reblisbiver/emotional-crawler/pkg/locator"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
)

// Adapter drives one platform's content source through a Provider. One
// adapter instance serves one platform for one run.
type Adapter struct {
	provider Provider
	// settleDelay is the fixed wait after every advance before the page
	// is trusted. Configured, not adaptive.
	settleDelay time.Duration
	loginWait   time.Duration
	// loginMarker flags a login redirect when found in the location.
	loginMarker string
	log         logger.Logger

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// NewAdapter wraps a provider.
func NewAdapter(provider Provider, settleDelay, loginWait time.Duration, loginMarker string, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{
		provider:    provider,
		settleDelay: settleDelay,
		loginWait:   loginWait,
		loginMarker: loginMarker,
		log:         log,
		sleep:       time.Sleep,
	}
}

// Open loads the platform's listing view and waits for the session to be
// usable. A login redirect starts a bounded wait for operator
// confirmation; if the window elapses, the platform is aborted.
func (a *Adapter) Open(ctx context.Context, target string) error {
	const op = "session.Open"

	if err := a.provider.Navigate(ctx, target); err != nil {
		return crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
	}
	a.sleep(a.settleDelay)

	if a.loginMarker != "" && strings.Contains(strings.ToLower(a.provider.CurrentLocation()), a.loginMarker) {
		a.log.InfoWithFields("login required, waiting for confirmation", map[string]interface{}{
			"location": a.provider.CurrentLocation(),
			"window":   a.loginWait,
		})
		waitCtx, cancel := context.WithTimeout(ctx, a.loginWait)
		defer cancel()
		if err := a.provider.AwaitReady(waitCtx); err != nil {
			return crawlerrors.Wrapf(crawlerrors.KindSessionAborted, op, err, "login confirmation timed out")
		}
	}
	return nil
}

// Advance performs one scroll-or-page-turn step followed by the settle
// delay, so asynchronously loaded content is present before Cards.
func (a *Adapter) Advance(ctx context.Context) error {
	const op = "session.Advance"

	if err := a.provider.Scroll(ctx); err != nil {
		return crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
	}
	a.sleep(a.settleDelay)
	return nil
}

// Cards returns the currently visible card handles, resolved through the
// given locator strategies. An empty slice is not an error here; the
// pagination controller decides what emptiness means.
func (a *Adapter) Cards(ctx context.Context, strategies []locator.Strategy) ([]*goquery.Selection, error) {
	const op = "session.Cards"

	html, err := a.provider.PageHTML(ctx)
	if err != nil {
		return nil, crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
	}

	found, strategy := locator.Resolve(doc.Selection, strategies)
	cards := make([]*goquery.Selection, 0, found.Length())
	found.Each(func(_ int, card *goquery.Selection) {
		cards = append(cards, card)
	})

	a.log.DebugWithFields("cards located", map[string]interface{}{
		"count":    len(cards),
		"strategy": strategy.Name,
	})
	return cards, nil
}

// Location returns the current navigation target.
func (a *Adapter) Location() string {
	return a.provider.CurrentLocation()
}

// Close releases the underlying session.
func (a *Adapter) Close() error {
	return a.provider.Close()
}
