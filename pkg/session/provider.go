// Package session wraps one automation session behind the Provider
// interface and exposes the content source operations the harvest loop
// needs: open, advance, locate cards, current location.
package session

import "context"

// Provider is the external automation session collaborator. Interactive
// login and browser bootstrap live behind this interface; the pipeline
// only observes readiness or timeout.
type Provider interface {
	// Navigate loads a URL in the session.
	Navigate(ctx context.Context, url string) error
	// CurrentLocation returns the current navigation target.
	CurrentLocation() string
	// PageHTML returns the current page markup.
	PageHTML(ctx context.Context) (string, error)
	// Scroll performs one scroll-or-page-turn step.
	Scroll(ctx context.Context) error
	// AwaitReady blocks until the session is usable (e.g. the operator
	// confirmed login) or ctx expires.
	AwaitReady(ctx context.Context) error
	// Close releases the session. Safe to call on every exit path.
	Close() error
}
