// Package dispatch routes a signature to the reference set that should
// answer it: the active local catalog or the default provider.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

// Provider answers a signature with candidates, best first.
type Provider interface {
	Match(ctx context.Context, sig *fingerprint.Signature) ([]models.Candidate, error)
}

// ErrNoProvider is returned when neither a catalog nor a default provider
// can take the request.
var ErrNoProvider = errors.New("no recognition provider configured")

type Option func(*Dispatcher)

func WithLogger(l logger.Leveled) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithOfflineMode(on bool) Option {
	return func(d *Dispatcher) { d.offline = on }
}

func WithPreferCatalog(on bool) Option {
	return func(d *Dispatcher) { d.preferCatalog = on }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type Dispatcher struct {
	mu            sync.RWMutex
	fallback      Provider
	catalog       Provider
	offline       bool
	preferCatalog bool
	log           logger.Leveled
	now           func() time.Time
}

// New returns a dispatcher whose default route is fallback. fallback may be
// nil when only catalogs are used.
func New(fallback Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{fallback: fallback, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.GetLogger().With("dispatch")
	}
	return d
}

// Configure swaps the catalog that subsequent calls may target. nil clears it.
func (d *Dispatcher) Configure(catalog Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalog = catalog
}

func (d *Dispatcher) SetOfflineMode(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = on
}

func (d *Dispatcher) SetPreferCatalog(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preferCatalog = on
}

func (d *Dispatcher) OfflineMode() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.offline
}

// UsingCatalog reports whether the next Match would go to the catalog.
func (d *Dispatcher) UsingCatalog() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.useCatalogLocked()
}

// A catalog that can be emptied underneath the dispatcher (deleted, or
// unloaded after a failed reload) reports it through Loaded.
type loader interface {
	Loaded() bool
}

type named interface {
	Name() string
}

func (d *Dispatcher) useCatalogLocked() bool {
	if !(d.offline || d.preferCatalog) || d.catalog == nil {
		return false
	}
	if l, ok := d.catalog.(loader); ok {
		return l.Loaded()
	}
	return true
}

// Match sends sig to the selected provider and wraps its answer.
func (d *Dispatcher) Match(ctx context.Context, sig *fingerprint.Signature) (models.MatchResult, error) {
	d.mu.RLock()
	useCatalog := d.useCatalogLocked()
	p, source := d.fallback, models.SourceLibrary
	if useCatalog {
		p, source = d.catalog, models.SourceCatalog
	}
	d.mu.RUnlock()

	if p == nil {
		return models.MatchResult{}, ErrNoProvider
	}
	if err := ctx.Err(); err != nil {
		return models.MatchResult{}, err
	}

	res := models.MatchResult{Source: source}
	if n, ok := p.(named); ok && useCatalog {
		res.CatalogName = n.Name()
	}

	start := d.now()
	cands, err := p.Match(ctx, sig)
	if err != nil {
		return res, fmt.Errorf("%s match: %w", source, err)
	}
	d.log.Debugf("%s returned %d candidates in %v", source, len(cands), d.now().Sub(start))

	res.Candidates = cands
	res.MatchedAt = d.now()
	if len(cands) > 0 {
		res.Best = cands[0]
	}
	return res, nil
}
