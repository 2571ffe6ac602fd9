package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/groutine"
)

const (
	// DefaultScanTimeout bounds the discovery phase of RequestDevice.
	DefaultScanTimeout = 10 * time.Second
	// DefaultConnectTimeout bounds Peripheral.Connect, including GATT discovery.
	DefaultConnectTimeout = 30 * time.Second
)

// Candidate is one discovered peripheral offered to a Selector.
type Candidate struct {
	Advertisement

	// Known is set when the peripheral advertises one of the requested services.
	Known bool
}

// Requester implements Central on top of an Adapter: it scans for a while,
// ranks what it saw and asks a Selector to choose.
type Requester struct {
	adapter        Adapter
	selector       Selector
	scanTimeout    time.Duration
	connectTimeout time.Duration
	logger         *logrus.Logger
	progress       func(phase string)
}

// RequesterOption customizes a Requester.
type RequesterOption func(*Requester)

// WithScanTimeout overrides DefaultScanTimeout.
func WithScanTimeout(d time.Duration) RequesterOption {
	return func(r *Requester) {
		if d > 0 {
			r.scanTimeout = d
		}
	}
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) RequesterOption {
	return func(r *Requester) {
		if d > 0 {
			r.connectTimeout = d
		}
	}
}

// WithProgress registers a callback receiving "scanning", "selecting" and "connecting" phases.
func WithProgress(fn func(phase string)) RequesterOption {
	return func(r *Requester) { r.progress = fn }
}

func NewRequester(adapter Adapter, selector Selector, logger *logrus.Logger, opts ...RequesterOption) *Requester {
	if logger == nil {
		logger = logrus.New()
	}
	if selector == nil {
		selector = FirstSelector{}
	}
	r := &Requester{
		adapter:        adapter,
		selector:       selector,
		scanTimeout:    DefaultScanTimeout,
		connectTimeout: DefaultConnectTimeout,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Requester) phase(name string) {
	if r.progress != nil {
		r.progress(name)
	}
}

// Scan collects candidates matching filter until the scan timeout, the parent
// context, or (for address filters) the first match.
func (r *Requester) Scan(ctx context.Context, filter Filter) ([]Candidate, error) {
	r.phase("scanning")

	scanCtx, cancel := context.WithTimeout(ctx, r.scanTimeout)
	defer cancel()

	found := hashmap.New[string, Candidate]()
	handler := func(adv Advertisement) {
		if filter.Address != "" && !strings.EqualFold(adv.Address, filter.Address) {
			return
		}
		known := adv.AdvertisesAny(filter.Services)
		prev, seen := found.Get(adv.Address)
		if !seen && !filter.AcceptAll && filter.Address == "" && len(filter.Services) > 0 && !known {
			return
		}

		c := Candidate{Advertisement: adv, Known: known}
		if seen {
			found.Set(adv.Address, mergeCandidates(prev, c))
		} else {
			found.Set(adv.Address, c)
			r.logger.WithFields(logrus.Fields{
				"address": adv.Address,
				"name":    adv.Name,
				"rssi":    adv.RSSI,
				"known":   known,
			}).Debug("Discovered peripheral")
		}

		if filter.Address != "" {
			cancel()
		}
	}

	err := r.adapter.Scan(scanCtx, ScanOptions{Services: filter.Services}, handler)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}

	candidates := make([]Candidate, 0, found.Len())
	found.Range(func(_ string, c Candidate) bool {
		candidates = append(candidates, c)
		return true
	})
	sortCandidates(candidates)

	r.logger.WithField("count", len(candidates)).Debug("Scan finished")
	return candidates, nil
}

// RequestDevice implements Central.
func (r *Requester) RequestDevice(ctx context.Context, filter Filter) (Peripheral, error) {
	candidates, err := r.Scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoDeviceFound
	}

	r.phase("selecting")
	chosen, err := r.selector.Select(ctx, candidates)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"address": chosen.Address,
		"name":    chosen.Name,
	}).Info("Peripheral selected")

	return &peripheral{
		adapter:        r.adapter,
		adv:            chosen.Advertisement,
		logger:         r.logger,
		progress:       r.phase,
		connectTimeout: r.connectTimeout,
	}, nil
}

// mergeCandidates keeps the freshest signal while never forgetting a name or a service.
func mergeCandidates(prev, next Candidate) Candidate {
	if next.Name == "" {
		next.Name = prev.Name
	}
	if len(next.Services) == 0 {
		next.Services = prev.Services
	}
	next.Known = next.Known || prev.Known
	return next
}

// sortCandidates puts peripherals advertising a requested service first, then by signal strength.
func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Known != c[j].Known {
			return c[i].Known
		}
		if c[i].RSSI != c[j].RSSI {
			return c[i].RSSI > c[j].RSSI
		}
		return c[i].Address < c[j].Address
	})
}

type peripheral struct {
	adapter        Adapter
	adv            Advertisement
	logger         *logrus.Logger
	progress       func(string)
	connectTimeout time.Duration

	mu           sync.Mutex
	onDisconnect []func()
}

func (p *peripheral) ID() string   { return p.adv.Address }
func (p *peripheral) Name() string { return p.adv.Name }

func (p *peripheral) OnDisconnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisconnect = append(p.onDisconnect, fn)
}

func (p *peripheral) Connect(ctx context.Context) (Session, error) {
	p.progress("connecting")

	if p.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.connectTimeout)
		defer cancel()
	}

	session, err := p.adapter.Dial(ctx, p.adv)
	if err != nil {
		return nil, NormalizeError(err)
	}

	disconnected := session.Disconnected()
	if disconnected == nil {
		p.logger.WithField("address", p.adv.Address).Debug("Session does not report disconnects")
		return session, nil
	}

	groutine.Go(context.Background(), "ble-disconnect-monitor-"+p.adv.Address, func(context.Context) {
		<-disconnected
		p.logger.WithField("address", p.adv.Address).Info("Peripheral disconnected")

		p.mu.Lock()
		callbacks := p.onDisconnect
		p.onDisconnect = nil
		p.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
	})
	return session, nil
}
