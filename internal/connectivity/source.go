package connectivity

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

// ManualSource is a Source whose value is set by the caller. It backs the
// --offline flag and tests.
type ManualSource struct {
	mu       sync.Mutex
	online   bool
	watchers map[int]func(bool)
	nextID   int
}

// NewManualSource creates a source with the given initial value.
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, watchers: make(map[int]func(bool))}
}

// Online returns the current value.
func (s *ManualSource) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the value and notifies watchers when it differs. Watchers are
// called with the source locked and must not call back into it.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	for _, w := range s.watchers {
		w(online)
	}
}

// Watch registers notify until ctx is done. notify first receives the value
// current at registration.
func (s *ManualSource) Watch(ctx context.Context, notify func(bool)) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = notify
	notify(s.online)
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	delete(s.watchers, id)
	s.mu.Unlock()
}

// Default probe settings.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// Dialer abstracts net.Dialer for tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProbeSource derives reachability from TCP connects to a fixed address.
// The process has no OS reachability notifications to subscribe to, so the
// source checks on an interval and reports only transitions.
type ProbeSource struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dialer   Dialer

	mu     sync.Mutex
	online bool
}

// ProbeOption configures a ProbeSource.
type ProbeOption func(*ProbeSource)

// WithProbeInterval sets the interval between probes.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *ProbeSource) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout sets the connect timeout of one probe.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *ProbeSource) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) ProbeOption {
	return func(p *ProbeSource) { p.dialer = d }
}

// NewProbeSource creates a source probing address ("host:port"). An initial
// probe runs synchronously so Online is meaningful right away.
func NewProbeSource(ctx context.Context, address string, opts ...ProbeOption) *ProbeSource {
	p := &ProbeSource{
		address:  address,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		dialer:   &net.Dialer{},
	}
	for _, o := range opts {
		o(p)
	}
	p.online = p.probe(ctx)
	return p
}

// ProbeAddress extracts host:port from an endpoint URL, defaulting the port
// from the scheme.
func ProbeAddress(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Online returns the result of the latest probe.
func (p *ProbeSource) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Watch probes on the configured interval and calls notify on transitions.
func (p *ProbeSource) Watch(ctx context.Context, notify func(bool)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.probe(ctx)
			p.mu.Lock()
			changed := online != p.online
			p.online = online
			p.mu.Unlock()
			if changed {
				notify(online)
			}
		}
	}
}

func (p *ProbeSource) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

var (
	_ Source = (*ManualSource)(nil)
	_ Source = (*ProbeSource)(nil)
)
