// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor reports whether the service is reachable and announces changes.
type Monitor interface {
	Online() bool
	// Subscribe returns a channel carrying the new state after each
	// transition, and a function that stops delivery.
	Subscribe() (<-chan bool, func())
}

// Manual is a Monitor whose state is set by the caller, typically from a
// platform network callback.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	next   int
}

func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: map[int]chan bool{}}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state and notifies subscribers when it changed.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subs {
		// Slow subscribers only ever see the latest state.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

func (m *Manual) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Pinger is anything that can tell whether the service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls a Pinger and publishes the result as a Monitor.
type Prober struct {
	*Manual
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

type Option func(*Prober)

func WithInterval(d time.Duration) Option {
	return func(p *Prober) { p.interval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Prober) { p.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// NewProber starts offline; the first probe runs as soon as Run is called.
func NewProber(pinger Pinger, opts ...Option) *Prober {
	p := &Prober{
		Manual:   NewManual(false),
		pinger:   pinger,
		interval: 15 * time.Second,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe pings once and updates the state.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil
	if online != p.Online() {
		p.logger.Info("connectivity changed", "online", online, "error", err)
	}
	p.Set(online)
	return online
}

// Run probes until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
