// SPDX-License-Identifier: MIT
package telemetry

import (
	"fmt"
	"sync"
	"time"

	applog "noisegate/internal/log"
	"noisegate/internal/transport"
)

// Source provides snapshots to publish, normally a *Meter.
type Source interface {
	Snapshot() Snapshot
}

// Publisher periodically reads a Source and fans the snapshot out to a set of
// transports. It runs in its own goroutine managed by Start and Stop.
type Publisher struct {
	source   Source
	sinks    []transport.Transport
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers publishing.
	doneChan chan struct{}  // Signals the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.
}

// NewPublisher creates a publisher. If the interval is invalid (<= 0) it
// defaults to 16ms (~60Hz).
func NewPublisher(interval time.Duration, source Source, sinks ...transport.Transport) (*Publisher, error) {
	if source == nil {
		return nil, fmt.Errorf("Publisher: source cannot be nil")
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("Publisher: at least one transport is required")
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("Publisher: Invalid interval provided, defaulting to %s", interval)
	}

	applog.Infof("Publisher: Initializing (Interval: %s, Transports: %d)", interval, len(sinks))

	return &Publisher{
		source:   source,
		sinks:    sinks,
		interval: interval,
	}, nil
}

// Start begins periodic publishing. Calling Start on a running publisher is a
// no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Publisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Capture locals so the goroutine does not race on p.ticker/p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("Publisher: goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case now := <-ticker.C:
				p.publish(now)
			case <-doneChan:
				applog.Debugf("Publisher: goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine and waits for it to exit. Safe to call
// multiple times.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("Publisher: stopped.")
	return nil
}

// publish sends one snapshot to every transport. A failing transport does not
// prevent delivery to the others.
func (p *Publisher) publish(now time.Time) {
	snap := p.source.Snapshot()
	snap.Timestamp = now

	for _, sink := range p.sinks {
		if err := sink.Send(snap); err != nil {
			applog.Debugf("Publisher: send to %T failed: %v", sink, err)
		}
	}
}

// Close stops the publisher and closes all transports.
func (p *Publisher) Close() error {
	err := p.Stop()
	for _, sink := range p.sinks {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
