package http

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// TimingInfo breaks a request down into its phases. Setup phases are zero
// on a reused connection.
type TimingInfo struct {
	StartTime           time.Time
	DNSLookupTime       time.Duration
	TCPConnectTime      time.Duration
	TLSHandshakeTime    time.Duration
	TimeToFirstByte     time.Duration
	ContentTransferTime time.Duration
	TotalTime           time.Duration
	ConnReused          bool
}

// Duration is the time spent on the request itself: sending, waiting and
// receiving, excluding connection setup.
func (t TimingInfo) Duration() time.Duration {
	d := t.TotalTime - t.DNSLookupTime - t.TCPConnectTime - t.TLSHandshakeTime
	if d < 0 {
		return 0
	}
	return d
}

// Millis converts d to fractional milliseconds, the unit of time metrics.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// phases fills a TimingInfo from httptrace callbacks. Dual-stack dials run
// connect callbacks concurrently, and an abandoned dial may report after
// the response arrived, so every field is guarded by mu.
type phases struct {
	mu    sync.Mutex
	t     TimingInfo
	dial  map[string]time.Time // connect start per address
	mark  time.Time            // start of the DNS or TLS phase in progress
	ready time.Time            // end of connection setup; waiting starts here
	done  bool
}

func startPhases(now time.Time) *phases {
	return &phases{t: TimingInfo{StartTime: now}, ready: now, dial: map[string]time.Time{}}
}

func (p *phases) update(f func(now time.Time)) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		f(now)
	}
}

// finish freezes the timings; callbacks arriving later are ignored.
func (p *phases) finish(transfer time.Duration) TimingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.t.ContentTransferTime = transfer
	p.t.TotalTime = time.Since(p.t.StartTime)
	return p.t
}

func (p *phases) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			p.update(func(now time.Time) { p.mark = now })
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			p.update(func(now time.Time) {
				p.ready = now
				p.t.DNSLookupTime = now.Sub(p.mark)
			})
		},
		ConnectStart: func(_, addr string) {
			p.update(func(now time.Time) { p.dial[addr] = now })
		},
		ConnectDone: func(_, addr string, err error) {
			p.update(func(now time.Time) {
				start, ok := p.dial[addr]
				if err != nil || !ok || p.t.TCPConnectTime > 0 {
					return
				}
				p.ready = now
				p.t.TCPConnectTime = now.Sub(start)
			})
		},
		TLSHandshakeStart: func() {
			p.update(func(now time.Time) { p.mark = now })
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err != nil {
				return
			}
			p.update(func(now time.Time) {
				p.ready = now
				p.t.TLSHandshakeTime = now.Sub(p.mark)
			})
		},
		GotConn: func(info httptrace.GotConnInfo) {
			p.update(func(time.Time) { p.t.ConnReused = info.Reused })
		},
		GotFirstResponseByte: func() {
			p.update(func(now time.Time) { p.t.TimeToFirstByte = now.Sub(p.ready) })
		},
	}
}
