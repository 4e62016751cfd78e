// Package contracker limits concurrent connections per source IP, for
// both the main BBS channel and the separate transfer channel, to
// protect the server against a single address exhausting connection
// slots.
package contracker

import (
	"net/netip"
	"sync"
	"sync/atomic"
)

// Tracker holds two independent per-IP counters, one for main BBS
// connections and one for transfer connections. A limit of 0 means
// unlimited.
type Tracker struct {
	mainMu  sync.Mutex
	main    map[netip.Addr]int
	maxMain atomic.Uint64

	transferMu  sync.Mutex
	transfer    map[netip.Addr]int
	maxTransfer atomic.Uint64
}

// New creates a tracker with the given per-IP limits. A limit of 0
// means unlimited connections of that kind.
func New(maxConnectionsPerIP, maxTransfersPerIP uint64) *Tracker {
	t := &Tracker{
		main:     make(map[netip.Addr]int),
		transfer: make(map[netip.Addr]int),
	}
	t.maxMain.Store(maxConnectionsPerIP)
	t.maxTransfer.Store(maxTransfersPerIP)
	return t
}

// SetMaxConnectionsPerIP updates the main-connection limit. Only new
// acquisitions are affected; existing connections are never evicted.
func (t *Tracker) SetMaxConnectionsPerIP(limit uint64) {
	t.maxMain.Store(limit)
}

// SetMaxTransfersPerIP updates the transfer-connection limit.
func (t *Tracker) SetMaxTransfersPerIP(limit uint64) {
	t.maxTransfer.Store(limit)
}

// Guard releases one acquired connection slot. Callers invoke Release
// via defer immediately after a successful TryAcquire/TryAcquireTransfer.
type Guard struct {
	release func()
	once    sync.Once
}

// Release frees the slot. Safe to call more than once; only the first
// call has effect.
func (g *Guard) Release() {
	g.once.Do(g.release)
}

// TryAcquire reserves one main-connection slot for ip, returning nil
// if ip is already at its limit.
func (t *Tracker) TryAcquire(ip netip.Addr) *Guard {
	return tryAcquire(&t.mainMu, t.main, t.maxMain.Load(), ip)
}

// TryAcquireTransfer reserves one transfer-connection slot for ip.
func (t *Tracker) TryAcquireTransfer(ip netip.Addr) *Guard {
	return tryAcquire(&t.transferMu, t.transfer, t.maxTransfer.Load(), ip)
}

func tryAcquire(mu *sync.Mutex, counts map[netip.Addr]int, max uint64, ip netip.Addr) *Guard {
	mu.Lock()
	defer mu.Unlock()

	count := counts[ip]
	if max > 0 && uint64(count) >= max {
		return nil
	}
	counts[ip] = count + 1

	return &Guard{release: func() {
		mu.Lock()
		defer mu.Unlock()
		remaining := counts[ip] - 1
		if remaining <= 0 {
			delete(counts, ip)
		} else {
			counts[ip] = remaining
		}
	}}
}

// ConnectionCount reports ip's current main-connection count.
func (t *Tracker) ConnectionCount(ip netip.Addr) int {
	t.mainMu.Lock()
	defer t.mainMu.Unlock()
	return t.main[ip]
}

// TransferCount reports ip's current transfer-connection count.
func (t *Tracker) TransferCount(ip netip.Addr) int {
	t.transferMu.Lock()
	defer t.transferMu.Unlock()
	return t.transfer[ip]
}

// TotalConnections sums main-connection counts across all IPs.
func (t *Tracker) TotalConnections() int {
	t.mainMu.Lock()
	defer t.mainMu.Unlock()
	total := 0
	for _, c := range t.main {
		total += c
	}
	return total
}

// TotalTransfers sums transfer-connection counts across all IPs.
func (t *Tracker) TotalTransfers() int {
	t.transferMu.Lock()
	defer t.transferMu.Unlock()
	total := 0
	for _, c := range t.transfer {
		total += c
	}
	return total
}
