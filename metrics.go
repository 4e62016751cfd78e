package main

import (
	"context"
	"log"
	"time"

	"nexus/server/internal/channel"
	"nexus/server/internal/contracker"
	"nexus/server/internal/iprule"
	"nexus/server/internal/session"
	"nexus/server/internal/voice"
)

// RunMetrics logs server-wide counters every interval until ctx is
// canceled. It generalizes the teacher's single datagram/byte/client
// triple (Room.Stats) into the set of counters a multi-tenant BBS
// server needs watched: live sessions, channels, voice participants,
// connection-tracker load, and IP-rule cache size.
func RunMetrics(ctx context.Context, sessions *session.Registry, channels *channel.Manager, voices *voice.Registry, tracker *contracker.Tracker, bans *iprule.Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessionCount := sessions.Count()
			if sessionCount == 0 {
				continue
			}
			log.Printf("[metrics] sessions=%d channels=%d voice=%d connections=%d transfers=%d bans=%d trusts=%d",
				sessionCount, len(channels.List()), voices.Count(),
				tracker.TotalConnections(), tracker.TotalTransfers(),
				bans.BanCount(), bans.TrustCount())
		}
	}
}
