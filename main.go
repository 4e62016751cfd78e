package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"nexus/server/internal/channel"
	"nexus/server/internal/config"
	"nexus/server/internal/contracker"
	"nexus/server/internal/dispatch"
	"nexus/server/internal/handlers"
	"nexus/server/internal/httpapi"
	"nexus/server/internal/iprule"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
	"nexus/server/internal/transfer"
	"nexus/server/internal/voice"
	"nexus/server/store"
)

// Version is the server's release identifier, reported by `version`
// and folded into status output.
const Version = "0.1.0-dev"

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		cliDB := "nexus.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	addr := flag.String("addr", ":7500", "BBS TLS listen address")
	wsAddr := flag.String("ws-addr", "", "optional WebSocket-carried BBS listen address (empty to disable)")
	transferAddr := flag.String("transfer-addr", ":7501", "bulk file transfer TLS listen address")
	voiceAddr := flag.String("voice-addr", ":7502", "DTLS voice relay listen address")
	apiAddr := flag.String("api-addr", ":8080", "REST admin API listen address (empty to disable)")
	dbPath := flag.String("db", "nexus.db", "SQLite database path")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	fileAreaRoot := flag.String("file-area-root", "files", "root directory backing all file operations")
	_ = flag.Bool("upnp", false, "attempt UPnP port forwarding (not implemented; kept for CLI compatibility)")
	flag.Parse()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	if err := os.MkdirAll(*fileAreaRoot, 0o755); err != nil {
		log.Fatalf("[server] create file area root: %v", err)
	}

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
		tlsHostname = host
	}
	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, tlsHostname)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)

	settings := config.New(st)
	seedDefaults(settings)

	channels := channel.NewManager(st)
	persistentNames, err := settings.PersistentChannels()
	if err != nil {
		log.Fatalf("[server] load persistent channels: %v", err)
	}
	channels.InitializePersistent(persistentNames)
	if states, err := st.LoadChannelStates(); err != nil {
		log.Printf("[store] load channel states: %v", err)
	} else {
		for _, cs := range states {
			if _, err := channels.SetTopic(cs.Name, cs.Topic, cs.TopicSetBy); err != nil {
				log.Printf("[server] replay topic for %q: %v", cs.Name, err)
			}
			if _, err := channels.SetSecret(cs.Name, cs.Secret, cs.SecretSetBy); err != nil {
				log.Printf("[server] replay secret flag for %q: %v", cs.Name, err)
			}
		}
	}

	bans := iprule.New()
	seedIPRules(bans, st)

	sessions := session.NewRegistry()
	voiceRegistry := voice.NewRegistry()
	voiceRelay := voice.NewRelay(voiceRegistry)

	voiceRelayAddress := *voiceAddr
	if host, port, err := net.SplitHostPort(*voiceAddr); err == nil && host == "" {
		voiceRelayAddress = net.JoinHostPort(tlsHostname, port)
	}

	hctx := &handlers.Context{
		Sessions:     sessions,
		Channels:     channels,
		Bans:         bans,
		Settings:     settings,
		Voice:        voiceRegistry,
		Store:        st,
		FileAreaRoot: *fileAreaRoot,
		VoiceRelayAddress: voiceRelayAddress,
	}

	maxConns, err := settings.MaxConnectionsPerIP()
	if err != nil {
		log.Fatalf("[server] read max_connections_per_ip: %v", err)
	}
	maxTransfers, err := settings.MaxTransfersPerIP()
	if err != nil {
		log.Fatalf("[server] read max_transfers_per_ip: %v", err)
	}
	tracker := contracker.New(maxConns, maxTransfers)

	dispatchTable := dispatch.Default()
	fileopsTable := transfer.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go RunMetrics(ctx, sessions, channels, voiceRegistry, tracker, bans, 5*time.Second)

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					log.Printf("[store] optimize: %v", err)
				}
			}
		}
	}()

	bbsServer := NewServer(*addr, tlsConfig, hctx, dispatchTable, fileopsTable, tracker)
	go func() {
		if err := bbsServer.Serve(ctx); err != nil {
			log.Fatalf("[server] bbs listener: %v", err)
		}
	}()

	if *wsAddr != "" {
		go func() {
			if err := bbsServer.ServeWS(ctx, *wsAddr); err != nil {
				log.Fatalf("[server] bbs websocket listener: %v", err)
			}
		}()
		log.Printf("[server] websocket BBS carrier listening on %s", *wsAddr)
	}

	transferListener := transfer.NewListener(*transferAddr, tlsConfig, hctx, tracker)
	go func() {
		if err := transferListener.Serve(ctx); err != nil {
			log.Fatalf("[server] transfer listener: %v", err)
		}
	}()

	voiceListener := NewVoiceListener(*voiceAddr, tlsConfig, voiceRelay, voiceRegistry, sessions)
	go func() {
		if err := voiceListener.Serve(ctx); err != nil {
			log.Fatalf("[server] voice listener: %v", err)
		}
	}()

	if *apiAddr != "" {
		api := httpapi.New(sessions, channels, st)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				log.Fatalf("[api] %v", err)
			}
		}()
		log.Printf("[api] listening on %s", *apiAddr)
	}

	log.Printf("[server] bbs listening on %s (transfer %s, voice %s)", *addr, *transferAddr, *voiceAddr)
	<-ctx.Done()
}

// seedDefaults writes factory-default settings the first time the
// server runs against a fresh database; every subsequent start is a
// no-op since config.Settings already falls back to the same values
// when a key is unset (this just makes the values visible to the CLI
// and REST API before anyone writes them explicitly).
func seedDefaults(settings *config.Settings) {
	if name, err := settings.ServerName(); err == nil {
		if err := settings.SetServerName(name); err != nil {
			log.Printf("[server] seed server_name: %v", err)
		}
	}
	if chs, err := settings.PersistentChannels(); err == nil {
		if err := settings.SetPersistentChannels(chs); err != nil {
			log.Printf("[server] seed persistent_channels: %v", err)
		}
	}
}

// seedIPRules loads every durable address-kind ban/trust into the
// in-memory admission cache consulted before a TLS handshake even
// starts; nickname/username-kind entries are not address rules and
// are left to account lookup at login time.
func seedIPRules(cache *iprule.Cache, st *store.Store) {
	bansList, err := st.ListBans()
	if err != nil {
		log.Printf("[server] load bans: %v", err)
	}
	for _, b := range bansList {
		if b.TargetKind != protocol.TargetAddress {
			continue
		}
		cache.AddBan(b.Target, b.ExpiresAt)
	}

	trustsList, err := st.ListTrusts()
	if err != nil {
		log.Printf("[server] load trusts: %v", err)
	}
	for _, t := range trustsList {
		if t.TargetKind != protocol.TargetAddress {
			continue
		}
		cache.AddTrust(t.Target, nil)
	}
}
