package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"peer-chat/contract"
	"peer-chat/internal"
	"peer-chat/observability"
	"peer-chat/platform"
	"peer-chat/repositories"
	"peer-chat/runtime"
	"peer-chat/runtime/workers"
	"peer-chat/sink"
	"peer-chat/ui"
	"sync"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "peer-chat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run hosts every configured agent on one in-process platform and hands the
// terminal to the console. Deferred cleanups run before main exits.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Database (BadgerDB), only when a component persists
	var db *badger.DB
	if config.NeedsBadger() {
		db, err = badger.Open(badger.DefaultOptions(config.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return exitRuntime, fmt.Errorf("database opening failed: %w", err)
		}
		defer func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}()
	}

	// 4. Platform: directory, mailboxes and transcript sinks
	var directory contract.Directory = platform.NewDirectory()
	if config.DirectoryBackend == internal.BackendBadger {
		directory = repositories.NewDirectoryRepository(db, log, config.DirectoryEntryTTL)
	}
	mailboxes := platform.NewMailboxes(config.MailboxSize)
	defer mailboxes.Close()

	sinks := []contract.TranscriptSink{sink.NewFileTranscript(config.TranscriptFilepath)}
	var history repositories.ITranscriptRepository
	if config.ArchiveEnabled {
		archive := repositories.NewTranscriptRepository(db, log, &config.HistoryLimit)
		history = archive
		sinks = append(sinks, sink.NewArchiveSink(archive))
	}

	monitoring := observability.NewMonitoringManager(log, config.MetricInterval)
	console := ui.NewConsole(log, os.Stdout, config.Colours, history, monitoring)

	// 5. Process-wide workers
	background := workers.NewSupervisor(log, config.RestartInterval)
	background.Add(monitoring)
	if config.DebugPort > 0 {
		background.Add(internal.NewDebugServer(log, db, config.DebugPort, nil, internal.MonitoringStats(monitoring)))
	}

	// 6. One coordinator per hosted agent
	settings := runtime.Settings{
		Capability:        config.CapabilityTag,
		DiscoveryInterval: config.DiscoveryInterval,
		InboxWake:         config.InboxWakeInterval,
		PersistOutbound:   config.TranscriptOutbound,
		RenewRegistration: config.DirectoryBackend == internal.BackendBadger && config.DirectoryEntryTTL > 0,
	}
	coordinators := make([]*runtime.Coordinator, 0, len(config.Agents()))
	for _, peer := range config.PeerIDs() {
		coordinator := runtime.NewCoordinator(
			log, peer, settings, directory, mailboxes.Open(peer),
			console.View(peer.DisplayName()), sinks, monitoring,
			workers.NewSupervisor(log, config.RestartInterval),
		)
		console.Attach(coordinator)
		coordinators = append(coordinators, coordinator)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		background.Run(ctx)
	}()
	for _, coordinator := range coordinators {
		wg.Add(1)
		go func(c *runtime.Coordinator) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				log.Error("Coordinator failed", "agent", c.Self().DisplayName(), "error", err)
			}
		}(coordinator)
	}
	log.Info("Agents started", "agents", config.Agents(), "backend", config.DirectoryBackend,
		"transcript", config.TranscriptFilepath)

	// 7. Console until /quit, end of input or signal
	if err := console.Run(ctx, os.Stdin); err != nil {
		log.Error("Console stopped", "error", err)
	}

	// 8. Final Cleanup: coordinators deregister before the store closes
	log.Info("Shutting down gracefully...")
	for _, coordinator := range coordinators {
		coordinator.Stop()
	}
	background.Stop()
	wg.Wait()
	log.Info("Program stopped cleanly")

	return exitOK, nil
}
