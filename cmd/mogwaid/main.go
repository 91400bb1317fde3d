// Command mogwaid runs the download scheduler daemon: it wires the
// Scheduler to its collaborators, exports the object-capability surface on
// D-Bus, and records notifications to the event log until asked to stop.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/mogwaid/mogwaid/internal/buildinfo"
	"github.com/mogwaid/mogwaid/internal/busfacade"
	"github.com/mogwaid/mogwaid/internal/collab"
	"github.com/mogwaid/mogwaid/internal/config"
	"github.com/mogwaid/mogwaid/internal/eventlog"
	"github.com/mogwaid/mogwaid/internal/scheduler"
	"github.com/mogwaid/mogwaid/internal/tariffcodec"
)

func main() {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fatalf("%v", err)
	}

	if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
		fatalf("create state dir: %v", err)
	}

	log.Printf("[mogwaid] starting version=%s commit=%s built=%s, state_dir=%s bus=%s",
		buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime, envCfg.StateDir, envCfg.Bus)

	elog, err := eventlog.Open(envCfg.EventLogPath())
	if err != nil {
		fatalf("[eventlog] open: %v", err)
	}
	defer elog.Close()
	log.Println("[eventlog] ready")

	clk := collab.NewSystemClock(envCfg.ClockScanMinInterval, envCfg.ClockScanJitter)
	defer clk.Stop()

	// No production ConnectionMonitor/PeerManager backend ships yet; these
	// mocks are driven only by this process until real backends exist,
	// which keeps the daemon runnable end to end in the meantime.
	connMonitor := collab.NewMockConnectionMonitor()
	peerManager := collab.NewMockPeerManager()

	sch, err := scheduler.New(scheduler.Config{
		MaxEntries:        uint32(envCfg.MaxEntries),
		MaxActiveEntries:  uint32(envCfg.MaxActiveEntries),
		ConnectionMonitor: connMonitor,
		PeerManager:       peerManager,
		Clock:             clk,
	})
	if err != nil {
		fatalf("[scheduler] init: %v", err)
	}
	defer sch.Shutdown()
	log.Println("[scheduler] ready")

	eventlog.Attach(elog, sch, clk, func(err error) {
		log.Printf("[eventlog] record failed: %v", err)
	})

	if envCfg.TariffPath != "" {
		if err := seedStartupTariff(connMonitor, envCfg.TariffPath); err != nil {
			fatalf("[mogwaid] loading startup tariff: %v", err)
		}
		log.Printf("[mogwaid] loaded startup tariff from %s", envCfg.TariffPath)
	}

	facade := busfacade.New(sch)

	conn, err := connectBus(envCfg.Bus)
	if err != nil {
		fatalf("[busfacade] connect: %v", err)
	}
	defer conn.Close()

	if err := facade.Export(conn); err != nil {
		fatalf("[busfacade] export: %v", err)
	}
	log.Printf("[busfacade] exported %s at %s", busfacade.SchedulerInterface, busfacade.SchedulerPath)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	log.Printf("[mogwaid] received signal %s, shutting down", sig)

	_, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
}

// seedStartupTariff loads a binary tariffcodec file and exposes it as a
// single metered connection's tariff, so the scheduler has a live
// allow-downloads decision to make from process start.
func seedStartupTariff(connMonitor *collab.MockConnectionMonitor, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	t, err := tariffcodec.Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	connMonitor.AddConnection("startup", collab.ConnectionDetails{
		Metered:                   true,
		AllowDownloadsWhenMetered: true,
		AllowDownloads:            true,
		Tariff:                    t,
	})
	return nil
}

func connectBus(which string) (*dbus.Conn, error) {
	if which == "system" {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}
