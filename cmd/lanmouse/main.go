package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/breeze-rmm/lanmouse/internal/capture"
	"github.com/breeze-rmm/lanmouse/internal/capturebackend"
	"github.com/breeze-rmm/lanmouse/internal/config"
	"github.com/breeze-rmm/lanmouse/internal/corectx"
	"github.com/breeze-rmm/lanmouse/internal/emulation"
	"github.com/breeze-rmm/lanmouse/internal/emulationbackend"
	"github.com/breeze-rmm/lanmouse/internal/ipc"
	"github.com/breeze-rmm/lanmouse/internal/logging"
	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
	"github.com/breeze-rmm/lanmouse/internal/transport"
	"github.com/breeze-rmm/lanmouse/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "lanmouse",
	Short: "Share one keyboard and mouse across machines on a LAN",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lanmouse v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon over the control socket",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches standard locations)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, warnings, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "config warning: %s\n", w)
	}
	return cfg
}

// lazyTransport lets the capture and emulation controllers hold a Sender
// before the *transport.Transport they will send through exists: the
// transport itself needs the controllers (as CaptureDeliverer/
// EmulationDeliverer) to construct, so something has to come first. Both
// controllers only call Send/SendTo from their own Run loop, started after
// tr is assigned.
type lazyTransport struct{ tr **transport.Transport }

func (l lazyTransport) Send(h registry.Handle, msg proto.Message) error {
	t := *l.tr
	if t == nil {
		return fmt.Errorf("transport not yet started")
	}
	return t.Send(h, msg)
}

func (l lazyTransport) SendTo(addr netip.AddrPort, msg proto.Message) error {
	t := *l.tr
	if t == nil {
		return fmt.Errorf("transport not yet started")
	}
	return t.SendTo(addr, msg)
}

// runDaemon wires every component in the daemon's architecture: the client
// registry and server context, the capture and emulation controllers, the
// UDP transport, and the control socket, then runs them all under one
// errgroup until a signal or a component failure brings the group down.
func runDaemon() {
	cfg := loadConfig()
	if err := logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	log = logging.L("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	clients, err := config.ResolveClients(ctx, cfg)
	if err != nil {
		log.Error("resolving configured clients", "error", err)
		os.Exit(1)
	}
	for _, c := range clients {
		h := reg.Add(c)
		log.Info("registered client", "handle", h, "hostname", c.Hostname, "position", c.Position)
	}

	pingTimeout := time.Duration(cfg.TTLMS) * time.Millisecond
	core := corectx.New(ctx, reg, pingTimeout)
	pool := workerpool.New(4, 64)

	var tr *transport.Transport
	send := lazyTransport{tr: &tr}

	captureCtrl := capture.New(core, reg, func() (capturebackend.Backend, error) {
		return capturebackend.NewFake(64), nil
	}, send, pool, cfg.ReleaseBind, 64)

	emulCtrl := emulation.New(core, reg, func() (emulationbackend.Backend, error) {
		return emulationbackend.NewFake(), nil
	}, send, captureCtrl, 64)

	tr, err = transport.New(transport.Config{
		ListenAddr:   netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(cfg.ListenPort)),
		PingInterval: time.Duration(cfg.PingIntervalMS) * time.Millisecond,
		TTL:          pingTimeout,
	}, reg, core, captureCtrl, emulCtrl)
	if err != nil {
		log.Error("starting transport", "error", err)
		os.Exit(1)
	}

	ipcServer := ipc.NewServer(cfg.IPCSocketPath, reg, core, captureCtrl, emulCtrl)

	log.Info("starting daemon", "version", version, "listenPort", cfg.ListenPort, "clients", len(clients))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return captureCtrl.Run(gctx) })
	g.Go(func() error { return emulCtrl.Run(gctx) })
	g.Go(func() error { return tr.Run(gctx) })
	g.Go(func() error { return ipcServer.Run(gctx) })

	<-gctx.Done()
	log.Info("shutting down")

	pool.StopAccepting()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	pool.Drain(drainCtx)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("daemon stopped")
}

func checkStatus() {
	cfg, _, err := config.Load(cfgFile)
	if err != nil {
		fmt.Println("status: unable to load config")
		return
	}
	conn, err := ipc.Dial(cfg.IPCSocketPath)
	if err != nil {
		fmt.Printf("status: daemon not reachable at %s\n", cfg.IPCSocketPath)
		return
	}
	defer conn.Close()

	resp, err := conn.Call(ipc.TypeListClients, nil)
	if err != nil {
		fmt.Printf("status: request failed: %v\n", err)
		return
	}
	var result ipc.ListClientsResult
	if err := resp.Decode(&result); err != nil {
		fmt.Printf("status: decoding response: %v\n", err)
		return
	}
	fmt.Printf("daemon reachable, %d configured client(s):\n", len(result.Clients))
	for _, c := range result.Clients {
		fmt.Printf("  %s (handle %d) position=%s alive=%v\n", c.Hostname, c.Handle, c.Position, c.Alive)
	}
}
