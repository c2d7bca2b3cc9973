// gipd -- Game Input Protocol host daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gip-host/gogip/internal/audio"
	"github.com/gip-host/gogip/internal/config"
	"github.com/gip-host/gogip/internal/coordinator"
	"github.com/gip-host/gogip/internal/dongle"
	"github.com/gip-host/gogip/internal/driver"
	"github.com/gip-host/gogip/internal/gip"
	gipmetrics "github.com/gip-host/gogip/internal/metrics"
	"github.com/gip-host/gogip/internal/pairingbus"
	"github.com/gip-host/gogip/internal/server"
	"github.com/gip-host/gogip/internal/transport"
	appversion "github.com/gip-host/gogip/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// eventQueueDepth bounds the coordinator notification channel; a full
// queue drops the new notification (it is logged and discarded) rather
// than blocking the GIP dispatch path (spec.md's driver contract runs on the hot path).
const eventQueueDepth = 64

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gipd starting",
		slog.String("version", appversion.Version),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := gipmetrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("gipd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gipd stopped")
	return 0
}

// runDaemon builds the adapter set, HTTP servers, and background
// goroutines, then runs them under an errgroup with signal-aware
// shutdown, mirroring the daemon's BFD-host counterpart.
func runDaemon(
	cfg *config.Config,
	collector *gipmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	ctrlSrv := server.New(logger)

	events := make(chan coordinator.Event, eventQueueDepth)
	coordClient, coordHandler, err := setupCoordinator(gCtx, g, cfg.Coordinator, logger)
	if err != nil {
		return fmt.Errorf("set up coordinator: %w", err)
	}
	defer closeCoordinatorClient(coordClient, logger)
	if coordHandler != nil {
		g.Go(func() error {
			return coordHandler.Run(gCtx, events)
		})
	}

	busConn, err := dbus.ConnectSessionBus()
	if err != nil {
		logger.Warn("could not connect to D-Bus session bus, pairing/LED control surface disabled",
			slog.String("error", err.Error()),
		)
		busConn = nil
	} else {
		defer busConn.Close()
	}

	fleet, err := bringUpAdapters(gCtx, cfg, collector, events, busConn, ctrlSrv, logger)
	if err != nil {
		return fmt.Errorf("bring up adapters: %w", err)
	}
	defer fleet.Close()

	if cfg.Transport.DiscoveryEnabled {
		g.Go(func() error {
			return runDiscovery(gCtx, cfg, fleet, collector, events, busConn, logger)
		})
	}

	httpSrv := newHTTPServer(cfg.HTTP, ctrlSrv, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	startHTTPServers(gCtx, g, httpSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, fleet, logger, httpSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Adapter fleet -- one Adapter + Multiplexer + pairing bus object per
// physical dongle device
// -------------------------------------------------------------------------

// adapterUnit bundles everything wired to a single dongle device.
type adapterUnit struct {
	device transport.Device
	bridge *adapterTransport
	gip    *gip.Adapter
	mux    *dongle.Multiplexer
	bus    *pairingbus.Object
	cancel context.CancelFunc
}

// fleet owns every adapterUnit this daemon has brought up, keyed by
// adapter id, and the control server they are registered with.
type fleet struct {
	mu     sync.Mutex
	units  map[int]*adapterUnit
	nextID int
	server *server.Server
}

func newFleet(srv *server.Server) *fleet {
	return &fleet{units: make(map[int]*adapterUnit), server: srv}
}

func (f *fleet) Close() {
	f.mu.Lock()
	units := make([]*adapterUnit, 0, len(f.units))
	for _, u := range f.units {
		units = append(units, u)
	}
	f.units = make(map[int]*adapterUnit)
	f.mu.Unlock()

	for _, u := range units {
		f.teardown(u)
	}
}

func (f *fleet) teardown(u *adapterUnit) {
	u.cancel()
	u.mux.Close()
	u.gip.Close()
	f.server.UnregisterAdapter(u.gip.ID)
	if err := u.device.Close(); err != nil {
		u.gip.Log.Warn("failed to close transport device", slog.String("error", err.Error()))
	}
}

// drain waits up to timeout for every adapter's clients to disassociate,
// used during graceful shutdown (spec.md §5's power-off drain).
func (f *fleet) drain(ctx context.Context) {
	f.mu.Lock()
	units := make([]*adapterUnit, 0, len(f.units))
	for _, u := range f.units {
		units = append(units, u)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u *adapterUnit) {
			defer wg.Done()
			if err := u.mux.WaitAllGone(ctx); err != nil {
				u.gip.Log.Warn("adapter drain timed out", slog.String("error", err.Error()))
			}
		}(u)
	}
	wg.Wait()
}

// count returns the number of adapters currently brought up.
func (f *fleet) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.units)
}

// removeByName tears down the adapter backed by the device named name, if
// any (spec.md §5's "device removal" path via discovery rather than an
// explicit PowerOff). Returns false if no such adapter is tracked.
func (f *fleet) removeByName(name string) bool {
	f.mu.Lock()
	var found *adapterUnit
	for id, u := range f.units {
		if u.device.Name() == name {
			found = u
			delete(f.units, id)
			break
		}
	}
	f.mu.Unlock()

	if found == nil {
		return false
	}
	f.teardown(found)
	return true
}

// bringUpAdapters opens the configured (or discovered) transport devices
// and wires each into a full adapter: gip.Adapter, dongle.Multiplexer,
// the audio driver, and a pairing bus object.
func bringUpAdapters(
	ctx context.Context,
	cfg *config.Config,
	collector *gipmetrics.Collector,
	events chan<- coordinator.Event,
	busConn *dbus.Conn,
	ctrlSrv *server.Server,
	logger *slog.Logger,
) (*fleet, error) {
	f := newFleet(ctrlSrv)

	if cfg.Transport.Interface == "" {
		logger.Info("no static transport interface configured, relying on discovery")
		return f, nil
	}

	device, err := transport.NewAFPacketDevice(cfg.Transport.Interface, logger)
	if err != nil {
		return nil, fmt.Errorf("open transport device %s: %w", cfg.Transport.Interface, err)
	}

	if err := f.addAdapter(ctx, device, cfg, collector, events, busConn, logger); err != nil {
		_ = device.Close()
		return nil, err
	}

	return f, nil
}

// addAdapter wires one already-opened transport.Device into the fleet.
func (f *fleet) addAdapter(
	ctx context.Context,
	device transport.Device,
	cfg *config.Config,
	collector *gipmetrics.Collector,
	events chan<- coordinator.Event,
	busConn *dbus.Conn,
	logger *slog.Logger,
) error {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.mu.Unlock()

	adapterLogger := logger.With(slog.Int("adapter", id), slog.String("device", device.Name()))
	bridge := newAdapterTransport(device, adapterLogger)

	// sender's Adapter field is filled in once the adapter exists below;
	// driver.New only stores the interface value, so the later write is
	// visible through the pointer it holds.
	sender := &audio.AdapterSender{}

	drv := driver.New(id, sender, collector, events, adapterLogger)
	a := gip.NewAdapter(id, bridge, drv, cfg.Audio.PacketCount, adapterLogger)
	a.Bus.RegisterDriver(drv)
	sender.Adapter = a

	led := &dongleLEDBridge{logger: adapterLogger}
	mux := dongle.New(a, &noopRadio{logger: adapterLogger}, led, adapterLogger)
	bridge.mux = mux

	var busObj *pairingbus.Object
	if busConn != nil {
		obj, err := pairingbus.Export(busConn, id, mux, noopLEDSetter{logger: adapterLogger}, adapterLogger)
		if err != nil {
			mux.Close()
			return fmt.Errorf("export pairing bus object for adapter %d: %w", id, err)
		}
		busObj = obj
		led.bus = busObj
		mux.SetPairingNotifier(busObj)
	}

	adapterCtx, cancel := context.WithCancel(ctx)
	go bridge.pump(adapterCtx, a)

	f.mu.Lock()
	f.units[id] = &adapterUnit{device: device, bridge: bridge, gip: a, mux: mux, bus: busObj, cancel: cancel}
	f.mu.Unlock()

	f.server.RegisterAdapter(a)

	adapterLogger.Info("adapter online")
	return nil
}

// -------------------------------------------------------------------------
// Transport bridge -- gip.Transport over a raw transport.Device
// -------------------------------------------------------------------------

// maxFrameSize bounds a single encoded GIP packet's on-wire size, well
// above any payload this protocol produces (58-byte simple payloads,
// audio fragments sized by deriveAudioConfig).
const maxFrameSize = 2048

// adapterTransport implements gip.Transport over a transport.Device,
// the bridge between the L0 raw-frame boundary and the L1 GIP framing
// engine (spec.md §6's module map draws this line; no single teacher
// type spans it, so the daemon wires it explicitly the way
// udpSenderFactory bridges BFD sessions to real sockets).
type adapterTransport struct {
	device transport.Device
	// mux is attached once the adapter's dongle.Multiplexer exists
	// (addAdapter's construction order mirrors sender.Adapter's
	// after-the-fact wiring), and wraps/unwraps spec.md §4.6's
	// client-to-wire framing around every buffer this bridge moves.
	mux    *dongle.Multiplexer
	logger *slog.Logger
}

func newAdapterTransport(device transport.Device, logger *slog.Logger) *adapterTransport {
	return &adapterTransport{device: device, logger: logger}
}

func (t *adapterTransport) GetBuffer() ([]byte, error) {
	return make([]byte, maxFrameSize), nil
}

func (t *adapterTransport) SubmitBuffer(clientID uint8, buf []byte) error {
	if t.mux != nil {
		wire, err := t.mux.FrameOutbound(clientID, buf)
		if err != nil {
			return fmt.Errorf("frame outbound buffer for client %d: %w", clientID, err)
		}
		buf = wire
	}
	return t.device.WriteFrame(clientID, buf)
}

// SetEncryptionKey is a no-op for this reference transport: installing a
// session key into the radio requires the real MT76-class dongle driver,
// which is out of scope (spec.md §1), matching dongle.RadioMAC's own
// external-boundary treatment.
func (t *adapterTransport) SetEncryptionKey(clientID uint8, key [16]byte) error {
	t.logger.Debug("encryption key installation is a no-op on the reference transport",
		slog.Int("client", int(clientID)),
	)
	return nil
}

// pump reads frames from the device and feeds them to the adapter until
// ctx is cancelled or the device is closed.
func (t *adapterTransport) pump(ctx context.Context, a *gip.Adapter) {
	for {
		frame, err := t.device.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			t.logger.Warn("read frame failed", slog.String("error", err.Error()))
			continue
		}

		clientID, payload := frame.ClientID, frame.Payload
		if t.mux != nil {
			cid, decoded, err := t.mux.FrameInbound(frame.Payload)
			if err != nil {
				t.logger.Warn("decode wire frame failed", slog.String("error", err.Error()))
				continue
			}
			clientID, payload = cid, decoded
		}

		if err := a.Receive(ctx, clientID, payload); err != nil {
			t.logger.Warn("receive failed", slog.String("error", err.Error()), slog.Int("client", int(clientID)))
		}
	}
}

// -------------------------------------------------------------------------
// Radio/LED boundary stubs
// -------------------------------------------------------------------------

// noopRadio satisfies dongle.RadioMAC for platforms/builds with no real
// MT76-class radio driver wired in, logging every call instead of
// touching hardware (spec.md §1's driver/hardware boundary).
type noopRadio struct {
	logger *slog.Logger
}

func (r *noopRadio) Associate(wcid uint8, mac [6]byte) error {
	r.logger.Debug("radio associate (no-op)", slog.Int("wcid", int(wcid)))
	return nil
}

func (r *noopRadio) Unbind(wcid uint8) error {
	r.logger.Debug("radio unbind (no-op)", slog.Int("wcid", int(wcid)))
	return nil
}

func (r *noopRadio) PairClient(mac [6]byte) error {
	r.logger.Debug("radio pair client (no-op)")
	return nil
}

func (r *noopRadio) SetPairingBeacons(enabled bool) error {
	r.logger.Debug("radio pairing beacons (no-op)", slog.Bool("enabled", enabled))
	return nil
}

// MAC returns a fixed locally-administered placeholder address: with no
// real MT76-class radio wired in, there is no hardware address to report.
func (r *noopRadio) MAC() [6]byte {
	return [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
}

// dongleLEDBridge satisfies dongle.LED, logging transitions in place of
// driving a real front-panel LED and, once bus is attached, mirroring
// the new mode onto the pairing bus object's Leds property (pairingbus's
// own doc comment on SetLedState: "called by internal/dongle whenever it
// drives the LED itself").
type dongleLEDBridge struct {
	logger *slog.Logger
	bus    *pairingbus.Object
}

func (l *dongleLEDBridge) SetMode(mode dongle.LEDMode) {
	l.logger.Debug("dongle LED mode changed", slog.Int("mode", int(mode)))
	if l.bus != nil {
		l.bus.SetLedState(int32(mode), 0)
	}
}

// noopLEDSetter satisfies pairingbus.LEDSetter for the bus-writable Leds
// property when no physical LED exists to drive.
type noopLEDSetter struct {
	logger *slog.Logger
}

func (l noopLEDSetter) SetMode(mode int32) {
	l.logger.Debug("bus-initiated LED set (no-op, no physical LED)", slog.Int("mode", int(mode)))
}

// -------------------------------------------------------------------------
// Discovery -- udev hot-plug
// -------------------------------------------------------------------------

// runDiscovery watches for dongle devices arriving and departing via
// udev, bringing adapters up and down as they do. Returns when ctx is
// cancelled.
func runDiscovery(
	ctx context.Context,
	cfg *config.Config,
	f *fleet,
	collector *gipmetrics.Collector,
	events chan<- coordinator.Event,
	busConn *dbus.Conn,
	logger *slog.Logger,
) error {
	disc := transport.NewUdevDiscoverer("usb", logger)

	deviceEvents, err := disc.Watch(ctx)
	if err != nil {
		return fmt.Errorf("start device discovery: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-deviceEvents:
			if !ok {
				return nil
			}
			switch ev.Type {
			case transport.DeviceAdded:
				handleDeviceAdded(ctx, ev.Info, cfg, f, collector, events, busConn, logger)
			case transport.DeviceRemoved:
				if f.removeByName(ev.Info.Name) {
					logger.Info("accessory device removed", slog.String("name", ev.Info.Name))
				}
			}
		}
	}
}

// handleDeviceAdded opens a newly discovered accessory device and brings
// it up as a fleet adapter, unless cfg.Transport.MaxAdapters is already
// reached (spec.md §5's adapter-capacity bound).
func handleDeviceAdded(
	ctx context.Context,
	info transport.DeviceInfo,
	cfg *config.Config,
	f *fleet,
	collector *gipmetrics.Collector,
	events chan<- coordinator.Event,
	busConn *dbus.Conn,
	logger *slog.Logger,
) {
	logger.Info("discovered accessory device",
		slog.String("name", info.Name),
		slog.Uint64("vendor", uint64(info.VendorID)),
		slog.Uint64("product", uint64(info.ProductID)),
	)

	if f.count() >= cfg.Transport.MaxAdapters {
		logger.Warn("max_adapters reached, ignoring discovered device",
			slog.String("name", info.Name), slog.Int("max_adapters", cfg.Transport.MaxAdapters),
		)
		return
	}

	device, err := transport.NewAFPacketDevice(info.Name, logger)
	if err != nil {
		logger.Error("open discovered device failed",
			slog.String("name", info.Name), slog.String("error", err.Error()))
		return
	}

	if err := f.addAdapter(ctx, device, cfg, collector, events, busConn, logger); err != nil {
		logger.Error("bring up discovered device failed",
			slog.String("name", info.Name), slog.String("error", err.Error()))
		_ = device.Close()
	}
}

// -------------------------------------------------------------------------
// Coordinator wiring
// -------------------------------------------------------------------------

func setupCoordinator(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.CoordinatorConfig,
	logger *slog.Logger,
) (coordinator.Client, *coordinator.Handler, error) {
	if !cfg.Enabled {
		logger.Info("coordinator integration disabled")
		return nil, nil, nil
	}

	client, err := coordinator.NewGRPCClient(cfg.Addr, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create coordinator client: %w", err)
	}

	handler := coordinator.NewHandler(coordinator.HandlerConfig{
		Client: client,
		Dampening: coordinator.DampeningConfig{
			Enabled:           true,
			SuppressThreshold: cfg.FlapSuppressThreshold,
			ReuseThreshold:    cfg.FlapReuseThreshold,
			HalfLife:          cfg.FlapHalfLife,
		},
		Logger: logger,
	})

	logger.Info("coordinator integration enabled", slog.String("addr", cfg.Addr))
	return client, handler, nil
}

func closeCoordinatorClient(client coordinator.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close coordinator client", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// HTTP servers
// -------------------------------------------------------------------------

func startHTTPServers(ctx context.Context, g *errgroup.Group, httpSrv, metricsSrv *http.Server, logger *slog.Logger) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("control HTTP server listening", slog.String("addr", httpSrv.Addr))
		return listenAndServe(ctx, &lc, httpSrv, httpSrv.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", metricsSrv.Addr))
		return listenAndServe(ctx, &lc, metricsSrv, metricsSrv.Addr)
	})
}

func newHTTPServer(cfg config.HTTPConfig, ctrlSrv *server.Server, logger *slog.Logger) *http.Server {
	handler := ctrlSrv.Handler(
		server.LoggingMiddleware(logger),
		server.RecoveryMiddleware(logger),
	)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Systemd integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// SIGHUP reload -- log level only
// -------------------------------------------------------------------------
//
// Unlike the BFD host's declarative session reconciliation, gipd's
// adapter set tracks physical devices arriving and departing via udev,
// not a config-file session list, so reload only needs to re-apply the
// log level here.

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

const drainTimeout = 5 * time.Second

func gracefulShutdown(ctx context.Context, f *fleet, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer drainCancel()
	f.drain(drainCtx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Config/log setup
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
