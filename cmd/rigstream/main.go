package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OCAP2/rigstream/internal/config"
	"github.com/OCAP2/rigstream/internal/dispatcher"
	"github.com/OCAP2/rigstream/internal/httpapi"
	"github.com/OCAP2/rigstream/internal/influx"
	"github.com/OCAP2/rigstream/internal/logging"
	"github.com/OCAP2/rigstream/internal/monitor"
	intOtel "github.com/OCAP2/rigstream/internal/otel"
	"github.com/OCAP2/rigstream/internal/physics"
	"github.com/OCAP2/rigstream/internal/physics/sim"
	"github.com/OCAP2/rigstream/internal/rig"
	"github.com/OCAP2/rigstream/internal/scene"
	"github.com/OCAP2/rigstream/internal/storage"
	"github.com/OCAP2/rigstream/internal/stream"
	"github.com/OCAP2/rigstream/internal/transport"
	"github.com/OCAP2/rigstream/internal/worker"
	"github.com/OCAP2/rigstream/internal/world"
	"github.com/OCAP2/rigstream/pkg/streaming"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
)

// BuildDate and Version can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	ServiceName string = "rigstream"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	logFile   *os.File
	otelFile  *os.File
	zeroLog   zerolog.Logger
	simWorld  *world.World
	dataStore storage.Backend
	influxDB  *influx.Manager

	viewerListener *transport.Listener
	peerStreamer   *transport.PeerStreamer
	httpServer     *httpapi.Server
	monitorService *monitor.Service
)

func main() {
	if err := runCommand(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configDir := fs.String("config", ".", "directory holding "+config.FileName+" and .env")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.Load(*configDir); err != nil {
		return err
	}
	if err := initLogging(); err != nil {
		return err
	}
	defer closeLogging()

	Logger.Info("Starting up", "version", Version, "buildDate", BuildDate, "gomaxprocs", runtime.GOMAXPROCS(0))

	if err := initStorage(); err != nil {
		return err
	}
	if err := initWorld(); err != nil {
		return err
	}
	initInflux()

	run, err := simWorld.StartRun(SessionStartTime)
	if err != nil {
		return err
	}
	initMonitor(run.Key)

	if err := startServers(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := simWorld.RunLoop(ctx)
	Logger.Info("Shutting down")
	return errors.Join(runErr, shutdown())
}

// initLogging opens the log file and builds the slog and zerolog loggers.
// OTel is set up in between so the slog bridge can be attached.
func initLogging() error {
	logCfg := config.GetLoggingConfig()
	if err := os.MkdirAll(logCfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	var err error
	logFile, err = os.OpenFile(logging.LogFilePath(logCfg.Dir, ServiceName, SessionStartTime), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{File: logFile, Level: logCfg.Level})
	Logger = SlogManager.Logger()

	if err := initOTel(logCfg.Dir); err != nil {
		// continue without OTel
		Logger.Error("Failed to initialize OTel", "error", err)
	}

	opts := logging.Options{
		File:    logFile,
		Level:   logCfg.Level,
		Context: worldContext,
	}
	if OTelProvider != nil {
		opts.Provider = OTelProvider.LoggerProvider()
	}
	gelfWriter, err := logging.DialGELF(logCfg.GELFAddress)
	if err != nil {
		Logger.Error("Failed to connect GELF sink", "error", err)
	} else if gelfWriter != nil {
		opts.GELF = gelfWriter
	}
	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	zeroLog = zerolog.New(zerolog.ConsoleWriter{Out: logFile, TimeFormat: time.RFC3339, NoColor: true}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()
	return nil
}

func worldContext() []slog.Attr {
	if simWorld == nil {
		return nil
	}
	return simWorld.LogContext()
}

func initOTel(logsDir string) error {
	otelCfg := config.GetOTelConfig()
	if !otelCfg.Enabled {
		return nil
	}

	var err error
	otelFile, err = os.OpenFile(filepath.Join(logsDir, ServiceName+".otel.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open otel file: %w", err)
	}

	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:      true,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelFile,
		MetricWriter: otelFile,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return err
	}
	OTelProvider.Install()
	Logger.Info("OTel initialized", "endpoint", otelCfg.Endpoint)
	return nil
}

func initWorld() error {
	serverCfg := config.GetServerConfig()
	streamCfg := config.GetStreamingConfig()

	policy, err := transport.ParseQueuePolicy(serverCfg.QueuePolicy)
	if err != nil {
		return err
	}

	rnd := rand.New(rand.NewPCG(uint64(SessionStartTime.UnixNano()), 0))
	engine := sim.New(sim.DefaultConfig())
	rigs := rig.NewRegistry(engine, rnd)
	sc := scene.New()
	if _, err := sc.Add(defaultLamp()); err != nil {
		return err
	}

	eventDispatcher, err := dispatcher.New(logging.NewDispatcherLogger(
		logging.NewActionLogger(logFile, config.GetLoggingConfig().Level)))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	worker.NewManager(worker.Dependencies{Rigs: rigs, Scene: sc, Logger: Logger}).RegisterHandlers(eventDispatcher)

	streams, err := stream.NewManager(stream.Config{
		MaxDistance: streamCfg.MaxDistance,
		MaxVerts:    streamCfg.MaxVerts,
		Precision:   streamCfg.Precision,
		Godrays:     streamCfg.Godrays,
		Camera: streaming.Camera{
			Rand:     streamCfg.Camera.Rand,
			Focus:    streamCfg.Camera.Focus,
			Aperture: streamCfg.Camera.Aperture,
			MaxBlur:  streamCfg.Camera.MaxBlur,
		},
	}, rnd, eventDispatcher, Logger)
	if err != nil {
		return err
	}

	viewerListener = transport.NewListener(transport.ListenerConfig{
		Addr:        serverCfg.ViewerAddr,
		PollTimeout: serverCfg.PollTimeout,
		Policy:      policy,
	}, Logger)
	peerStreamer = transport.NewPeerStreamer(serverCfg.PeerBasePort, Logger)

	simWorld, err = world.New(world.Config{
		TickRate: serverCfg.TickRate,
		FPSFloor: serverCfg.FPSFloor,
	}, world.Dependencies{
		Engine:   engine,
		Scene:    sc,
		Rigs:     rigs,
		Streams:  streams,
		Acceptor: world.ListenerAcceptor{Listener: viewerListener},
		Peers:    peerStreamer,
		Recorder: dataStore,
		Logger:   Logger,
	})
	if err != nil {
		return err
	}

	return addRigs()
}

func defaultLamp() *scene.Object {
	o := &scene.Object{
		Name: "lamp",
		Kind: scene.KindLamp,
		Lamp: &scene.LampData{Energy: 1, Distance: 30, Color: [3]float64{1, 1, 1}},
	}
	o.Transform.Position = mgl64.Vec3{4, -4, 6}
	o.Transform.Scale = mgl64.Vec3{1, 1, 1}
	o.Transform.Rotation = mgl64.QuatIdent()
	return o
}

func addRigs() error {
	rigCfg := config.GetRigConfig()

	opts := rig.DefaultOptions()
	opts.Breakable = rigCfg.Breakable
	opts.BreakThreshold = rigCfg.BreakThreshold
	opts.DamageThreshold = rigCfg.DamageThreshold
	opts.Stretch = rigCfg.Stretch
	opts.HybridIK = rigCfg.HybridIK
	opts.Gravity = rigCfg.Gravity
	opts.Collision = rigCfg.Collision

	biped := rig.DefaultBipedConfig()
	if err := config.Unmarshal("rig.biped", &biped); err != nil {
		return err
	}

	for _, name := range rigCfg.Humanoids {
		bp := rig.Blueprint{
			Skeleton: rig.Humanoid(name),
			Options:  opts,
			Kind:     rig.Kind(strings.ToLower(rigCfg.Kind)),
		}
		if bp.Kind == rig.KindBiped {
			bp.Biped = &biped
		}
		r, err := simWorld.AddRig(bp)
		if err != nil {
			return err
		}
		if err := r.AdjustTension(physics.ParamCFM, rigCfg.CFM); err != nil {
			return err
		}
		if err := r.AdjustTension(physics.ParamERP, rigCfg.ERP); err != nil {
			return err
		}
	}
	return nil
}

func initInflux() {
	influxDB = influx.NewManager(config.GetInfluxConfig(), zeroLog, SessionStartTime)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := influxDB.Connect(ctx)
	switch {
	case errors.Is(err, influx.ErrDisabled):
		Logger.Debug("InfluxDB disabled")
	case err != nil:
		Logger.Warn("InfluxDB unavailable, writing line protocol backup", "error", err, "backup", influxDB.BackupPath())
	default:
		Logger.Info("InfluxDB connected")
	}
}

func initMonitor(runKey string) {
	monCfg := config.GetMonitorConfig()
	monitorService = monitor.NewService(monitor.Dependencies{
		Logger:     Logger,
		Frames:     simWorld,
		Recorder:   dataStore,
		Influx:     influxDB,
		RunKey:     runKey,
		StatusFile: monCfg.StatusFile,
		Interval:   monCfg.Interval,
	})
	simWorld.SetObservers(monitorService, influxDB)
	monitorService.Start()
}

func startServers() error {
	serverCfg := config.GetServerConfig()

	if err := viewerListener.Start(); err != nil {
		return fmt.Errorf("start viewer listener: %w", err)
	}
	Logger.Info("Viewer listener started", "addr", viewerListener.Addr())

	httpServer = httpapi.New(httpapi.Config{
		Addr:       serverCfg.HTTPAddr,
		AssetsDir:  serverCfg.AssetsDir,
		ViewerPort: portOf(viewerListener.Addr()),
	}, httpapi.Dependencies{Scene: simWorld, Logger: Logger})
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	Logger.Info("HTTP server started", "addr", httpServer.Addr())
	return nil
}

func shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	monitorService.Stop()
	errs = append(errs, httpServer.Shutdown(ctx))
	errs = append(errs, viewerListener.Stop(ctx))
	errs = append(errs, peerStreamer.Close())
	errs = append(errs, influxDB.Close())
	errs = append(errs, dataStore.Close())
	if OTelProvider != nil {
		errs = append(errs, OTelProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = SlogManager.Flush(ctx)
	if otelFile != nil {
		_ = otelFile.Close()
	}
	_ = logFile.Close()
}

// portOf returns the port of a listen address, or 0.
func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}
