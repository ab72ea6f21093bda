package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/config"
	"github.com/anibaldeboni/zero-paper/sensorhub/control"
	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
	"github.com/anibaldeboni/zero-paper/sensorhub/recorder"
	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor/bme280"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor/ina219"
	"github.com/anibaldeboni/zero-paper/sensorhub/store"
	"github.com/anibaldeboni/zero-paper/sensorhub/telemetry"
	"github.com/anibaldeboni/zero-paper/sensorhub/web"
)

// runServe runs the station until SIGINT or SIGTERM. A restart requested over
// the network reloads the configuration and starts every service again.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		restart, err := serve(ctx)
		if err != nil || !restart {
			return err
		}
		config.Reset()
	}
}

// station holds what one serve cycle opened and must close.
type station struct {
	cfg     *config.AppConfig
	loggers *observability.Loggers
	closers []io.Closer
}

func (s *station) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.loggers.Primary.Warn("error while closing", zap.Error(err))
		}
	}
}

type closeFunc func()

func (f closeFunc) Close() error { f(); return nil }

func serve(parent context.Context) (restart bool, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return false, err
	}
	loggers, err := observability.NewLoggers(cfg.LogConfig())
	if err != nil {
		return false, err
	}
	defer loggers.Sync()
	defer zap.ReplaceGlobals(loggers.Network)()

	st := &station{cfg: cfg, loggers: loggers}
	defer st.close()

	build := GetBuildInfo()
	logger := loggers.Primary
	logger.Info("starting sensorhub",
		zap.String("version", build.Version),
		zap.String("commit", build.Commit),
		zap.String("go", build.GoVersion),
		zap.String("station", cfg.Hostname()),
		zap.String("config", config.LoadedPath()))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var restartRequested atomic.Bool
	requestRestart := func() {
		logger.Info("restarting services")
		restartRequested.Store(true)
		cancel()
	}

	poller := sensor.NewPoller(loggers.Sensors, st.sources()...)

	var db store.TimeSeriesStore
	if cfg.Recording.Enabled {
		sqlite, err := store.Open(cfg.Recording.Database)
		if err != nil {
			return false, err
		}
		st.closers = append(st.closers, sqlite)
		db = sqlite
	}

	hub := telemetry.NewHub(ctx, cfg.QueueConfig(), telemetry.WithLogger(loggers.Network))
	if err := st.addSinks(hub, build.Version); err != nil {
		return false, err
	}

	files := config.NewFileStore(config.LoadedPath(), cfg)
	creds := control.NewState(cfg.RemoteCredentials())
	orchestrator := control.New(ctx, creds,
		remote.NewClient(creds, remote.WithLogger(loggers.Network)),
		cfg.ControlSettings(),
		control.WithLogger(loggers.Network),
		control.WithAddressBook(func() []string { return files.Current().SensorControl.Addresses }),
	)

	server, err := web.NewServer(ctx, cfg.WebConfig(), web.Dependencies{
		Station: web.StationInfo{
			Hostname:  cfg.Hostname(),
			Version:   build.Version,
			StartTime: time.Now(),
			DataDir:   cfg.Station.DataDir,
			LogDir:    loggers.Dir(),
		},
		Sensors:   poller,
		Store:     db,
		Telemetry: hub,
		Config:    files,
		Restart:   requestRestart,
	}, orchestrator, logger)
	if err != nil {
		return false, err
	}

	interval := &recorder.Interval{
		Poller:    poller,
		Store:     db,
		Publisher: hub,
		Every:     cfg.Recording.Interval,
		Logger:    loggers.Sensors,
	}
	if _, err := interval.RecordOnce(ctx); err != nil {
		logger.Warn("first reading failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	fatal := make(chan error, 1)
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("service stopped", zap.String("service", name), zap.Error(err))
				select {
				case fatal <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				cancel()
			}
		}()
	}

	run("telemetry", hub.Start)
	run("web", server.Start)
	if db != nil {
		run("interval recorder", func() error { return interval.Run(ctx) })
		if cfg.Recording.Trigger.Enabled {
			trigger := &recorder.Trigger{
				Poller:    poller,
				Store:     db,
				Variances: cfg.Recording.Trigger.Variances,
				Every:     cfg.Recording.Trigger.CheckInterval,
				Logger:    loggers.Sensors,
			}
			run("trigger recorder", func() error { return trigger.Run(ctx) })
		}
	}

	<-ctx.Done()
	logger.Info("stopping services", zap.Bool("restart", restartRequested.Load()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
		orchestrator.Wait()
	}()

	select {
	case <-done:
		logger.Info("all components stopped")
	case <-time.After(cfg.Timeouts.ShutdownTimeout):
		logger.Warn("shutdown timeout reached, forcing exit")
	}

	select {
	case err := <-fatal:
		return false, err
	default:
	}
	return restartRequested.Load() && parent.Err() == nil, nil
}

// sources opens the enabled sensors. A sensor that fails to open is logged
// and left out so the station still serves what it can read.
func (s *station) sources() []sensor.Source {
	cfg, logger := s.cfg, s.loggers.Sensors
	var out []sensor.Source

	if b := cfg.Sensors.BME280; b.Enabled {
		if b.Type == config.SensorHardware {
			dev, err := bme280.NewSensor(cfg.BME280Config())
			if err != nil {
				logger.Error("BME280 unavailable", zap.Error(err))
			} else {
				s.closers = append(s.closers, dev)
				out = append(out, dev)
			}
		} else {
			logger.Info("using simulated BME280")
			sim := bme280.NewSimulatedSensor(cfg.SimulatedConfig())
			s.closers = append(s.closers, sim)
			out = append(out, sim)
		}
	}

	if cfg.Sensors.INA219.Enabled {
		mon, err := ina219.New(cfg.INA219Config())
		if err != nil {
			logger.Error("INA219 unavailable", zap.Error(err))
		} else {
			s.closers = append(s.closers, mon)
			out = append(out, mon)
		}
	}

	if cfg.Sensors.System.Enabled {
		out = append(out, cfg.SystemSource())
	}
	return out
}

// addSinks registers every enabled telemetry service with hub. The embedded
// broker starts first so a sink pointed at it can connect.
func (s *station) addSinks(hub *telemetry.Hub, version string) error {
	t := s.cfg.Telemetry
	opts := []telemetry.ClientOption{telemetry.WithTimeout(t.Timeout)}

	if t.Broker.Enabled {
		broker, err := telemetry.StartBroker(s.cfg.BrokerConfig(), s.loggers.Network)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, broker)
	}

	if t.WeatherUnderground.Enabled {
		wu, err := telemetry.NewWeatherUnderground(t.WeatherUnderground.StationID, t.WeatherUnderground.Password, opts...)
		if err != nil {
			return err
		}
		hub.Add(wu, t.WeatherUnderground.Interval)
	}
	if t.Luftdaten.Enabled {
		l, err := telemetry.NewLuftdaten(t.Luftdaten.SensorID, version, opts...)
		if err != nil {
			return err
		}
		hub.Add(l, t.Luftdaten.Interval)
	}
	if t.OpenSenseMap.Enabled {
		osm, err := telemetry.NewOpenSenseMap(t.OpenSenseMap.BoxID, t.OpenSenseMap.SensorIDs, opts...)
		if err != nil {
			return err
		}
		hub.Add(osm, t.OpenSenseMap.Interval)
	}
	if t.OpenWeather.Enabled {
		ow, err := telemetry.NewOpenWeather(t.OpenWeather.AppID, t.OpenWeather.StationID, opts...)
		if err != nil {
			return err
		}
		hub.Add(ow, t.OpenWeather.Interval)
	}
	if t.MQTT.Enabled {
		sink, err := telemetry.NewMQTTSink(s.cfg.MQTTConfig())
		if err != nil {
			return err
		}
		s.closers = append(s.closers, closeFunc(sink.Close))
		hub.Add(sink, t.MQTT.Interval)
	}
	return nil
}
