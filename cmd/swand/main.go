// Package main is a daemon that evaluates context expressions and
// reports their results over HTTP and websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kastur/interdroid-swan/driver"
	"github.com/kastur/interdroid-swan/history"
	"github.com/kastur/interdroid-swan/interpreters/goja"
	"github.com/kastur/interdroid-swan/sensors"
	"github.com/kastur/interdroid-swan/sensors/clock"
	"github.com/kastur/interdroid-swan/sensors/logcat"
	"github.com/kastur/interdroid-swan/sensors/movement"
	"github.com/kastur/interdroid-swan/sensors/mqtt"
	"github.com/kastur/interdroid-swan/storage/bolt"
)

func main() {
	var (
		configFile = flag.String("c", "", "optional YAML configuration file")
		httpPort   = flag.String("h", "", "HTTP service address (overrides the configuration)")
		storeFile  = flag.String("p", "", "optional bolt file for persistence (overrides the configuration)")
		broker     = flag.String("b", "", "optional MQTT broker URL (overrides the configuration)")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.StampMilli,
	})))

	cfg, err := ReadConfig(*configFile)
	if err != nil {
		slog.Error("config", "file", *configFile, "err", err)
		os.Exit(1)
	}
	if *httpPort != "" {
		cfg.Listen = *httpPort
	}
	if *storeFile != "" {
		cfg.Storage = *storeFile
	}
	if *broker != "" {
		if cfg.MQTT == nil {
			cfg.MQTT = &MQTTConfig{}
		}
		cfg.MQTT.Broker = *broker
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("swand", "err", err)
		os.Exit(1)
	}
	slog.Info("swand terminating")
}

func run(ctx context.Context, cfg *Config) error {
	reg := prometheus.NewRegistry()
	hm, err := history.NewMetrics(reg)
	if err != nil {
		return err
	}
	sm, err := sensors.NewMetrics(reg)
	if err != nil {
		return err
	}

	var opts []driver.Option
	if cfg.Storage != "" {
		store, err := bolt.NewStorage(cfg.Storage)
		if err != nil {
			return err
		}
		if err = store.Open(ctx); err != nil {
			return err
		}
		defer store.Close(context.WithoutCancel(ctx))
		opts = append(opts, driver.WithStorage(store))
	}

	s, err := NewService(cfg, reg, opts...)
	if err != nil {
		return err
	}

	bases := map[string]*sensors.MemorySensor{ExtEntity: s.Ext}

	acc := movement.New(&movement.Simulated{}, movement.WithMetrics(sm))
	s.Manager.Add(movement.Entity, acc)
	bases[movement.Entity] = acc.MemorySensor

	lc := logcat.New()
	s.Manager.Add(logcat.Entity, lc)
	bases[logcat.Entity] = lc.MemorySensor

	ck := clock.New()
	s.Manager.Add(clock.Entity, ck)
	bases[clock.Entity] = ck.MemorySensor

	if cfg.MQTT != nil && cfg.MQTT.Broker != "" {
		client, err := connect(ctx, cfg.MQTT)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		interp := goja.NewInterpreter()
		if cfg.Libraries != "" {
			interp.LibraryProvider = goja.MakeFileLibraryProvider(cfg.Libraries)
		}
		ms := mqtt.New(client, mqtt.WithInterpreter(interp), mqtt.WithMetrics(sm))
		s.Manager.Add(mqtt.Entity, ms)
		bases[mqtt.Entity] = ms.MemorySensor
	}

	for entity, b := range bases {
		b.Metrics = hm
		if defaults, have := cfg.Sensors[entity]; have {
			b.Defaults = sensors.Resolve(defaults, b.Defaults)
		}
	}

	if err = s.Manager.Connect(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	if 0 < cfg.MaxConnections {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Driver.Run(ctx)
	})

	server := &http.Server{
		Handler: s.Handler(ctx),
	}
	g.Go(func() error {
		slog.Info("listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdown)
	})

	g.Go(func() error {
		if !s.Driver.Wait(5 * time.Second) {
			return errors.New("driver didn't start")
		}
		for _, x := range cfg.Expressions {
			if _, err := s.Driver.Register(ctx, x.ID, x.Source, x.Doc); err != nil {
				slog.Warn("configured expression", "id", x.ID, "err", err)
			}
		}
		return nil
	})

	err = g.Wait()
	if cerr := s.Manager.Close(context.WithoutCancel(ctx)); cerr != nil {
		slog.Warn("sensors close", "err", cerr)
	}
	return err
}

func connect(ctx context.Context, c *MQTTConfig) (*mqtt.Paho, error) {
	id := c.ClientID
	if id == "" {
		id = "swand-" + uuid.NewString()[:8]
	}
	opts := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(id).
		SetAutoReconnect(true)
	if c.Username != "" {
		opts.SetUsername(c.Username).SetPassword(c.Password)
	}
	client := mqtt.NewPaho(opts)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	slog.Info("mqtt connected", "broker", c.Broker, "client", id)
	return client, nil
}
