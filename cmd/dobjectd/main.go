// Command dobjectd is a demo daemon wiring one replicated stopwatch
// (a WatchModel plus a NameRegister) onto a TubeBox/TimeHandler pair over
// a chosen transport, with a small HTTP debug/metrics surface
// (SPEC_FULL.md §11.3). It exists to exercise the library end-to-end,
// not as a production server.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dobject-go/dobject/pkg/dobject/core"
	"github.com/dobject-go/dobject/pkg/dobject/definition"
	"github.com/dobject-go/dobject/pkg/dobject/replicated"
	"github.com/dobject-go/dobject/pkg/dobject/transport/loopback"
	"github.com/dobject-go/dobject/pkg/dobject/transport/natschannel"
	"github.com/dobject-go/dobject/pkg/dobject/transport/wschannel"
	"github.com/dobject-go/dobject/pkg/dobject/types"
)

var (
	app          = kingpin.New("dobjectd", "Demo daemon replicating a single stopwatch over dobject.")
	configPath   = app.Flag("config", "path to a TOML config file").Default("").String()
	peerName     = app.Flag("name", "this peer's unique name, overrides the config file").String()
	initiator    = app.Flag("initiator", "start this replica as the session initiator").Bool()
	watchLabel   = app.Flag("label", "initial stopwatch label").Default("").String()
	transportOpt = app.Flag("transport", "transport kind: nats, ws, or loopback").Default("").String()
	natsURL      = app.Flag("nats-url", "NATS server URL").Default("").String()
	natsGroup    = app.Flag("nats-group", "NATS group/session name").Default("").String()
	wsHubURL     = app.Flag("ws-hub-url", "websocket hub URL to dial, e.g. ws://host:port/ws").Default("").String()
	wsListen     = app.Flag("ws-listen", "address to serve the websocket hub on, if this peer hosts it").Default("").String()
	httpAddr     = app.Flag("http-addr", "address for the debug/metrics HTTP surface").Default("").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	fileCfg, err := loadFileConfig(*configPath)
	if err != nil {
		color.Red("dobjectd: %v", err)
		os.Exit(1)
	}

	name := firstNonEmpty(*peerName, fileCfg.Peer.Name, "peer-"+string(types.NewUID())[:8])
	isInitiator := *initiator || fileCfg.Peer.Initiator
	label := firstNonEmpty(*watchLabel, fileCfg.Peer.WatchLabel)
	transportKind := firstNonEmpty(*transportOpt, fileCfg.Transport.Kind, "loopback")
	debugAddr := firstNonEmpty(*httpAddr, fileCfg.HTTP.Addr, ":8080")

	log := definition.NewDefaultLogger(name)
	color.Cyan("dobjectd starting: peer=%s transport=%s initiator=%v", name, transportKind, isInitiator)

	registry := prometheus.NewRegistry()
	metrics := definition.NewMetrics(registry)

	channel, closeChannel, err := dialTransport(transportKind, name, fileCfg)
	if err != nil {
		log.Fatalf("dobjectd: failed establishing %s transport: %v", transportKind, err)
	}
	defer closeChannel()

	box := core.NewTubeBox()
	clock := core.NewTimeHandler(name, box, log, metrics)
	watchHandler := core.NewUnorderedHandler("stopwatch/"+name, box, log, metrics)
	nameHandler := core.NewUnorderedHandler("stopwatch-name/"+name, box, log, metrics)

	watch := replicated.NewWatchModel("stopwatch/"+name, watchHandler, log, metrics, types.State{Mode: types.Paused, Timeval: 0})
	nameRegister := replicated.NewNameRegister(nameHandler, clock, log)
	if label != "" {
		nameRegister.SetLabel(label)
	}

	box.Insert(channel, isInitiator)

	router := newDebugRouter(registry, watch, nameRegister)
	httpServer := &http.Server{Addr: debugAddr, Handler: router}
	go func() {
		log.Infof("http debug surface listening on %s", debugAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http debug surface stopped: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	color.Yellow("dobjectd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("error shutting down http debug surface: %v", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// dialTransport constructs the concrete types.Channel named by kind,
// returning it alongside a cleanup func.
func dialTransport(kind, name string, fileCfg fileConfig) (types.Channel, func(), error) {
	switch kind {
	case "nats":
		url := firstNonEmpty(*natsURL, fileCfg.Transport.NATS.URL, natsDefaultURL)
		group := firstNonEmpty(*natsGroup, fileCfg.Transport.NATS.Group, "dobjectd")
		channel, err := natschannel.Connect(url, group, name)
		if err != nil {
			return nil, nil, err
		}
		return channel, func() { _ = channel.Close() }, nil

	case "ws":
		hubURL := firstNonEmpty(*wsHubURL, fileCfg.Transport.WS.HubURL)
		listen := firstNonEmpty(*wsListen, fileCfg.Transport.WS.Listen)
		if listen != "" {
			hub := wschannel.NewHub()
			server := &http.Server{Addr: listen, Handler: hub}
			go func() { _ = server.ListenAndServe() }()
			if hubURL == "" {
				hubURL = "ws://" + listen + "/"
			}
		}
		channel, err := wschannel.Dial(hubURL, name)
		if err != nil {
			return nil, nil, err
		}
		return channel, func() { _ = channel.Close() }, nil

	default:
		bus := loopback.NewBus()
		channel := bus.NewChannel(name)
		return channel, channel.Close, nil
	}
}

const natsDefaultURL = "nats://127.0.0.1:4222"

// newDebugRouter builds the read-only debug/metrics HTTP surface
// (SPEC_FULL.md §11.3). It is not part of the replicated core's API.
func newDebugRouter(registry *prometheus.Registry, watch *replicated.WatchModel, name *replicated.NameRegister) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/debug/watch", func(w http.ResponseWriter, _ *http.Request) {
		var state types.State
		unsubscribe := watch.RegisterListener(func(s types.State) { state = s })
		unsubscribe()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Label string      `json:"label"`
			State types.State `json:"state"`
		}{Label: name.Label(), State: state})
	})
	return r
}
