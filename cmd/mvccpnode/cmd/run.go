package cmd

import (
	"net/http"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/metrics"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/node"
	"github.com/haidar-88/mvccp/internal/transport"
)

var (
	runNodeIDFlag      string
	runRREHFlag        bool
	runConfigPathFlag  string
	runListenAddrFlag  string
	runSendAddrFlag    string
	runMetricsAddrFlag string
	runTickFlag        time.Duration
	runBatteryKWhFlag  float64
	runCapacityKWhFlag float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single MVCCP node, broadcasting and reacting over UDP",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runNodeIDFlag, "id", "", "node id, 12 hex chars (required)")
	runCmd.Flags().BoolVar(&runRREHFlag, "rreh", false, "run as a stationary RREH rather than a vehicle")
	runCmd.Flags().StringVar(&runConfigPathFlag, "config", "", "path to protocol config yaml (defaults to built-in defaults)")
	runCmd.Flags().StringVar(&runListenAddrFlag, "listen", ":7654", "UDP address to listen on")
	runCmd.Flags().StringVar(&runSendAddrFlag, "broadcast", "255.255.255.255:7654", "UDP address to broadcast frames to")
	runCmd.Flags().StringVar(&runMetricsAddrFlag, "metrics", ":9654", "address to serve /metrics on")
	runCmd.Flags().DurationVar(&runTickFlag, "tick", 200*time.Millisecond, "interval between protocol ticks")
	runCmd.Flags().Float64Var(&runCapacityKWhFlag, "battery-capacity", 100, "battery capacity in kWh")
	runCmd.Flags().Float64Var(&runBatteryKWhFlag, "battery-current", 60, "initial battery level in kWh")
	_ = runCmd.MarkFlagRequired("id")
	RootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, _ []string) error {
	ConfigureVerbosity()

	id, err := model.ParseNodeID(runNodeIDFlag)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if runConfigPathFlag != "" {
		cfg, err = config.Load(runConfigPathFlag)
		if err != nil {
			return err
		}
	}

	n := &model.Node{
		ID: id,
		Battery: model.Battery{
			CapacityKWh:   runCapacityKWhFlag,
			CurrentKWh:    runBatteryKWhFlag,
			MinReserveKWh: cfg.DefaultMinEnergyKWh,
			MaxOutKW:      cfg.DefaultMaxTransferOutKW,
			MaxInKW:       cfg.DefaultMaxTransferInKW,
			Health:        1,
		},
		QoS: model.QoS{
			Willingness:   cfg.DefaultWillingness,
			ETX:           cfg.DefaultETX,
			LaneWeight:    cfg.DefaultLaneWeight,
			LinkStability: cfg.DefaultLinkStability,
		},
	}

	udp, err := transport.NewUDP(runListenAddrFlag, runSendAddrFlag)
	if err != nil {
		return err
	}
	defer udp.Close()

	m := metrics.New()
	ctx := mvccp.New(n, runRREHFlag, cfg, m, udp, nil, nil)
	nd := node.New(ctx, log.WithField("node", id.String()))

	udp.SetReceiver(func(frame []byte) {
		if err := nd.Dispatch(monotonicSeconds(), frame); err != nil {
			log.Debugf("dispatch: %v", err)
		}
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("systemd notify failed: %v", err)
	} else if ok {
		log.Debug("notified systemd of readiness")
	}

	log.Infof("mvccpnode %s listening on %s, broadcasting to %s", id, runListenAddrFlag, runSendAddrFlag)

	// Three independent loops (receive, tick, metrics) share one fate: if
	// any of them returns, the node can no longer usefully run, so all
	// three stop together. Same "any goroutine finishing brings the group
	// down" shape as ptp4u/server.Server.Start's sync.WaitGroup, using
	// errgroup's nicer error propagation instead.
	var g errgroup.Group
	g.Go(udp.Listen)
	g.Go(func() error { return serveMetrics(runMetricsAddrFlag, m) })
	g.Go(func() error { return tickLoop(nd, runTickFlag) })
	return g.Wait()
}

func tickLoop(nd *node.Node, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := nd.Tick(monotonicSeconds()); err != nil {
			log.Errorf("tick: %v", err)
		}
	}
	return nil
}

var startTime = time.Now()

// monotonicSeconds reports elapsed process time, the simulation-clock
// value mvccp.Context expects (spec.md §7 "current_time must never go
// backward" — time.Since never regresses within a process).
func monotonicSeconds() float64 {
	return time.Since(startTime).Seconds()
}

func serveMetrics(addr string, m *metrics.Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true}))
	log.Infof("serving metrics on %s", addr)
	return http.ListenAndServe(addr, mux)
}
