// Command treemap-sim runs a 1-D SLAM simulation on a treemap and reports
// statistics and the error of the tree estimate against a batch solve.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TrevorS/treemap"
	"github.com/TrevorS/treemap/promstats"
)

var (
	configPath  string
	metricsAddr string
	writeTree   bool
	verbose     bool
	sim         = defaultSimConfig()

	rootCmd = &cobra.Command{
		Use:   "treemap-sim",
		Short: "Simulate 1-D SLAM on a treemap",
		Long: `treemap-sim drives a robot along a line, feeds odometry and landmark
observations into a treemap and prints statistics as YAML.`,
		SilenceUsage: true,
		RunE:         runSim,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML file with treemap settings")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address and wait for SIGINT after the run")
	f.BoolVar(&writeTree, "tree", false, "print the final tree")
	f.BoolVarP(&verbose, "verbose", "v", false, "log optimizer runs")
	f.IntVar(&sim.Poses, "poses", sim.Poses, "number of robot poses")
	f.IntVar(&sim.Landmarks, "landmarks", sim.Landmarks, "number of landmarks")
	f.Float64Var(&sim.Range, "range", sim.Range, "observation range")
	f.Float64Var(&sim.OdoSigma, "odo-sigma", sim.OdoSigma, "odometry noise")
	f.Float64Var(&sim.ObsSigma, "obs-sigma", sim.ObsSigma, "observation noise")
	f.IntVar(&sim.Window, "window", sim.Window, "poses older than this may be marginalized out (0 keeps all)")
	f.Int64Var(&sim.Seed, "seed", sim.Seed, "random seed")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadTreemapConfig(path string) (treemap.Config, error) {
	if path == "" {
		return treemap.DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return treemap.Config{}, err
	}
	defer f.Close()
	return treemap.LoadConfig(f)
}

func runSim(cmd *cobra.Command, _ []string) error {
	cfg, err := loadTreemapConfig(configPath)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	s, err := newSimulation(sim, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if metricsAddr != "" {
		srv = serveMetrics(metricsAddr, s, cfg.Logger)
	}

	start := time.Now()
	if err := s.run(); err != nil {
		return err
	}
	r, err := s.finish()
	if err != nil {
		return err
	}
	cfg.Logger.Info("simulation finished", "elapsed", time.Since(start), "max_qr_error", r.MaxQRError)

	if err := printReport(cmd.OutOrStdout(), s, r); err != nil {
		return err
	}

	if srv != nil {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
	return nil
}

func serveMetrics(addr string, s *simulation, log *slog.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(promstats.New("treemap", promstats.Locked(&s.mu, s.tm)))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}

func printReport(w io.Writer, s *simulation, r report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if !writeTree {
		return nil
	}
	if _, err := fmt.Fprintln(w, "---"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tm.WriteTree(w)
}
