package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agentic-research/vaultgraph/internal/live"
)

var (
	watchMetricsAddr string
	watchJSON        bool
)

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print results as SPARQL JSON results")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep every query current and print each new result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var reg *prometheus.Registry
		if watchMetricsAddr != "" {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
		}

		opts := sessionOptions{watch: true}
		if reg != nil {
			opts.registry = reg
		}
		s, err := openSession(ctx, opts)
		if err != nil {
			return err
		}
		defer s.Close()

		if reg != nil {
			srv := serveMetrics(watchMetricsAddr, reg, s)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		p := &updatePrinter{w: cmd.OutOrStdout(), json: watchJSON, subs: map[string]live.Subscription{}}
		p.sync(s.coord)

		go func() {
			if err := s.engine.Run(ctx, s.watcher.Events()); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Event loop stopped", "error", err)
			}
		}()

		// Queries appear and disappear as documents change.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.unsubscribeAll()
				return nil
			case <-ticker.C:
				p.sync(s.coord)
			}
		}
	},
}

func serveMetrics(addr string, reg *prometheus.Registry, s *session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	s.logger.Info("Serving metrics", "addr", addr)
	return srv
}

// updatePrinter subscribes to every live query and prints each update.
type updatePrinter struct {
	w    io.Writer
	json bool

	mu   sync.Mutex
	subs map[string]live.Subscription
}

func (p *updatePrinter) sync(c *live.Coordinator) {
	current := map[string]bool{}
	for _, id := range c.Queries() {
		current[id] = true
		p.mu.Lock()
		_, ok := p.subs[id]
		p.mu.Unlock()
		if ok {
			continue
		}
		sub := c.Subscribe(id, p.print)
		p.mu.Lock()
		p.subs[id] = sub
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subs {
		if !current[id] {
			sub.Unsubscribe()
			delete(p.subs, id)
			fmt.Fprintf(p.w, "== %s removed\n", id)
		}
	}
}

func (p *updatePrinter) print(u live.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "== %s @ %s\n", u.QueryID, u.At.Format(time.RFC3339))
	_ = printUpdate(p.w, u, p.json)
}

func (p *updatePrinter) unsubscribeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subs {
		sub.Unsubscribe()
		delete(p.subs, id)
	}
}
