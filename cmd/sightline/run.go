package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/abelbrown/sightline/internal/logging"
	"github.com/abelbrown/sightline/internal/otel"
)

func newRunCmd() *cobra.Command {
	var (
		metricsAddr string
		statusEvery time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pass scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := openLiveSession(metricsAddr != "")
			if err != nil {
				return err
			}
			defer sess.Close()

			var srv *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(sess.metrics.Registry(), promhttp.HandlerOpts{}))
				srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logging.Error("metrics server failed", "addr", metricsAddr, "err", err)
					}
				}()
				logging.Info("serving metrics", "addr", metricsAddr)
			}

			sess.events.Info(otel.KindStartup, "cli", "scheduler started")
			logging.Info("scheduler started", "interval", cfg.Scheduler.Interval, "db", cfg.DB)

			sess.svc.Start(ctx)
			if statusEvery > 0 {
				go logStatus(ctx, sess.ring, statusEvery)
			}
			<-ctx.Done()
			sess.svc.Wait()

			if srv != nil {
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				_ = srv.Shutdown(shutdownCtx)
			}
			sess.events.Info(otel.KindShutdown, "cli", "scheduler stopped")
			logging.Info("scheduler stopped", "status", sess.ring.Status().String())
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().DurationVar(&statusEvery, "status-every", 15*time.Minute, "log a pass summary at this interval (0 disables)")
	return cmd
}

// logStatus logs the ring's pass summary every interval until ctx ends.
func logStatus(ctx context.Context, ring *otel.RingBuffer, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logging.Info("scheduler status", "status", ring.Status().String())
		}
	}
}
