package main // import "github.com/tcolgate/catcam"

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "v1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := defaultConfig()
	var cfgFile string

	root := &cobra.Command{
		Use:           "catcam",
		Short:         "Serve a camera as a motion JPEG stream",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				if err := cfg.Load(cfgFile, cmd.Flags()); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				log.WithError(err).Error("Invalid configuration")
				return err
			}
			lvl, _ := log.ParseLevel(cfg.LogLevel)
			log.SetLevel(lvl)
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := serve(ctx, &cfg)
			if err != nil {
				log.WithError(err).Error("Camera server failed")
			}
			return err
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML configuration file")
	cfg.AddFlags(root.PersistentFlags())

	root.AddCommand(newSummaryCmd(&cfg), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("catcam", version)
		},
	}
}

// serve runs the camera and the HTTP server until ctx is done or either of
// them fails. The camera is stopped on every return path.
func serve(ctx context.Context, cfg *Config) error {
	cam, err := newCamera(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := NewFrameSink()
	srv := NewServer(sink,
		func() ([]byte, error) { return indexPage(cfg.Template, version) },
		WithMaxClients(cfg.MaxClients),
		WithWriteTimeout(cfg.WriteTimeout),
		WithLogger(log.StandardLogger()),
	)
	defer srv.Close()

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// release streaming clients blocked on the next frame
	s.RegisterOnShutdown(sink.Close)

	var (
		wg     sync.WaitGroup
		camErr error
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		camErr = runCamera(ctx, cam, sink, cfg.FPS)
	}()

	go func() {
		defer wg.Done()

		<-ctx.Done()

		log.Println("Shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Failed to shut down HTTP server")
		}
	}()

	log.WithField("addr", cfg.Listen).Info("HTTP server listening")
	srvErr := s.ListenAndServe()
	if errors.Is(srvErr, http.ErrServerClosed) {
		srvErr = nil
	}
	cancel()
	wg.Wait()

	st := sink.Stats()
	log.WithFields(log.Fields{
		"frames":          st.Frames,
		"discarded_bytes": st.DiscardedBytes,
	}).Debug("Frame sink stopped")

	if srvErr != nil {
		return srvErr
	}
	return camErr
}
