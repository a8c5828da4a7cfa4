package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/appharness/internal/assets"
	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the asset directory over local HTTP",
	Long: `Serve the asset directory (manifest and application files) over local HTTP
until interrupted. With --watch, every change under the directory is printed,
which helps when editing a manifest while a container is pointed at it.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("root", "", "directory to serve (overrides assets.root)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides assets.port)")
	serveCmd.Flags().Bool("watch", false, "print file changes under the served directory")
	_ = viper.BindPFlag("assets.root", serveCmd.Flags().Lookup("root"))
	_ = viper.BindPFlag("assets.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("assets.watch", serveCmd.Flags().Lookup("watch"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	srv := assets.New(assets.Options{
		Root:   cfg.Assets.Root,
		Host:   cfg.Assets.Host,
		Port:   cfg.Assets.Port,
		Bus:    event.NewBus(logger),
		Logger: logger,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start asset server: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Serving %s\n", cfg.Assets.Root)
	fmt.Fprintf(out, "Manifest: %s\n", srv.URL(cfg.App.ManifestName))

	if cfg.Assets.Watch {
		err := srv.Watch(func(e event.AssetChangedEvent) {
			fmt.Fprintf(out, "%s %s\n", e.Op, e.Path)
		})
		if err != nil {
			_ = srv.Stop()
			return fmt.Errorf("failed to watch %s: %w", cfg.Assets.Root, err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Fprintln(out, "Stopping")
	return srv.Stop()
}
