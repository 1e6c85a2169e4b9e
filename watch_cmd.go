package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	watchStatus time.Duration

	watchCmd = &cobra.Command{
		Use:     "watch",
		Short:   "Load and unload plugins as they change on disk",
		Long:    paragraph(fmt.Sprintf("\nWatch the plugin directory and %s as files appear and disappear. Stops on interrupt.", keyword("load or unload plugins"))),
		Example: paragraph("speect watch\nspeect watch --plugin-path ./build --status 10s"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watchStatus <= 0 {
				return fmt.Errorf("--status must be positive, got %s", watchStatus)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg.Plugins.Watch = true
			e, err := startEngine(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Watching", keyword(e.Watcher().Dir()))
			log.Info("watching plugin directory", "dir", e.Watcher().Dir())

			tick := time.NewTicker(watchStatus)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return quitEngine(e, ignoreCanceled(ctx.Err()))
				case <-tick.C:
					fmt.Fprintf(w, "%s loaded %v, pending %v\n",
						faint(time.Now().Format(time.TimeOnly)),
						e.Watcher().Loaded(), e.Watcher().Pending())
				}
			}
		},
	}
)

func init() {
	watchCmd.Flags().DurationVar(&watchStatus, "status", 30*time.Second, "how often to print the watched plugins")
}

func ignoreCanceled(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
