package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speect-go/ui"
)

var (
	mouse bool

	browseCmd = &cobra.Command{
		Use:     "browse",
		Short:   "Browse classes and plugins interactively",
		Long:    paragraph(fmt.Sprintf("\nBrowse the registered classes and loaded plugins, %s.", keyword("creating and releasing objects as you go"))),
		Example: paragraph("speect browse\nspeect browse --load shapes"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Read environment to get the refresh interval
			uiCfg, err := env.ParseAs[ui.Config]()
			if err != nil {
				return fmt.Errorf("error parsing config: %w", err)
			}
			uiCfg.EnableMouse = mouse

			e, err := startEngine(cmd.Context(), loadPlugins...)
			if err != nil {
				return err
			}
			return quitEngine(e, ui.Run(uiCfg, e.Registry(), e.Plugins()))
		},
	}
)

func init() {
	browseCmd.Flags().StringSliceVarP(&loadPlugins, "load", "l", nil, "plugins to load in addition to the autoloaded ones")
	browseCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = browseCmd.Flags().MarkHidden("mouse")
}
