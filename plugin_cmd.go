package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speect-go/internal/cache"
	"github.com/dgnsrekt/speect-go/internal/pluginmanager"
)

var (
	packLevel  int
	pruneAfter time.Duration
	clearCache bool

	pluginCmd = &cobra.Command{
		Use:   "plugin",
		Short: "Inspect and package plugins",
		Args:  cobra.NoArgs,
	}

	pluginInfoCmd = &cobra.Command{
		Use:     "info PLUGIN...",
		Short:   "Load plugins and describe them",
		Long:    paragraph(fmt.Sprintf("\nLoad each PLUGIN, %s and unload it again.", keyword("print what it registers"))),
		Example: paragraph("speect plugin info shapes\nspeect plugin info ./build/shapes.spi.zst"),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := startEngine(cmd.Context(), args...)
			if err != nil {
				return err
			}
			for _, arg := range args {
				p, ok := e.Plugins().Lookup(arg)
				if !ok {
					continue
				}
				printPlugin(cmd.OutOrStdout(), p)
			}
			return quitEngine(e, nil)
		},
	}

	pluginPackCmd = &cobra.Command{
		Use:     "pack SOURCE [DEST]",
		Short:   "Compress a plugin with zstd",
		Long:    paragraph(fmt.Sprintf("\nWrite a %s copy of SOURCE that the plugin loader extracts on load. DEST defaults to SOURCE.zst.", keyword("zstd compressed"))),
		Example: paragraph("speect plugin pack shapes.spi\nspeect plugin pack shapes.spi dist/shapes.spi.zst --level 19"),
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			dst := src + ".zst"
			if len(args) == 2 {
				dst = args[1]
			}
			if !strings.HasSuffix(dst, ".zst") {
				return fmt.Errorf("%s: compressed plugins must end in .zst", dst)
			}
			if packLevel < 1 || packLevel > 22 {
				return fmt.Errorf("compression level %d out of range 1-22", packLevel)
			}
			if err := pluginmanager.Compress(src, dst, packLevel); err != nil {
				return err //nolint:wrapcheck
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote compressed plugin to:", dst)
			return nil
		},
	}

	pluginCacheCmd = &cobra.Command{
		Use:     "cache",
		Short:   "List or prune extracted plugins",
		Long:    paragraph(fmt.Sprintf("\nList the %s that compressed plugins are extracted to, optionally pruning it.", keyword("plugin cache"))),
		Example: paragraph("speect plugin cache\nspeect plugin cache --prune 720h\nspeect plugin cache --clear"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := cache.New(cfg.Plugins.CacheDir, cfg.Plugins.CacheMaxBytes)
			if err != nil {
				return err //nolint:wrapcheck
			}
			defer store.Close() //nolint:errcheck

			w := cmd.OutOrStdout()
			switch {
			case clearCache:
				if err := store.Clear(); err != nil {
					return fmt.Errorf("unable to clear plugin cache: %w", err)
				}
			case pruneAfter > 0:
				n := store.RemoveOlderThan(time.Now().Add(-pruneAfter))
				fmt.Fprintf(w, "Removed %d extracted %s\n", n, plural(n, "plugin", "plugins"))
			}

			for _, e := range store.Entries() {
				fmt.Fprintf(w, "%s  %8s  %s\n", e.Key, humanize.Bytes(uint64(e.Size)),
					faint("used "+humanize.Time(e.LastAccess)))
			}
			st := store.Stats()
			fmt.Fprintln(w, faint(fmt.Sprintf("%d entries, %s in %s",
				st.ItemCount, humanize.Bytes(uint64(st.Size)), store.Dir())))
			return nil
		},
	}
)

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	pluginPackCmd.Flags().IntVar(&packLevel, "level", 3, "zstd compression level (1-22)")
	pluginCacheCmd.Flags().DurationVar(&pruneAfter, "prune", 0, "remove entries extracted longer ago than this")
	pluginCacheCmd.Flags().BoolVar(&clearCache, "clear", false, "remove every entry")
	pluginCmd.AddCommand(pluginInfoCmd, pluginPackCmd, pluginCacheCmd)
}

func printPlugin(w io.Writer, p *pluginmanager.Plugin) {
	fmt.Fprintln(w, keyword(p.Name()), faint("v"+p.Version().String()))
	if p.Description() != "" {
		fmt.Fprintf(w, "  %s\n", p.Description())
	}
	fmt.Fprintf(w, "  %s %s\n", faint("path:"), p.Path())
	fmt.Fprintf(w, "  %s %s\n", faint("abi:"), p.ABI())
	fmt.Fprintf(w, "  %s %s\n", faint("loaded:"), humanize.Time(p.LoadedAt()))
	fmt.Fprintf(w, "  %s %s\n", faint("classes:"), strings.Join(p.Classes(), ", "))
}
