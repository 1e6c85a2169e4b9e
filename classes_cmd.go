package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

var (
	loadPlugins []string

	classesCmd = &cobra.Command{
		Use:     "classes",
		Short:   "List the registered classes",
		Long:    paragraph(fmt.Sprintf("\nStart the runtime, %s and list every registered class.", keyword("load the configured plugins"))),
		Example: paragraph("speect classes\nspeect classes --load shapes"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := startEngine(cmd.Context(), loadPlugins...)
			if err != nil {
				return err
			}
			printClasses(cmd.OutOrStdout(), e.Registry())
			return quitEngine(e, nil)
		},
	}
)

func init() {
	classesCmd.Flags().StringSliceVarP(&loadPlugins, "load", "l", nil, "plugins to load in addition to the autoloaded ones")
}

func printClasses(w io.Writer, reg *objsys.Registry) {
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	width := 0
	if isTerminal {
		if tw, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = tw
		}
	}
	writeClasses(w, reg, width, isTerminal)
}

// writeClasses lists the classes of reg. Lines longer than width are
// truncated; a width of 0 leaves them alone.
func writeClasses(w io.Writer, reg *objsys.Registry, width int, styled bool) {
	names := reg.Names()
	nameWidth := runewidth.StringWidth("CLASS")
	for _, name := range names {
		nameWidth = max(nameWidth, runewidth.StringWidth(name))
	}

	row := func(name, version, size, live, chain string) string {
		line := fmt.Sprintf("%s  %-7s  %-9s  %5s  %s",
			runewidth.FillRight(name, nameWidth), version, size, live, chain)
		if width > 0 && runewidth.StringWidth(line) > width {
			line = truncate.StringWithTail(line, uint(width), "…") //nolint:gosec
		}
		return line
	}

	title := row("CLASS", "VERSION", "SIZE", "LIVE", "INHERITANCE")
	if styled {
		title = header(title)
	}
	fmt.Fprintln(w, title)

	for _, name := range names {
		cls, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		line := row(name, cls.Version.String(), humanize.Bytes(uint64(cls.Size)),
			fmt.Sprint(reg.Live(name)), strings.Join(cls.Ancestry(), " → "))
		fmt.Fprintln(w, line)
	}

	stats := reg.Stats().String()
	if styled {
		stats = faint(stats)
	}
	fmt.Fprintln(w, stats)
}
