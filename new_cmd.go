package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

var (
	copyObject bool

	newCmd = &cobra.Command{
		Use:   "new CLASS",
		Short: "Create an object and print it",
		Long: paragraph(fmt.Sprintf("\nCreate an object of CLASS, print it and %s again.",
			keyword("release it"))),
		Example: paragraph("speect new SInt\nspeect new SCircle --load shapes --copy"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := startEngine(cmd.Context(), loadPlugins...)
			if err != nil {
				return err
			}
			return quitEngine(e, newObject(cmd.OutOrStdout(), e.Registry(), args[0]))
		},
	}
)

func init() {
	newCmd.Flags().StringSliceVarP(&loadPlugins, "load", "l", nil, "plugins to load in addition to the autoloaded ones")
	newCmd.Flags().BoolVarP(&copyObject, "copy", "c", false, "also copy the object and compare the copy")
}

func newObject(w io.Writer, reg *objsys.Registry, name string) (err error) {
	if _, err := reg.Find(name); err != nil {
		return err //nolint:wrapcheck
	}

	obj, err := reg.New(name)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer func() { err = errors.Join(err, obj.Release()) }()

	fmt.Fprintln(w, obj)
	fmt.Fprintf(w, "  %s %s\n", faint("type:"), obj.Inheritance())
	fmt.Fprintf(w, "  %s %s\n", faint("size:"), humanize.Bytes(uint64(obj.Size())))

	if !copyObject {
		return nil
	}

	dup, err := objsys.Copy(obj)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer func() { err = errors.Join(err, dup.Release()) }()

	equal, err := objsys.Compare(obj, dup)
	if err != nil {
		return err //nolint:wrapcheck
	}
	fmt.Fprintf(w, "  %s %s (equal: %t)\n", faint("copy:"), dup, equal)
	return nil
}
