package pluginmanager

import (
	"errors"
	"plugin"
	"sync/atomic"
)

// errLibraryClosed is returned by Lookup on a closed library.
var errLibraryClosed = errors.New("library is closed")

// Library is an opened shared library.
type Library interface {
	// Lookup returns the exported symbol with the given name.
	Lookup(symbol string) (any, error)

	// Close releases the library. Symbols must not be used afterwards.
	Close() error
}

// Opener opens shared libraries.
type Opener interface {
	Open(path string) (Library, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Library, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Library, error) {
	return f(path)
}

// GoPluginOpener opens libraries built with -buildmode=plugin.
type GoPluginOpener struct{}

// Open implements Opener.
func (GoPluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &goLibrary{p: p}, nil
}

// goLibrary wraps a Go plugin. The Go runtime cannot unmap a plugin once
// opened, so Close only invalidates the handle.
type goLibrary struct {
	p      *plugin.Plugin
	closed atomic.Bool
}

func (l *goLibrary) Lookup(symbol string) (any, error) {
	if l.closed.Load() {
		return nil, errLibraryClosed
	}
	return l.p.Lookup(symbol)
}

func (l *goLibrary) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return errLibraryClosed
	}
	return nil
}
