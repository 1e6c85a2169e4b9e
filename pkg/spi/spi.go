// Package spi defines the contract between the runtime and class plugins.
//
// A plugin is a Go package main built with -buildmode=plugin that exports
//
//	func PluginInit(abi objsys.Version) (*spi.Params, error)
//
// The loader calls PluginInit with the runtime's ABI version and registers
// the returned classes.
package spi

import (
	"fmt"

	"github.com/dgnsrekt/speect-go/pkg/objsys"
)

// EntryPoint is the symbol every plugin exports.
const EntryPoint = "PluginInit"

// InitFunc is the type of the EntryPoint symbol.
type InitFunc = func(abi objsys.Version) (*Params, error)

// Params describes a plugin and the classes it contributes.
type Params struct {
	Name        string
	Description string
	Version     objsys.Version

	// ABI is the runtime ABI the plugin was built against. It must be
	// compatible with objsys.ABIVersion.
	ABI objsys.Version

	// Classes are registered in order, as one transaction.
	Classes []*objsys.Class

	// Register runs after Classes are registered. An error rolls back the
	// whole load.
	Register func(reg *objsys.Registry) error

	// Free runs after the plugin's classes are unregistered.
	Free func(reg *objsys.Registry) error

	// AtExit runs last, just before the library is closed.
	AtExit func() error
}

// Validate checks the params returned by a plugin.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("plugin returned no params")
	}
	if p.Name == "" {
		return fmt.Errorf("plugin name is empty")
	}
	seen := make(map[string]bool, len(p.Classes))
	for i, cls := range p.Classes {
		if cls == nil {
			return fmt.Errorf("class %d is nil", i)
		}
		name := cls.ClassName()
		if seen[name] {
			return fmt.Errorf("class '%s' listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// ClassNames returns the names of the plugin's classes, in order.
func (p *Params) ClassNames() []string {
	names := make([]string, 0, len(p.Classes))
	for _, cls := range p.Classes {
		names = append(names, cls.ClassName())
	}
	return names
}
