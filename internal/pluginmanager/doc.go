// Package pluginmanager loads class plugins into an object registry. Each
// load registers the plugin's classes as one transaction and each unload
// removes them as one, so a failed load or unload leaves the registry as it
// was. A Watcher can follow a plugin directory and load or unload plugins as
// files appear and disappear.
package pluginmanager
