package config

import "reflect"

// ConfigDiff describes what changed between two configs on SIGHUP
// reload. Router knobs are reloadable in place; workspace, the web
// bind address, and the event bus port/data dir are not (the
// listeners and storage root are already open) and are reported via
// NonReloadable instead.
type ConfigDiff struct {
	RouterChanged bool
	NewRouter     RouterConfig

	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.RouterChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if !reflect.DeepEqual(old.Router, new.Router) {
		d.RouterChanged = true
		d.NewRouter = new.Router
	}

	if old.Workspace != new.Workspace {
		d.NonReloadable = append(d.NonReloadable, "workspace")
	}
	if old.Web.ListenAddr != new.Web.ListenAddr {
		d.NonReloadable = append(d.NonReloadable, "web.listen_addr")
	}
	if old.EventBus.Port != new.EventBus.Port {
		d.NonReloadable = append(d.NonReloadable, "event_bus.port")
	}
	if old.EventBus.DataDir != new.EventBus.DataDir {
		d.NonReloadable = append(d.NonReloadable, "event_bus.data_dir")
	}

	return d
}
