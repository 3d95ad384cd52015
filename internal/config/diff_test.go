package config

import "testing"

func TestDiffRouterChanged(t *testing.T) {
	old := defaults()
	updated := defaults()
	updated.Router.MaxRetries = 9

	d := Diff(&old, &updated)
	if !d.RouterChanged {
		t.Error("expected RouterChanged true")
	}
	if d.NewRouter.MaxRetries != 9 {
		t.Errorf("expected new max_retries 9, got %d", d.NewRouter.MaxRetries)
	}
	if !d.HasChanges() {
		t.Error("expected HasChanges true")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no non-reloadable changes, got %v", d.NonReloadable)
	}
}

func TestDiffNonReloadable(t *testing.T) {
	old := defaults()
	updated := defaults()
	updated.Workspace = "/elsewhere"
	updated.Web.ListenAddr = ":9999"
	updated.EventBus.Port = 5555
	updated.EventBus.DataDir = "other/dir"

	d := Diff(&old, &updated)
	if d.RouterChanged {
		t.Error("expected RouterChanged false")
	}
	if d.HasChanges() {
		t.Error("expected HasChanges false, non-reloadable changes don't count")
	}

	want := map[string]bool{
		"workspace":          true,
		"web.listen_addr":    true,
		"event_bus.port":     true,
		"event_bus.data_dir": true,
	}
	if len(d.NonReloadable) != len(want) {
		t.Fatalf("expected %d non-reloadable entries, got %v", len(want), d.NonReloadable)
	}
	for _, field := range d.NonReloadable {
		if !want[field] {
			t.Errorf("unexpected non-reloadable field %q", field)
		}
	}
}

func TestDiffNoChanges(t *testing.T) {
	old := defaults()
	updated := defaults()

	d := Diff(&old, &updated)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no non-reloadable changes, got %v", d.NonReloadable)
	}
}
