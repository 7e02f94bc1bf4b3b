package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/wattscope/wattscope/pkg/plugin"
	"go.uber.org/zap"
)

// fakePlugin is a minimal plugin for lifecycle tests.
type fakePlugin struct {
	info    plugin.PluginInfo
	initErr error
	started bool
	stopped bool
}

func (f *fakePlugin) Info() plugin.PluginInfo { return f.info }
func (f *fakePlugin) Init(context.Context, plugin.Dependencies) error {
	return f.initErr
}
func (f *fakePlugin) Start(context.Context) error { f.started = true; return nil }
func (f *fakePlugin) Stop(context.Context) error  { f.stopped = true; return nil }

func newFake(name string, deps ...string) *fakePlugin {
	return &fakePlugin{info: plugin.PluginInfo{
		Name:         name,
		Version:      "0.0.1",
		Dependencies: deps,
		APIVersion:   plugin.APIVersionCurrent,
	}}
}

func deps(string) plugin.Dependencies {
	return plugin.Dependencies{Logger: zap.NewNop()}
}

func TestRegister_RejectsDuplicates(t *testing.T) {
	r := New(zap.NewNop())
	if err := r.Register(newFake("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(newFake("a")); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestValidate_OrdersDependenciesFirst(t *testing.T) {
	r := New(zap.NewNop())
	_ = r.Register(newFake("analytics", "simulator"))
	_ = r.Register(newFake("simulator"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("got %d plugins, want 2", len(all))
	}
	if all[0].Info().Name != "simulator" {
		t.Errorf("start order = [%s, %s], want simulator first",
			all[0].Info().Name, all[1].Info().Name)
	}
}

func TestValidate_DisablesOptionalWithMissingDep(t *testing.T) {
	r := New(zap.NewNop())
	_ = r.Register(newFake("orphan", "ghost"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !r.IsDisabled("orphan") {
		t.Error("plugin with missing dependency should be disabled")
	}
}

func TestValidate_FailsRequiredWithMissingDep(t *testing.T) {
	r := New(zap.NewNop())
	p := newFake("core", "ghost")
	p.info.Required = true
	_ = r.Register(p)

	if err := r.Validate(); err == nil {
		t.Fatal("expected error for required plugin with missing dependency")
	}
}

func TestValidate_DetectsCycle(t *testing.T) {
	r := New(zap.NewNop())
	_ = r.Register(newFake("a", "b"))
	_ = r.Register(newFake("b", "a"))

	if err := r.Validate(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestInitAll_DisablesFailedOptional(t *testing.T) {
	r := New(zap.NewNop())
	bad := newFake("bad")
	bad.initErr = errors.New("init failed")
	good := newFake("good")
	_ = r.Register(bad)
	_ = r.Register(good)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := r.InitAll(context.Background(), deps); err != nil {
		t.Fatalf("InitAll: %v", err)
	}
	if !r.IsDisabled("bad") {
		t.Error("failed optional plugin should be disabled")
	}
	if r.IsDisabled("good") {
		t.Error("healthy plugin should remain enabled")
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	r := New(zap.NewNop())
	p := newFake("p")
	_ = r.Register(p)
	_ = r.Validate()
	_ = r.InitAll(context.Background(), deps)

	if err := r.StartAll(context.Background(), nil); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !p.started {
		t.Error("plugin not started")
	}

	r.StopAll(context.Background())
	if !p.stopped {
		t.Error("plugin not stopped")
	}
}

func TestResolveByRole(t *testing.T) {
	r := New(zap.NewNop())
	p := newFake("energy")
	p.info.Roles = []string{"analytics"}
	_ = r.Register(p)
	_ = r.Register(newFake("other"))
	_ = r.Validate()

	got := r.ResolveByRole("analytics")
	if len(got) != 1 || got[0].Info().Name != "energy" {
		t.Fatalf("ResolveByRole = %v, want [energy]", got)
	}
}
