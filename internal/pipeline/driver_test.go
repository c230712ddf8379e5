package pipeline

import (
	"errors"
	"testing"

	"github.com/quanganh2627/platform-bootable-iago/internal/bootprop"
)

type recordingPlugin struct {
	name  string
	calls *[]string
	fail  Phase
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) Prepare(s Stores) error {
	*p.calls = append(*p.calls, p.name+":prepare")
	if p.fail == PhasePrepare {
		return errors.New("boom")
	}
	s.Options.Put(p.name+":prepared", "1")
	return nil
}

func (p *recordingPlugin) CLISession(s Stores) error {
	*p.calls = append(*p.calls, p.name+":cli")
	if p.fail == PhaseCLISession {
		return errors.New("boom")
	}
	return nil
}

func (p *recordingPlugin) Execute(s Stores) error {
	*p.calls = append(*p.calls, p.name+":execute")
	if p.fail == PhaseExecute {
		return errors.New("boom")
	}
	return nil
}

func Test_Driver_RunsPhasesInRegistrationOrder(t *testing.T) {
	var calls []string
	props := bootprop.NewMemorySource(nil)
	d := NewDriver(props)
	d.Interactive = true
	d.Register(&recordingPlugin{name: "a", calls: &calls, fail: -1})
	d.Register(&recordingPlugin{name: "b", calls: &calls, fail: -1})

	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"a:prepare", "b:prepare", "a:cli", "b:cli", "a:execute", "b:execute"}
	if len(calls) != len(want) {
		t.Fatalf("got %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: got %q, want %q", i, calls[i], want[i])
		}
	}

	if v, ok := d.Stores.Options.Get("a:prepared"); !ok || v != "1" {
		t.Fatalf("expected prepare to have written to the option store")
	}
	if props.Get(propState, "") != StateComplete {
		t.Fatalf("expected final state %q, got %q", StateComplete, props.Get(propState, ""))
	}
}

func Test_Driver_SkipsCLIWhenNotInteractive(t *testing.T) {
	var calls []string
	d := NewDriver(bootprop.NewMemorySource(nil))
	d.Register(&recordingPlugin{name: "a", calls: &calls, fail: -1})

	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range calls {
		if c == "a:cli" {
			t.Fatal("cli_session should not run when Interactive is false")
		}
	}
}

func Test_Driver_FatalAbortsAndPublishesError(t *testing.T) {
	var calls []string
	props := bootprop.NewMemorySource(nil)
	d := NewDriver(props)
	d.Register(&recordingPlugin{name: "a", calls: &calls, fail: PhaseExecute})
	d.Register(&recordingPlugin{name: "b", calls: &calls, fail: -1})

	err := d.Run()
	if err == nil {
		t.Fatal("expected a fatal error")
	}
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FatalError, got %T: %v", err, err)
	}
	if fe.Plugin != "a" || fe.Phase != PhaseExecute {
		t.Fatalf("unexpected FatalError attribution: %+v", fe)
	}
	for _, c := range calls {
		if c == "b:execute" {
			t.Fatal("plugin b should never have executed after a's fatal error")
		}
	}
	if props.Get(propError, "") == "" {
		t.Fatal("expected iago.error to be published")
	}
}

func Test_Driver_ProgressIsMonotonicAndBounded(t *testing.T) {
	var calls []string
	props := bootprop.NewMemorySource(nil)
	d := NewDriver(props)
	for _, name := range []string{"a", "b", "c", "d"} {
		d.Register(&recordingPlugin{name: name, calls: &calls, fail: -1})
	}
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := props.Get(propProgress, ""); got != "100" {
		t.Fatalf("expected final progress 100, got %q", got)
	}
}
