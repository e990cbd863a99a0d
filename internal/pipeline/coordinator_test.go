package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/patch"
	"github.com/muurk/fspbuild/internal/symtab"
)

// fakeStages implements every collaborator and records the calls made.
type fakeStages struct {
	calls []string
	fail  map[string]error

	img       *patch.Image
	bases     map[string]uint32
	saved     *patch.Image
	published bool
	verified  *patch.Image
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		fail:  make(map[string]error),
		img:   patch.NewImage(make([]byte, 0x100), 0),
		bases: map[string]uint32{"FSP-T": 0xFFF00000},
	}
}

func (f *fakeStages) call(name string) error {
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeStages) Prepare(ctx context.Context) error  { return f.call("Prepare") }
func (f *fakeStages) PreBuild(ctx context.Context) error { return f.call("PreBuild") }
func (f *fakeStages) Build(ctx context.Context) error    { return f.call("Build") }

func (f *fakeStages) Image(ctx context.Context) (*patch.Image, error) {
	if err := f.call("Image"); err != nil {
		return nil, err
	}
	return f.img, nil
}

func (f *fakeStages) Bases(ctx context.Context) (map[string]uint32, error) {
	return f.bases, f.call("Bases")
}

func (f *fakeStages) Tables(ctx context.Context, component string) (*symtab.Table, error) {
	if err := f.call("Tables:" + component); err != nil {
		return nil, err
	}
	t := symtab.New()
	t.Freeze()
	return t, nil
}

func (f *fakeStages) Save(ctx context.Context, img *patch.Image) error {
	if err := f.call("Save"); err != nil {
		return err
	}
	f.saved = img
	return nil
}

func (f *fakeStages) Verify(ctx context.Context, img *patch.Image) error {
	f.verified = img
	return f.call("Verify")
}

func (f *fakeStages) Publish(ctx context.Context) error {
	if err := f.call("Publish"); err != nil {
		return err
	}
	f.published = true
	return nil
}

func (f *fakeStages) collaborators() Collaborators {
	return Collaborators{Environment: f, Builder: f, Artifacts: f, Verifier: f, Publisher: f}
}

func mustPlan(t *testing.T, name string, lines ...string) *patch.Plan {
	t.Helper()
	p, err := patch.ParsePlan(name, lines)
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}
	return p
}

func TestCoordinatorSuccess(t *testing.T) {
	f := newFakeStages()
	plans := []*patch.Plan{
		mustPlan(t, "FSP-T", "0x0010, 0x12345678, @value", "0x0014, _BASE_FSP-T_, @base"),
	}
	c := NewCoordinator(f.collaborators(), plans, zap.NewNop())

	var events []StageEvent
	c.Observe(func(ev StageEvent) { events = append(events, ev) })

	if c.State() != Idle {
		t.Fatalf("initial state = %s, want Idle", c.State())
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.State() != Done {
		t.Errorf("state = %s, want Done", c.State())
	}

	want := []string{"Prepare", "PreBuild", "Build", "Image", "Bases", "Tables:FSP-T", "Save", "Verify", "Publish"}
	if !reflect.DeepEqual(f.calls, want) {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
	if f.saved != f.img || f.verified != f.img {
		t.Error("patched image should be saved and verified")
	}
	if !f.published {
		t.Error("artifacts should be published")
	}

	v, _ := f.img.Read(0x10, 4)
	if v != 0x12345678 {
		t.Errorf("image[0x10] = 0x%08X, want 0x12345678", v)
	}
	v, _ = f.img.Read(0x14, 4)
	if v != 0xFFF00000 {
		t.Errorf("image[0x14] = 0x%08X, want 0xFFF00000", v)
	}
	if got := c.Patched()["FSP-T"]; got != 8 {
		t.Errorf("Patched[FSP-T] = %d, want 8", got)
	}

	if len(events) != 2*len(Stages()) {
		t.Fatalf("got %d events, want %d", len(events), 2*len(Stages()))
	}
	for i, stage := range Stages() {
		start, end := events[2*i], events[2*i+1]
		if start.Stage != stage || start.Status != StageStarted || start.Index != i+1 {
			t.Errorf("event %d = %+v, want start of %s", 2*i, start, stage)
		}
		if end.Stage != stage || end.Status != StageFinished || end.Total != len(Stages()) {
			t.Errorf("event %d = %+v, want finish of %s", 2*i+1, end, stage)
		}
	}
}

func TestCoordinatorStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("build exploded")

	tests := []struct {
		name      string
		failCall  string
		wantStage Stage
		wantCalls []string
	}{
		{
			name:      "environment",
			failCall:  "Prepare",
			wantStage: StageEnvironment,
			wantCalls: []string{"Prepare"},
		},
		{
			name:      "prebuild",
			failCall:  "PreBuild",
			wantStage: StagePreBuild,
			wantCalls: []string{"Prepare", "PreBuild"},
		},
		{
			name:      "build",
			failCall:  "Build",
			wantStage: StageBuild,
			wantCalls: []string{"Prepare", "PreBuild", "Build"},
		},
		{
			name:      "tables",
			failCall:  "Tables:FSP-T",
			wantStage: StagePatch,
			wantCalls: []string{"Prepare", "PreBuild", "Build", "Image", "Bases", "Tables:FSP-T"},
		},
		{
			name:      "save",
			failCall:  "Save",
			wantStage: StagePatch,
			wantCalls: []string{"Prepare", "PreBuild", "Build", "Image", "Bases", "Tables:FSP-T", "Save"},
		},
		{
			name:      "verify",
			failCall:  "Verify",
			wantStage: StagePublish,
			wantCalls: []string{"Prepare", "PreBuild", "Build", "Image", "Bases", "Tables:FSP-T", "Save", "Verify"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStages()
			f.fail[tt.failCall] = boom
			c := NewCoordinator(f.collaborators(), []*patch.Plan{mustPlan(t, "FSP-T", "0x0000, 1, @x")}, nil)

			var last StageEvent
			c.Observe(func(ev StageEvent) { last = ev })

			err := c.Run(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StageError, got %T", err)
			}
			if se.Stage != tt.wantStage {
				t.Errorf("failed stage = %s, want %s", se.Stage, tt.wantStage)
			}
			if !errors.Is(err, boom) {
				t.Errorf("error should wrap the collaborator error: %v", err)
			}
			if c.State() != Failed {
				t.Errorf("state = %s, want Failed", c.State())
			}
			if stage, ok := c.FailedStage(); !ok || stage != tt.wantStage {
				t.Errorf("FailedStage = %s, %v", stage, ok)
			}
			if f.published {
				t.Error("nothing may be published after a failure")
			}
			if !reflect.DeepEqual(f.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", f.calls, tt.wantCalls)
			}
			if last.Status != StageFailed || last.Stage != tt.wantStage || last.Err == nil {
				t.Errorf("last event = %+v, want failure of %s", last, tt.wantStage)
			}
		})
	}
}

func TestCoordinatorPatchFailure(t *testing.T) {
	f := newFakeStages()
	plans := []*patch.Plan{
		mustPlan(t, "FSP-T", "0x0010, 0xAABBCCDD, @ok"),
		mustPlan(t, "FSP-M", "0x0020, 0x11223344, @ok", "0x1000, 0, @out of range"),
	}
	c := NewCoordinator(f.collaborators(), plans, zap.NewNop())

	err := c.Run(context.Background())
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StagePatch {
		t.Fatalf("expected patch stage failure, got %v", err)
	}
	var pe *patch.PatchError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *patch.PatchError in chain, got %v", err)
	}
	if pe.Plan != "FSP-M" || pe.Index != 1 {
		t.Errorf("PatchError = %+v, want FSP-M op 1", pe)
	}
	var oor *patch.OutOfRangeError
	if !errors.As(err, &oor) {
		t.Errorf("expected *patch.OutOfRangeError in chain, got %v", err)
	}

	if !f.img.Aborted() {
		t.Error("image should be marked aborted")
	}
	if v, _ := f.img.Read(0x20, 4); v != 0 {
		t.Errorf("failed plan's write should be rolled back, image[0x20] = 0x%08X", v)
	}
	for _, call := range f.calls {
		if call == "Save" || call == "Publish" {
			t.Errorf("%s must not run after a patch failure", call)
		}
	}
}

func TestCoordinatorWithoutVerifier(t *testing.T) {
	f := newFakeStages()
	collab := f.collaborators()
	collab.Verifier = nil
	c := NewCoordinator(collab, nil, nil)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.verified != nil {
		t.Error("Verify should not be called without a verifier")
	}
	if !f.published {
		t.Error("artifacts should be published")
	}
}

func TestCoordinatorRunTwice(t *testing.T) {
	f := newFakeStages()
	c := NewCoordinator(f.collaborators(), nil, nil)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := c.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestCoordinatorCancelled(t *testing.T) {
	f := newFakeStages()
	c := NewCoordinator(f.collaborators(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("no collaborator should run, got %v", f.calls)
	}
	if stage, _ := c.FailedStage(); stage != StageEnvironment {
		t.Errorf("FailedStage = %s, want Environment", stage)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "Idle"},
		{EnvironmentReady, "EnvironmentReady"},
		{Prebuilt, "Prebuilt"},
		{Built, "Built"},
		{Patched, "Patched"},
		{Done, "Done"},
		{Failed, "Failed"},
		{State(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: StageBuild, Err: &ToolError{Tool: "build", Args: []string{"-b", "DEBUG"}, ExitCode: 2, Stderr: "line1\nfatal\n"}}
	want := "Build stage failed: build -b DEBUG failed (exit code 2)\nstderr: line1\nfatal"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
