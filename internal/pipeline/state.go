package pipeline

// State is the coordinator's position in the build.
type State int

const (
	Idle State = iota
	EnvironmentReady
	Prebuilt
	Built
	Patched
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case EnvironmentReady:
		return "EnvironmentReady"
	case Prebuilt:
		return "Prebuilt"
	case Built:
		return "Built"
	case Patched:
		return "Patched"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Stage names one step of the pipeline.
type Stage string

const (
	StageEnvironment Stage = "Environment"
	StagePreBuild    Stage = "PreBuild"
	StageBuild       Stage = "Build"
	StagePatch       Stage = "Patch"
	StagePublish     Stage = "Publish"
)

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{StageEnvironment, StagePreBuild, StageBuild, StagePatch, StagePublish}
}

// Description returns the human-readable step name shown in progress output.
func (s Stage) Description() string {
	switch s {
	case StageEnvironment:
		return "Preparing build environment"
	case StagePreBuild:
		return "Generating UPD data and reset vector"
	case StageBuild:
		return "Building firmware volumes"
	case StagePatch:
		return "Patching FSP components"
	case StagePublish:
		return "Verifying and publishing artifacts"
	}
	return string(s)
}

// reached returns the state the coordinator enters when s succeeds.
func (s Stage) reached() State {
	switch s {
	case StageEnvironment:
		return EnvironmentReady
	case StagePreBuild:
		return Prebuilt
	case StageBuild:
		return Built
	case StagePatch:
		return Patched
	case StagePublish:
		return Done
	}
	return Failed
}
