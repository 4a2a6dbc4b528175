package tensor

// TaskPhase mirrors the host scheduler phase passed into ComputeForward.
// Dispatchers short-circuit on any phase other than PhaseCompute,
// returning success without executing.
type TaskPhase int

const (
	PhaseInit TaskPhase = iota
	PhaseCompute
	PhaseFinalize
)

// ComputeParams is the host-supplied execution context for one dispatcher
// invocation.
type ComputeParams struct {
	Phase      TaskPhase
	WorkerIdx  int
	NumWorkers int
}
