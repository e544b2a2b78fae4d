package jobs

// Phase is the observed state of a named job. Transitions are driven
// exclusively by the controller: Unsubmitted -> Created on submit, then
// Running -> Succeeded | Failed as polling observes replica counts. A name
// conflict forces Deleting -> Unsubmitted -> Created under
// SubmitWithRecovery. Succeeded and Failed are terminal; a Failed job is
// never auto-retried here; retry policy belongs to the orchestrator.
type Phase string

const (
	PhaseUnsubmitted Phase = "Unsubmitted"
	PhaseCreated     Phase = "Created"
	PhaseConflict    Phase = "Conflict"
	PhaseRunning     Phase = "Running"
	PhaseSucceeded   Phase = "Succeeded"
	PhaseFailed      Phase = "Failed"
	PhaseDeleting    Phase = "Deleting"
)

// Terminal reports whether the phase is one the job never leaves.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Status is a point-in-time replica count snapshot for a job.
type Status struct {
	Name      string `json:"name"`
	Active    int32  `json:"active"`
	Succeeded int32  `json:"succeeded"`
	Failed    int32  `json:"failed"`
}

// Phase derives the observed phase from the replica counts. A job is
// terminal only once the scheduler reports no active replicas remain.
func (s Status) Phase() Phase {
	switch {
	case s.Active > 0:
		return PhaseRunning
	case s.Failed > 0:
		return PhaseFailed
	case s.Succeeded > 0:
		return PhaseSucceeded
	default:
		return PhaseCreated
	}
}
