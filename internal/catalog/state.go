package catalog

// CoordinatorState is the lifecycle state of a resharding operation.
type CoordinatorState string

const (
	// CoordinatorInitializing means the operation exists only in memory.
	CoordinatorInitializing CoordinatorState = "initializing"
	// CoordinatorInitialized means the coordinator document and the
	// temporary namespace scaffolding are durable.
	CoordinatorInitialized CoordinatorState = "initialized"
	// CoordinatorPreparingToDonate means donors were told to track changes.
	CoordinatorPreparingToDonate CoordinatorState = "preparing-to-donate"
	// CoordinatorCloning means the fetch timestamp is fixed and bulk copy runs.
	CoordinatorCloning CoordinatorState = "cloning"
	// CoordinatorMirroring means donors stream incremental changes.
	CoordinatorMirroring CoordinatorState = "mirroring"
	// CoordinatorCommitted means the metadata cut-over happened.
	CoordinatorCommitted CoordinatorState = "committed"
	// CoordinatorDropping means the old incarnation is being removed.
	CoordinatorDropping CoordinatorState = "dropping"
	// CoordinatorDone is terminal success.
	CoordinatorDone CoordinatorState = "done"
	// CoordinatorError is terminal; recovery needs an operator or driver.
	CoordinatorError CoordinatorState = "error"
)

// coordinatorOrder lists the forward states in order. Error is a side state.
var coordinatorOrder = []CoordinatorState{
	CoordinatorInitializing,
	CoordinatorInitialized,
	CoordinatorPreparingToDonate,
	CoordinatorCloning,
	CoordinatorMirroring,
	CoordinatorCommitted,
	CoordinatorDropping,
	CoordinatorDone,
}

// Rank returns the position of s in the forward order, or -1 for Error and
// unknown states.
func (s CoordinatorState) Rank() int {
	for i, st := range coordinatorOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known state.
func (s CoordinatorState) Valid() bool {
	return s == CoordinatorError || s.Rank() >= 0
}

// Next returns the forward successor of s.
func (s CoordinatorState) Next() (CoordinatorState, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(coordinatorOrder) {
		return "", false
	}
	return coordinatorOrder[r+1], true
}

// AtLeast reports whether s is o or a later forward state. Error is never
// at least anything.
func (s CoordinatorState) AtLeast(o CoordinatorState) bool {
	r, or := s.Rank(), o.Rank()
	return r >= 0 && or >= 0 && r >= or
}

// IsTerminal reports whether no further automatic transition happens.
func (s CoordinatorState) IsTerminal() bool {
	return s == CoordinatorDone || s == CoordinatorError
}

// RequiresFetchTimestamp reports whether a document in state s must carry a
// fetch timestamp.
func (s CoordinatorState) RequiresFetchTimestamp() bool {
	return s.AtLeast(CoordinatorCloning)
}

// ForbidsFetchTimestamp reports whether a document in state s must not carry
// a fetch timestamp yet.
func (s CoordinatorState) ForbidsFetchTimestamp() bool {
	return s.Rank() >= 0 && !s.AtLeast(CoordinatorCloning)
}

// DonorState is the progress of one donor shard.
type DonorState string

const (
	DonorUnused            DonorState = "unused"
	DonorPreparingToDonate DonorState = "preparing-to-donate"
	DonorDonating          DonorState = "donating"
	DonorMirroring         DonorState = "mirroring"
	DonorDropping          DonorState = "dropping"
	DonorDone              DonorState = "done"
	DonorError             DonorState = "error"
)

// Valid reports whether s is a known donor state.
func (s DonorState) Valid() bool {
	switch s {
	case DonorUnused, DonorPreparingToDonate, DonorDonating, DonorMirroring,
		DonorDropping, DonorDone, DonorError:
		return true
	}
	return false
}

// RecipientState is the progress of one recipient shard.
type RecipientState string

const (
	RecipientUnused             RecipientState = "unused"
	RecipientCreatingCollection RecipientState = "creating-collection"
	RecipientCloning            RecipientState = "cloning"
	RecipientApplying           RecipientState = "applying"
	RecipientSteadyState        RecipientState = "steady-state"
	RecipientStrictConsistency  RecipientState = "strict-consistency"
	RecipientDone               RecipientState = "done"
	RecipientError              RecipientState = "error"
)

// Valid reports whether s is a known recipient state.
func (s RecipientState) Valid() bool {
	switch s {
	case RecipientUnused, RecipientCreatingCollection, RecipientCloning,
		RecipientApplying, RecipientSteadyState, RecipientStrictConsistency,
		RecipientDone, RecipientError:
		return true
	}
	return false
}
