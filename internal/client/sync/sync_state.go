package sync

// CycleState is the position of the orchestrator in its cycle.
type CycleState string

const (
	StateIdle      CycleState = "idle"
	StatePulling   CycleState = "pulling"
	StateDetecting CycleState = "detecting"
	StateResolving CycleState = "resolving"
	StateApplying  CycleState = "applying"
)
