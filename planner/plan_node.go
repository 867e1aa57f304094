package planner

// PlanNode represents the static structure of a query plan.
// It is immutable and contains the plan tree structure.
type PlanNode interface {
	// Children returns the child plan nodes.
	Children() []PlanNode

	// String returns a string representation of the plan node.
	String() string
}
