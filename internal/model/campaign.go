package model

// ExecutionSchema selects batch vs. remote planning mode.
type ExecutionSchema string

const (
	SchemaBatch  ExecutionSchema = "batch"
	SchemaRemote ExecutionSchema = "remote"
)

// Campaign is a deadline-bounded, DAG-structured collection of workflows.
type Campaign struct {
	ID                int
	Workflows         []Workflow
	DeadlineMinutes   float64
	TargetResourceName string
	ExecutionSchema   ExecutionSchema
	RequestedCores    int // batch mode only
	Policy            string
}
