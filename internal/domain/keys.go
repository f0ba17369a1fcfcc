package domain

import "fmt"

const (
	WorkflowVersionPrefix = "workflow:version:"
	WorkflowActivePrefix  = "workflow:active:"
	RunResultPrefix       = "run:result:"
)

// WorkflowVersionKey builds the key of one immutable published version.
func WorkflowVersionKey(workflowID, hash string) string {
	return fmt.Sprintf("%s%s:%s", WorkflowVersionPrefix, workflowID, hash)
}

// WorkflowVersionsPrefix selects every published version of a workflow.
func WorkflowVersionsPrefix(workflowID string) string {
	return fmt.Sprintf("%s%s:", WorkflowVersionPrefix, workflowID)
}

func WorkflowActiveKey(workflowID string) string {
	return WorkflowActivePrefix + workflowID
}

func RunResultKey(runID string) string {
	return RunResultPrefix + runID
}
