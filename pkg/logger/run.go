package logger

import "github.com/google/uuid"

// ForRun returns a logger tagged with the stage name and a fresh run id.
func ForRun(l Interface, stage string) Interface {
	return l.With("stage", stage, "run_id", uuid.NewString())
}
