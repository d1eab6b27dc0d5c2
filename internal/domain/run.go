package domain

import "time"

// RunOutcome is the final state of one swarm attempt.
type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunFailed    RunOutcome = "failed"
	RunAborted   RunOutcome = "aborted" // no agents could be created, or the run was cancelled
)

// TaskStatus is the result of one agent's task within a run.
type TaskStatus string

const (
	TaskOK      TaskStatus = "ok"
	TaskError   TaskStatus = "error"
	TaskTimeout TaskStatus = "timeout"
)

// TaskResult records what one agent did during a run.
type TaskResult struct {
	Agent    string        `json:"agent"`
	Status   TaskStatus    `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the task completed successfully.
func (t TaskResult) OK() bool { return t.Status == TaskOK }

// Run is the record of one swarm attempt.
type Run struct {
	ID         string       `json:"id"`
	Model      string       `json:"model"`
	Attempt    int          `json:"attempt"` // 1-based swarm attempt within one launch
	Outcome    RunOutcome   `json:"outcome"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Tasks      []TaskResult `json:"tasks,omitempty"`
	Transcript []Message    `json:"transcript,omitempty"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed returns the tasks that did not complete successfully.
func (r Run) Failed() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if !t.OK() {
			out = append(out, t)
		}
	}
	return out
}

// Agents returns the agent names that took part, in task order.
func (r Run) Agents() []string {
	names := make([]string, len(r.Tasks))
	for i, t := range r.Tasks {
		names[i] = t.Agent
	}
	return names
}
