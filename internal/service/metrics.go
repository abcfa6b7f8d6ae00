package service

import (
	"sync"
	"time"

	"github.com/flowforge/conductor/internal/core"
)

// MetricsCollector accumulates per-run counters for tasks, agents, and
// guardian interventions, the data a report summarizes.
type MetricsCollector struct {
	workflow      WorkflowMetrics
	tasks         map[core.TaskID]*TaskMetrics
	agents        map[core.AgentID]*AgentMetrics
	interventions []InterventionMetrics
	mu            sync.RWMutex
}

// WorkflowMetrics holds run-level counters.
type WorkflowMetrics struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	TotalDuration  time.Duration `json:"total_duration"`
	TasksTotal     int           `json:"tasks_total"`
	TasksCompleted int           `json:"tasks_completed"`
	TasksFailed    int           `json:"tasks_failed"`
	TasksCancelled int           `json:"tasks_cancelled"`
	TasksTimedOut  int           `json:"tasks_timed_out"`
	RetriesTotal   int           `json:"retries_total"`
	Interventions  int           `json:"interventions_total"`
}

// TaskMetrics holds per-task timing and outcome.
type TaskMetrics struct {
	TaskID    core.TaskID  `json:"task_id"`
	Name      string       `json:"name"`
	Phase     core.Phase   `json:"phase"`
	Agent     core.AgentID `json:"agent"`
	StartTime time.Time    `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Retries   int          `json:"retries"`
	Success   bool         `json:"success"`
	ErrorMsg  string       `json:"error,omitempty"`
}

// AgentMetrics holds per-agent throughput and error counts.
type AgentMetrics struct {
	ID            core.AgentID  `json:"id"`
	Invocations   int           `json:"invocations"`
	Errors        int           `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// InterventionMetrics is the report-friendly projection of a guardian
// intervention.
type InterventionMetrics struct {
	TicketID   core.TicketID `json:"ticket_id"`
	Kind       string        `json:"kind"`
	Reason     string        `json:"reason"`
	Confidence float64       `json:"confidence"`
	IssuedAt   time.Time     `json:"issued_at"`
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		tasks:  make(map[core.TaskID]*TaskMetrics),
		agents: make(map[core.AgentID]*AgentMetrics),
	}
}

// StartRun marks the run's start time.
func (m *MetricsCollector) StartRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflow.StartTime = time.Now()
}

// EndRun marks the run's end time and totals its duration.
func (m *MetricsCollector) EndRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflow.EndTime = time.Now()
	m.workflow.TotalDuration = m.workflow.EndTime.Sub(m.workflow.StartTime)
}

// RecordTaskCreated counts a task entering the run.
func (m *MetricsCollector) RecordTaskCreated(task *core.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = &TaskMetrics{
		TaskID: task.ID,
		Name:   task.Name,
		Phase:  task.Phase,
	}
	m.workflow.TasksTotal++
}

// RecordTaskStarted notes when a task began executing on an agent.
func (m *MetricsCollector) RecordTaskStarted(taskID core.TaskID, agent core.AgentID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.tasks[taskID]
	if !ok {
		return
	}
	tm.Agent = agent
	tm.StartTime = at
}

// RecordTaskCompleted records a successful completion and its duration.
func (m *MetricsCollector) RecordTaskCompleted(taskID core.TaskID, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.tasks[taskID]
	if !ok {
		return
	}
	tm.Duration = duration
	tm.Success = true
	m.workflow.TasksCompleted++
	m.updateAgentMetrics(tm.Agent, duration, false)
}

// RecordTaskFailed records a failed task and its error.
func (m *MetricsCollector) RecordTaskFailed(taskID core.TaskID, taskErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.tasks[taskID]
	if !ok {
		return
	}
	tm.Success = false
	if taskErr != nil {
		tm.ErrorMsg = taskErr.Error()
	}
	m.workflow.TasksFailed++
	m.updateAgentMetrics(tm.Agent, tm.Duration, true)
}

// RecordTaskCancelled counts a cancelled task.
func (m *MetricsCollector) RecordTaskCancelled(_ core.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflow.TasksCancelled++
}

// RecordTaskTimedOut counts a timed-out task.
func (m *MetricsCollector) RecordTaskTimedOut(_ core.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflow.TasksTimedOut++
}

// RecordRetry records a task retry attempt.
func (m *MetricsCollector) RecordRetry(taskID core.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tm, ok := m.tasks[taskID]; ok {
		tm.Retries++
	}
	m.workflow.RetriesTotal++
}

// RecordRetries sets a task's observed retry count directly, for a
// collector rebuilt from persisted task state rather than replayed events.
func (m *MetricsCollector) RecordRetries(taskID core.TaskID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tm, ok := m.tasks[taskID]; ok {
		tm.Retries = n
	}
	m.workflow.RetriesTotal += n
}

// RecordIntervention records a guardian intervention.
func (m *MetricsCollector) RecordIntervention(iv *core.GuardianIntervention) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interventions = append(m.interventions, InterventionMetrics{
		TicketID:   iv.TicketID,
		Kind:       string(iv.Kind),
		Reason:     iv.Reason,
		Confidence: iv.Confidence,
		IssuedAt:   iv.IssuedAt,
	})
	m.workflow.Interventions++
}

func (m *MetricsCollector) updateAgentMetrics(agent core.AgentID, duration time.Duration, isError bool) {
	if agent == "" {
		return
	}
	am, ok := m.agents[agent]
	if !ok {
		am = &AgentMetrics{ID: agent}
		m.agents[agent] = am
	}
	am.Invocations++
	am.TotalDuration += duration
	am.AvgDuration = am.TotalDuration / time.Duration(am.Invocations)
	if isError {
		am.Errors++
	}
}

// GetWorkflowMetrics returns the run-level counters.
func (m *MetricsCollector) GetWorkflowMetrics() WorkflowMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workflow
}

// GetAllTaskMetrics returns a snapshot of every tracked task.
func (m *MetricsCollector) GetAllTaskMetrics() []*TaskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*TaskMetrics, 0, len(m.tasks))
	for _, tm := range m.tasks {
		c := *tm
		result = append(result, &c)
	}
	return result
}

// GetAgentMetrics returns a snapshot of every tracked agent.
func (m *MetricsCollector) GetAgentMetrics() map[core.AgentID]*AgentMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[core.AgentID]*AgentMetrics, len(m.agents))
	for k, v := range m.agents {
		c := *v
		result[k] = &c
	}
	return result
}

// GetInterventionMetrics returns every recorded intervention.
func (m *MetricsCollector) GetInterventionMetrics() []InterventionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]InterventionMetrics{}, m.interventions...)
}
