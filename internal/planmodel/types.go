// Package planmodel defines the typed plan and pipeline shapes that flow
// between the planners, the validator, and the executor.
package planmodel

// TaskType discriminates the payload shape carried by an AgentTask.
type TaskType string

const (
	TaskTool             TaskType = "TOOL"
	TaskLLM              TaskType = "LLM"
	TaskPipelineDAG      TaskType = "PIPELINE_DAG"
	TaskStepwisePipeline TaskType = "STEPWISE_PIPELINE"
)

// AgentRequirement is one extracted requirement from the user's text.
type AgentRequirement struct {
	Summary     string   `json:"summary"`
	Quantity    *int     `json:"quantity,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// AgentTask is one unit of work inside an AgentPlan.
type AgentTask struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	TaskType     TaskType       `json:"task_type"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	Service      string         `json:"service,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Instruction  string         `json:"instruction,omitempty"`
	OutputSchema map[string]any `json:"output_schema"`
}

// AgentPlan is the declarative outcome of planning.
type AgentPlan struct {
	UserText       string             `json:"user_text"`
	Requirements   []AgentRequirement `json:"requirements"`
	TargetServices []string           `json:"target_services"`
	SelectedTools  []string           `json:"selected_tools"`
	WorkflowSteps  []string           `json:"workflow_steps"`
	Tasks          []AgentTask        `json:"tasks"`
	Notes          []string           `json:"notes,omitempty"`
	PlanSource     string             `json:"plan_source,omitempty"`
}

// AddNote appends a note, used throughout planning and orchestration to
// leave a breadcrumb trail for observability without growing a new field
// per concern.
func (p *AgentPlan) AddNote(note string) {
	p.Notes = append(p.Notes, note)
}

// NodeType discriminates a PipelineDAG node's behavior.
type NodeType string

const (
	NodeSkill        NodeType = "skill"
	NodeLLMTransform NodeType = "llm_transform"
	NodeForEach      NodeType = "for_each"
	NodeVerify       NodeType = "verify"
)

// PipelineLimits bounds a DAG's size and runtime, enforced before execution.
type PipelineLimits struct {
	MaxNodes           int `json:"max_nodes"`
	MaxFanout          int `json:"max_fanout"`
	MaxToolCalls       int `json:"max_tool_calls"`
	PipelineTimeoutSec int `json:"pipeline_timeout_sec"`
}

// DefaultLimits returns the maximum-allowed pipeline limits; callers may
// narrow them but a PipelineDAG may never widen past these.
func DefaultLimits() PipelineLimits {
	return PipelineLimits{MaxNodes: 6, MaxFanout: 50, MaxToolCalls: 200, PipelineTimeoutSec: 300}
}

// PipelineNode is one node of a PipelineDAG.
type PipelineNode struct {
	ID            string         `json:"id"`
	Type          NodeType       `json:"type"`
	Name          string         `json:"name"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	TimeoutSec    int            `json:"timeout_sec,omitempty"`
	SourceRef     string         `json:"source_ref,omitempty"`
	ItemNodeIDs   []string       `json:"item_node_ids,omitempty"`
	Rules         []string       `json:"rules,omitempty"`
	OutputSchema  map[string]any `json:"output_schema,omitempty"`
}

// PipelineDAG is the payload of a PIPELINE_DAG task.
type PipelineDAG struct {
	PipelineID string         `json:"pipeline_id"`
	Version    string         `json:"version"`
	Limits     PipelineLimits `json:"limits"`
	Nodes      []PipelineNode `json:"nodes"`
}

// StepwiseTask is one entry in a STEPWISE_PIPELINE task payload.
type StepwiseTask struct {
	TaskID   string `json:"task_id"`
	Sentence string `json:"sentence"`
	Service  string `json:"service"`
	ToolName string `json:"tool_name"`
}

// StepwiseContext carries the runtime catalog reference for a stepwise run.
type StepwiseContext struct {
	Enabled   bool   `json:"enabled"`
	CatalogID string `json:"catalog_id"`
}

// StepwisePayload is the payload of a STEPWISE_PIPELINE task.
type StepwisePayload struct {
	Tasks []StepwiseTask  `json:"tasks"`
	Ctx   StepwiseContext `json:"ctx"`
}
