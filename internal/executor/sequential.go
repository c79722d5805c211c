package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/relaycore/orchestrator/internal/planmodel"
	"github.com/relaycore/orchestrator/internal/slots"
)

// Summarizer is the LLM capability consumed by classical LLM tasks.
type Summarizer interface {
	Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error)
}

// StepResult is one task's outcome inside a classical run.
type StepResult struct {
	TaskID string
	OK bool
	Output any
	ErrorCode string
}

// SequentialExecutor runs a plan's tasks in dependency-respecting
// topological order.
type SequentialExecutor struct {
	Invoker ToolInvoker
	Summarizer Summarizer
	Normalizer *slots.Normalizer
	// DAG runs a PIPELINE_DAG task's payload end to end; nil rejects such
	// tasks rather than silently skipping them.
	DAG *DAGExecutor
}

func NewSequentialExecutor(invoker ToolInvoker, summarizer Summarizer, normalizer *slots.Normalizer) *SequentialExecutor {
	return &SequentialExecutor{Invoker: invoker, Summarizer: summarizer, Normalizer: normalizer}
}

// WithDAG wires C13's DAG executor in for PIPELINE_DAG tasks.
func (e *SequentialExecutor) WithDAG(dag *DAGExecutor) *SequentialExecutor {
	e.DAG = dag
	return e
}

// topoOrder breaks ties by declaration order.
func topoOrder(tasks []planmodel.AgentTask) ([]planmodel.AgentTask, error) {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}

	visited := make([]bool, len(tasks))
	visiting := make([]bool, len(tasks))
	var order []planmodel.AgentTask

	var visit func(i int) error
	visit = func(i int) error {
		if visited[i] {
			return nil
		}
		if visiting[i] {
			return fmt.Errorf("DSL_VALIDATION_FAILED: dependency cycle at %s", tasks[i].ID)
		}
		visiting[i] = true
		for _, dep := range tasks[i].DependsOn {
			di, ok := index[dep]
			if !ok {
				return fmt.Errorf("DSL_REF_NOT_FOUND: %s depends on unknown %s", tasks[i].ID, dep)
			}
			if err := visit(di); err != nil {
				return err
			}
		}
		visiting[i] = false
		visited[i] = true
		order = append(order, tasks[i])
		return nil
	}

	ids := make([]int, len(tasks))
	for i := range tasks {
		ids[i] = i
	}
	sort.Ints(ids)
	for _, i := range ids {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Run executes plan.Tasks sequentially and returns one StepResult per task
// plus the shared step-output map for downstream substitution.
func (e *SequentialExecutor) Run(ctx context.Context, userID string, plan *planmodel.AgentPlan) ([]StepResult, map[string]any, error) {
	ordered, err := topoOrder(plan.Tasks)
	if err != nil {
		return nil, nil, err
	}

	stepOutputs := map[string]any{}
	var results []StepResult
	var calledTools []string

	for _, task := range ordered {
		switch task.TaskType {
		case planmodel.TaskTool:
			payload, _ := ResolveRefs(task.Payload, stepOutputs, nil)
			payloadMap, _ := payload.(map[string]any)
			normalized := e.normalizeForTool(task, payloadMap)
			res := e.Invoker.Invoke(ctx, userID, task.ToolName, normalized)
			calledTools = append(calledTools, task.ToolName)
			if !res.OK {
				results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: res.ErrorCode})
				return results, stepOutputs, NewRunError(ErrToolFailed, res.ErrorCode)
			}
			stepOutputs[task.ID] = res.Data
			results = append(results, StepResult{TaskID: task.ID, OK: true, Output: res.Data})

		case planmodel.TaskLLM:
			inputs := map[string]any{}
			for _, dep := range task.DependsOn {
				inputs[dep] = stepOutputs[dep]
			}
			summary, err := e.Summarizer.Summarize(ctx, task.Instruction, inputs)
			if err != nil {
				results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: string(ErrLLMAutofillFailed)})
				return results, stepOutputs, NewRunError(ErrLLMAutofillFailed, err.Error())
			}
			stepOutputs[task.ID] = map[string]any{"summary": summary}
			results = append(results, StepResult{TaskID: task.ID, OK: true, Output: summary})

		case planmodel.TaskPipelineDAG:
			if e.DAG == nil {
				results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: string(ErrDSLValidationFailed)})
				return results, stepOutputs, NewRunError(ErrDSLValidationFailed, "dag executor not configured")
			}
			dag, err := decodeDAGPayload(task.Payload)
			if err != nil {
				results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: string(ErrDSLValidationFailed)})
				return results, stepOutputs, NewRunError(ErrDSLValidationFailed, err.Error())
			}
			exec, _ := e.DAG.Run(ctx, userID, task.ID, dag)
			if !exec.Success {
				errCode, _ := exec.Artifacts["error_code"].(string)
				results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: errCode})
				return results, stepOutputs, NewRunError(ErrorCode(errCode), exec.Summary)
			}
			stepOutputs[task.ID] = exec.Artifacts
			results = append(results, StepResult{TaskID: task.ID, OK: true, Output: exec.Artifacts})

		case planmodel.TaskStepwisePipeline:
			subtasks, ctxPayload, err := decodeStepwisePayload(task.Payload)
			if err != nil {
				results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: string(ErrDSLValidationFailed)})
				return results, stepOutputs, NewRunError(ErrDSLValidationFailed, err.Error())
			}
			output, err := e.runStepwiseTasks(ctx, userID, subtasks, ctxPayload)
			if err != nil {
				results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: string(ErrToolFailed)})
				return results, stepOutputs, NewRunError(ErrToolFailed, err.Error())
			}
			stepOutputs[task.ID] = output
			results = append(results, StepResult{TaskID: task.ID, OK: true, Output: output})

		default:
			results = append(results, StepResult{TaskID: task.ID, OK: false, ErrorCode: string(ErrDSLValidationFailed)})
			return results, stepOutputs, NewRunError(ErrDSLValidationFailed, fmt.Sprintf("unsupported task_type %s", task.TaskType))
		}
	}

	if obligation := VerifyObligations(plan.UserText, calledTools, stepOutputs, len(plan.TargetServices)); !obligation.OK {
		return results, stepOutputs, NewRunError(ErrVerificationFailed, obligation.Reason)
	}

	return results, stepOutputs, nil
}

func (e *SequentialExecutor) normalizeForTool(task planmodel.AgentTask, payload map[string]any) map[string]any {
	if e.Normalizer == nil || payload == nil {
		return payload
	}
	return e.Normalizer.Normalize(task.ToolName, payload)
}

// decodeDAGPayload recovers a planmodel.PipelineDAG from a PIPELINE_DAG
// task's payload. An LLM-sourced plan carries the DAG's fields directly as
// a JSON object; decode via a marshal/unmarshal round trip rather than
// asserting a Go type, since this payload may have crossed a JSON boundary.
func decodeDAGPayload(payload map[string]any) (*planmodel.PipelineDAG, error) {
	if payload == nil {
		return nil, fmt.Errorf("DSL_VALIDATION_FAILED: empty pipeline_dag payload")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var dag planmodel.PipelineDAG
	if err := json.Unmarshal(raw, &dag); err != nil {
		return nil, err
	}
	return &dag, nil
}

// decodeStepwisePayload recovers the ordered subtasks and catalog context
// from a STEPWISE_PIPELINE task's payload. The planner that builds this
// task type (internal/planner.StepwisePlanner) sets the payload in-process
// with native Go values, so try a direct type assertion before falling
// back to the JSON round trip an LLM-sourced plan would need.
func decodeStepwisePayload(payload map[string]any) ([]planmodel.StepwiseTask, planmodel.StepwiseContext, error) {
	if payload == nil {
		return nil, planmodel.StepwiseContext{}, fmt.Errorf("DSL_VALIDATION_FAILED: empty stepwise_pipeline payload")
	}
	if tasks, ok := payload["tasks"].([]planmodel.StepwiseTask); ok {
		ctxPayload, _ := payload["ctx"].(planmodel.StepwiseContext)
		return tasks, ctxPayload, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, planmodel.StepwiseContext{}, err
	}
	var decoded planmodel.StepwisePayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, planmodel.StepwiseContext{}, err
	}
	return decoded.Tasks, decoded.Ctx, nil
}

// runStepwiseTasks invokes each decomposed subtask's tool in order,
// threading each result into the next subtask's payload under its task id
// so later steps can reference earlier ones the way dependent TOOL tasks
// do.
func (e *SequentialExecutor) runStepwiseTasks(ctx context.Context, userID string, subtasks []planmodel.StepwiseTask, ctxPayload planmodel.StepwiseContext) (map[string]any, error) {
	outputs := map[string]any{"catalog_id": ctxPayload.CatalogID}
	for _, t := range subtasks {
		payload := map[string]any{"sentence": t.Sentence}
		if e.Normalizer != nil {
			payload = e.Normalizer.Normalize(t.ToolName, payload)
		}
		res := e.Invoker.Invoke(ctx, userID, t.ToolName, payload)
		if !res.OK {
			return outputs, fmt.Errorf("%s: %s", t.ToolName, res.ErrorCode)
		}
		outputs[t.TaskID] = res.Data
	}
	return outputs, nil
}
