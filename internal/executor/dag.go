package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/relaycore/orchestrator/internal/pipelinelinks"
	"github.com/relaycore/orchestrator/internal/planmodel"
	"github.com/relaycore/orchestrator/internal/retry"
	"github.com/relaycore/orchestrator/internal/storage"
	"github.com/relaycore/orchestrator/internal/transform"
)

// SkillResolver resolves a DAG skill node's `name` (e.g. "notion.page_create")
// to the runtime tool it should invoke, per C2.
type SkillResolver interface {
	RuntimeToolsFor(name string) ([]string, error)
}

// RetryPolicy configures the DAG executor's per-node retry behavior for
// the retryable error subset.
type RetryPolicy struct {
	MaxAttempts int
	BackoffMs int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffMs: 500}
}

// NodeLog is one entry of the per-node run log surfaced in the DAG result.
type NodeLog struct {
	NodeID string
	Type planmodel.NodeType
	Status string // succeeded | failed
	ErrorCode string
	DurationMs int64
	ItemCount int
}

// AgentExecutionResult is the contract of the executor.
type AgentExecutionResult struct {
	Success bool
	Summary string
	UserMessage string
	Artifacts map[string]any
	Steps []NodeLog
}

// MutationRecord tracks a successful mutating tool call for compensation.
type MutationRecord struct {
	NodeID string
	ToolName string
	Result any
	EventID string
}

// DAGExecutor runs a PipelineDAG end to end.
type DAGExecutor struct {
	Invoker ToolInvoker
	Skills SkillResolver
	Retry RetryPolicy
	NowFn func() time.Time

	// Observe and Links are optional: when set, Run persists one
	// PipelineStepLogRow per node and the run's pipeline_links
	// rows as a side effect of execution.
	Observe storage.ObservabilityStore
	Links *pipelinelinks.Writer
}

func NewDAGExecutor(invoker ToolInvoker, skills SkillResolver) *DAGExecutor {
	return &DAGExecutor{Invoker: invoker, Skills: skills, Retry: DefaultRetryPolicy(), NowFn: time.Now}
}

// WithObservability wires per-node step logging and pipeline-links
// persistence into the executor.
func (e *DAGExecutor) WithObservability(observe storage.ObservabilityStore, links *pipelinelinks.Writer) *DAGExecutor {
	e.Observe = observe
	e.Links = links
	return e
}

var mutationVerbs = []string{"create", "update", "append", "delete", "archive"}

func isMutation(toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, v := range mutationVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// checkLimits enforces the planning gate's node/fanout/tool-call/timeout
// limits.
func checkLimits(dag *planmodel.PipelineDAG) (string, bool) {
	limits := planmodel.DefaultLimits()
	if dag.Limits.MaxNodes > 0 {
		limits.MaxNodes = dag.Limits.MaxNodes
	}
	if dag.Limits.MaxFanout > 0 {
		limits.MaxFanout = dag.Limits.MaxFanout
	}
	if dag.Limits.MaxToolCalls > 0 {
		limits.MaxToolCalls = dag.Limits.MaxToolCalls
	}
	if dag.Limits.PipelineTimeoutSec > 0 {
		limits.PipelineTimeoutSec = dag.Limits.PipelineTimeoutSec
	}

	def := planmodel.DefaultLimits()
	if len(dag.Nodes) > def.MaxNodes || limits.MaxNodes > def.MaxNodes {
		return string(ErrDSLValidationFailed), false
	}
	if limits.MaxFanout > def.MaxFanout || limits.MaxToolCalls > def.MaxToolCalls || limits.PipelineTimeoutSec > def.PipelineTimeoutSec {
		return string(ErrDSLValidationFailed), false
	}
	if dag.Version != "1.0" {
		return string(ErrDSLValidationFailed), false
	}
	return "", true
}

// topoSortNodes returns nodes in dependency order, or an error if a cycle
// is found — testable property 7: cycles fail before any node executes.
func topoSortNodes(nodes []planmodel.PipelineNode) ([]planmodel.PipelineNode, error) {
	byID := make(map[string]planmodel.PipelineNode, len(nodes))
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		byID[n.ID] = n
		index[n.ID] = i
	}

	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	var order []planmodel.PipelineNode

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return fmt.Errorf("cycle at %s", id)
		}
		n, ok := byID[id]
		if !ok {
			return fmt.Errorf("unknown node %s", id)
		}
		visiting[id] = true
		for _, dep := range n.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[id] = false
		visited[id] = true
		order = append(order, n)
		return nil
	}

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.SliceStable(ids, func(i, j int) bool { return index[ids[i]] < index[ids[j]] })
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Run executes dag end to end, returning the full result plus the mutation
// log needed by the compensation and pipeline-links stages.
func (e *DAGExecutor) Run(ctx context.Context, userID, runID string, dag *planmodel.PipelineDAG) (AgentExecutionResult, []MutationRecord) {
	if code, ok := checkLimits(dag); !ok {
		return e.failResult(code, "", "pipeline limits exceeded", nil, "not_required"), nil
	}

	ordered, err := topoSortNodes(dag.Nodes)
	if err != nil {
		return e.failResult(string(ErrDSLValidationFailed), "", err.Error(), nil, "not_required"), nil
	}

	byID := make(map[string]planmodel.PipelineNode, len(dag.Nodes))
	for _, n := range dag.Nodes {
		byID[n.ID] = n
	}

	deadline := e.NowFn().Add(time.Duration(dagTimeoutSec(dag)) * time.Second)

	results := map[string]any{}
	var logs []NodeLog
	var mutations []MutationRecord
	toolCalls := 0

	for _, node := range ordered {
		if e.NowFn().After(deadline) {
			failed := e.compensate(ctx, userID, mutations)
			result := e.failResult(string(ErrPipelineTimeout), node.ID, "pipeline deadline exceeded", logs, failed)
			e.writeFailureLinks(ctx, userID, runID, mutations, string(ErrPipelineTimeout), failed)
			return result, mutations
		}

		start := e.NowFn()
		output, itemCount, errCode, used, err := e.runNode(ctx, userID, node, results, byID, &toolCalls, dag.Limits)
		duration := e.NowFn().Sub(start).Milliseconds()

		if err != nil {
			entry := NodeLog{NodeID: node.ID, Type: node.Type, Status: "failed", ErrorCode: errCode, DurationMs: duration, ItemCount: itemCount}
			logs = append(logs, entry)
			e.writeStepLog(ctx, runID, entry)
			mutations = append(mutations, used...)
			compStatus := e.compensate(ctx, userID, mutations)
			e.writeFailureLinks(ctx, userID, runID, mutations, errCode, compStatus)
			return e.failResult(errCode, node.ID, err.Error(), logs, compStatus), mutations
		}

		results[node.ID] = output
		mutations = append(mutations, used...)
		entry := NodeLog{NodeID: node.ID, Type: node.Type, Status: "succeeded", DurationMs: duration, ItemCount: itemCount}
		logs = append(logs, entry)
		e.writeStepLog(ctx, runID, entry)
	}

	artifacts := map[string]any{
		"router_mode": "PIPELINE_DAG",
		"pipeline_run_id": runID,
		"node_results": results,
	}
	e.writeSuccessLinks(ctx, userID, runID, results)
	return AgentExecutionResult{
		Success: true,
		Summary: "DAG 파이프라인 실행 완료",
		Artifacts: artifacts,
		Steps: logs,
	}, mutations
}

func (e *DAGExecutor) writeStepLog(ctx context.Context, runID string, entry NodeLog) {
	if e.Observe == nil {
		return
	}
	_ = e.Observe.WritePipelineStepLog(ctx, &storage.PipelineStepLogRow{
		PipelineRunID: runID,
		NodeID: entry.NodeID,
		NodeType: string(entry.Type),
		Status: entry.Status,
		ErrorCode: entry.ErrorCode,
		DurationMs: entry.DurationMs,
		CreatedAt: e.NowFn(),
	})
}

// writeSuccessLinks derives pipeline_links rows from any for_each node's
// item_results found among the run's node outputs.
func (e *DAGExecutor) writeSuccessLinks(ctx context.Context, userID, runID string, results map[string]any) {
	if e.Links == nil {
		return
	}
	for _, output := range results {
		obj, ok := output.(map[string]any)
		if !ok {
			continue
		}
		raw, ok := obj["item_results"].([]any)
		if !ok {
			continue
		}
		items := make([]pipelinelinks.ItemResult, 0, len(raw))
		for _, r := range raw {
			itemOut, ok := r.(map[string]any)
			if !ok {
				continue
			}
			item := make(pipelinelinks.ItemResult, len(itemOut))
			for childID, childOut := range itemOut {
				if m, ok := childOut.(map[string]any); ok {
					item[childID] = m
				}
			}
			items = append(items, item)
		}
		_ = e.Links.WriteSuccessRows(ctx, userID, runID, items)
	}
}

func (e *DAGExecutor) writeFailureLinks(ctx context.Context, userID, runID string, mutations []MutationRecord, errorCode, compensationStatus string) {
	if e.Links == nil {
		return
	}
	status := "failed"
	if compensationStatus == "failed" {
		status = "manual_required"
	}
	for _, m := range mutations {
		if m.EventID == "" {
			continue
		}
		_ = e.Links.WriteFailureRow(ctx, userID, m.EventID, runID, status, errorCode, compensationStatus)
	}
}

func dagTimeoutSec(dag *planmodel.PipelineDAG) int {
	if dag.Limits.PipelineTimeoutSec > 0 {
		return dag.Limits.PipelineTimeoutSec
	}
	return planmodel.DefaultLimits().PipelineTimeoutSec
}

// runNode executes one node and returns its output, any for_each item
// count, the canonical error code on failure, and the mutation records it
// produced (for compensation bookkeeping even on a downstream failure).
func (e *DAGExecutor) runNode(ctx context.Context, userID string, node planmodel.PipelineNode, results map[string]any, byID map[string]planmodel.PipelineNode, toolCalls *int, limits planmodel.PipelineLimits) (any, int, string, []MutationRecord, error) {
	switch node.Type {
	case planmodel.NodeSkill:
		return e.runSkillNode(ctx, userID, node, results, nil, toolCalls)
	case planmodel.NodeLLMTransform:
		return e.runTransformNode(node, results, nil)
	case planmodel.NodeForEach:
		return e.runForEachNode(ctx, userID, node, results, byID, toolCalls, limits)
	case planmodel.NodeVerify:
		return e.runVerifyNode(node, results)
	default:
		return nil, 0, string(ErrDSLValidationFailed), nil, fmt.Errorf("unknown node type %s", node.Type)
	}
}

func (e *DAGExecutor) resolveToolName(nodeName string) (string, error) {
	if e.Skills == nil {
		return nodeName, nil
	}
	tools, err := e.Skills.RuntimeToolsFor(nodeName)
	if err != nil || len(tools) == 0 {
		return nodeName, nil
	}
	return tools[0], nil
}

func (e *DAGExecutor) runSkillNode(ctx context.Context, userID string, node planmodel.PipelineNode, results map[string]any, item any, toolCalls *int) (any, int, string, []MutationRecord, error) {
	input, err := ResolveRefs(node.Input, results, item)
	if err != nil {
		return nil, 0, string(ErrDSLRefNotFound), nil, err
	}
	payload, _ := input.(map[string]any)

	toolName, err := e.resolveToolName(node.Name)
	if err != nil {
		return nil, 0, string(ErrDSLValidationFailed), nil, err
	}

	res, errCode := e.invokeWithRetry(ctx, userID, toolName, payload)
	*toolCalls++
	if errCode != "" {
		return nil, 0, errCode, nil, fmt.Errorf("%s", errCode)
	}

	var used []MutationRecord
	if isMutation(toolName) {
		eventID := ""
		if payload != nil {
			if v, ok := payload["event_id"].(string); ok {
				eventID = v
			}
		}
		used = append(used, MutationRecord{NodeID: node.ID, ToolName: toolName, Result: res.Data, EventID: eventID})
	}
	return res.Data, 0, "", used, nil
}

func (e *DAGExecutor) invokeWithRetry(ctx context.Context, userID, toolName string, payload map[string]any) (ToolResult, string) {
	var last ToolResult
	cfg := retry.Linear(e.Retry.MaxAttempts, time.Duration(e.Retry.BackoffMs)*time.Millisecond)
	result := retry.Do(ctx, cfg, func() error {
		last = e.Invoker.Invoke(ctx, userID, toolName, payload)
		if last.OK {
			return nil
		}
		code := classifyToolError(last.ErrorCode)
		if IsRetryable(ErrorCode(code)) {
			return fmt.Errorf("%s", last.ErrorCode)
		}
		return retry.Permanent(fmt.Errorf("%s", last.ErrorCode))
	})
	if result.Err != nil {
		return last, classifyToolError(last.ErrorCode)
	}
	return last, ""
}

func classifyToolError(errorCode string) string {
	switch {
	case strings.Contains(errorCode, "TOOL_RATE_LIMITED"):
		return string(ErrToolRateLimited)
	case strings.Contains(errorCode, "TOOL_TIMEOUT"):
		return string(ErrToolTimeout)
	case strings.Contains(errorCode, "TOOL_AUTH_ERROR"):
		return string(ErrToolAuthError)
	case errorCode == "":
		return ""
	default:
		return string(ErrToolFailed)
	}
}

func (e *DAGExecutor) runTransformNode(node planmodel.PipelineNode, results map[string]any, item any) (any, int, string, []MutationRecord, error) {
	input, err := ResolveRefs(node.Input, results, item)
	if err != nil {
		return nil, 0, string(ErrDSLRefNotFound), nil, err
	}
	payload, _ := input.(map[string]any)
	output := transform.RunTransformContract(node.Name, payload)

	if req, ok := requiredKeys(node.OutputSchema); ok {
		for _, key := range req {
			if _, present := output[key]; !present {
				return nil, 0, string(ErrDSLValidationFailed), nil, fmt.Errorf("llm_transform output missing %s", key)
			}
		}
	}
	return output, 0, "", nil, nil
}

func requiredKeys(schema map[string]any) ([]string, bool) {
	if schema == nil {
		return nil, false
	}
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func (e *DAGExecutor) runForEachNode(ctx context.Context, userID string, node planmodel.PipelineNode, results map[string]any, byID map[string]planmodel.PipelineNode, toolCalls *int, limits planmodel.PipelineLimits) (any, int, string, []MutationRecord, error) {
	sourceVal, err := ResolveRefs("$"+node.SourceRef, results, nil)
	if err != nil {
		return nil, 0, string(ErrDSLRefNotFound), nil, err
	}
	items, ok := sourceVal.([]any)
	if !ok {
		return nil, 0, string(ErrDSLRefNotFound), nil, fmt.Errorf("source_ref %s is not an array", node.SourceRef)
	}

	maxFanout := limits.MaxFanout
	if maxFanout <= 0 {
		maxFanout = planmodel.DefaultLimits().MaxFanout
	}
	if len(items) > maxFanout {
		items = items[:maxFanout]
	}

	var itemResults []any
	var allUsed []MutationRecord
	for idx, item := range items {
		itemOut := map[string]any{}
		for _, childID := range node.ItemNodeIDs {
			child, ok := byID[childID]
			if !ok {
				return nil, idx, string(ErrDSLRefNotFound), allUsed, fmt.Errorf("for_each item_node_id %s not found", childID)
			}
			// the child sees the parent's already-settled results plus its
			// siblings within this item's iteration, so item_node_ids may
			// depend_on one another in declaration order.
			merged := make(map[string]any, len(results)+len(itemOut))
			for k, v := range results {
				merged[k] = v
			}
			for k, v := range itemOut {
				merged[k] = v
			}

			var output any
			var errCode string
			var used []MutationRecord
			var childErr error
			switch child.Type {
			case planmodel.NodeSkill:
				output, _, errCode, used, childErr = e.runSkillNode(ctx, userID, child, merged, item, toolCalls)
			case planmodel.NodeLLMTransform:
				output, _, errCode, used, childErr = e.runTransformNode(child, merged, item)
			case planmodel.NodeVerify:
				output, _, errCode, used, childErr = e.runVerifyNode(child, merged)
			default:
				return nil, idx, string(ErrDSLValidationFailed), allUsed, fmt.Errorf("for_each child %s has unsupported type %s", childID, child.Type)
			}
			allUsed = append(allUsed, used...)
			if childErr != nil {
				return nil, idx, errCode, allUsed, fmt.Errorf("for_each item %d, node %s: %w", idx, childID, childErr)
			}
			itemOut[childID] = output
		}
		itemResults = append(itemResults, itemOut)
	}

	return map[string]any{"item_results": itemResults}, len(items), "", allUsed, nil
}

func (e *DAGExecutor) runVerifyNode(node planmodel.PipelineNode, results map[string]any) (any, int, string, []MutationRecord, error) {
	for _, rule := range node.Rules {
		val, err := evalBoolRule(rule, results)
		if err != nil {
			return nil, 0, string(ErrDSLValidationFailed), nil, err
		}
		if !val {
			return nil, 0, string(ErrVerifyCountMismatch), nil, fmt.Errorf("rule failed: %s", rule)
		}
	}
	return map[string]any{"verified": true}, 0, "", nil, nil
}

// compensate walks successful mutations in reverse and issues best-effort
// inverse operations.
func (e *DAGExecutor) compensate(ctx context.Context, userID string, mutations []MutationRecord) string {
	var mutating []MutationRecord
	for _, m := range mutations {
		if isMutation(m.ToolName) {
			mutating = append(mutating, m)
		}
	}
	if len(mutating) == 0 {
		return "not_required"
	}

	allSucceeded := true
	for i := len(mutating) - 1; i >= 0; i-- {
		m := mutating[i]
		inverseTool, payload, ok := inverseOperation(m)
		if !ok {
			continue
		}
		res := e.Invoker.Invoke(ctx, userID, inverseTool, payload)
		if !res.OK {
			allSucceeded = false
		}
	}
	if allSucceeded {
		return "completed"
	}
	return "failed"
}

// inverseOperation returns the compensating tool call for a prior
// mutation. Resolved per the documented decision that
// notion_update_page(archived=true) compensates every Notion creation
// tool, not only notion_create_page (see DESIGN.md Open Question #2).
func inverseOperation(m MutationRecord) (string, map[string]any, bool) {
	data, _ := m.Result.(map[string]any)
	switch {
	case strings.HasPrefix(m.ToolName, "notion_create"):
		pageID, _ := data["id"].(string)
		return "notion_update_page", map[string]any{"page_id": pageID, "archived": true}, true
	case m.ToolName == "linear_create_issue":
		issueID := ""
		if issueCreate, ok := data["issueCreate"].(map[string]any); ok {
			if issue, ok := issueCreate["issue"].(map[string]any); ok {
				issueID, _ = issue["id"].(string)
			}
		}
		return "linear_update_issue", map[string]any{"issue_id": issueID, "state": "cancelled"}, true
	default:
		return "", nil, false
	}
}

func (e *DAGExecutor) failResult(errorCode, failedStep, reason string, logs []NodeLog, compensationStatus string) AgentExecutionResult {
	status := "failed"
	if compensationStatus == "failed" {
		status = "manual_required"
	}
	return AgentExecutionResult{
		Success: false,
		Summary: "DAG 파이프라인 실행 실패",
		Artifacts: map[string]any{
			"error_code": errorCode,
			"failed_step": failedStep,
			"reason": reason,
			"retry_hint": IsRetryable(ErrorCode(errorCode)),
			"compensation_status": compensationStatus,
			"pipeline_links_failure_status": status,
		},
		Steps: logs,
	}
}
