// Package loop implements the top-level agent run orchestration:
// plan, gate on rollout, execute, and report one AgentRunResult per request.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaycore/orchestrator/internal/executor"
	"github.com/relaycore/orchestrator/internal/intent"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/pending"
	"github.com/relaycore/orchestrator/internal/planmodel"
	"github.com/relaycore/orchestrator/internal/planner"
	"github.com/relaycore/orchestrator/internal/rollout"
	"github.com/relaycore/orchestrator/internal/slots"
	"github.com/relaycore/orchestrator/internal/storage"
)

// RulePlanner builds a deterministic, rule-based plan.
type RulePlanner interface {
	Build(userText string, connected []string) (*planmodel.AgentPlan, error)
}

// LLMPlanner builds a plan via an LLM, falling back to the rule planner's
// source label when it cannot produce one.
type LLMPlanner interface {
	Build(ctx context.Context, userText string, connected []string, catalog map[string]any) (*planmodel.AgentPlan, string)
}

// SequentialRunner executes a classical plan.
type SequentialRunner interface {
	Run(ctx context.Context, userID string, plan *planmodel.AgentPlan) ([]executor.StepResult, map[string]any, error)
}

// StepwisePlanner builds a plan by decomposing a multi-sentence request
// into an ordered list of tool calls (C11), tried ahead of the LLM/rule
// planners when the request names more than one connected service.
type StepwisePlanner interface {
	Build(ctx context.Context, userID, userText string, connected []string, enabled func(apiID string) bool) (*planmodel.AgentPlan, error)
}

// AgentRunResult is the loop orchestrator's output contract, 
type AgentRunResult struct {
	OK bool
	Stage string
	Plan *planmodel.AgentPlan
	ResultSummary string
	ExecutionMode string
	PlanSource string
	ErrorCode string
	VerificationReason string
	AutonomousFallback string
}

// Orchestrator wires the planners, the rollout gate, and the classical
// executor into one agent-analysis entrypoint.
type Orchestrator struct {
	Rule RulePlanner
	LLM LLMPlanner
	Stepwise StepwisePlanner
	Runner SequentialRunner
	Rollout rollout.Settings
	FeatureName string
	Observe storage.ObservabilityStore
	Metrics *observability.Metrics // optional; nil disables metric recording
	NowFn func() time.Time

	// Pending and Slots, when both set, enable conversational slot
	// filling: a plan whose next runnable tool task is missing a required
	// slot is parked instead of executed, and a later Run for the same
	// userID is treated as the user's reply supplying it. Nil disables
	// the gate entirely, matching the pre-existing planned_only/executed
	// behavior.
	Pending *pending.Store
	Slots *slots.Normalizer
	PendingTTLSec int
}

// WithPending wires the conversational slot-filling lifecycle: store holds
// the per-user pending action, normalizer supplies the slot schema used to
// detect and validate missing slots.
func (o *Orchestrator) WithPending(store *pending.Store, normalizer *slots.Normalizer) *Orchestrator {
	o.Pending = store
	o.Slots = normalizer
	return o
}

func New(rule RulePlanner, llm LLMPlanner, runner SequentialRunner, settings rollout.Settings, featureName string, observe storage.ObservabilityStore) *Orchestrator {
	return &Orchestrator{Rule: rule, LLM: llm, Runner: runner, Rollout: settings, FeatureName: featureName, Observe: observe, NowFn: time.Now}
}

// WithMetrics enables per-run RunAttempts/ErrorCounter recording.
func (o *Orchestrator) WithMetrics(m *observability.Metrics) *Orchestrator {
	o.Metrics = m
	return o
}

// WithStepwise wires C11's multi-sentence decomposition planner in ahead of
// the LLM/rule planners.
func (o *Orchestrator) WithStepwise(p StepwisePlanner) *Orchestrator {
	o.Stepwise = p
	return o
}

// recordRunMetrics translates one AgentRunResult into the run_attempts and
// errors counter families.
func (o *Orchestrator) recordRunMetrics(result AgentRunResult) {
	if o.Metrics == nil {
		return
	}
	if result.OK {
		o.Metrics.RecordRunAttempt("success")
		return
	}
	o.Metrics.RecordRunAttempt("failed")
	o.Metrics.RecordError("loop", result.ErrorCode)
}

// isDataSourceQuery reports whether userText names a lookup against a
// data source (notion data-source listing/querying); such requests
// short-circuit before any planner runs.
func isDataSourceQuery(userText string) bool {
	return intent.IsDataSourceIntent(userText) && intent.IsReadIntent(userText)
}

// Run implements run_agent_analysis(user_text, connected_services, user_id).
func (o *Orchestrator) Run(ctx context.Context, userID, userText string, connectedServices []string, catalog map[string]any) AgentRunResult {
	result := o.runAgent(ctx, userID, userText, connectedServices, catalog)
	o.recordRunMetrics(result)
	return result
}

func (o *Orchestrator) runAgent(ctx context.Context, userID, userText string, connectedServices []string, catalog map[string]any) AgentRunResult {
	if strings.TrimSpace(userText) == "" {
		return o.fail("validation_error", "", "", "empty user_text")
	}

	if o.Pending != nil && o.Slots != nil {
		if action, err := o.Pending.Get(ctx, userID); err == nil && action != nil {
			return o.resumePendingAction(ctx, userID, userText, action)
		}
	}

	if isDataSourceQuery(userText) {
		id := intent.ExtractDataSourceID(userText)
		if id == "" || !intent.IsValidDataSourceID(id) {
			msg := fmt.Sprintf("데이터소스 id가 없거나 형식이 올바르지 않습니다. 예: %s", intent.ExampleDataSourceID)
			return o.validationFail(msg)
		}
	}

	var plan *planmodel.AgentPlan
	planSource := "rule"

	if o.Stepwise != nil && planner.ShouldApply(false, userText, connectedServices) {
		if p, err := o.Stepwise.Build(ctx, userID, userText, connectedServices, nil); err == nil && p != nil {
			plan, planSource = p, p.PlanSource
		}
	}
	if plan == nil && o.LLM != nil {
		if p, source := o.LLM.Build(ctx, userText, connectedServices, catalog); p != nil {
			plan, planSource = p, source
		}
	}
	if plan == nil && o.Rule != nil {
		p, err := o.Rule.Build(userText, connectedServices)
		if err != nil {
			return o.fail("validation_error", "", "", err.Error())
		}
		plan = p
		planSource = "rule"
	}
	if plan == nil {
		return o.fail("validation_error", "", "", "no planner produced a plan")
	}
	plan.PlanSource = planSource

	if len(plan.TargetServices) == 0 {
		return o.fail("validation_error", planSource, "", "plan has no target_services")
	}

	decision := rollout.Evaluate(userID, o.FeatureName, o.Rollout)
	if !decision.Serve {
		result := AgentRunResult{
			OK: true,
			Stage: "planned_only",
			Plan: plan,
			ResultSummary: "자율 실행이 비활성화되어 계획만 생성되었습니다",
			ExecutionMode: "legacy",
			PlanSource: planSource,
		}
		o.logCommand(ctx, userID, userText, result)
		return result
	}

	mode := "autonomous"
	if decision.Shadow {
		mode = "shadow"
	}

	if o.Pending != nil && o.Slots != nil {
		if parked, ok := o.parkForMissingSlots(ctx, userID, plan, planSource); ok {
			o.logCommand(ctx, userID, userText, parked)
			return parked
		}
	}

	steps, _, err := o.Runner.Run(ctx, userID, plan)
	if err != nil {
		if runErr, ok := err.(*executor.RunError); ok && executor.IsRetryable(runErr.Code) {
			if o.Metrics != nil {
				o.Metrics.RecordRunAttempt("retry")
			}
			steps, _, err = o.Runner.Run(ctx, userID, plan)
		}
	}
	if err != nil {
		code := "execution_error"
		reason := ""
		if runErr, ok := err.(*executor.RunError); ok {
			code = string(runErr.Code)
			if runErr.Code == executor.ErrVerificationFailed {
				reason = runErr.Detail
			}
		}
		fallbackReason := ""
		if decision.Shadow {
			fallbackReason = "shadow_execution_failed"
		}
		result := AgentRunResult{
			OK: false,
			Stage: "execution_failed",
			Plan: plan,
			ExecutionMode: mode,
			PlanSource: planSource,
			ErrorCode: code,
			VerificationReason: reason,
			AutonomousFallback: fallbackReason,
		}
		o.logCommand(ctx, userID, userText, result)
		return result
	}

	result := AgentRunResult{
		OK: true,
		Stage: "executed",
		Plan: plan,
		ResultSummary: summarizeSteps(steps),
		ExecutionMode: mode,
		PlanSource: planSource,
	}
	o.logCommand(ctx, userID, userText, result)
	return result
}

func summarizeSteps(steps []executor.StepResult) string {
	ok := 0
	for _, s := range steps {
		if s.OK {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d 작업 완료", ok, len(steps))
}

// validationFail reports a malformed or missing data-source id, surfaced
// with stage="validation" rather than the general planning_failed stage.
func (o *Orchestrator) validationFail(message string) AgentRunResult {
	return AgentRunResult{
		OK: false,
		Stage: "validation",
		ErrorCode: "validation_error",
		ResultSummary: message,
	}
}

func (o *Orchestrator) fail(code, planSource, executionMode, reason string) AgentRunResult {
	return AgentRunResult{
		OK: false,
		Stage: "planning_failed",
		ErrorCode: code,
		PlanSource: planSource,
		ExecutionMode: executionMode,
		ResultSummary: reason,
	}
}

// parkForMissingSlots checks plan's one runnable tool task (PendingAction is
// single-slot per user, so only a single-task plan is ever parked) against
// the registered slot schema. When a required slot is missing it stores a
// pending action and returns the awaiting_slots result to surface to the
// user; otherwise it returns ok=false and the caller proceeds to execute.
func (o *Orchestrator) parkForMissingSlots(ctx context.Context, userID string, plan *planmodel.AgentPlan, planSource string) (AgentRunResult, bool) {
	if len(plan.Tasks) != 1 || plan.Tasks[0].TaskType != planmodel.TaskTool {
		return AgentRunResult{}, false
	}
	task := plan.Tasks[0]
	normalized, missing, _ := o.Slots.Validate(task.ToolName, task.Payload)
	if len(missing) == 0 {
		return AgentRunResult{}, false
	}

	action := &pending.Action{
		UserID: userID,
		ActionName: task.ToolName,
		TaskID: task.ID,
		Plan: plan,
		PlanSource: planSource,
		CollectedSlots: normalized,
		MissingSlots: missing,
	}
	_ = o.Pending.Set(ctx, action, o.PendingTTLSec)

	prompt := o.Slots.PromptExample(task.ToolName, missing[0])
	return AgentRunResult{
		OK: false,
		Stage: "awaiting_slots",
		Plan: plan,
		ResultSummary: fmt.Sprintf("추가 정보가 필요합니다: %s", prompt),
		PlanSource: planSource,
		ErrorCode: "missing_slots",
	}, true
}

// resumePendingAction treats userText as the user's reply to a prior
// awaiting_slots prompt: it merges the reply into the pending action's
// collected slots, re-validates, and either re-prompts for the next
// missing slot or resumes execution of the parked plan.
func (o *Orchestrator) resumePendingAction(ctx context.Context, userID, userText string, action *pending.Action) AgentRunResult {
	preferred := ""
	if len(action.MissingSlots) > 0 {
		preferred = action.MissingSlots[0]
	}
	result := o.Slots.CollectFromReply(action.ActionName, userText, action.CollectedSlots, preferred)

	if len(result.MissingSlots) > 0 {
		action.CollectedSlots = result.CollectedSlots
		action.MissingSlots = result.MissingSlots
		_ = o.Pending.Set(ctx, action, o.PendingTTLSec)
		prompt := o.Slots.PromptExample(action.ActionName, result.AskNextSlot)
		return AgentRunResult{
			OK: false,
			Stage: "awaiting_slots",
			PlanSource: action.PlanSource,
			ErrorCode: "missing_slots",
			ResultSummary: fmt.Sprintf("추가 정보가 필요합니다: %s", prompt),
		}
	}
	if len(result.ValidationErrors) > 0 {
		_ = o.Pending.Clear(ctx, userID)
		return AgentRunResult{
			OK: false,
			Stage: "validation",
			ErrorCode: "validation_error",
			PlanSource: action.PlanSource,
			ResultSummary: fmt.Sprintf("입력값을 확인해주세요: %v", result.ValidationErrors),
		}
	}

	plan, ok := decodePendingPlan(action.Plan)
	_ = o.Pending.Clear(ctx, userID)
	if !ok {
		return o.fail("validation_error", action.PlanSource, "", "pending plan could not be decoded")
	}
	mergeSlotsIntoTask(plan, action.TaskID, result.CollectedSlots)

	decision := rollout.Evaluate(userID, o.FeatureName, o.Rollout)
	if !decision.Serve {
		out := AgentRunResult{OK: true, Stage: "planned_only", Plan: plan, ResultSummary: "자율 실행이 비활성화되어 계획만 생성되었습니다", ExecutionMode: "legacy", PlanSource: action.PlanSource}
		o.logCommand(ctx, userID, userText, out)
		return out
	}
	mode := "autonomous"
	if decision.Shadow {
		mode = "shadow"
	}

	steps, _, err := o.Runner.Run(ctx, userID, plan)
	if err != nil {
		code := "execution_error"
		if runErr, ok := err.(*executor.RunError); ok {
			code = string(runErr.Code)
		}
		out := AgentRunResult{OK: false, Stage: "execution_failed", Plan: plan, ExecutionMode: mode, PlanSource: action.PlanSource, ErrorCode: code}
		o.logCommand(ctx, userID, userText, out)
		return out
	}
	out := AgentRunResult{OK: true, Stage: "executed", Plan: plan, ResultSummary: summarizeSteps(steps), ExecutionMode: mode, PlanSource: action.PlanSource}
	o.logCommand(ctx, userID, userText, out)
	return out
}

// decodePendingPlan recovers the typed AgentPlan from a pending action's
// Plan field, which round-trips through JSON in the backing store and so
// arrives here as a generic map[string]any.
func decodePendingPlan(raw any) (*planmodel.AgentPlan, bool) {
	if plan, ok := raw.(*planmodel.AgentPlan); ok {
		return plan, true
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var plan planmodel.AgentPlan
	if err := json.Unmarshal(encoded, &plan); err != nil {
		return nil, false
	}
	return &plan, true
}

func mergeSlotsIntoTask(plan *planmodel.AgentPlan, taskID string, slots map[string]any) {
	for i := range plan.Tasks {
		if plan.Tasks[i].ID != taskID {
			continue
		}
		if plan.Tasks[i].Payload == nil {
			plan.Tasks[i].Payload = map[string]any{}
		}
		for k, v := range slots {
			plan.Tasks[i].Payload[k] = v
		}
		return
	}
}

func (o *Orchestrator) logCommand(ctx context.Context, userID, userText string, result AgentRunResult) {
	if o.Observe == nil {
		return
	}
	status := "ok"
	if !result.OK {
		status = "error"
	}
	row := &storage.CommandLogRow{
		UserID: userID,
		Command: userText,
		Status: status,
		FinalStatus: result.Stage,
		PlanSource: result.PlanSource,
		ExecutionMode: result.ExecutionMode,
		ErrorCode: result.ErrorCode,
		VerificationReason: result.VerificationReason,
		AutonomousFallbackReason: result.AutonomousFallback,
		Detail: result.ResultSummary,
		CreatedAt: o.NowFn(),
	}
	_ = o.Observe.WriteCommandLog(ctx, row)
}
