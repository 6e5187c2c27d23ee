// Package models holds the shared domain types persisted by the store and
// exchanged between the scheduler, pool, gateway, and API layers.
package models

// SessionType identifies what dispatched a chat session.
type SessionType string

// Session type constants.
const (
	SessionTypeInteractive SessionType = "interactive"
	SessionTypeCron        SessionType = "cron"
	SessionTypeSubAgent    SessionType = "sub_agent"
	SessionTypeSkillExec   SessionType = "skill_exec"
)

// IsValid checks if the session type is a known value.
func (t SessionType) IsValid() bool {
	switch t {
	case SessionTypeInteractive, SessionTypeCron, SessionTypeSubAgent, SessionTypeSkillExec:
		return true
	default:
		return false
	}
}

// SessionStatus is the lifecycle state of a chat session.
// Transitions are monotonic: active → ended or active → failed.
type SessionStatus string

// Session status constants.
const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
	SessionStatusFailed SessionStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusEnded || s == SessionStatusFailed
}

// IsValid checks if the session status is a known value.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusActive, SessionStatusEnded, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// Role is a chat message role.
type Role string

// Message role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid checks if the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// SessionMode controls how a cron entry maps onto chat sessions.
type SessionMode string

// Session mode constants.
const (
	// SessionModeEphemeral creates a fresh session per fire and never
	// overlaps two executions of the same entry.
	SessionModeEphemeral SessionMode = "ephemeral"
	// SessionModeSharedByJob reuses one long-lived session per entry.
	SessionModeSharedByJob SessionMode = "shared_by_job"
	// SessionModeParentOfAgent continues the target agent's parent session.
	SessionModeParentOfAgent SessionMode = "parent_of_agent"
)

// IsValid checks if the session mode is a known value.
func (m SessionMode) IsValid() bool {
	switch m {
	case SessionModeEphemeral, SessionModeSharedByJob, SessionModeParentOfAgent:
		return true
	default:
		return false
	}
}

// CronOutcome is the terminal result of one cron fire.
type CronOutcome string

// Cron outcome constants.
const (
	CronOutcomeSuccess           CronOutcome = "success"
	CronOutcomeFailure           CronOutcome = "failure"
	CronOutcomeTimeout           CronOutcome = "timeout"
	CronOutcomeSkippedCBOpen     CronOutcome = "skipped_cb_open"
	CronOutcomeSkippedRunning    CronOutcome = "skipped_still_running"
	CronOutcomeSkippedOverBudget CronOutcome = "skipped_over_budget"
)

// AgentRole classifies an agent in the roster.
type AgentRole string

// Agent role constants.
const (
	AgentRoleCoordinator AgentRole = "coordinator"
	AgentRoleSubAgent    AgentRole = "sub_agent"
	AgentRoleSystem      AgentRole = "system"
)

// IsValid checks if the agent role is a known value.
func (r AgentRole) IsValid() bool {
	switch r {
	case AgentRoleCoordinator, AgentRoleSubAgent, AgentRoleSystem:
		return true
	default:
		return false
	}
}

// Tier is a model cost tier. The catalog's tier order is the default
// escalation order when an agent's fallback chain is exhausted.
type Tier string

// Model tier constants.
const (
	TierLocal Tier = "local"
	TierFree  Tier = "free"
	TierPaid  Tier = "paid"
)

// IsValid checks if the tier is a known value.
func (t Tier) IsValid() bool {
	switch t {
	case TierLocal, TierFree, TierPaid:
		return true
	default:
		return false
	}
}
