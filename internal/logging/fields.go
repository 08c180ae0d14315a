package logging

const (
	namespace = "riskflow"

	ExecutionIDKey = namespace + ".execution.id"
	WorkflowIDKey  = namespace + ".workflow.id"
	OrgIDKey       = namespace + ".org.id"
	StepIDKey      = namespace + ".step.id"
	StepKindKey    = namespace + ".step.kind"
	StatusKey      = namespace + ".status"

	EntityKindKey = namespace + ".entity.kind"
	EntityIDKey   = namespace + ".entity.id"
	RuleIDKey     = namespace + ".rule.id"
	LevelKey      = namespace + ".escalation.level"
	RoleKey       = namespace + ".role"

	// FireAtKey is the time at which a scheduled step becomes due
	FireAtKey   = namespace + ".scheduled.fire_at"
	DurationKey = namespace + ".duration_ms"
)
