package graph

import (
	"strconv"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

// Linearize turns a definition into an ordered step plan by walking from the
// start node along single-successor edges. Task, approval and notification
// nodes become steps of the same kind; any other node becomes a step only
// when its configuration names a "step_kind". Decision, parallel and merge
// nodes are structural and cannot be executed yet, so they are rejected.
func Linearize(def *models.WorkflowDefinition) ([]models.StepSpec, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	nodes := make(map[string]models.WorkflowNode, len(def.Nodes))
	var cur string
	for _, n := range def.Nodes {
		nodes[n.ID] = n
		if n.Kind == models.NodeStart {
			cur = n.ID
		}
	}
	out := make(map[string][]string, len(nodes))
	for _, e := range def.Edges {
		out[e.Source] = append(out[e.Source], e.Target)
	}

	var steps []models.StepSpec
	visited := make(map[string]bool, len(nodes))
	for {
		if visited[cur] {
			return nil, apperr.Validationf("cycle through node %q", cur)
		}
		visited[cur] = true

		n := nodes[cur]
		switch n.Kind {
		case models.NodeDecision, models.NodeParallel, models.NodeMerge:
			return nil, apperr.Validationf("node %q: %s nodes are not executable", n.ID, n.Kind)
		case models.NodeEnd:
			return steps, nil
		}

		if kind, ok := stepKindFor(n); ok {
			steps = append(steps, models.StepSpec{
				ID:           n.ID,
				Name:         labelOr(n),
				Kind:         kind,
				AssignedRole: configString(n.Configuration, "assigned_role", "role"),
				DueHours:     configInt(n.Configuration, "due_hours"),
				Position:     len(steps),
			})
		}

		next := out[cur]
		if len(next) != 1 {
			return nil, apperr.Validationf("node %q has %d successors; only linear workflows are executable", cur, len(next))
		}
		cur = next[0]
	}
}

func stepKindFor(n models.WorkflowNode) (models.StepKind, bool) {
	if k := models.StepKind(configString(n.Configuration, "step_kind")); k.Valid() {
		return k, true
	}
	switch n.Kind {
	case models.NodeTask:
		return models.StepTask, true
	case models.NodeApproval:
		return models.StepApproval, true
	case models.NodeNotification:
		return models.StepNotification, true
	}
	return "", false
}

func labelOr(n models.WorkflowNode) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

func configString(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := cfg[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// configInt accepts the numeric types produced by both JSON and YAML
// decoding, plus numeric strings.
func configInt(cfg map[string]any, key string) *int {
	var n int
	switch v := cfg[key].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case uint64:
		n = int(v)
	case float64:
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}
