// Package graph validates and edits workflow definition graphs.
package graph

import (
	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

// Validate checks the structural invariants of a workflow definition. It
// returns nil or a *apperr.ValidationError naming the first violation.
func Validate(def *models.WorkflowDefinition) error {
	if def == nil || len(def.Nodes) == 0 {
		return apperr.Validationf("definition has no nodes")
	}

	nodes := make(map[string]models.WorkflowNode, len(def.Nodes))
	var start string
	starts, ends := 0, 0
	for _, n := range def.Nodes {
		if n.ID == "" {
			return apperr.Validationf("node with empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return apperr.Validationf("duplicate node id %q", n.ID)
		}
		if !n.Kind.Valid() {
			return apperr.Validationf("node %q has unknown kind %q", n.ID, n.Kind)
		}
		nodes[n.ID] = n
		switch n.Kind {
		case models.NodeStart:
			starts++
			start = n.ID
		case models.NodeEnd:
			ends++
		}
	}
	if starts != 1 {
		return apperr.Validationf("expected exactly one start node, found %d", starts)
	}
	if ends == 0 {
		return apperr.Validationf("definition has no end node")
	}

	out := make(map[string][]models.WorkflowEdge, len(nodes))
	incoming := make(map[string]int, len(nodes))
	for _, e := range def.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return apperr.Validationf("edge %s->%s references unknown source", e.Source, e.Target)
		}
		if _, ok := nodes[e.Target]; !ok {
			return apperr.Validationf("edge %s->%s references unknown target", e.Source, e.Target)
		}
		out[e.Source] = append(out[e.Source], e)
		incoming[e.Target]++
	}

	for _, n := range def.Nodes {
		switch n.Kind {
		case models.NodeEnd:
			if len(out[n.ID]) > 0 {
				return apperr.Validationf("end node %q has outgoing edges", n.ID)
			}
		case models.NodeDecision:
			if err := validateDecision(n, out[n.ID]); err != nil {
				return err
			}
		}
		if n.Kind != models.NodeStart && incoming[n.ID] == 0 {
			return apperr.Validationf("node %q has no incoming edge", n.ID)
		}
	}

	reached := reachable(start, out)
	for _, n := range def.Nodes {
		if !reached[n.ID] {
			return apperr.Validationf("node %q is unreachable from start", n.ID)
		}
	}

	return nil
}

func validateDecision(n models.WorkflowNode, edges []models.WorkflowEdge) error {
	if len(edges) < 2 {
		return apperr.Validationf("decision node %q needs at least two outgoing edges", n.ID)
	}
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if e.Condition == "" {
			return apperr.Validationf("decision node %q has a branch without condition", n.ID)
		}
		if seen[e.Condition] {
			return apperr.Validationf("decision node %q repeats condition %q", n.ID, e.Condition)
		}
		seen[e.Condition] = true
	}
	return nil
}

// reachable does a forward breadth-first walk from start.
func reachable(start string, out map[string][]models.WorkflowEdge) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range out[cur] {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return seen
}
