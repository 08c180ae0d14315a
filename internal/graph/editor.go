package graph

import (
	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

// Editor applies mutations to a definition only when the result still
// validates. Each mutation runs against a copy first.
type Editor struct {
	def *models.WorkflowDefinition
}

// NewEditor returns an editor over a copy of def, which must already be valid.
func NewEditor(def *models.WorkflowDefinition) (*Editor, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}
	return &Editor{def: def.Clone()}, nil
}

// Definition returns a copy of the current definition.
func (e *Editor) Definition() *models.WorkflowDefinition {
	return e.def.Clone()
}

// AddNode inserts a node together with the edges that connect it. A node
// added without edges is unreachable and is therefore rejected.
func (e *Editor) AddNode(node models.WorkflowNode, edges ...models.WorkflowEdge) error {
	return e.apply(func(d *models.WorkflowDefinition) error {
		for _, n := range d.Nodes {
			if n.ID == node.ID {
				return apperr.Validationf("duplicate node id %q", node.ID)
			}
		}
		d.Nodes = append(d.Nodes, node)
		d.Edges = append(d.Edges, edges...)
		return nil
	})
}

// RemoveNode deletes a node and every edge touching it.
func (e *Editor) RemoveNode(id string) error {
	return e.apply(func(d *models.WorkflowDefinition) error {
		idx := -1
		for i, n := range d.Nodes {
			if n.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperr.Validationf("node %q does not exist", id)
		}
		d.Nodes = append(d.Nodes[:idx], d.Nodes[idx+1:]...)

		kept := d.Edges[:0]
		for _, edge := range d.Edges {
			if edge.Source != id && edge.Target != id {
				kept = append(kept, edge)
			}
		}
		d.Edges = kept
		return nil
	})
}

// AddEdge connects two existing nodes.
func (e *Editor) AddEdge(edge models.WorkflowEdge) error {
	return e.apply(func(d *models.WorkflowDefinition) error {
		for _, existing := range d.Edges {
			if existing == edge {
				return apperr.Validationf("edge %s->%s already exists", edge.Source, edge.Target)
			}
		}
		d.Edges = append(d.Edges, edge)
		return nil
	})
}

// RemoveEdge deletes the edge between source and target. When several edges
// connect the pair (decision branches) all of them are removed.
func (e *Editor) RemoveEdge(source, target string) error {
	return e.apply(func(d *models.WorkflowDefinition) error {
		kept := d.Edges[:0]
		removed := 0
		for _, edge := range d.Edges {
			if edge.Source == source && edge.Target == target {
				removed++
				continue
			}
			kept = append(kept, edge)
		}
		if removed == 0 {
			return apperr.Validationf("edge %s->%s does not exist", source, target)
		}
		d.Edges = kept
		return nil
	})
}

func (e *Editor) apply(mutate func(*models.WorkflowDefinition) error) error {
	candidate := e.def.Clone()
	if err := mutate(candidate); err != nil {
		return err
	}
	if err := Validate(candidate); err != nil {
		return err
	}
	e.def = candidate
	return nil
}
