package models

// NodeKind is the type of a node in a workflow definition graph
type NodeKind string

const (
	NodeStart         NodeKind = "start"
	NodeTask          NodeKind = "task"
	NodeDecision      NodeKind = "decision"
	NodeParallel      NodeKind = "parallel"
	NodeMerge         NodeKind = "merge"
	NodeDelay         NodeKind = "delay"
	NodeTrigger       NodeKind = "trigger"
	NodeEnd           NodeKind = "end"
	NodeApproval      NodeKind = "approval"
	NodeNotification  NodeKind = "notification"
	NodeDataTransform NodeKind = "data_transform"
	NodeValidation    NodeKind = "validation"
	NodeIntegration   NodeKind = "integration"
	NodeMLPrediction  NodeKind = "ml_prediction"
)

var nodeKinds = map[NodeKind]struct{}{
	NodeStart: {}, NodeTask: {}, NodeDecision: {}, NodeParallel: {}, NodeMerge: {},
	NodeDelay: {}, NodeTrigger: {}, NodeEnd: {}, NodeApproval: {}, NodeNotification: {},
	NodeDataTransform: {}, NodeValidation: {}, NodeIntegration: {}, NodeMLPrediction: {},
}

// Valid reports whether k is part of the node vocabulary.
func (k NodeKind) Valid() bool {
	_, ok := nodeKinds[k]
	return ok
}

// Position is the canvas location of a node. The engine never reads it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// WorkflowNode represents a single node of a workflow definition
type WorkflowNode struct {
	ID            string         `json:"id" yaml:"id"`
	Kind          NodeKind       `json:"kind" yaml:"kind"`
	Label         string         `json:"label" yaml:"label"`
	Configuration map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Position      *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// WorkflowEdge connects two nodes. Condition is only meaningful on edges
// leaving a decision node.
type WorkflowEdge struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// WorkflowDefinition is the graph model of a workflow
type WorkflowDefinition struct {
	ID    string         `json:"id" yaml:"id"`
	Name  string         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []WorkflowNode `json:"nodes" yaml:"nodes"`
	Edges []WorkflowEdge `json:"edges" yaml:"edges"`
}

// Clone returns a deep copy of the node and edge lists. Node configuration
// maps are copied one level deep.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	out := &WorkflowDefinition{
		ID:    d.ID,
		Name:  d.Name,
		Nodes: make([]WorkflowNode, len(d.Nodes)),
		Edges: make([]WorkflowEdge, len(d.Edges)),
	}
	for i, n := range d.Nodes {
		if n.Configuration != nil {
			n.Configuration = CloneContext(n.Configuration)
		}
		if n.Position != nil {
			p := *n.Position
			n.Position = &p
		}
		out.Nodes[i] = n
	}
	copy(out.Edges, d.Edges)
	return out
}

// StepKind is the type of a resolved, executable step
type StepKind string

const (
	StepTask         StepKind = "task"
	StepApproval     StepKind = "approval"
	StepNotification StepKind = "notification"
	StepEscalation   StepKind = "escalation"
)

// Valid reports whether k has a step handler.
func (k StepKind) Valid() bool {
	switch k {
	case StepTask, StepApproval, StepNotification, StepEscalation:
		return true
	}
	return false
}

// StepSpec is one executable step of a resolved plan
type StepSpec struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Kind         StepKind `json:"kind" yaml:"kind"`
	AssignedRole string   `json:"assigned_role" yaml:"assigned_role"`
	DueHours     *int     `json:"due_hours,omitempty" yaml:"due_hours,omitempty"`
	Position     int      `json:"position" yaml:"position"`
}

// Hours returns a due-hours pointer, for building plans.
func Hours(h int) *int {
	return &h
}
