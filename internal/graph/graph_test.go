package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

func linearDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID: "policy_review",
		Nodes: []models.WorkflowNode{
			{ID: "start", Kind: models.NodeStart},
			{ID: "draft", Kind: models.NodeTask, Label: "Draft review", Configuration: map[string]any{"role": "policy_owner", "due_hours": 72}},
			{ID: "notify", Kind: models.NodeNotification, Label: "Notify compliance", Configuration: map[string]any{"role": "compliance"}},
			{ID: "approve", Kind: models.NodeApproval, Label: "Sign off", Configuration: map[string]any{"assigned_role": "cro", "due_hours": float64(48)}},
			{ID: "end", Kind: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "start", Target: "draft"},
			{Source: "draft", Target: "notify"},
			{Source: "notify", Target: "approve"},
			{Source: "approve", Target: "end"},
		},
	}
}

func decisionDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID: "kri",
		Nodes: []models.WorkflowNode{
			{ID: "start", Kind: models.NodeStart},
			{ID: "check", Kind: models.NodeDecision},
			{ID: "escalate", Kind: models.NodeTask},
			{ID: "end", Kind: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "start", Target: "check"},
			{Source: "check", Target: "escalate", Condition: "breach"},
			{Source: "check", Target: "end", Condition: "ok"},
			{Source: "escalate", Target: "end"},
		},
	}
}

func requireValidationError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
}

func TestValidate_ValidDefinitions(t *testing.T) {
	assert.NoError(t, Validate(linearDefinition()))
	assert.NoError(t, Validate(decisionDefinition()))
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.WorkflowDefinition)
	}{
		{"no nodes", func(d *models.WorkflowDefinition) { d.Nodes = nil }},
		{"two starts", func(d *models.WorkflowDefinition) {
			d.Nodes = append(d.Nodes, models.WorkflowNode{ID: "start2", Kind: models.NodeStart})
		}},
		{"no end", func(d *models.WorkflowDefinition) {
			d.Nodes[4].Kind = models.NodeTask
		}},
		{"dangling edge", func(d *models.WorkflowDefinition) {
			d.Edges = append(d.Edges, models.WorkflowEdge{Source: "draft", Target: "ghost"})
		}},
		{"end with outgoing edge", func(d *models.WorkflowDefinition) {
			d.Edges = append(d.Edges, models.WorkflowEdge{Source: "end", Target: "draft"})
		}},
		{"unreachable node", func(d *models.WorkflowDefinition) {
			d.Nodes = append(d.Nodes, models.WorkflowNode{ID: "island", Kind: models.NodeTask}, models.WorkflowNode{ID: "island2", Kind: models.NodeTask})
			d.Edges = append(d.Edges, models.WorkflowEdge{Source: "island", Target: "island2"}, models.WorkflowEdge{Source: "island2", Target: "island"})
		}},
		{"node without incoming edge", func(d *models.WorkflowDefinition) {
			d.Nodes = append(d.Nodes, models.WorkflowNode{ID: "orphan", Kind: models.NodeTask})
		}},
		{"duplicate id", func(d *models.WorkflowDefinition) {
			d.Nodes = append(d.Nodes, models.WorkflowNode{ID: "draft", Kind: models.NodeTask})
		}},
		{"unknown kind", func(d *models.WorkflowDefinition) { d.Nodes[1].Kind = "teleport" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := linearDefinition()
			tt.mutate(def)
			requireValidationError(t, Validate(def))
		})
	}
}

func TestValidate_DecisionBranches(t *testing.T) {
	def := decisionDefinition()
	def.Edges[2].Condition = "breach"
	requireValidationError(t, Validate(def))

	def = decisionDefinition()
	def.Edges[2].Condition = ""
	requireValidationError(t, Validate(def))
}

func TestValidate_ReworkLoopToStart(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID: "rework",
		Nodes: []models.WorkflowNode{
			{ID: "start", Kind: models.NodeStart},
			{ID: "review", Kind: models.NodeTask},
			{ID: "check", Kind: models.NodeDecision},
			{ID: "end", Kind: models.NodeEnd},
		},
		Edges: []models.WorkflowEdge{
			{Source: "start", Target: "review"},
			{Source: "review", Target: "check"},
			{Source: "check", Target: "end", Condition: "approved"},
			{Source: "check", Target: "start", Condition: "rework"},
		},
	}
	assert.NoError(t, Validate(def))

	_, err := Linearize(def)
	requireValidationError(t, err)
}

func TestValidate_RemovingStartAlwaysFails(t *testing.T) {
	for _, def := range []*models.WorkflowDefinition{linearDefinition(), decisionDefinition()} {
		ed, err := NewEditor(def)
		require.NoError(t, err)

		requireValidationError(t, ed.RemoveNode("start"))
		assert.NoError(t, Validate(ed.Definition()), "rejected mutation must not change the definition")
	}
}

func TestEditor_Mutations(t *testing.T) {
	ed, err := NewEditor(linearDefinition())
	require.NoError(t, err)

	// Removing a middle node orphans its successor.
	requireValidationError(t, ed.RemoveNode("notify"))

	// Adding a node with no edges leaves it unreachable.
	requireValidationError(t, ed.AddNode(models.WorkflowNode{ID: "extra", Kind: models.NodeTask}))

	err = ed.AddNode(
		models.WorkflowNode{ID: "extra", Kind: models.NodeTask},
		models.WorkflowEdge{Source: "draft", Target: "extra"},
		models.WorkflowEdge{Source: "extra", Target: "end"},
	)
	require.NoError(t, err)
	assert.Len(t, ed.Definition().Nodes, 6)

	require.NoError(t, ed.RemoveNode("extra"))
	assert.Len(t, ed.Definition().Nodes, 5)
	assert.Len(t, ed.Definition().Edges, 4)

	requireValidationError(t, ed.RemoveEdge("start", "draft"))
	requireValidationError(t, ed.RemoveEdge("draft", "end"))
	requireValidationError(t, ed.AddEdge(models.WorkflowEdge{Source: "end", Target: "draft"}))

	require.NoError(t, ed.AddEdge(models.WorkflowEdge{Source: "draft", Target: "approve"}))
	require.NoError(t, ed.RemoveEdge("draft", "approve"))
}

func TestLinearize(t *testing.T) {
	steps, err := Linearize(linearDefinition())
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, models.StepTask, steps[0].Kind)
	assert.Equal(t, "policy_owner", steps[0].AssignedRole)
	require.NotNil(t, steps[0].DueHours)
	assert.Equal(t, 72, *steps[0].DueHours)

	assert.Equal(t, models.StepNotification, steps[1].Kind)
	assert.Nil(t, steps[1].DueHours)

	assert.Equal(t, models.StepApproval, steps[2].Kind)
	assert.Equal(t, "cro", steps[2].AssignedRole)
	assert.Equal(t, 48, *steps[2].DueHours)
	assert.Equal(t, 2, steps[2].Position)
}

func TestLinearize_RejectsBranching(t *testing.T) {
	_, err := Linearize(decisionDefinition())
	requireValidationError(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "review.yaml")
	doc := `
id: vendor_review
nodes:
  - id: start
    kind: start
  - id: assess
    kind: task
    label: Assess vendor
    configuration:
      role: vendor_manager
      due_hours: 24
    position: {x: 10, y: 20}
  - id: end
    kind: end
edges:
  - {source: start, target: assess}
  - {source: assess, target: end}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	def, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "vendor_review", def.ID)
	require.NotNil(t, def.Nodes[1].Position)
	assert.Equal(t, float64(20), def.Nodes[1].Position.Y)

	steps, err := Linearize(def)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 24, *steps[0].DueHours)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id":"x","nodes":[{"id":"a","kind":"task"}]}`), 0o600))
	_, err = LoadFile(bad)
	requireValidationError(t, err)
}
