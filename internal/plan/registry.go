// Package plan resolves a workflow identifier to the ordered steps the
// engine executes.
package plan

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/graph"
	"riskflow/backend/pkg/models"
)

// DefaultCategory is the key of the plan used for unknown workflow ids.
const DefaultCategory = "default"

// Registry maps workflow categories to step plans by exact key.
type Registry struct {
	mu    sync.RWMutex
	plans map[string][]models.StepSpec
}

// NewRegistry returns a registry holding only the default plan.
func NewRegistry() *Registry {
	r := &Registry{plans: make(map[string][]models.StepSpec)}
	r.plans[DefaultCategory] = defaultPlan()
	return r
}

// NewBuiltinRegistry returns a registry preloaded with the built-in risk
// and compliance plans.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for category, steps := range builtinPlans() {
		if err := r.Register(category, steps); err != nil {
			panic(fmt.Sprintf("builtin plan %s: %v", category, err))
		}
	}
	return r
}

// Register adds or replaces the plan for a category.
func (r *Registry) Register(category string, steps []models.StepSpec) error {
	if category == "" {
		return apperr.Validationf("plan category is empty")
	}
	normalized, err := normalize(steps)
	if err != nil {
		return fmt.Errorf("plan %s: %w", category, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[category] = normalized
	return nil
}

// RegisterDefinition derives a plan from a graph definition and registers it
// under the definition id.
func (r *Registry) RegisterDefinition(def *models.WorkflowDefinition) error {
	steps, err := graph.Linearize(def)
	if err != nil {
		return err
	}
	return r.Register(def.ID, steps)
}

// Resolve returns a copy of the plan registered for workflowID, or of the
// default plan when there is none.
func (r *Registry) Resolve(workflowID string) ([]models.StepSpec, error) {
	if workflowID == "" {
		return nil, apperr.Validationf("workflow_id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	steps, ok := r.plans[workflowID]
	if !ok {
		steps = r.plans[DefaultCategory]
	}
	return cloneSteps(steps), nil
}

// Has reports whether a category has its own plan.
func (r *Registry) Has(category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plans[category]
	return ok
}

// Categories lists the registered categories in sorted order.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plans))
	for k := range r.plans {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// File is the on-disk form of additional plans.
type File struct {
	Plans       map[string][]models.StepSpec `yaml:"plans"`
	Definitions []string                     `yaml:"definitions"`
}

// LoadFile registers every plan and graph definition listed in a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading plans file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decoding plans file: %w", err)
	}
	for category, steps := range f.Plans {
		if err := r.Register(category, steps); err != nil {
			return err
		}
	}
	for _, defPath := range f.Definitions {
		def, err := graph.LoadFile(defPath)
		if err != nil {
			return fmt.Errorf("definition %s: %w", defPath, err)
		}
		if err := r.RegisterDefinition(def); err != nil {
			return fmt.Errorf("definition %s: %w", defPath, err)
		}
	}
	return nil
}

func normalize(steps []models.StepSpec) ([]models.StepSpec, error) {
	if len(steps) == 0 {
		return nil, apperr.Validationf("plan has no steps")
	}
	seen := make(map[string]bool, len(steps))
	out := cloneSteps(steps)
	for i := range out {
		s := &out[i]
		if s.ID == "" {
			return nil, apperr.Validationf("step %d has no id", i)
		}
		if seen[s.ID] {
			return nil, apperr.Validationf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		if !s.Kind.Valid() {
			return nil, apperr.Validationf("step %q has unknown kind %q", s.ID, s.Kind)
		}
		if s.DueHours != nil && *s.DueHours < 0 {
			return nil, apperr.Validationf("step %q has negative due hours", s.ID)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		s.Position = i
	}
	return out, nil
}

func cloneSteps(in []models.StepSpec) []models.StepSpec {
	out := make([]models.StepSpec, len(in))
	for i, s := range in {
		if s.DueHours != nil {
			s.DueHours = models.Hours(*s.DueHours)
		}
		out[i] = s
	}
	return out
}
