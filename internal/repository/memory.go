package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

// MemoryStore is an in-process Repository. It backs dev mode and tests;
// every read returns a copy so callers never share state with the store.
type MemoryStore struct {
	mu sync.Mutex

	executions  map[string]*models.Execution
	logs        map[string][]models.ExecutionLogEntry
	logSeq      int64
	tasks       map[string]*models.Task
	approvals   map[string]*models.ApprovalRequest
	rules       map[string]*models.EscalationRule
	escalations map[models.EntityRef]*models.EscalationState
	orgs        map[string]*models.Organization
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions:  make(map[string]*models.Execution),
		logs:        make(map[string][]models.ExecutionLogEntry),
		tasks:       make(map[string]*models.Task),
		approvals:   make(map[string]*models.ApprovalRequest),
		rules:       make(map[string]*models.EscalationRule),
		escalations: make(map[models.EntityRef]*models.EscalationState),
		orgs:        make(map[string]*models.Organization),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertExecution(_ context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return apperr.ErrConflict
	}
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, exec *models.Execution, expected models.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.executions[exec.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if cur.Status != expected {
		return apperr.ErrConflict
	}
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

func (s *MemoryStore) FindExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneExecution(exec), nil
}

func (s *MemoryStore) FindExecutionsByOrgAndStatus(_ context.Context, orgID string, status models.ExecutionStatus) ([]*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Execution
	for _, e := range s.executions {
		if e.OrgID == orgID && e.Status == status {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) FindExecutionsDueBefore(_ context.Context, status models.ExecutionStatus, t time.Time) ([]*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Execution
	for _, e := range s.executions {
		if e.Status == status && e.DueAt != nil && e.DueAt.Before(t) {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return out, nil
}

func (s *MemoryStore) AppendLogEntry(_ context.Context, entry *models.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logSeq++
	entry.Seq = s.logSeq
	stored := *entry
	stored.Input = models.CloneContext(entry.Input)
	stored.Output = models.CloneContext(entry.Output)
	s.logs[entry.ExecutionID] = append(s.logs[entry.ExecutionID], stored)
	return nil
}

func (s *MemoryStore) ListLogEntries(_ context.Context, executionID string) ([]models.ExecutionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[executionID]
	out := make([]models.ExecutionLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) InsertTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return apperr.ErrConflict
	}
	t := *task
	t.Context = models.CloneContext(task.Context)
	s.tasks[task.ID] = &t
	return nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return apperr.ErrNotFound
	}
	t := *task
	t.Context = models.CloneContext(task.Context)
	s.tasks[task.ID] = &t
	return nil
}

func (s *MemoryStore) FindTaskByID(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := *t
	out.Context = models.CloneContext(t.Context)
	return &out, nil
}

func (s *MemoryStore) FindTasksByOrgAndStatus(_ context.Context, orgID string, status models.WorkItemStatus) ([]*models.Task, error) {
	return s.filterTasks(func(t *models.Task) bool { return t.OrgID == orgID && t.Status == status }), nil
}

func (s *MemoryStore) FindTasksDueBefore(_ context.Context, status models.WorkItemStatus, at time.Time) ([]*models.Task, error) {
	return s.filterTasks(func(t *models.Task) bool { return t.Status == status && t.DueDate.Before(at) }), nil
}

func (s *MemoryStore) filterTasks(keep func(*models.Task) bool) []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if keep(t) {
			c := *t
			c.Context = models.CloneContext(t.Context)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

func (s *MemoryStore) InsertApproval(_ context.Context, approval *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[approval.ID]; ok {
		return apperr.ErrConflict
	}
	a := *approval
	a.Context = models.CloneContext(approval.Context)
	s.approvals[approval.ID] = &a
	return nil
}

func (s *MemoryStore) UpdateApproval(_ context.Context, approval *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[approval.ID]; !ok {
		return apperr.ErrNotFound
	}
	a := *approval
	a.Context = models.CloneContext(approval.Context)
	s.approvals[approval.ID] = &a
	return nil
}

func (s *MemoryStore) FindApprovalByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := *a
	out.Context = models.CloneContext(a.Context)
	return &out, nil
}

func (s *MemoryStore) FindApprovalsByOrgAndStatus(_ context.Context, orgID string, status models.WorkItemStatus) ([]*models.ApprovalRequest, error) {
	return s.filterApprovals(func(a *models.ApprovalRequest) bool { return a.OrgID == orgID && a.Status == status }), nil
}

func (s *MemoryStore) FindApprovalsDueBefore(_ context.Context, status models.WorkItemStatus, at time.Time) ([]*models.ApprovalRequest, error) {
	return s.filterApprovals(func(a *models.ApprovalRequest) bool { return a.Status == status && a.DueDate.Before(at) }), nil
}

func (s *MemoryStore) filterApprovals(keep func(*models.ApprovalRequest) bool) []*models.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ApprovalRequest
	for _, a := range s.approvals {
		if keep(a) {
			c := *a
			c.Context = models.CloneContext(a.Context)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

func (s *MemoryStore) InsertEscalationRule(_ context.Context, rule *models.EscalationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	r := *rule
	r.EscalationPath = append([]string(nil), rule.EscalationPath...)
	r.TimeThresholdsHours = append([]int(nil), rule.TimeThresholdsHours...)
	s.rules[r.ID] = &r
	return nil
}

func (s *MemoryStore) FindEscalationRulesByOrg(_ context.Context, orgID string) ([]*models.EscalationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.EscalationRule
	for _, r := range s.rules {
		if r.OrgID == orgID {
			c := *r
			c.EscalationPath = append([]string(nil), r.EscalationPath...)
			c.TimeThresholdsHours = append([]int(nil), r.TimeThresholdsHours...)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetEscalationState(_ context.Context, entity models.EntityRef) (*models.EscalationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.escalations[entity]; ok {
		out := *st
		return &out, nil
	}
	return &models.EscalationState{Entity: entity}, nil
}

func (s *MemoryStore) CompareAndSetEscalationLevel(_ context.Context, orgID string, entity models.EntityRef, ruleID string, expected, next int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.escalationState(orgID, entity)
	if st.Level != expected {
		return false, nil
	}
	st.Level = next
	st.RuleID = ruleID
	st.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) MarkEscalationExhausted(_ context.Context, orgID string, entity models.EntityRef, ruleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.escalationState(orgID, entity)
	if st.Exhausted {
		return false, nil
	}
	st.Exhausted = true
	st.RuleID = ruleID
	st.UpdatedAt = time.Now()
	return true, nil
}

// escalationState returns the stored state, creating it at level 0. The
// caller holds s.mu.
func (s *MemoryStore) escalationState(orgID string, entity models.EntityRef) *models.EscalationState {
	st, ok := s.escalations[entity]
	if !ok {
		st = &models.EscalationState{OrgID: orgID, Entity: entity}
		s.escalations[entity] = st
	}
	return st
}

func (s *MemoryStore) GetOrgByDomain(_ context.Context, domain string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orgs {
		if o.Domain == domain {
			out := *o
			return &out, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *MemoryStore) CreateOrg(_ context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orgs {
		if o.Domain == org.Domain {
			return apperr.ErrConflict
		}
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	now := time.Now()
	org.CreatedAt, org.UpdatedAt = now, now
	out := *org
	s.orgs[org.ID] = &out
	return nil
}

func cloneExecution(e *models.Execution) *models.Execution {
	out := *e
	out.Context = models.CloneContext(e.Context)
	if e.DueAt != nil {
		t := *e.DueAt
		out.DueAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
