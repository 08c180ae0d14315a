package sla

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"riskflow/backend/internal/handlers"
	"riskflow/backend/internal/notify"
	"riskflow/backend/internal/repository"
	"riskflow/backend/pkg/models"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) (*notify.Ack, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return &notify.Ack{MessageID: "msg", Status: "sent"}, nil
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

type trackerFixture struct {
	tracker  *Tracker
	store    *repository.MemoryStore
	clock    *clock.Mock
	notifier *recordingNotifier
}

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	f := &trackerFixture{
		store:    repository.NewMemoryStore(),
		clock:    clock.NewMock(),
		notifier: &recordingNotifier{},
	}
	f.clock.Set(testStart)

	directory := notify.NewStaticDirectory(notify.Contacts{Default: map[string]string{
		"risk_manager": "managers@example.com",
		"cro":          "cro@example.com",
		"ceo":          "ceo@example.com",
	}})
	notifications := handlers.NewNotificationHandler(directory, f.notifier, time.Second)
	escalations := handlers.NewEscalationHandler(f.store, notifications)

	f.tracker = NewTracker(f.store, escalations, Options{
		TickInterval: time.Minute,
		Clock:        f.clock,
	})
	return f
}

func (f *trackerFixture) addRule(t *testing.T, rule *models.EscalationRule) {
	t.Helper()
	if rule.OrgID == "" {
		rule.OrgID = "org-1"
	}
	require.NoError(t, f.store.InsertEscalationRule(context.Background(), rule))
	f.tracker.InvalidateRules(rule.OrgID)
}

func (f *trackerFixture) addTask(t *testing.T, id string, severity models.Severity, due time.Time) {
	t.Helper()
	require.NoError(t, f.store.InsertTask(context.Background(), &models.Task{
		ID:           id,
		OrgID:        "org-1",
		ExecutionID:  "exec-1",
		WorkflowID:   "incident_response",
		StepID:       "assess",
		Name:         "Assess impact",
		AssignedRole: "risk_analyst",
		Severity:     severity,
		DueDate:      due,
		Status:       models.WorkItemPending,
		CreatedAt:    testStart,
	}))
}

func TestTracker_EscalatesOverdueTaskOnce(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:                  "rule-1",
		Name:                "overdue tasks",
		TriggerCondition:    "task:*",
		EscalationPath:      []string{"risk_manager", "cro"},
		TimeThresholdsHours: []int{0, 4},
	})
	f.addTask(t, "task-1", models.SeverityHigh, testStart.Add(time.Hour))

	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Breached)
	assert.Empty(t, report.Escalated)

	f.clock.Add(2 * time.Hour)

	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Breached)
	require.Len(t, report.Escalated, 1)
	assert.Equal(t, Escalation{
		Entity: models.EntityRef{Kind: models.EntityTask, ID: "task-1"},
		RuleID: "rule-1",
		Level:  1,
		Role:   "risk_manager",
	}, report.Escalated[0])

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "managers@example.com", msgs[0].To)
	assert.Equal(t, notify.UrgencyHigh, msgs[0].Urgency)
	assert.Equal(t, "escalation", msgs[0].TemplateID)

	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Escalated)
	assert.Len(t, f.notifier.messages(), 1)
}

func TestTracker_SecondLevelWaitsForThreshold(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:                  "rule-1",
		Name:                "overdue tasks",
		TriggerCondition:    "task:*",
		EscalationPath:      []string{"risk_manager", "cro"},
		TimeThresholdsHours: []int{0, 4},
	})
	due := testStart.Add(time.Hour)
	f.addTask(t, "task-1", models.SeverityHigh, due)

	f.clock.Set(due.Add(time.Minute))
	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Escalated, 1)

	f.clock.Set(due.Add(3 * time.Hour))
	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Escalated)

	f.clock.Set(due.Add(4 * time.Hour))
	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Escalated, 1)
	assert.Equal(t, 2, report.Escalated[0].Level)
	assert.Equal(t, "cro", report.Escalated[0].Role)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "cro@example.com", msgs[1].To)
}

func TestTracker_ExhaustionReportedOnce(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:               "rule-1",
		Name:             "single level",
		TriggerCondition: "*",
		EscalationPath:   []string{"risk_manager"},
	})
	f.addTask(t, "task-1", models.SeverityMedium, testStart.Add(-time.Hour))

	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Escalated, 1)
	assert.Empty(t, report.Exhausted)

	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Escalated)
	require.Len(t, report.Exhausted, 1)
	assert.Equal(t, 1, report.Exhausted[0].Level)

	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Exhausted)
	assert.Len(t, f.notifier.messages(), 1)
}

func TestTracker_RuleMatching(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:               "approvals-only",
		Name:             "approvals",
		TriggerCondition: "approval:*",
		EscalationPath:   []string{"cro"},
	})
	f.addRule(t, &models.EscalationRule{
		ID:               "critical-incidents",
		Name:             "critical incidents",
		TriggerCondition: "*:incident_*",
		Severity:         models.SeverityCritical,
		EscalationPath:   []string{"ceo"},
	})
	f.addTask(t, "task-high", models.SeverityHigh, testStart.Add(-time.Hour))
	f.addTask(t, "task-critical", models.SeverityCritical, testStart.Add(-time.Hour))

	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Breached)
	require.Len(t, report.Escalated, 1)
	assert.Equal(t, "task-critical", report.Escalated[0].Entity.ID)
	assert.Equal(t, "critical-incidents", report.Escalated[0].RuleID)
}

func TestTracker_OverdueExecutionAndApproval(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:               "all",
		Name:             "everything",
		TriggerCondition: "*",
		EscalationPath:   []string{"risk_manager"},
	})

	due := testStart.Add(-time.Minute)
	require.NoError(t, f.store.InsertExecution(ctx, &models.Execution{
		ID:         "exec-1",
		WorkflowID: "incident_response",
		OrgID:      "org-1",
		Status:     models.ExecutionRunning,
		Context:    map[string]any{"severity": "high"},
		StartedAt:  testStart.Add(-48 * time.Hour),
		DueAt:      &due,
	}))
	require.NoError(t, f.store.InsertApproval(ctx, &models.ApprovalRequest{
		ID:           "approval-1",
		OrgID:        "org-1",
		ExecutionID:  "exec-1",
		WorkflowID:   "incident_response",
		StepID:       "approve",
		Title:        "Approve",
		AssignedRole: "risk_manager",
		Severity:     models.SeverityHigh,
		DueDate:      due,
		Status:       models.WorkItemPending,
		CreatedAt:    testStart,
	}))

	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Breached)
	require.Len(t, report.Escalated, 2)

	kinds := []models.EntityKind{report.Escalated[0].Entity.Kind, report.Escalated[1].Entity.Kind}
	assert.ElementsMatch(t, []models.EntityKind{models.EntityApproval, models.EntityExecution}, kinds)
}

func TestTracker_ConcurrentTicksEscalateOnce(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:               "rule-1",
		Name:             "overdue",
		TriggerCondition: "*",
		EscalationPath:   []string{"risk_manager", "cro"},
		// second level far in the future
		TimeThresholdsHours: []int{0, 1000},
	})
	f.addTask(t, "task-1", models.SeverityHigh, testStart.Add(-time.Hour))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		escalated int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := f.tracker.Tick(ctx)
			assert.NoError(t, err)
			if report != nil {
				mu.Lock()
				escalated += len(report.Escalated)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, escalated)
	assert.Len(t, f.notifier.messages(), 1)
}

func TestTracker_InvalidTriggerCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:               "broken",
		Name:             "broken",
		TriggerCondition: "task:[",
		EscalationPath:   []string{"cro"},
	})
	f.addRule(t, &models.EscalationRule{
		ID:               "valid",
		Name:             "everything",
		TriggerCondition: "*",
		EscalationPath:   []string{"risk_manager"},
	})
	f.addTask(t, "task-1", models.SeverityHigh, testStart.Add(-time.Hour))
	f.addTask(t, "task-2", models.SeverityHigh, testStart.Add(-time.Hour))

	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Escalated, 2)
	assert.Equal(t, "valid", report.Escalated[0].RuleID)
	assert.Len(t, f.notifier.messages(), 2)

	// the valid rule stays cached; the broken one is reported on every tick
	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, report.Escalated)
}

func TestTracker_OverlappingRulesEscalateEntityOnce(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:                  "r1",
		Name:                "everything",
		TriggerCondition:    "*",
		EscalationPath:      []string{"risk_manager", "cro"},
		TimeThresholdsHours: []int{0, 24},
	})
	f.addRule(t, &models.EscalationRule{
		ID:                  "r2",
		Name:                "tasks",
		TriggerCondition:    "task:*",
		EscalationPath:      []string{"cro", "ceo"},
		TimeThresholdsHours: []int{0, 24},
	})
	f.addTask(t, "task-1", models.SeverityHigh, testStart.Add(-time.Hour))

	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Escalated, 1)
	assert.Equal(t, "r1", report.Escalated[0].RuleID)
	assert.Equal(t, 1, report.Escalated[0].Level)
	assert.Equal(t, "risk_manager", report.Escalated[0].Role)

	report, err = f.tracker.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Escalated)
	assert.Len(t, f.notifier.messages(), 1)

	st, err := f.store.GetEscalationState(ctx, models.EntityRef{Kind: models.EntityTask, ID: "task-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Level)
	assert.Equal(t, "r1", st.RuleID)
}

func TestTracker_MostSevereRuleGoverns(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:               "a-high",
		Name:             "overdue high severity tasks",
		TriggerCondition: "task:*",
		Severity:         models.SeverityHigh,
		EscalationPath:   []string{"risk_manager"},
	})
	f.addRule(t, &models.EscalationRule{
		ID:               "b-critical",
		Name:             "critical incidents",
		TriggerCondition: "*:incident_*",
		Severity:         models.SeverityCritical,
		EscalationPath:   []string{"ceo"},
	})
	f.addTask(t, "task-1", models.SeverityCritical, testStart.Add(-time.Hour))

	report, err := f.tracker.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Escalated, 1)
	assert.Equal(t, "b-critical", report.Escalated[0].RuleID)
	assert.Equal(t, "ceo", report.Escalated[0].Role)
}

func TestTracker_Run(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newTrackerFixture(t)
	f.addRule(t, &models.EscalationRule{
		ID:               "rule-1",
		Name:             "overdue",
		TriggerCondition: "*",
		EscalationPath:   []string{"risk_manager"},
	})
	f.addTask(t, "task-1", models.SeverityHigh, testStart.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tracker.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		f.clock.Add(time.Minute)
		return len(f.notifier.messages()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
