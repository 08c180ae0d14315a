package plan

import "riskflow/backend/pkg/models"

func defaultPlan() []models.StepSpec {
	return []models.StepSpec{
		{ID: "review", Name: "Review", Kind: models.StepTask, AssignedRole: "risk_analyst", Position: 0},
		{ID: "approve", Name: "Approval", Kind: models.StepApproval, AssignedRole: "risk_manager", Position: 1},
	}
}

func builtinPlans() map[string][]models.StepSpec {
	return map[string][]models.StepSpec{
		"incident_response": {
			{ID: "assessment", Name: "Incident assessment", Kind: models.StepTask, AssignedRole: "incident_manager", DueHours: models.Hours(1)},
			{ID: "notify_management", Name: "Management notification", Kind: models.StepNotification, AssignedRole: "risk_manager"},
			{ID: "manager_approval", Name: "Manager approval", Kind: models.StepApproval, AssignedRole: "risk_manager", DueHours: models.Hours(4)},
			{ID: "executive_escalation", Name: "Executive escalation", Kind: models.StepEscalation, AssignedRole: "cro", DueHours: models.Hours(8)},
		},
		"policy_review": {
			{ID: "draft_review", Name: "Policy review", Kind: models.StepTask, AssignedRole: "policy_owner", DueHours: models.Hours(72)},
			{ID: "compliance_approval", Name: "Compliance approval", Kind: models.StepApproval, AssignedRole: "compliance_officer", DueHours: models.Hours(48)},
			{ID: "publish_notice", Name: "Publication notice", Kind: models.StepNotification, AssignedRole: "all_staff"},
		},
		"kri_breach": {
			{ID: "notify_owner", Name: "KRI owner notification", Kind: models.StepNotification, AssignedRole: "kri_owner"},
			{ID: "root_cause", Name: "Root cause analysis", Kind: models.StepTask, AssignedRole: "kri_owner", DueHours: models.Hours(24)},
			{ID: "remediation_approval", Name: "Remediation plan approval", Kind: models.StepApproval, AssignedRole: "risk_manager", DueHours: models.Hours(24)},
			{ID: "risk_committee", Name: "Risk committee escalation", Kind: models.StepEscalation, AssignedRole: "risk_committee", DueHours: models.Hours(48)},
		},
		"control_testing": {
			{ID: "test_execution", Name: "Control test", Kind: models.StepTask, AssignedRole: "control_owner", DueHours: models.Hours(120)},
			{ID: "test_review", Name: "Test review", Kind: models.StepApproval, AssignedRole: "internal_audit", DueHours: models.Hours(72)},
		},
		"vendor_assessment": {
			{ID: "questionnaire", Name: "Vendor questionnaire", Kind: models.StepTask, AssignedRole: "vendor_manager", DueHours: models.Hours(168)},
			{ID: "security_review", Name: "Security review", Kind: models.StepTask, AssignedRole: "security_analyst", DueHours: models.Hours(72)},
			{ID: "vendor_approval", Name: "Vendor approval", Kind: models.StepApproval, AssignedRole: "procurement_lead", DueHours: models.Hours(48)},
			{ID: "notify_procurement", Name: "Procurement notification", Kind: models.StepNotification, AssignedRole: "procurement"},
		},
	}
}
