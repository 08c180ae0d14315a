package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/config"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/repository"
	"riskflow/backend/internal/services"
	"riskflow/backend/pkg/models"
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "", "Path to config file")
	domain := flag.String("domain", "localhost", "Domain of the organization to seed")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	pool, err := services.Connect(ctx, cfg.DSN(), logger)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(cfg.DSN()); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}

	store := repository.NewPostgresStore(pool)
	if err := seed(ctx, store, *domain, logger); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	logger.Info("Seeding complete!")
}

// defaultRules are the escalation rules every seeded organization starts with.
var defaultRules = []models.EscalationRule{
	{
		Name:                "Overdue approvals",
		TriggerCondition:    "approval:*",
		EscalationPath:      []string{"risk_manager", "cro"},
		TimeThresholdsHours: []int{0, 24},
	},
	{
		Name:                "Overdue high severity tasks",
		TriggerCondition:    "task:*",
		Severity:            models.SeverityHigh,
		EscalationPath:      []string{"risk_manager"},
		TimeThresholdsHours: []int{4},
	},
	{
		Name:                "Critical incidents",
		TriggerCondition:    "*:incident_response",
		Severity:            models.SeverityCritical,
		EscalationPath:      []string{"cro", "ceo"},
		TimeThresholdsHours: []int{0, 4},
	},
	{
		Name:                "Stalled executions",
		TriggerCondition:    "execution:*",
		EscalationPath:      []string{"risk_committee"},
		TimeThresholdsHours: []int{24},
	},
}

// seed creates the organization for domain and any default rule it lacks.
func seed(ctx context.Context, store repository.Repository, domain string, logger *logging.Logger) error {
	// 1. Ensure the organization exists
	org, err := store.GetOrgByDomain(ctx, domain)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		logger.Info("Creating organization", "domain", domain)
		org = &models.Organization{Name: "Local Dev Organization", Domain: domain}
		if err := store.CreateOrg(ctx, org); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		logger.Info("Found existing organization", "id", org.ID)
	}

	// 2. Check for existing rules to prevent duplicates
	existing, err := store.FindEscalationRulesByOrg(ctx, org.ID)
	if err != nil {
		return err
	}
	existingMap := make(map[string]bool, len(existing))
	for _, r := range existing {
		existingMap[r.Name] = true
	}

	// 3. Create the default rules
	for _, r := range defaultRules {
		if existingMap[r.Name] {
			logger.Info("Skipping existing rule", "name", r.Name)
			continue
		}
		rule := r
		rule.OrgID = org.ID
		if err := store.InsertEscalationRule(ctx, &rule); err != nil {
			return err
		}
		logger.Info("Seeded escalation rule", "name", rule.Name, "id", rule.ID)
	}
	return nil
}
