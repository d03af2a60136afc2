package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"go.uber.org/zap"
)

// Actor is recorded on every audit entry the catalogue writes
const Actor = "system:catalog"

// TemplateWriter creates and updates system templates
type TemplateWriter interface {
	CreateSystemTemplate(ctx context.Context, id uuid.UUID, fields models.RuleFields, actor string) (*models.RuleTemplate, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, fields models.RuleFields, expectedVersion int64, actor string) (*models.RuleTemplate, error)
}

// CapabilityWriter registers capabilities
type CapabilityWriter interface {
	CreateCapability(ctx context.Context, name, description string, tags []string, actor string) (*models.Capability, error)
}

// Report summarizes one sync
type Report struct {
	TemplatesCreated    int `json:"templates_created"`
	TemplatesUpdated    int `json:"templates_updated"`
	TemplatesUnchanged  int `json:"templates_unchanged"`
	TemplatesSkipped    int `json:"templates_skipped"`
	CapabilitiesCreated int `json:"capabilities_created"`
}

// Syncer applies a catalogue through the rules and capability services, so
// every change is versioned and audited like any other mutation
type Syncer struct {
	templates    repositories.RuleTemplateRepository
	capabilities repositories.CapabilityRepository
	rules        TemplateWriter
	caps         CapabilityWriter
	logger       *zap.Logger
}

// NewSyncer creates a new Syncer
func NewSyncer(repos *repositories.Repositories, rules TemplateWriter, caps CapabilityWriter, logger *zap.Logger) *Syncer {
	return &Syncer{
		templates:    repos.Templates,
		capabilities: repos.Capabilities,
		rules:        rules,
		caps:         caps,
		logger:       logger,
	}
}

// SyncFile loads the catalogue at path and syncs it
func (s *Syncer) SyncFile(ctx context.Context, path string) (*Report, error) {
	cat, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	report, err := s.Sync(ctx, cat)
	if err != nil {
		return report, err
	}
	s.logger.Info("catalog synced",
		zap.String("path", path),
		zap.Int("templates_created", report.TemplatesCreated),
		zap.Int("templates_updated", report.TemplatesUpdated),
		zap.Int("templates_skipped", report.TemplatesSkipped),
		zap.Int("capabilities_created", report.CapabilitiesCreated),
	)
	return report, nil
}

// Sync creates missing templates and capabilities and updates templates
// whose fields changed. Deleted templates are not resurrected. Existing
// capabilities are left as they are.
func (s *Syncer) Sync(ctx context.Context, cat *Catalog) (*Report, error) {
	report := &Report{}

	for _, spec := range cat.Templates {
		if err := s.syncTemplate(ctx, spec, report); err != nil {
			return report, fmt.Errorf("template %s: %w", spec.ID, err)
		}
	}

	for _, spec := range cat.Capabilities {
		_, err := s.capabilities.GetByName(ctx, spec.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return report, fmt.Errorf("capability %q: %w", spec.Name, err)
		}
		if _, err := s.caps.CreateCapability(ctx, spec.Name, spec.Description, spec.Tags, Actor); err != nil {
			return report, fmt.Errorf("capability %q: %w", spec.Name, err)
		}
		report.CapabilitiesCreated++
	}

	return report, nil
}

func (s *Syncer) syncTemplate(ctx context.Context, spec TemplateSpec, report *Report) error {
	fields := spec.Fields()

	cur, err := s.templates.GetByID(ctx, spec.ID)
	if errors.Is(err, repositories.ErrNotFound) {
		if _, err := s.rules.CreateSystemTemplate(ctx, spec.ID, fields, Actor); err != nil {
			return err
		}
		report.TemplatesCreated++
		return nil
	}
	if err != nil {
		return err
	}

	if cur.IsDeleted() {
		s.logger.Warn("catalog template was deleted, skipping",
			zap.String("template_id", spec.ID.String()),
		)
		report.TemplatesSkipped++
		return nil
	}

	if len(cur.RuleFields.Diff(fields)) == 0 {
		report.TemplatesUnchanged++
		return nil
	}

	if _, err := s.rules.UpdateTemplate(ctx, spec.ID, fields, cur.Version, Actor); err != nil {
		if services.IsConflictError(err) {
			// Someone else updated it since we read it; the next sync retries.
			s.logger.Warn("catalog template changed concurrently, skipping",
				zap.String("template_id", spec.ID.String()),
			)
			report.TemplatesSkipped++
			return nil
		}
		return err
	}
	report.TemplatesUpdated++
	return nil
}
