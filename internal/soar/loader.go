package soar

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templatesFS embed.FS

// MaxImportBytes bounds an imported playbook document.
const MaxImportBytes = 256 * 1024

// PlaybookYAML is the YAML shape of a playbook document.
type PlaybookYAML struct {
	Name            string                `yaml:"name"`
	Description     string                `yaml:"description"`
	TriggerSeverity string                `yaml:"trigger_severity"`
	Enabled         *bool                 `yaml:"enabled"`
	Steps           []models.PlaybookStep `yaml:"steps"`
}

// ParsePlaybookYAML decodes a playbook document for tenantID. The result is not validated.
func ParsePlaybookYAML(tenantID uuid.UUID, data []byte) (*models.Playbook, error) {
	if len(data) == 0 {
		return nil, apperr.BadRequest("empty playbook document")
	}
	if len(data) > MaxImportBytes {
		return nil, apperr.BadRequest("playbook document exceeds %d bytes", MaxImportBytes)
	}

	var doc PlaybookYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(apperr.CodeBadRequest, "invalid playbook yaml", err)
	}

	p := models.NewPlaybook(tenantID, doc.Name, doc.Steps)
	p.Description = doc.Description
	if doc.TriggerSeverity != "" {
		p.TriggerSeverity = models.Severity(strings.ToLower(doc.TriggerSeverity))
	}
	if doc.Enabled != nil {
		p.IsEnabled = *doc.Enabled
	}
	return p, nil
}

// Import parses, validates and stores a playbook document.
func (s *Service) Import(ctx context.Context, tenantID uuid.UUID, data []byte) (*models.Playbook, error) {
	p, err := ParsePlaybookYAML(tenantID, data)
	if err != nil {
		return nil, err
	}
	if err := s.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Template is a built-in playbook that tenants can import.
type Template struct {
	Slug string `json:"slug"`
	// YAML is the original document, importable as-is.
	YAML     string           `json:"yaml"`
	Playbook *models.Playbook `json:"playbook"`
}

// LoadBuiltInTemplates loads the embedded playbook templates.
func LoadBuiltInTemplates() ([]Template, error) {
	entries, err := templatesFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read templates directory: %w", err)
	}

	var templates []Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := templatesFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read template file %s: %w", entry.Name(), err)
		}
		p, err := ParsePlaybookYAML(uuid.Nil, data)
		if err != nil {
			return nil, fmt.Errorf("parse template file %s: %w", entry.Name(), err)
		}
		slug := strings.TrimSuffix(entry.Name(), ".yaml")
		p.ID = templateID(slug)
		templates = append(templates, Template{Slug: slug, YAML: string(data), Playbook: p})
	}
	return templates, nil
}

// templateID is deterministic so a template keeps its ID across restarts.
func templateID(slug string) uuid.UUID {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return uuid.NewSHA1(namespace, []byte("aegis-playbook-template-"+slug))
}
