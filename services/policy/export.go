package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/services"
	"gopkg.in/yaml.v3"
)

// ExportFormat selects the serialization of an exported policy
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatYAML ExportFormat = "yaml"
)

// Content types of exported documents
const (
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "application/x-yaml"
)

// ExportDocument is the read-only projection of a policy handed out for download
type ExportDocument struct {
	Name          string            `json:"name" yaml:"name"`
	Description   string            `json:"description" yaml:"description"`
	PolicyType    models.PolicyType `json:"policy_type" yaml:"policy_type"`
	Configuration interface{}       `json:"configuration" yaml:"configuration"`
	Version       string            `json:"version" yaml:"version"`
	ExportedAt    time.Time         `json:"exported_at" yaml:"exported_at"`
	ExportedBy    string            `json:"exported_by" yaml:"exported_by"`
}

// ExportPolicy serializes a policy in the requested format and returns it with its content type
func (s *PolicyService) ExportPolicy(ctx context.Context, id uuid.UUID, format ExportFormat, actor string) ([]byte, string, error) {
	if format == "" {
		format = ExportFormatJSON
	}
	if format != ExportFormatJSON && format != ExportFormatYAML {
		return nil, "", services.NewValidation(fmt.Sprintf("unsupported export format %q", format))
	}

	policy, err := s.loadPolicy(ctx, id)
	if err != nil {
		return nil, "", err
	}

	doc := ExportDocument{
		Name:        policy.Name,
		Description: policy.Description,
		PolicyType:  policy.PolicyType,
		Version:     policy.Version,
		ExportedAt:  s.now(),
		ExportedBy:  actorOrDefault(actor),
	}

	switch format {
	case ExportFormatYAML:
		var configuration interface{}
		if err := json.Unmarshal(policy.Configuration, &configuration); err != nil {
			return nil, "", services.WrapInternal("stored policy configuration is malformed", err)
		}
		doc.Configuration = configuration

		data, err := yaml.Marshal(&doc)
		if err != nil {
			return nil, "", services.WrapInternal("failed to encode policy export", err)
		}
		return data, ContentTypeYAML, nil

	default:
		doc.Configuration = policy.Configuration

		data, err := json.MarshalIndent(&doc, "", "  ")
		if err != nil {
			return nil, "", services.WrapInternal("failed to encode policy export", err)
		}
		return data, ContentTypeJSON, nil
	}
}
