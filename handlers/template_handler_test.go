package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/deal-guardrails/models"
)

const termsTemplate = `{
	"name": "Net terms",
	"description": "Standard payment terms",
	"policy_type": "payment_terms",
	"default_configuration": {"max_terms_days": 30},
	"schema_definition": {
		"type": "object",
		"properties": {"max_terms_days": {"type": "integer", "maximum": 90}}
	}
}`

func TestTemplateHandler_CreateAndList(t *testing.T) {
	h := newTestRouter(t, "")

	w := do(t, h, http.MethodPost, "/templates", termsTemplate)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.PolicyTemplate
	decodeInto(t, w, &created)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, models.PolicyTypePaymentTerms, created.PolicyType)
	assert.JSONEq(t, `{"max_terms_days": 30}`, string(created.DefaultConfiguration))

	var templates []models.PolicyTemplate
	decodeInto(t, do(t, h, http.MethodGet, "/templates", ""), &templates)
	require.Len(t, templates, 1)
	assert.Equal(t, "Net terms", templates[0].Name)

	var fetched models.PolicyTemplate
	decodeInto(t, do(t, h, http.MethodGet, "/templates/"+created.ID.String(), ""), &fetched)
	assert.Equal(t, created.ID, fetched.ID)

	t.Run("rejections", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/templates", `{"name": "x", "default_configuration": {}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, h, http.MethodPost, "/templates",
			`{"name": "x", "policy_type": "bonus", "default_configuration": {}, "schema_definition": {"type": 12}}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
		assert.Len(t, decodeError(t, w).Details["errors"], 2)

		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/templates/x", "").Code)
		assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/templates/"+uuid.NewString(), "").Code)
	})
}

func TestTemplateHandler_CreateFromTemplate(t *testing.T) {
	h := newTestRouter(t, "")

	var template models.PolicyTemplate
	decodeInto(t, do(t, h, http.MethodPost, "/templates", termsTemplate), &template)
	path := "/templates/" + template.ID.String() + "/policies"

	t.Run("defaults", func(t *testing.T) {
		w := do(t, h, http.MethodPost, path, `{"priority": 3}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var p models.Policy
		decodeInto(t, w, &p)
		assert.Equal(t, "Net terms", p.Name)
		assert.Equal(t, models.PolicyStatusDraft, p.Status)
		assert.Equal(t, "alice", p.CreatedBy)
		require.NotNil(t, p.TemplateID)
		assert.Equal(t, template.ID, *p.TemplateID)
		assert.JSONEq(t, `{"max_terms_days": 30}`, string(p.Configuration))
	})

	t.Run("overrides", func(t *testing.T) {
		w := do(t, h, http.MethodPost, path, `{"name": "Net 60", "overrides": {"max_terms_days": 60}, "tags": ["emea"]}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var p models.Policy
		decodeInto(t, w, &p)
		assert.Equal(t, "Net 60", p.Name)
		assert.Equal(t, []string{"emea"}, p.Tags)

		var config map[string]interface{}
		require.NoError(t, json.Unmarshal(p.Configuration, &config))
		assert.EqualValues(t, 60, config["max_terms_days"])
	})

	t.Run("schema violation", func(t *testing.T) {
		w := do(t, h, http.MethodPost, path, `{"overrides": {"max_terms_days": 120}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	})

	t.Run("type rule violation", func(t *testing.T) {
		w := do(t, h, http.MethodPost, path, `{"overrides": {"max_terms_days": 0}}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	})

	t.Run("bad requests", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, path, `{"priority": -1}`).Code)
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/templates/x/policies", `{}`).Code)
		assert.Equal(t, http.StatusNotFound,
			do(t, h, http.MethodPost, "/templates/"+uuid.NewString()+"/policies", `{}`).Code)
	})
}
