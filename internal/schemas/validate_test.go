package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedSchemas(t *testing.T) {
	for _, name := range []string{TitleAssessment, RunSummary} {
		t.Run(name, func(t *testing.T) {
			content, err := Load(name)
			require.NoError(t, err)
			assert.Contains(t, content, `"$schema"`)
		})
	}
}

func TestLoad_UnknownSchema(t *testing.T) {
	_, err := Load("nope")
	require.Error(t, err)

	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, loadErr.Path, "nope")
}

func TestValidate_TitleAssessment(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"ok without suggestion", `{"name_quality":"ok","suggested_title":null}`, false},
		{"weak with suggestion", `{"name_quality":"weak","suggested_title":"Better Title"}`, false},
		{"suggestion omitted", `{"name_quality":"cant_generate"}`, false},
		{"unknown quality", `{"name_quality":"great","suggested_title":null}`, true},
		{"missing quality", `{"suggested_title":"x"}`, true},
		{"suggestion wrong type", `{"name_quality":"weak","suggested_title":42}`, true},
		{"not an object", `["ok"]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(TitleAssessment, tt.doc)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_MalformedDocument(t *testing.T) {
	err := Validate(TitleAssessment, `{"name_quality":`)
	require.Error(t, err)

	var loadErr *SchemaLoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestValidate_RunSummary(t *testing.T) {
	doc := `{"ingested":3,"flagged_issues":1,"example_improved_title":"Bench","example_prompt":null,"run_id":"abc"}`
	assert.NoError(t, Validate(RunSummary, doc))

	err := Validate(RunSummary, `{"ingested":-1,"flagged_issues":0,"example_improved_title":null,"example_prompt":null}`)
	require.Error(t, err)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.NotEmpty(t, vErr.Errors)
}

func TestValidateJSONString_Invalid(t *testing.T) {
	schema := `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`

	err := ValidateJSONString(schema, `{"age":30}`)
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "name_quality", Message: "is required"},
			{Field: "suggested_title", Message: "invalid type"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "validation failed")
	assert.Contains(t, msg, "1. name_quality: is required")
	assert.Contains(t, msg, "2. suggested_title: invalid type")
}
