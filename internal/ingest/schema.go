package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxSchemaMessages = 10

const batchSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["fileName", "requisitions"],
  "properties": {
    "fileName": {"type": "string", "minLength": 1, "maxLength": 255},
    "originalFileName": {"type": ["string", "null"], "maxLength": 255},
    "uploadedBy": {"type": ["string", "null"], "maxLength": 255},
    "metadata": {"type": ["object", "null"]},
    "requisitions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["businessUnit", "requesterUsernameOrEmail", "lines"],
        "properties": {
          "businessUnit": {"type": "string"},
          "requesterUsernameOrEmail": {"type": "string"},
          "deliverToLocation": {"type": "string"},
          "description": {"type": "string"},
          "externalReference": {"type": "string", "maxLength": 255},
          "submit": {"type": "boolean"},
          "lines": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "itemNumber": {"type": "string"},
                "description": {"type": "string"},
                "supplierNumber": {"type": "string"},
                "quantity": {"type": ["number", "string"]},
                "unitPrice": {"type": ["number", "string"]},
                "costCenter": {"type": "string"},
                "projectNumber": {"type": "string"},
                "deliverToLocation": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var batchSchema = jsonschema.MustCompileString("batch.json", batchSchemaJSON)

// BatchPayload is the JSON body accepted for batch creation.
type BatchPayload struct {
	FileName         string                      `json:"fileName"`
	OriginalFileName *string                     `json:"originalFileName,omitempty"`
	UploadedBy       *string                     `json:"uploadedBy,omitempty"`
	Metadata         map[string]any              `json:"metadata,omitempty"`
	Requisitions     []domain.RequisitionRequest `json:"requisitions"`
}

// DecodeBatchJSON validates data against the batch schema and decodes it.
func DecodeBatchJSON(data []byte) (*BatchPayload, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}

	if err := batchSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(schemaMessages(ve), "; "))
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var payload BatchPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return &payload, nil
}

// schemaMessages flattens the leaf causes of a validation error.
func schemaMessages(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(out) >= maxSchemaMessages {
			return
		}
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", location, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}
