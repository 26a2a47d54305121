package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MetadataKind names the consuming application a metadata payload belongs to.
type MetadataKind string

const (
	MetadataCRM     MetadataKind = "crm"
	MetadataHR      MetadataKind = "hr"
	MetadataGeneric MetadataKind = "generic"
)

// CRMMetadata describes a CRM operation that consumed credits.
type CRMMetadata struct {
	LeadID    string `json:"lead_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	Pipeline  string `json:"pipeline,omitempty"`
}

// HRMetadata describes an HR operation that consumed credits.
type HRMetadata struct {
	EmployeeID string `json:"employee_id,omitempty"`
	Action     string `json:"action,omitempty"`
}

// GenericMetadata is the fallback for applications without a dedicated shape.
type GenericMetadata struct {
	Reference string            `json:"reference,omitempty"`
	Note      string            `json:"note,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// OperationMetadata is a tagged variant: exactly one payload matches Kind.
// The zero value means "no metadata".
type OperationMetadata struct {
	Kind    MetadataKind
	CRM     *CRMMetadata
	HR      *HRMetadata
	Generic *GenericMetadata
}

type metadataEnvelope struct {
	Kind MetadataKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (m OperationMetadata) IsZero() bool {
	return m.Kind == ""
}

func (m OperationMetadata) payload() (any, error) {
	switch m.Kind {
	case MetadataCRM:
		if m.CRM == nil {
			return nil, fmt.Errorf("crm metadata payload missing")
		}
		return m.CRM, nil
	case MetadataHR:
		if m.HR == nil {
			return nil, fmt.Errorf("hr metadata payload missing")
		}
		return m.HR, nil
	case MetadataGeneric:
		if m.Generic == nil {
			return nil, fmt.Errorf("generic metadata payload missing")
		}
		return m.Generic, nil
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", m.Kind)
	}
}

func (m OperationMetadata) Validate() error {
	if m.IsZero() {
		return nil
	}
	_, err := m.payload()
	return err
}

func (m OperationMetadata) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("null"), nil
	}
	payload, err := m.payload()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Kind: m.Kind, Data: data})
}

func (m *OperationMetadata) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseOperationMetadata(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseOperationMetadata decodes {"kind": ..., "data": {...}}. Unknown kinds
// and unknown fields inside data are rejected.
func ParseOperationMetadata(raw []byte) (OperationMetadata, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return OperationMetadata{}, nil
	}

	var env metadataEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return OperationMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	kind := MetadataKind(strings.ToLower(strings.TrimSpace(string(env.Kind))))

	out := OperationMetadata{Kind: kind}
	var target any
	switch kind {
	case MetadataCRM:
		out.CRM = &CRMMetadata{}
		target = out.CRM
	case MetadataHR:
		out.HR = &HRMetadata{}
		target = out.HR
	case MetadataGeneric:
		out.Generic = &GenericMetadata{}
		target = out.Generic
	default:
		return OperationMetadata{}, fmt.Errorf("unknown metadata kind %q", env.Kind)
	}

	if len(env.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return OperationMetadata{}, fmt.Errorf("decode %s metadata: %w", kind, err)
		}
	}
	return out, nil
}
