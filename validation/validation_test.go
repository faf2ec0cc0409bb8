package validation

import (
	"testing"

	"github.com/kbukum/pushgate/errors"
)

type sampleRequest struct {
	EventType string `json:"eventType" validate:"required,max=8,printascii"`
	Note      string `json:"note" validate:"omitempty,min=2"`
}

func TestValidate_Success(t *testing.T) {
	err := Validate(sampleRequest{EventType: "chat"})
	if err != nil {
		t.Errorf("expected valid struct, got %v", err)
	}
}

func TestValidate_Required(t *testing.T) {
	err := Validate(sampleRequest{})
	if err == nil {
		t.Fatal("expected error for missing required field")
	}

	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", appErr.Code)
	}

	// Field names come from json tags
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok || len(fields) != 1 {
		t.Fatalf("expected 1 field error, got %v", appErr.Details)
	}
	if fields[0].Field != "eventType" {
		t.Errorf("expected field 'eventType', got %q", fields[0].Field)
	}
}

func TestValidate_Max(t *testing.T) {
	err := Validate(sampleRequest{EventType: "way-too-long-event-type"})
	if err == nil {
		t.Fatal("expected error for over-long field")
	}
}

func TestValidate_PrintASCII(t *testing.T) {
	err := Validate(sampleRequest{EventType: "ch\x01t"})
	if err == nil {
		t.Fatal("expected error for control characters")
	}
}

func TestValidate_Omitempty(t *testing.T) {
	if err := Validate(sampleRequest{EventType: "chat"}); err != nil {
		t.Errorf("empty optional field must pass, got %v", err)
	}
	if err := Validate(sampleRequest{EventType: "chat", Note: "x"}); err == nil {
		t.Error("expected error for too-short optional field")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	err := Validate(sampleRequest{Note: "x"})
	if err == nil {
		t.Fatal("expected errors")
	}
	appErr, _ := errors.AsAppError(err)
	fields := appErr.Details["fields"].([]FieldError)
	if len(fields) != 2 {
		t.Errorf("expected 2 field errors, got %d", len(fields))
	}
}

func TestValidate_ExcludesSpace(t *testing.T) {
	type spacedRequest struct {
		EventType string `json:"eventType" validate:"required,excludesall=0x20"`
	}

	if err := Validate(spacedRequest{EventType: "chat"}); err != nil {
		t.Errorf("expected space-free value to pass, got %v", err)
	}

	err := Validate(spacedRequest{EventType: "chat message"})
	if err == nil {
		t.Fatal("expected error for embedded space")
	}
	appErr, _ := errors.AsAppError(err)
	if appErr == nil || appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"EventType": "event_type",
		"ClientID":  "client_i_d",
		"Simple":    "simple",
	}
	for in, want := range cases {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q): expected %q, got %q", in, want, got)
		}
	}
}
