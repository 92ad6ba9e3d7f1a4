package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type verifyPayload struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	Code        string `json:"code" validate:"required,len=6"`
	Type        string `json:"type" validate:"required,oneof=totp backup_code"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := verifyPayload{
		PrincipalID: "p-1",
		Code:        "123456",
		Type:        "totp",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := verifyPayload{
		PrincipalID: "",
		Code:        "12",
		Type:        "sms",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundType := false
	for _, v := range vErrs {
		if v.Field == "type" {
			foundType = true
		}
	}

	if !foundType {
		t.Fatal("expected type field to be present in validation errors")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("principalrole", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "USER", "EDITOR", "ADMIN":
			return true
		}
		return false
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Role string `validate:"principalrole"`
	}

	if err := ValidateStruct(custom{Role: "EDITOR"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Role: "OWNER"}); err == nil {
		t.Fatal("expected validation to fail for unknown role")
	}
}
