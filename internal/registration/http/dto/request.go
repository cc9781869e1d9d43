// Package dto provides data transfer objects for the registration HTTP layer.
package dto

import (
	validation "github.com/jellydator/validation"

	appValidation "github.com/allisson/relay/internal/validation"
)

// StartRegistrationRequest represents the API request for starting a registration
type StartRegistrationRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
}

// Validate validates the StartRegistrationRequest using the jellydator/validation library
// This provides comprehensive validation including:
// - Required field checks
// - Email and phone number format validation
// - Password strength requirements (min 8 chars, uppercase, lowercase, number, special char)
func (r *StartRegistrationRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Email,
			validation.Required.Error("email is required"),
			appValidation.NotBlank,
			appValidation.Email,
			validation.Length(5, 255).Error("email must be between 5 and 255 characters"),
		),
		validation.Field(&r.Password,
			validation.Required.Error("password is required"),
			validation.Length(8, 128).Error("password must be between 8 and 128 characters"),
			appValidation.PasswordStrength{
				MinLength:      8,
				RequireUpper:   true,
				RequireLower:   true,
				RequireNumber:  true,
				RequireSpecial: true,
			},
		),
		validation.Field(&r.FullName,
			validation.Required.Error("full name is required"),
			appValidation.NotBlank,
			validation.Length(1, 255).Error("full name must be between 1 and 255 characters"),
		),
		validation.Field(&r.PhoneNumber,
			validation.Required.Error("phone number is required"),
			appValidation.PhoneNumber,
		),
	)
	return appValidation.WrapValidationError(err)
}
