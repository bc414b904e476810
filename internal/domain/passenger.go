package domain

import (
	"net/mail"
	"strings"
	"time"
)

type PassengerDetails struct {
	FullName    string    `json:"passenger"`
	DateOfBirth time.Time `json:"dob"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Passport    string    `json:"passportNumber,omitempty"`
}

// Validate checks the form locally; now bounds the date of birth.
func (p PassengerDetails) Validate(now time.Time) error {
	if strings.TrimSpace(p.FullName) == "" {
		return NewValidationError("passenger", "Passenger name is required")
	}
	if p.DateOfBirth.IsZero() {
		return NewValidationError("dob", "Date of birth is required")
	}
	if p.DateOfBirth.After(now) {
		return NewValidationError("dob", "Date of birth cannot be in the future")
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return NewValidationError("email", "Email address is invalid")
		}
	}
	return nil
}
