package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoChanges is returned when an edit form differs in no field from the stored record.
var ErrNoChanges = errors.New("at least one field must be changed")

// FieldError reports an invalid form field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s %s", e.Field, e.Reason) }

func fieldError(field, reason string) error { return &FieldError{Field: field, Reason: reason} }

// Company is a tenant whose collaborators get business cards.
type Company struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PhonePrefix *string `json:"phone_prefix"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Web         *string `json:"web"`
	Note        *string `json:"note"`
	Description *string `json:"description"`
}

// CompanyCreate is the body for POST /companies.
type CompanyCreate struct {
	Name        string  `json:"name"`
	PhonePrefix *string `json:"phone_prefix,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Web         *string `json:"web,omitempty"`
	Note        *string `json:"note,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate checks the fields the backend requires.
func (c CompanyCreate) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fieldError("name", "is required")
	}
	return nil
}

// CompanyUpdate is the body for PATCH /companies/{id}. Nil fields are not sent.
type CompanyUpdate struct {
	Name        *string `json:"name,omitempty"`
	PhonePrefix *string `json:"phone_prefix,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Web         *string `json:"web,omitempty"`
	Note        *string `json:"note,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether no field is set.
func (u CompanyUpdate) Empty() bool { return u == CompanyUpdate{} }

// CompanyForm is the edit form state.
type CompanyForm struct {
	Name        string
	PhonePrefix string
	Email       string
	Phone       string
	Web         string
	Note        string
	Description string
}

// FormFromCompany seeds an edit form from the stored company.
func FormFromCompany(c Company) CompanyForm {
	return CompanyForm{
		Name:        c.Name,
		PhonePrefix: deref(c.PhonePrefix),
		Email:       deref(c.Email),
		Phone:       deref(c.Phone),
		Web:         deref(c.Web),
		Note:        deref(c.Note),
		Description: deref(c.Description),
	}
}

// CreateFromForm converts a new-company form, dropping blank optional fields.
func (f CompanyForm) CreateFromForm() CompanyCreate {
	return CompanyCreate{
		Name:        strings.TrimSpace(f.Name),
		PhonePrefix: optional(f.PhonePrefix),
		Email:       optional(f.Email),
		Phone:       optional(f.Phone),
		Web:         optional(f.Web),
		Note:        optional(f.Note),
		Description: optional(f.Description),
	}
}

// DiffCompany builds a PATCH body holding only the fields the form changed.
func DiffCompany(before Company, form CompanyForm) (CompanyUpdate, error) {
	var upd CompanyUpdate
	if form.Name != before.Name {
		if strings.TrimSpace(form.Name) == "" {
			return CompanyUpdate{}, fieldError("name", "is required")
		}
		upd.Name = ptr(form.Name)
	}
	upd.PhonePrefix = changed(before.PhonePrefix, form.PhonePrefix)
	upd.Email = changed(before.Email, form.Email)
	upd.Phone = changed(before.Phone, form.Phone)
	upd.Web = changed(before.Web, form.Web)
	upd.Note = changed(before.Note, form.Note)
	upd.Description = changed(before.Description, form.Description)
	if upd.Empty() {
		return CompanyUpdate{}, ErrNoChanges
	}
	return upd, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string { return &s }

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

// changed returns the new value when it differs from the stored one, nil otherwise.
func changed(before *string, after string) *string {
	if deref(before) == after {
		return nil
	}
	return &after
}
