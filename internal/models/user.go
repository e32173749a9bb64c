package models

import (
	"encoding/json"
	"strings"
)

// Role represents a user's role in the card platform.
type Role string

const (
	RoleOwner         Role = "owner"
	RoleAdministrator Role = "administrator"
	RoleCollaborator  Role = "collaborator"
	RoleStandard      Role = "standard"
)

// Roles lists every role in display order.
var Roles = []Role{RoleOwner, RoleAdministrator, RoleCollaborator, RoleStandard}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdministrator, RoleCollaborator, RoleStandard:
		return true
	}
	return false
}

// CardProfile holds the optional business-card fields attached to a user.
type CardProfile struct {
	CardFullName    *string `json:"card_full_name,omitempty"`
	CardEmail       *string `json:"card_email,omitempty"`
	CardMobilePhone *string `json:"card_mobile_phone,omitempty"`
	CardJobTitle    *string `json:"card_job_title,omitempty"`
	CardOfficePhone *string `json:"card_office_phone,omitempty"`
	CardWeb         *string `json:"card_web,omitempty"`
}

// Identity is the authenticated profile returned by GET /auth/me.
type Identity struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Role      Role    `json:"role"`
	CompanyID *string `json:"company_id"`
	CardProfile
}

// HasCompany reports whether the identity is bound to a company.
func (i *Identity) HasCompany() bool {
	return i != nil && i.CompanyID != nil && *i.CompanyID != ""
}

// IsPlatformLevel is true for owners and administrators that are not bound to a company.
func (i *Identity) IsPlatformLevel() bool {
	if i == nil || i.HasCompany() {
		return false
	}
	return i.Role == RoleOwner || i.Role == RoleAdministrator
}

// DisplayName prefers the card name and falls back to the login email.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if i.CardFullName != nil && strings.TrimSpace(*i.CardFullName) != "" {
		return *i.CardFullName
	}
	return i.Email
}

// User is a platform user as listed by GET /users.
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Role      Role    `json:"role"`
	CompanyID *string `json:"company_id"`
	CardProfile
}

// UserCreate is the body for POST /users.
type UserCreate struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Role      Role    `json:"role"`
	CompanyID *string `json:"company_id"`
	CardProfile
}

// Validate checks the fields the backend requires.
func (u UserCreate) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return fieldError("email", "is required")
	}
	if u.Password == "" {
		return fieldError("password", "is required")
	}
	if !u.Role.Valid() {
		return fieldError("role", "is not a known role")
	}
	return nil
}

// Nullable is a PATCH value that can clear the stored one. A nil *Nullable
// is left out of the body; a Nullable with a nil Value is sent as null.
type Nullable struct {
	Value *string
}

func (n Nullable) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}

// UserUpdate is the body for PATCH /users/{id}. Nil fields are not sent.
type UserUpdate struct {
	Email     *string   `json:"email,omitempty"`
	Role      *Role     `json:"role,omitempty"`
	CompanyID *Nullable `json:"company_id,omitempty"`
	CardProfile
}

// Empty reports whether no field is set.
func (u UserUpdate) Empty() bool {
	return u.Email == nil && u.Role == nil && u.CompanyID == nil && u.CardProfile == (CardProfile{})
}

// UserForm is the edit form state; every field is a plain string.
type UserForm struct {
	Email           string
	Role            Role
	CompanyID       string
	CardFullName    string
	CardEmail       string
	CardMobilePhone string
	CardJobTitle    string
	CardOfficePhone string
	CardWeb         string
}

// FormFromUser seeds an edit form from the stored user.
func FormFromUser(u User) UserForm {
	return UserForm{
		Email:           u.Email,
		Role:            u.Role,
		CompanyID:       deref(u.CompanyID),
		CardFullName:    deref(u.CardFullName),
		CardEmail:       deref(u.CardEmail),
		CardMobilePhone: deref(u.CardMobilePhone),
		CardJobTitle:    deref(u.CardJobTitle),
		CardOfficePhone: deref(u.CardOfficePhone),
		CardWeb:         deref(u.CardWeb),
	}
}

// DiffUser builds a PATCH body holding only the fields the form changed.
func DiffUser(before User, form UserForm) (UserUpdate, error) {
	var upd UserUpdate
	if form.Email != before.Email {
		upd.Email = ptr(form.Email)
	}
	if form.Role != before.Role {
		if !form.Role.Valid() {
			return UserUpdate{}, fieldError("role", "is not a known role")
		}
		r := form.Role
		upd.Role = &r
	}
	if c := strings.TrimSpace(form.CompanyID); c != deref(before.CompanyID) {
		upd.CompanyID = &Nullable{}
		if c != "" {
			upd.CompanyID = &Nullable{Value: &c}
		}
	}
	upd.CardFullName = changed(before.CardFullName, form.CardFullName)
	upd.CardEmail = changed(before.CardEmail, form.CardEmail)
	upd.CardMobilePhone = changed(before.CardMobilePhone, form.CardMobilePhone)
	upd.CardJobTitle = changed(before.CardJobTitle, form.CardJobTitle)
	upd.CardOfficePhone = changed(before.CardOfficePhone, form.CardOfficePhone)
	upd.CardWeb = changed(before.CardWeb, form.CardWeb)
	if upd.Empty() {
		return UserUpdate{}, ErrNoChanges
	}
	return upd, nil
}

// CreateFromForm converts a new-user form, dropping blank optional fields.
func (f UserForm) CreateFromForm(password string) UserCreate {
	return UserCreate{
		Email:     strings.TrimSpace(f.Email),
		Password:  password,
		Role:      f.Role,
		CompanyID: optional(f.CompanyID),
		CardProfile: CardProfile{
			CardFullName:    optional(f.CardFullName),
			CardEmail:       optional(f.CardEmail),
			CardMobilePhone: optional(f.CardMobilePhone),
			CardJobTitle:    optional(f.CardJobTitle),
			CardOfficePhone: optional(f.CardOfficePhone),
			CardWeb:         optional(f.CardWeb),
		},
	}
}
