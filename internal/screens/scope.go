package screens

import (
	"errors"
	"strings"

	"github.com/collabcards/dashboard/internal/models"
)

var (
	// ErrForeignCompany is returned when a company-bound identity asks for another company.
	ErrForeignCompany = errors.New("company is outside your organization")
	// ErrCompanyRequired is returned when a platform-level identity uploads without choosing a company.
	ErrCompanyRequired = errors.New("choose a company first")
	// ErrNoCompany is returned for company-scoped roles that have no company assigned.
	ErrNoCompany = errors.New("user has no company assigned")
)

// ResolveCompany returns the company a batch listing is scoped to.
//
// Identities bound to a company are pinned to it. Platform-level owners and
// administrators use the requested company, and may leave it empty to list
// across companies. Any other role without a company is rejected.
func ResolveCompany(id *models.Identity, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	switch {
	case id.HasCompany():
		if requested != "" && requested != *id.CompanyID {
			return "", ErrForeignCompany
		}
		return *id.CompanyID, nil
	case id.IsPlatformLevel():
		return requested, nil
	}
	return "", ErrNoCompany
}

// ResolveUploadCompany is ResolveCompany for uploads, where a company is
// always required.
func ResolveUploadCompany(id *models.Identity, requested string) (string, error) {
	company, err := ResolveCompany(id, requested)
	if err != nil {
		return "", err
	}
	if company == "" {
		return "", ErrCompanyRequired
	}
	return company, nil
}

// CanManageAccounts reports whether id may open the companies and users screens.
func CanManageAccounts(id *models.Identity) bool {
	return id != nil && (id.Role == models.RoleOwner || id.Role == models.RoleAdministrator)
}

// ChoosesCompany reports whether the batches screen shows a company picker for id.
func ChoosesCompany(id *models.Identity) bool { return id.IsPlatformLevel() }
