package screens

import (
	"net/url"
	"strings"
	"time"

	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/table"
)

// TimeLayout is how timestamps appear in tables.
const TimeLayout = "2006-01-02 15:04"

// Placeholder fills cells whose value is missing.
const Placeholder = "–"

// Badge tones.
const (
	ToneNeutral = "neutral"
	ToneInfo    = "info"
	ToneSuccess = "success"
	ToneWarning = "warning"
	ToneDanger  = "danger"
)

// CardAssets resolves a generated card file name to an image URL. Implementations
// must not perform network calls.
type CardAssets interface {
	CardURL(filename string) string
}

// StaticAssets serves card images from <Base>/cards/<filename>.
type StaticAssets struct {
	Base string
}

func (s StaticAssets) CardURL(filename string) string {
	return strings.TrimRight(s.Base, "/") + "/cards/" + url.PathEscape(filename)
}

// BatchBadge maps a batch status to a badge cell.
func BatchBadge(s models.BatchStatus) table.Cell {
	tone := ToneNeutral
	switch s {
	case models.BatchProcessing:
		tone = ToneInfo
	case models.BatchCompleted:
		tone = ToneSuccess
	case models.BatchError:
		tone = ToneDanger
	case models.BatchPending:
		tone = ToneWarning
	}
	return table.Cell{Text: string(s), Badge: tone}
}

// CardBadge maps a card status to a badge cell.
func CardBadge(s models.CardStatus) table.Cell {
	tone := ToneNeutral
	switch s {
	case models.CardGenerating:
		tone = ToneInfo
	case models.CardGenerated:
		tone = ToneSuccess
	case models.CardFailed:
		tone = ToneDanger
	case models.CardPending:
		tone = ToneWarning
	}
	return table.Cell{Text: string(s), Badge: tone}
}

// RoleBadge renders a role.
func RoleBadge(r models.Role) table.Cell {
	tone := ToneNeutral
	switch r {
	case models.RoleOwner:
		tone = ToneDanger
	case models.RoleAdministrator:
		tone = ToneWarning
	case models.RoleCollaborator:
		tone = ToneInfo
	}
	return table.Cell{Text: string(r), Badge: tone}
}

// FormatTime renders t with TimeLayout in its own offset, or the placeholder
// for a zero time.
func FormatTime(t time.Time) table.Cell {
	if t.IsZero() {
		return table.Cell{Text: Placeholder, Placeholder: true}
	}
	return table.Cell{Text: t.Format(TimeLayout)}
}

// CardImage renders the generated card, or a placeholder when no file is recorded.
func CardImage(assets CardAssets, c models.CollabCard) table.Cell {
	if !c.HasImage() {
		return table.Cell{Text: Placeholder, Placeholder: true}
	}
	src := assets.CardURL(*c.CardFilename)
	if src == "" {
		return table.Cell{Text: Placeholder, Placeholder: true}
	}
	return table.Cell{ImageURL: src, Alt: c.FullName}
}

// Text renders an optional string.
func Text(s *string) table.Cell {
	if s == nil || *s == "" {
		return table.Cell{Text: Placeholder, Placeholder: true}
	}
	return table.Cell{Text: *s}
}

// Link renders a link cell.
func Link(text, href string) table.Cell {
	return table.Cell{Text: text, Href: href}
}
