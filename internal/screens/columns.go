// Package screens holds the static table configuration of every list screen.
package screens

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/table"
)

// Screen names.
const (
	Companies = "companies"
	Users     = "users"
	Batches   = "batches"
	Cards     = "cards"
)

// BatchesDefaultSort shows the newest batch first.
var BatchesDefaultSort = table.Sort{Key: "created", Direction: table.Desc}

func CompanyColumns() []table.Column[models.Company] {
	optional := func(key, header string, get func(models.Company) *string) table.Column[models.Company] {
		return table.Column[models.Company]{
			Key: key, Header: header, Sortable: true,
			Value:  func(c models.Company) any { return get(c) },
			Render: func(c models.Company) table.Cell { return Text(get(c)) },
		}
	}
	return []table.Column[models.Company]{
		{Key: "name", Header: "Name", Sortable: true, Value: func(c models.Company) any { return c.Name }},
		optional("phone_prefix", "Phone Prefix", func(c models.Company) *string { return c.PhonePrefix }),
		optional("email", "Email", func(c models.Company) *string { return c.Email }),
		optional("phone", "Phone", func(c models.Company) *string { return c.Phone }),
		optional("web", "Website", func(c models.Company) *string { return c.Web }),
		optional("note", "Note", func(c models.Company) *string { return c.Note }),
		optional("description", "Description", func(c models.Company) *string { return c.Description }),
		{Key: "actions", Header: "Actions", Render: func(c models.Company) table.Cell {
			return Link("Edit", "/companies/"+c.ID)
		}},
	}
}

func UserColumns() []table.Column[models.User] {
	return []table.Column[models.User]{
		{Key: "email", Header: "Email", Sortable: true, Value: func(u models.User) any { return u.Email }},
		{
			Key: "role", Header: "Role", Sortable: true,
			Value:  func(u models.User) any { return string(u.Role) },
			Render: func(u models.User) table.Cell { return RoleBadge(u.Role) },
		},
		{
			Key: "company", Header: "Company", Sortable: true,
			Value:  func(u models.User) any { return u.CompanyID },
			Render: func(u models.User) table.Cell { return Text(u.CompanyID) },
		},
		{Key: "actions", Header: "Actions", Render: func(u models.User) table.Cell {
			return Link("Edit", "/users/"+u.ID)
		}},
	}
}

func BatchColumns() []table.Column[models.Batch] {
	return []table.Column[models.Batch]{
		{
			Key: "id", Header: "ID",
			Value:  func(b models.Batch) any { return b.ID },
			Render: func(b models.Batch) table.Cell { return Link(b.ID, BatchHref(b)) },
		},
		{
			Key: "file", Header: "File", Sortable: true,
			Value:  func(b models.Batch) any { return b.Filename() },
			Render: func(b models.Batch) table.Cell { return Text(b.OriginalFilename) },
		},
		{Key: "total", Header: "Total", Sortable: true, Value: func(b models.Batch) any { return b.TotalRecords }},
		{Key: "processed", Header: "Processed", Sortable: true, Value: func(b models.Batch) any { return b.ProcessedRecords }},
		{
			Key: "progress", Header: "Progress", Sortable: true,
			Value: func(b models.Batch) any { return b.Progress() },
			Render: func(b models.Batch) table.Cell {
				return table.Cell{Text: strconv.Itoa(int(b.Progress()*100)) + "%"}
			},
		},
		{
			Key: "status", Header: "Status", Sortable: true,
			Value:  func(b models.Batch) any { return string(b.Status) },
			Render: func(b models.Batch) table.Cell { return BatchBadge(b.Status) },
		},
		{
			Key: "created", Header: "Created", Sortable: true,
			Value:  func(b models.Batch) any { return b.CreatedAt },
			Render: func(b models.Batch) table.Cell { return FormatTime(b.CreatedAt) },
		},
		{Key: "view", Header: "View", Render: func(b models.Batch) table.Cell {
			return Link("View", BatchHref(b))
		}},
	}
}

// BatchHref links to a batch's records, carrying its company so uploads
// from that page know where the cards belong.
func BatchHref(b models.Batch) string {
	href := "/batches/" + url.PathEscape(b.ID)
	if b.CompanyID != nil && *b.CompanyID != "" {
		href += "?" + ScopeCompany + "=" + url.QueryEscape(*b.CompanyID)
	}
	return href
}

func CardColumns(assets CardAssets) []table.Column[models.CollabCard] {
	return []table.Column[models.CollabCard]{
		{Key: "name", Header: "Name", Sortable: true, Value: func(c models.CollabCard) any { return c.FullName }},
		{Key: "email", Header: "Email", Sortable: true, Value: func(c models.CollabCard) any { return c.Email }},
		{
			Key: "cell", Header: "Cell",
			Value:  func(c models.CollabCard) any { return c.MobilePhone },
			Render: func(c models.CollabCard) table.Cell { return Text(c.MobilePhone) },
		},
		{
			Key: "title", Header: "Title", Sortable: true,
			Value:  func(c models.CollabCard) any { return c.JobTitle },
			Render: func(c models.CollabCard) table.Cell { return Text(c.JobTitle) },
		},
		{
			Key: "office_phone", Header: "Office Phone",
			Value:  func(c models.CollabCard) any { return c.OfficePhone },
			Render: func(c models.CollabCard) table.Cell { return Text(c.OfficePhone) },
		},
		{
			Key: "status", Header: "Status", Sortable: true,
			Value:  func(c models.CollabCard) any { return string(c.Status) },
			Render: func(c models.CollabCard) table.Cell { return CardBadge(c.Status) },
		},
		{Key: "card", Header: "Card Image", Render: func(c models.CollabCard) table.Cell {
			return CardImage(assets, c)
		}},
	}
}

// CardsSettled reports whether every card of a batch reached a final status.
func CardsSettled(cards []models.CollabCard) bool {
	for _, c := range cards {
		if !c.Status.Settled() {
			return false
		}
	}
	return true
}

// CardSummary counts cards per status, e.g. "3 generated, 1 pending".
func CardSummary(cards []models.CollabCard) string {
	counts := map[models.CardStatus]int{}
	for _, c := range cards {
		counts[c.Status]++
	}
	out := ""
	for _, s := range []models.CardStatus{models.CardGenerated, models.CardGenerating, models.CardPending, models.CardFailed} {
		if counts[s] == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", counts[s], s)
	}
	return out
}
