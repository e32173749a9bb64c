package models

import "time"

// CardStatus is the generation state of a single collaborator card.
type CardStatus string

const (
	CardPending    CardStatus = "pending"
	CardGenerating CardStatus = "generating"
	CardGenerated  CardStatus = "generated"
	CardFailed     CardStatus = "failed"
)

// Settled reports whether the card generator is done with the record.
func (s CardStatus) Settled() bool { return s == CardGenerated || s == CardFailed }

// CollabCard is one person within a batch.
type CollabCard struct {
	ID           string     `json:"id"`
	BatchID      string     `json:"batch_id,omitempty"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email"`
	MobilePhone  *string    `json:"mobile_phone"`
	JobTitle     *string    `json:"job_title"`
	OfficePhone  *string    `json:"office_phone"`
	Status       CardStatus `json:"status"`
	CardFilename *string    `json:"card_filename"`
	GeneratedAt  *time.Time `json:"generated_at"`
}

// HasImage reports whether a generated image file is recorded.
func (c CollabCard) HasImage() bool { return c.CardFilename != nil && *c.CardFilename != "" }

// Token is the access-token payload of POST /auth/token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
