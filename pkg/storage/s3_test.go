package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImages(t *testing.T) *CardImages {
	t.Helper()
	imgs, err := NewCardImages(context.Background(), S3Config{
		Region:               "eu-central-1",
		AccessKeyID:          "AKIDEXAMPLE",
		SecretAccessKey:      "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		CardsBucket:          "collab-cards",
		PresignExpireMinutes: 10,
	}, nil)
	require.NoError(t, err)
	return imgs
}

func TestCardKey(t *testing.T) {
	assert.Equal(t, "cards/card_001.png", CardKey("card_001.png"))
	assert.Equal(t, "cards/card_001.png", CardKey("../../etc/card_001.png"))
}

func TestCardURL_Presigned(t *testing.T) {
	imgs := newTestImages(t)

	url := imgs.CardURL("card_001.png")
	assert.Contains(t, url, "collab-cards")
	assert.Contains(t, url, "/cards/card_001.png")
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=600")
}

func TestCardURL_CachedForHalfTheLifetime(t *testing.T) {
	imgs := newTestImages(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	imgs.now = func() time.Time { return now }

	first := imgs.CardURL("card_001.png")
	now = now.Add(4 * time.Minute)
	assert.Equal(t, first, imgs.CardURL("card_001.png"))

	now = now.Add(2 * time.Minute)
	imgs.CardURL("card_001.png")
	imgs.mu.Lock()
	renew := imgs.cache["cards/card_001.png"].renewAt
	imgs.mu.Unlock()
	assert.Equal(t, now.Add(5*time.Minute), renew)
}

func TestNewCardImages_RequiresBucket(t *testing.T) {
	_, err := NewCardImages(context.Background(), S3Config{Region: "eu-central-1"}, nil)
	assert.Error(t, err)
}

func TestCardURL_PublicBucket(t *testing.T) {
	imgs := newTestImages(t)
	imgs.cfg.Public = true
	assert.Equal(t, "https://collab-cards.s3.eu-central-1.amazonaws.com/cards/card_001.png", imgs.CardURL("card_001.png"))
	imgs.mu.Lock()
	defer imgs.mu.Unlock()
	assert.Empty(t, imgs.cache)
}

func TestCardURL_PrunesExpiredEntries(t *testing.T) {
	imgs := newTestImages(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	imgs.now = func() time.Time { return now }

	imgs.CardURL("card_001.png")
	imgs.CardURL("card_002.png")

	now = now.Add(6 * time.Minute)
	imgs.CardURL("card_003.png")

	imgs.mu.Lock()
	defer imgs.mu.Unlock()
	assert.Len(t, imgs.cache, 1)
	assert.Contains(t, imgs.cache, "cards/card_003.png")
}
