package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"cardgen/internal/domain"
)

func TestTagMatching(t *testing.T) {
	c, err := NewComposer()
	require.NoError(t, err)

	assert.Equal(t, language.Russian, c.Tag(""))
	assert.Equal(t, language.Russian, c.Tag("ru-RU"))
	assert.Equal(t, language.English, c.Tag("en-GB"))
	assert.Equal(t, language.English, c.Tag("de-DE,en;q=0.8"))
	assert.Equal(t, language.Russian, c.Tag("ja"))
}

func TestComposePartialMentionsCounts(t *testing.T) {
	c, err := NewComposer()
	require.NoError(t, err)
	job := &domain.Job{ID: "j1", UserID: "u1", Locale: "en"}

	note := c.Compose(job, Outcome(4, 6), Summary{Units: 6, Completed: 4, Refunded: 10})
	assert.Equal(t, domain.NotificationWarning, note.Type)
	assert.Equal(t, "Generation partially complete", note.Title)
	assert.Contains(t, note.Message, "4 of 6")
	assert.Contains(t, note.Message, "10 tokens refunded")
	assert.Equal(t, "u1", note.UserID)
	assert.Equal(t, "j1", note.JobID)
}

func TestComposeRussianDefault(t *testing.T) {
	c, err := NewComposer()
	require.NoError(t, err)

	note := c.Compose(&domain.Job{UserID: "u1"}, EventStarted, Summary{Units: 3, Charged: 15})
	assert.Equal(t, "Генерация запущена", note.Title)
	assert.Equal(t, "Генерируем 3 шт. Списано токенов: 15.", note.Message)
	assert.Equal(t, domain.NotificationInfo, note.Type)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, EventFailed, Outcome(0, 3))
	assert.Equal(t, EventPartial, Outcome(1, 3))
	assert.Equal(t, EventCompleted, Outcome(3, 3))
}

func TestEncode(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	data, err := encode(domain.Notification{ID: "n1", UserID: "u1", Title: "t", Message: "m", Type: domain.NotificationError, CreatedAt: at})
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "2025-03-01T10:00:00Z", got["created_at"])
	assert.NotContains(t, got, "job_id")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.Publish(context.Background(), domain.Notification{}))
	require.NoError(t, p.Close())
}
