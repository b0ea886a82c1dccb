// Package notify composes localized user notifications and fans them out
// after they are stored.
package notify

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"cardgen/internal/domain"
)

// Event is a job lifecycle moment that produces a notification.
type Event string

const (
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventPartial   Event = "partial"
	EventFailed    Event = "failed"
)

// Summary carries the numbers rendered into a message.
type Summary struct {
	Units     int
	Completed int
	Charged   int
	Refunded  int
}

var supported = []language.Tag{language.Russian, language.English}

type entry struct {
	typ     domain.NotificationType
	titles  map[language.Tag]string
	message map[language.Tag]string
}

var entries = map[Event]entry{
	EventStarted: {
		typ:     domain.NotificationInfo,
		titles:  map[language.Tag]string{language.Russian: "Генерация запущена", language.English: "Generation started"},
		message: map[language.Tag]string{language.Russian: "Генерируем %[1]d шт. Списано токенов: %[3]d.", language.English: "Generating %[1]d item(s). %[3]d tokens charged."},
	},
	EventCompleted: {
		typ:     domain.NotificationSuccess,
		titles:  map[language.Tag]string{language.Russian: "Генерация завершена", language.English: "Generation complete"},
		message: map[language.Tag]string{language.Russian: "Готово %[2]d из %[1]d.", language.English: "%[2]d of %[1]d items are ready."},
	},
	EventPartial: {
		typ:     domain.NotificationWarning,
		titles:  map[language.Tag]string{language.Russian: "Генерация завершена частично", language.English: "Generation partially complete"},
		message: map[language.Tag]string{language.Russian: "Готово %[2]d из %[1]d. Возвращено токенов: %[4]d.", language.English: "%[2]d of %[1]d items are ready. %[4]d tokens refunded."},
	},
	EventFailed: {
		typ:     domain.NotificationError,
		titles:  map[language.Tag]string{language.Russian: "Ошибка генерации", language.English: "Generation failed"},
		message: map[language.Tag]string{language.Russian: "Не удалось сгенерировать. Возвращено токенов: %[4]d.", language.English: "Nothing could be generated. %[4]d tokens refunded."},
	},
}

// Composer renders notifications in the closest supported locale. Russian is
// the fallback.
type Composer struct {
	matcher language.Matcher
	cat     catalog.Catalog
}

func NewComposer() (*Composer, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.Russian))
	for ev, e := range entries {
		for _, tag := range supported {
			if err := b.SetString(tag, messageKey(ev), e.message[tag]); err != nil {
				return nil, fmt.Errorf("notify: catalog: %w", err)
			}
		}
	}
	return &Composer{matcher: language.NewMatcher(supported), cat: b}, nil
}

// Tag resolves a locale string to a supported language.
func (c *Composer) Tag(locale string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return supported[0]
	}
	_, idx, conf := c.matcher.Match(tags...)
	if conf == language.No {
		return supported[0]
	}
	return supported[idx]
}

// Compose builds the notification for ev. The caller stores it.
func (c *Composer) Compose(job *domain.Job, ev Event, s Summary) domain.Notification {
	tag := c.Tag(job.Locale)
	p := message.NewPrinter(tag, message.Catalog(c.cat))
	e := entries[ev]
	return domain.Notification{
		UserID:  job.UserID,
		JobID:   job.ID,
		Title:   e.titles[tag],
		Message: p.Sprintf(messageKey(ev), s.Units, s.Completed, s.Charged, s.Refunded),
		Type:    e.typ,
	}
}

// Outcome picks the terminal event for a settled job.
func Outcome(completed, total int) Event {
	switch {
	case completed == 0:
		return EventFailed
	case completed < total:
		return EventPartial
	default:
		return EventCompleted
	}
}

func messageKey(ev Event) string { return "job." + string(ev) + ".message" }
