// Package i18n holds the user-facing notification strings for the supported
// languages, built on golang.org/x/text/message.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	LightOff                    = "lightOff"
	LightOffDesc                = "lightOffDesc"
	LightOn                     = "lightOn"
	LightOnDesc                 = "lightOnDesc"
	NewSchedule                 = "newSchedule"
	ScheduleFor                 = "scheduleFor"
	ScheduleChanged             = "scheduleChanged"
	ChangesFor                  = "changesFor"
	ServerUnavailable           = "serverUnavailable"
	ServerUnavailableDesc       = "serverUnavailableDesc"
	SubscriptionActivated       = "subscriptionActivated"
	SubscriptionActivatedDesc   = "subscriptionActivatedDesc"
	SubscriptionDeactivated     = "subscriptionDeactivated"
	SubscriptionDeactivatedDesc = "subscriptionDeactivatedDesc"
	SubscriptionRestored        = "subscriptionRestored"
	SubscriptionRestoredDesc    = "subscriptionRestoredDesc"
	NotificationsEnabled        = "notificationsEnabled"
	NotificationsEnabledMessage = "notificationsEnabledMessage"
	Emergency                   = "emergency"
	SavedVersion                = "savedVersion"
	NotPublished                = "notPublished"
	NoData                      = "noData"
	LoadFailed                  = "loadFailed"
	PermissionPrompt            = "permissionPrompt"
	PermissionPromptDesc        = "permissionPromptDesc"
)

var (
	Ukrainian = language.Ukrainian
	English   = language.English
)

var entries = map[language.Tag]map[string]string{
	language.Ukrainian: {
		LightOff:                    "Світло скоро вимкнуть",
		LightOffDesc:                "Відключення о %s",
		LightOn:                     "Світло скоро увімкнуть",
		LightOnDesc:                 "Увімкнення о %s",
		NewSchedule:                 "Новий графік",
		ScheduleFor:                 "Опубліковано графік на %s",
		ScheduleChanged:             "Графік змінено",
		ChangesFor:                  "Зміни в графіку на %s",
		ServerUnavailable:           "Сервер недоступний",
		ServerUnavailableDesc:       "Показуємо збережені дані, спробуємо пізніше",
		SubscriptionActivated:       "Сповіщення увімкнено",
		SubscriptionActivatedDesc:   "Ви отримуватимете push-сповіщення для своєї черги",
		SubscriptionDeactivated:     "Сповіщення вимкнено",
		SubscriptionDeactivatedDesc: "Push-сповіщення більше не надходитимуть",
		SubscriptionRestored:        "Підписку відновлено",
		SubscriptionRestoredDesc:    "Підписку на сповіщення автоматично відновлено",
		NotificationsEnabled:        "Сповіщення дозволено",
		NotificationsEnabledMessage: "Тепер ви отримуватимете сповіщення про відключення",
		Emergency:                   "АВАРІЙНЕ ВІДКЛЮЧЕННЯ",
		SavedVersion:                "Показано збережену версію",
		NotPublished:                "Графік ще не опубліковано",
		NoData:                      "Немає даних",
		LoadFailed:                  "Не вдалося завантажити графік",
		PermissionPrompt:            "Дозволити сповіщення?",
		PermissionPromptDesc:        "blackoutd попереджатиме про відключення світла",
	},
	language.English: {
		LightOff:                    "Power off soon",
		LightOffDesc:                "Outage starts at %s",
		LightOn:                     "Power on soon",
		LightOnDesc:                 "Power returns at %s",
		NewSchedule:                 "New schedule",
		ScheduleFor:                 "Schedule published for %s",
		ScheduleChanged:             "Schedule changed",
		ChangesFor:                  "Schedule changes for %s",
		ServerUnavailable:           "Server unavailable",
		ServerUnavailableDesc:       "Showing saved data, will retry later",
		SubscriptionActivated:       "Notifications enabled",
		SubscriptionActivatedDesc:   "You will receive push notifications for your queue",
		SubscriptionDeactivated:     "Notifications disabled",
		SubscriptionDeactivatedDesc: "Push notifications will no longer arrive",
		SubscriptionRestored:        "Subscription restored",
		SubscriptionRestoredDesc:    "Your notification subscription was restored automatically",
		NotificationsEnabled:        "Notifications allowed",
		NotificationsEnabledMessage: "You will now be notified about outages",
		Emergency:                   "EMERGENCY",
		SavedVersion:                "Showing saved version",
		NotPublished:                "Schedule not published yet",
		NoData:                      "No data",
		LoadFailed:                  "Failed to load schedule",
		PermissionPrompt:            "Allow notifications?",
		PermissionPromptDesc:        "blackoutd will warn you about upcoming outages",
	},
}

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.Ukrainian))
	for tag, msgs := range entries {
		for k, v := range msgs {
			_ = b.SetString(tag, k, v)
		}
	}
	return b
}

// Translator formats message keys for one language.
type Translator struct {
	tag language.Tag
	p   *message.Printer
}

// New returns a translator for lang ("uk", "en", or a BCP 47 tag).
// Unsupported languages fall back to Ukrainian.
func New(lang string) Translator {
	tag := Match(lang)
	return Translator{tag: tag, p: message.NewPrinter(tag, message.Catalog(cat))}
}

// Match resolves lang to a supported tag.
func Match(lang string) language.Tag {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return language.Ukrainian
	}
	t, err := language.Parse(lang)
	if err != nil {
		return language.Ukrainian
	}
	m := language.NewMatcher([]language.Tag{language.Ukrainian, language.English})
	_, idx, conf := m.Match(t)
	if conf == language.No {
		return language.Ukrainian
	}
	return []language.Tag{language.Ukrainian, language.English}[idx]
}

func (t Translator) Tag() language.Tag { return t.tag }

// IsEnglish reports whether t renders English.
func (t Translator) IsEnglish() bool { return t.tag == language.English }

// T renders key with optional printf-style arguments.
func (t Translator) T(key string, args ...any) string {
	if t.p == nil {
		t = New("")
	}
	return t.p.Sprintf(key, args...)
}
