// Package i18n renders user-facing messages in English, Russian and
// Ukrainian.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"retouch/internal/domain"
)

// Supported locales, English first as the fallback.
var supported = []language.Tag{language.English, language.Russian, language.Ukrainian}

var matcher = language.NewMatcher(supported)

// Message keys that are not error codes.
const (
	KeyInsufficientCredits = "insufficient_credits"
	KeyPlanRequired        = "plan_required"
	KeyNotFound            = "not_found"
	KeyNoProvider          = "no_provider"
)

var translations = map[string][3]string{
	string(domain.ErrorCodeRateLimited): {
		domain.ErrorCodeRateLimited.Message(),
		"Сервис сейчас перегружен. Попробуйте снова через несколько минут.",
		"Сервіс зараз перевантажений. Спробуйте ще раз за кілька хвилин.",
	},
	string(domain.ErrorCodeUnauthorized): {
		domain.ErrorCodeUnauthorized.Message(),
		"Сервис обработки настроен неверно. Мы уже получили уведомление.",
		"Сервіс обробки налаштовано неправильно. Ми вже отримали сповіщення.",
	},
	string(domain.ErrorCodeNoResult): {
		domain.ErrorCodeNoResult.Message(),
		"Сервис обработки не вернул результат. Попробуйте ещё раз.",
		"Сервіс обробки не повернув результат. Спробуйте ще раз.",
	},
	string(domain.ErrorCodeTransientUnavailable): {
		domain.ErrorCodeTransientUnavailable.Message(),
		"Обработка временно недоступна. Попробуйте позже.",
		"Обробка тимчасово недоступна. Спробуйте пізніше.",
	},
	string(domain.ErrorCodeValidation): {
		domain.ErrorCodeValidation.Message(),
		"Для этого инструмента не хватает входных данных.",
		"Для цього інструмента бракує вхідних даних.",
	},
	string(domain.ErrorCodeCancelled): {
		domain.ErrorCodeCancelled.Message(),
		"Обработка отменена.",
		"Обробку скасовано.",
	},
	KeyInsufficientCredits: {
		"Not enough credits.",
		"Недостаточно кредитов.",
		"Недостатньо кредитів.",
	},
	KeyPlanRequired: {
		"Upscale 4x and 8x are available on paid plans only.",
		"Upscale 4x и 8x доступны только для платных тарифов.",
		"Upscale 4x та 8x доступні лише на платних тарифах.",
	},
	KeyNotFound: {
		"Not found.",
		"Не найдено.",
		"Не знайдено.",
	},
	KeyNoProvider: {
		"This tool is not available right now.",
		"Этот инструмент сейчас недоступен.",
		"Цей інструмент зараз недоступний.",
	},
}

var cat = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, texts := range translations {
		for i, tag := range supported {
			_ = b.SetString(tag, key, texts[i])
		}
	}
	return b
}

// Match picks the best supported locale for an Accept-Language style value.
// Unknown input yields "en".
func Match(accept string) string {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return "en"
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return "en"
	}
	base, _ := supported[idx].Base()
	return base.String()
}

// Supported reports whether locale is one of en, ru, uk.
func Supported(locale string) bool {
	switch strings.ToLower(locale) {
	case "en", "ru", "uk":
		return true
	}
	return false
}

// Text renders key in locale, falling back to English.
func Text(locale, key string) string {
	tag := language.English
	if Supported(locale) {
		tag = language.Make(strings.ToLower(locale))
	}
	p := message.NewPrinter(tag, message.Catalog(cat))
	return p.Sprintf(message.Key(key, translations[key][0]))
}

// ErrorMessage renders the stable message of an error code.
func ErrorMessage(locale string, code domain.ErrorCode) string {
	if code == domain.ErrorCodeNone {
		return ""
	}
	if _, ok := translations[string(code)]; !ok {
		code = domain.ErrorCodeTransientUnavailable
	}
	return Text(locale, string(code))
}
