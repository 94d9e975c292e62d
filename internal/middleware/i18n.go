package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"golang.org/x/text/language"

	"retouch/internal/i18n"
)

type (
	localeKey  struct{}
	countryKey struct{}
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// countryHeaders are set by CDNs and load balancers in front of the API.
var countryHeaders = []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}

// I18N stores the caller's locale (en, ru or uk) and country in the request
// context.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	fallback := "en"
	if i18n.Supported(defaultLocale) {
		fallback = strings.ToLower(defaultLocale)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			ctx := WithLocale(r.Context(), detectLocale(r, fallback, country))
			if country != "" {
				ctx = context.WithValue(ctx, countryKey{}, country)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithLocale returns ctx carrying locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, strings.ToLower(locale))
}

// LocaleFromContext returns the negotiated locale, en when none was stored.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeKey{}).(string); ok && v != "" {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	v, _ := ctx.Value(countryKey{}).(string)
	return v
}

// detectLocale prefers an explicit X-Locale, then Accept-Language, then the
// caller's country. An Accept-Language naming no supported language does not
// count as a preference for English.
func detectLocale(r *http.Request, fallback, country string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		return i18n.Match(v)
	}
	if v := strings.TrimSpace(r.Header.Get("Accept-Language")); v != "" {
		if locale := i18n.Match(v); locale != "en" || prefersEnglish(v) {
			return locale
		}
	}
	if locale := countryLocale(country); locale != "" {
		return locale
	}
	if fallback == "" {
		return "en"
	}
	return fallback
}

func prefersEnglish(accept string) bool {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil {
		return false
	}
	for _, tag := range tags {
		if base, _ := tag.Base(); base.String() == "en" {
			return true
		}
	}
	return false
}

func countryLocale(country string) string {
	switch country {
	case "":
		return ""
	case "UA":
		return "uk"
	case "RU", "BY", "KZ":
		return "ru"
	default:
		return "en"
	}
}

// ResolveCountry picks the caller's ISO country from proxy headers, then the
// region of the requested locale, then a GeoIP lookup of the client address.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	for _, key := range countryHeaders {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return strings.ToUpper(v)
		}
	}
	for _, key := range []string{"X-Locale", "Accept-Language"} {
		if region := explicitRegion(r.Header.Get(key)); region != "" {
			return region
		}
	}
	if lookup == nil {
		return ""
	}
	ip := ClientIP(r)
	if ip == "" {
		return ""
	}
	country, err := lookup(ip)
	if err != nil {
		return ""
	}
	return strings.ToUpper(country)
}

// explicitRegion returns the region subtag of the first language range that
// names one, ignoring regions x/text would only infer.
func explicitRegion(accept string) string {
	if strings.TrimSpace(accept) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(strings.ReplaceAll(accept, "_", "-"))
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}

// ClientIP returns the first X-Forwarded-For hop when it parses as an address,
// otherwise the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
