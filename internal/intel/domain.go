package intel

import (
	"net/url"
	"strings"
)

// NormalizeDomain reduces user input such as "https://WWW.Shop.com/path" to
// the registry key "shop.com".
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", Validation("site", map[string]string{"domain": "required"})
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", Validation("site", map[string]string{"domain": "not a valid host"})
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ".")
	if !strings.Contains(host, ".") || strings.ContainsAny(host, " _") {
		return "", Validation("site", map[string]string{"domain": "not a valid host"})
	}
	return host, nil
}
