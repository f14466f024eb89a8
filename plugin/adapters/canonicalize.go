package adapters

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Query params stripped during canonicalization, beyond the utm_ prefix.
var trackingParams = map[string]bool{
	"gclid":       true,
	"fbclid":      true,
	"spm_id_from": true,
	"from_source": true,
	"vd_source":   true,
}

var (
	bilibiliVideoIDRe   = regexp.MustCompile(`^(BV[0-9A-Za-z]{10}|av\d+)$`)
	bilibiliArticleIDRe = regexp.MustCompile(`^cv\d+$`)
)

// Canonicalize normalizes a submitted URL into its dedup form. It is
// deterministic and idempotent: Canonicalize(Canonicalize(u)) equals
// Canonicalize(u).
func Canonicalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty url")
	}

	// Bare bilibili identifiers are accepted and expanded to full URLs.
	if bilibiliVideoIDRe.MatchString(s) {
		return "https://www.bilibili.com/video/" + s, nil
	}
	if bilibiliArticleIDRe.MatchString(s) {
		return "https://www.bilibili.com/read/" + s, nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", errors.Wrapf(err, "malformed url %q", raw)
	}
	if u.Host == "" {
		return "", errors.Errorf("url %q has no host", raw)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			lower := strings.ToLower(key)
			if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
				query.Del(key)
			}
		}
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}
