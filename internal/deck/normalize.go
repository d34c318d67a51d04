package deck

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// avatarSizeSuffixes are the thumbnail renditions X appends to profile image
// names. Stripping them yields the original-size image.
var avatarSizeSuffixes = []string{
	"_normal.",
	"_bigger.",
	"_mini.",
	"_200x200.",
	"_400x400.",
}

// NormalizeAvatarURL rewrites a profile image URL to its original-size
// rendition: query parameters stripped, size suffixes removed, and a .jpg
// extension appended when neither known image extension is present. The
// function is idempotent.
func NormalizeAvatarURL(raw string) string {
	if raw == "" {
		return ""
	}

	u := raw
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}

	for _, suffix := range avatarSizeSuffixes {
		u = strings.ReplaceAll(u, suffix, ".")
	}

	if !strings.HasSuffix(u, ".jpg") && !strings.HasSuffix(u, ".png") {
		u += ".jpg"
	}

	return u
}

// UpgradeMediaURL rewrites a pbs.twimg.com media URL to request the large
// rendition. Non-media URLs pass through unchanged.
func UpgradeMediaURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !strings.HasSuffix(u.Host, "twimg.com") || !strings.HasPrefix(u.Path, "/media/") {
		return raw
	}

	q := u.Query()
	q.Set("name", "large")
	u.RawQuery = q.Encode()
	return u.String()
}

var (
	spaceRE = regexp.MustCompile(`\s+`)
	urlRE   = regexp.MustCompile(`https?://\S+`)
)

// unicodeReplacer maps typographic characters to their plain equivalents.
var unicodeReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"…", "...",
	"–", "-", "—", "-",
)

// NormalizeText collapses whitespace, strips URLs and non-printable
// characters, and maps typographic punctuation to ASCII.
func NormalizeText(text string) string {
	if text == "" {
		return text
	}

	text = urlRE.ReplaceAllString(text, "")
	text = unicodeReplacer.Replace(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(spaceRE.ReplaceAllString(b.String(), " "))
}
