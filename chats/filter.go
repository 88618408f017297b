package chats

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+\s*(?:@|\(at\)|\[at\])\s*[a-z0-9\-]+(?:\s*(?:\.|\(dot\)|\[dot\])\s*[a-z0-9\-]+)*\s*(?:\.|\(dot\)|\[dot\])\s*[a-z]{2,}`)
	// Australian numbers: 0 or +61, an area or mobile digit 2-9, then eight
	// digits. Spaces, dots, dashes and a bracketed area code are allowed.
	auPhonePattern = regexp.MustCompile(`(?:^|[^\d])(?:\+?61[\s.\-]?\(?0?\)?|\(?0)[\s.\-]?\(?[2-9]\)?(?:[\s.\-]?\d){8}(?:$|[^\d])`)
	// anything else written in international form
	intlPhonePattern = regexp.MustCompile(`\+\d(?:[\s.\-()]?\d){8,14}`)
	isoDatePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// ContactFilter flags messages that try to move the conversation off the
// platform.
type ContactFilter struct {
	patterns []*regexp.Regexp
}

func NewContactFilter() *ContactFilter {
	return &ContactFilter{patterns: []*regexp.Regexp{emailPattern, auPhonePattern, intlPhonePattern}}
}

// Blocked reports whether content contains a phone number or an email
// address. Dates are blanked first so date ranges never read as numbers.
func (f *ContactFilter) Blocked(content string) bool {
	content = isoDatePattern.ReplaceAllString(content, " ")
	for _, p := range f.patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// ConversationKey helpers. Direct conversations are keyed by the sorted
// pair of user ids; nanny-share group threads by the share id.
const sharePrefix = "share:"

func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func ShareKey(shareID string) string {
	return sharePrefix + shareID
}

// splitKey returns the share id for a share key, or the two user ids of a
// direct key.
func splitKey(key string) (shareID string, users []string, ok bool) {
	if id, found := strings.CutPrefix(key, sharePrefix); found {
		return id, nil, id != ""
	}
	a, b, found := strings.Cut(key, ":")
	if !found || a == "" || b == "" || strings.Contains(b, ":") {
		return "", nil, false
	}
	return "", []string{a, b}, true
}
