package service

import "strings"

// Providers that deliver u.ser+tag@ and user@ to the same mailbox.
var aliasCollapsingDomains = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
}

// CanonicalizeEmail lowercases an address and collapses provider aliases so
// the uniqueness check treats u.ser+spam@gmail.com and user@gmail.com as the
// same account. Input without an @ comes back lowercased and trimmed only.
func CanonicalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))

	at := strings.IndexByte(email, '@')
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]

	if _, ok := aliasCollapsingDomains[domain]; ok {
		if plus := strings.IndexByte(local, '+'); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
	}

	return local + "@" + domain
}
