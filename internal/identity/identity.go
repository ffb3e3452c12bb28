// Package identity answers exactly one question: is this caller an
// admin. The answer comes from a static allow-list loaded at startup.
package identity

import "strings"

// AllowList recognizes admins by numeric id or by chat handle
// (case-insensitive).
type AllowList struct {
	ids       map[int64]bool
	usernames map[string]bool
}

// NewAllowList builds an AllowList from the configured admin ids and
// handles.
func NewAllowList(ids []int64, usernames []string) *AllowList {
	al := &AllowList{
		ids:       make(map[int64]bool, len(ids)),
		usernames: make(map[string]bool, len(usernames)),
	}
	for _, id := range ids {
		al.ids[id] = true
	}
	for _, name := range usernames {
		name = strings.ToLower(strings.TrimPrefix(name, "@"))
		if name != "" {
			al.usernames[name] = true
		}
	}
	return al
}

// IsAdmin reports whether the caller is on the allow-list, by id or by
// handle.
func (al *AllowList) IsAdmin(id int64, username string) bool {
	if al.ids[id] {
		return true
	}
	return al.usernames[strings.ToLower(strings.TrimPrefix(username, "@"))]
}
