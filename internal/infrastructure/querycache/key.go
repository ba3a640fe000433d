package querycache

import (
	"fmt"
	"strings"
)

// Key names one cached query. It is the REST path the query is fetched from,
// so invalidating a resource and fetching it agree on the same string.
type Key string

// NewKey joins resource and params into a path key:
// NewKey("/api/group-messages", 42, "replies") is
// "/api/group-messages/42/replies".
func NewKey(resource string, params ...any) Key {
	var b strings.Builder
	b.WriteString(strings.TrimRight(resource, "/"))
	for _, p := range params {
		b.WriteByte('/')
		fmt.Fprint(&b, p)
	}
	return Key(b.String())
}

// HasPrefix reports whether k is prefix or a path below it. "/api/messages"
// covers "/api/messages/7" but not "/api/messages-archive".
func (k Key) HasPrefix(prefix Key) bool {
	if k == prefix {
		return true
	}
	p := strings.TrimRight(string(prefix), "/")
	return strings.HasPrefix(string(k), p+"/")
}
