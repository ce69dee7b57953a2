// Package snapshot implements the snapshot name codec and the snapshot store:
// enumeration, creation, and deletion of timestamped snapshots under a
// container subvolume at a given endpoint.
package snapshot

import (
	"fmt"
	"regexp"
	"time"
)

// layout is the encoding of a snapshot timestamp: sx-YYYYMMDD-hhmmss-utc.
// Lexicographic comparison of the encoded string preserves timestamp order.
const layout = "sx-20060102-150405-utc"

var namePattern = regexp.MustCompile(`^sx-(\d{8})-(\d{6})-utc$`)

// Encode renders t (converted to UTC, truncated to second resolution) as a
// snapshot name.
func Encode(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(layout)
}

// Decode parses a snapshot name back into its UTC instant. It returns false
// if name does not match the strict sx-YYYYMMDD-hhmmss-utc pattern — such a
// name is not a managed snapshot and must be left alone by the store.
func Decode(name string) (time.Time, bool) {
	if !namePattern.MatchString(name) {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MustDecode is Decode but panics on an invalid name; used only where the
// caller has already filtered names with Decode or namePattern.
func MustDecode(name string) time.Time {
	t, ok := Decode(name)
	if !ok {
		panic(fmt.Sprintf("snapshot: %q is not a managed snapshot name", name))
	}
	return t
}
