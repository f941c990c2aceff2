package conflict

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// Marker separates a name from its conflict token.
const Marker = "-conflict-"

// TokenLayout renders tokens that sort lexicographically by time.
const TokenLayout = "20060102T150405Z"

var markerRe = regexp.MustCompile(regexp.QuoteMeta(Marker) + `\d{8}T\d{6}Z(-\d+)?`)

// Token returns the conflict token for t.
func Token(t time.Time) string {
	return t.UTC().Format(TokenLayout)
}

// Suffix is the text a resolution inserts for token.
func Suffix(token string) string {
	return Marker + token
}

// HasMarker reports whether name carries at least one conflict marker.
func HasMarker(name string) bool {
	return markerRe.MatchString(name)
}

// Markers returns every marker found in name, in order.
func Markers(name string) []string {
	return markerRe.FindAllString(name, -1)
}

// MarkedName inserts the marker into a final path component.
// Files keep their extension after the token, directories get it appended.
//
//	report.pdf -> report-conflict-20240501T100000Z.pdf
//	Alfred     -> Alfred-conflict-20240501T100000Z
func MarkedName(name string, isDir bool, token string) string {
	if isDir {
		return name + Suffix(token)
	}
	stem, ext := splitExt(name)
	return stem + Suffix(token) + ext
}

// MarkedPath applies MarkedName to the final component of a slash separated path.
func MarkedPath(p string, isDir bool, token string) string {
	dir, name := path.Split(p)
	return dir + MarkedName(name, isDir, token)
}

func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	// dotfiles like .env have no extension
	if stem == "" {
		return name, ""
	}
	return stem, ext
}
