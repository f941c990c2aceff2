package pathnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	assert.Equal(t, "Alfred", Identity.Key("Alfred"))
	assert.NotEqual(t, Identity.Key("alfred"), Identity.Key("Alfred"))
}

func TestFoldNFC(t *testing.T) {
	rule := NewFoldNFC()

	cases := []struct {
		name  string
		a, b  string
		equal bool
	}{
		{"case only", "alfred", "Alfred", true},
		{"nested case", "Docs/Report.TXT", "docs/report.txt", true},
		{"nfc vs nfd", "caf\u00e9", "cafe\u0301", true},
		{"accented upper", "\u00c9cole", "\u00e9cole", true},
		{"different names", "alfred", "alfreda", false},
		{"separator kept", "a/b", "ab", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.equal, rule.Key(tc.a) == rule.Key(tc.b))
		})
	}

	// cached lookups return the same key
	assert.Equal(t, rule.Key("Alfred"), rule.Key("Alfred"))
}

func TestParse(t *testing.T) {
	r, err := Parse("identity")
	require.NoError(t, err)
	assert.Equal(t, "identity", r.Name())

	r, err = Parse(" Fold ")
	require.NoError(t, err)
	assert.Equal(t, "fold", r.Name())

	_, err = Parse("soundex")
	assert.Error(t, err)
}
