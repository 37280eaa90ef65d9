package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snapbridge/pkg/output"
)

func TestFilter_Allow(t *testing.T) {
	f, err := NewFilter([]string{"images/**", "/docs/*.pdf"}, []string{"**/_tmp/**"})
	require.NoError(t, err)

	tests := []struct {
		key    string
		allow  bool
		reason string
	}{
		{"images/a.png", true, ""},
		{"images/2024/b.png", true, ""},
		{"images/_tmp/c.png", false, output.SkipReasonExcluded},
		{"docs/x.pdf", true, ""},
		{"docs/sub/x.pdf", false, output.SkipReasonNotIncluded},
		{"other.txt", false, output.SkipReasonNotIncluded},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ok, reason := f.Allow(tt.key)
			assert.Equal(t, tt.allow, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestFilter_EmptyAndNil(t *testing.T) {
	f, err := NewFilter(nil, []string{"*.log"})
	require.NoError(t, err)
	ok, _ := f.Allow("a/b.txt")
	assert.True(t, ok)
	ok, reason := f.Allow("x.log")
	assert.False(t, ok)
	assert.Equal(t, output.SkipReasonExcluded, reason)

	var none *Filter
	ok, _ = none.Allow("anything")
	assert.True(t, ok)
}

func TestNewFilter_InvalidPattern(t *testing.T) {
	_, err := NewFilter([]string{"[unclosed"}, nil)
	require.Error(t, err)
	_, err = NewFilter(nil, []string{"{a,b"})
	require.Error(t, err)
}
