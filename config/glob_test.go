package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"/camera/front", "/camera/front", true},
		{"/camera/front", "/camera/back", false},
		{"camera/front", "/camera/front", true}, // leading slash is not significant
		{"/camera/*", "/camera/front", true},
		{"/camera/*", "/camera/front/image", false},
		{"/camera/**", "/camera/front", true},
		{"/camera/**", "/camera/front/image", true},
		{"/camera/**", "/camera", true}, // ** matches zero segments
		{"/camera/**", "/lidar/scan", false},
		{"**", "/anything/at/all", true},
		{"**", "", true},
		{"**/image", "/camera/front/image", true},
		{"**/image", "/camera/front/depth", false},
		{"/a/**/z", "/a/z", true},
		{"/a/**/z", "/a/b/c/z", true},
		{"/a/**/z", "/a/b/c", false},
		{"/a/*/c", "/a/b/c", true},
		{"", "", true},
		{"", "/a", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.topic),
			"pattern %q topic %q", tt.pattern, tt.topic)
	}
}
