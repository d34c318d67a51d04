package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAvatarURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips query parameters",
			in:   "https://pbs.twimg.com/profile_images/123/abc.jpg?format=jpg",
			want: "https://pbs.twimg.com/profile_images/123/abc.jpg",
		},
		{
			name: "strips normal suffix",
			in:   "https://pbs.twimg.com/profile_images/123/abc_normal.jpg",
			want: "https://pbs.twimg.com/profile_images/123/abc.jpg",
		},
		{
			name: "strips bigger suffix",
			in:   "https://pbs.twimg.com/profile_images/123/abc_bigger.png",
			want: "https://pbs.twimg.com/profile_images/123/abc.png",
		},
		{
			name: "strips mini suffix",
			in:   "https://pbs.twimg.com/profile_images/123/abc_mini.jpg",
			want: "https://pbs.twimg.com/profile_images/123/abc.jpg",
		},
		{
			name: "strips 200x200 suffix",
			in:   "https://pbs.twimg.com/profile_images/123/abc_200x200.jpg",
			want: "https://pbs.twimg.com/profile_images/123/abc.jpg",
		},
		{
			name: "strips 400x400 suffix",
			in:   "https://pbs.twimg.com/profile_images/123/abc_400x400.jpg",
			want: "https://pbs.twimg.com/profile_images/123/abc.jpg",
		},
		{
			name: "appends default extension when none present",
			in:   "https://pbs.twimg.com/profile_images/123/abc",
			want: "https://pbs.twimg.com/profile_images/123/abc.jpg",
		},
		{
			name: "suffix and query together",
			in:   "https://pbs.twimg.com/profile_images/123/abc_normal.jpg?x=1&y=2",
			want: "https://pbs.twimg.com/profile_images/123/abc.jpg",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeAvatarURL(tt.in)
			assert.Equal(t, tt.want, got)

			// Normalization must be idempotent.
			assert.Equal(t, got, NormalizeAvatarURL(got))
		})
	}
}

func TestUpgradeMediaURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "small rendition upgraded",
			in:   "https://pbs.twimg.com/media/XYZ?format=jpg&name=small",
			want: "https://pbs.twimg.com/media/XYZ?format=jpg&name=large",
		},
		{
			name: "no rendition parameter",
			in:   "https://pbs.twimg.com/media/XYZ?format=png",
			want: "https://pbs.twimg.com/media/XYZ?format=png&name=large",
		},
		{
			name: "already large is unchanged",
			in:   "https://pbs.twimg.com/media/XYZ?format=jpg&name=large",
			want: "https://pbs.twimg.com/media/XYZ?format=jpg&name=large",
		},
		{
			name: "non-media URL passes through",
			in:   "https://video.twimg.com/ext_tw_video/1/pu/vid/720x720/a.mp4",
			want: "https://video.twimg.com/ext_tw_video/1/pu/vid/720x720/a.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpgradeMediaURL(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, UpgradeMediaURL(got))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "hello   world\n\tfoo", "hello world foo"},
		{"strips urls", "check this https://t.co/abc123 out", "check this out"},
		{"smart quotes", "“hello” ‘world’", `"hello" 'world'`},
		{"ellipsis and dashes", "wait… ok – fine — done", "wait... ok - fine - done"},
		{"trims", "  padded  ", "padded"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}
