package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Content
	}{
		{"image", "[IMAGE] https://x/y.png", Image("https://x/y.png")},
		{"file with name", "[FILE] https://x/z.pdf|report.pdf", File("https://x/z.pdf", "report.pdf")},
		{"file without name", "[FILE] https://x/docs/z.pdf", File("https://x/docs/z.pdf", "z.pdf")},
		{"plain text", "hello there", Text("hello there")},
		{"bare image prefix", "[IMAGE] ", Text("[IMAGE] ")},
		{"prefix not at start", "see [IMAGE] https://x/y.png", Text("see [IMAGE] https://x/y.png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseContent(tt.in))
		})
	}
}

func TestContentStringRoundTripsAttachments(t *testing.T) {
	for _, c := range []Content{Image("https://x/y.png"), File("https://x/z.pdf", "report.pdf")} {
		assert.Equal(t, c, ParseContent(c.String()))
	}
}

func TestEmojiOnly(t *testing.T) {
	assert.True(t, Text("👍").EmojiOnly())
	assert.True(t, Text(" 🎉 🔥 ").EmojiOnly())
	assert.True(t, Text("👩‍💻").EmojiOnly())
	assert.True(t, Text("❤️").EmojiOnly())
	assert.False(t, Text("ok 👍").EmojiOnly())
	assert.False(t, Text("   ").EmojiOnly())
	assert.False(t, Image("https://x/y.png").EmojiOnly())
}

func TestContentValidate(t *testing.T) {
	assert.NoError(t, Text("hi").Validate())
	assert.Error(t, Text(" \n").Validate())
	assert.Error(t, Content{Kind: KindImage}.Validate())
	assert.Error(t, Content{Kind: KindFile, URL: "https://x/z.pdf"}.Validate())
	assert.Error(t, Content{Kind: "video", URL: "https://x/v.mp4"}.Validate())
}

func TestContentUnmarshalAcceptsBothForms(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`"[IMAGE] https://x/y.png"`), &c))
	assert.Equal(t, Image("https://x/y.png"), c)

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"file","url":"https://x/z.pdf","name":"z.pdf"}`), &c))
	assert.Equal(t, File("https://x/z.pdf", "z.pdf"), c)
}
