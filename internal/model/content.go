package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// ContentKind tags the Content variant.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindFile  ContentKind = "file"
)

const (
	imagePrefix = "[IMAGE] "
	filePrefix  = "[FILE] "
)

// Content is the message payload: plain text, an image URL, or a file URL
// with a display name. Only the field(s) of the active kind are set.
type Content struct {
	Kind ContentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	URL  string      `json:"url,omitempty"`
	Name string      `json:"name,omitempty"`
}

func Text(s string) Content         { return Content{Kind: KindText, Text: s} }
func Image(url string) Content      { return Content{Kind: KindImage, URL: url} }
func File(url, name string) Content { return Content{Kind: KindFile, URL: url, Name: name} }

// ParseContent classifies a content string that uses the legacy prefix
// convention. "[IMAGE] <url>" is an image, "[FILE] <url>|<name>" is a file and
// everything else is text. A file without a "|name" suffix is named after the
// last path segment of its URL.
func ParseContent(s string) Content {
	switch {
	case strings.HasPrefix(s, imagePrefix):
		url := strings.TrimSpace(strings.TrimPrefix(s, imagePrefix))
		if url != "" {
			return Image(url)
		}
	case strings.HasPrefix(s, filePrefix):
		rest := strings.TrimSpace(strings.TrimPrefix(s, filePrefix))
		url, name, found := strings.Cut(rest, "|")
		url = strings.TrimSpace(url)
		if url == "" {
			break
		}
		if !found || strings.TrimSpace(name) == "" {
			name = url[strings.LastIndex(url, "/")+1:]
		}
		return File(url, strings.TrimSpace(name))
	}
	return Text(s)
}

// String renders the legacy prefix form. Text that itself starts with an
// attachment prefix is returned unchanged; the explicit Kind is what the
// store persists, so that text never round-trips into an attachment.
func (c Content) String() string {
	switch c.Kind {
	case KindImage:
		return imagePrefix + c.URL
	case KindFile:
		return filePrefix + c.URL + "|" + c.Name
	default:
		return c.Text
	}
}

// Validate rejects empty payloads and kinds without their required fields.
func (c Content) Validate() error {
	switch c.Kind {
	case KindText:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("empty text")
		}
	case KindImage:
		if c.URL == "" {
			return fmt.Errorf("image without url")
		}
	case KindFile:
		if c.URL == "" || c.Name == "" {
			return fmt.Errorf("file needs url and name")
		}
	default:
		return fmt.Errorf("unknown content kind %q", c.Kind)
	}
	return nil
}

// EmojiOnly reports whether a text payload consists solely of emoji and
// whitespace, with at least one emoji.
func (c Content) EmojiOnly() bool {
	if c.Kind != KindText {
		return false
	}
	seen := false
	for _, r := range c.Text {
		switch {
		case unicode.IsSpace(r):
		case isEmojiJoiner(r):
		case isPictographic(r):
			seen = true
		default:
			return false
		}
	}
	return seen
}

// UnmarshalJSON accepts either the explicit object form or a bare string in
// the legacy prefix convention.
func (c *Content) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = ParseContent(s)
		return nil
	}
	type plain Content
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Content(p)
	return nil
}

func isEmojiJoiner(r rune) bool {
	return r == 0x200D || r == 0xFE0F || r == 0x20E3 || (r >= 0xE0020 && r <= 0xE007F)
}

var pictographicRanges = [][2]rune{
	{0x00A9, 0x00A9}, {0x00AE, 0x00AE},
	{0x203C, 0x203C}, {0x2049, 0x2049},
	{0x2122, 0x2122}, {0x2139, 0x2139},
	{0x2194, 0x2199}, {0x21A9, 0x21AA},
	{0x231A, 0x231B}, {0x2328, 0x2328}, {0x23CF, 0x23CF}, {0x23E9, 0x23FA},
	{0x24C2, 0x24C2},
	{0x25AA, 0x25AB}, {0x25B6, 0x25B6}, {0x25C0, 0x25C0}, {0x25FB, 0x25FE},
	{0x2600, 0x27BF},
	{0x2934, 0x2935},
	{0x2B05, 0x2B07}, {0x2B1B, 0x2B1C}, {0x2B50, 0x2B50}, {0x2B55, 0x2B55},
	{0x3030, 0x3030}, {0x303D, 0x303D}, {0x3297, 0x3297}, {0x3299, 0x3299},
	{0x1F000, 0x1FAFF},
}

func isPictographic(r rune) bool {
	for _, rg := range pictographicRanges {
		if r < rg[0] {
			return false
		}
		if r <= rg[1] {
			return true
		}
	}
	return false
}
