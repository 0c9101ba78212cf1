package keys_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"archivist/internal/keys"
)

func TestSegmentKeys(t *testing.T) {
	seg := keys.Edition{Media: "novel", WorkID: "W", EditionID: "E"}.Segment("chapter", 5)

	assert.Equal(t, "raw/novel/W/E/chapter-5", seg.Dir())
	assert.Equal(t, "raw/novel/W/E/chapter-5/page-001.jpg", seg.Page(1, "jpg"))
	assert.Equal(t, "raw/novel/W/E/chapter-5/page-003.jpg", seg.Page(3, ".JPG"))
	assert.Equal(t, "raw/novel/W/E/chapter-5/page-120.bin", seg.Page(120, ""))
	assert.Equal(t, "raw/novel/W/E/chapter-5/sub-02.vtt", seg.Subtitle(2, "vtt"))
	assert.Equal(t, "raw/novel/W/E/chapter-5/text-01.txt", seg.Text(1))
	assert.Equal(t, "raw/novel/W/E/chapter-5/manifest.json", seg.Manifest())
}

func TestEditionManifest(t *testing.T) {
	ed := keys.Edition{Media: "manhwa", WorkID: "w1", EditionID: "e1"}
	assert.Equal(t, "raw/manhwa/w1/e1/segments.json", ed.Manifest())
}

func TestFormatOrdinal(t *testing.T) {
	assert.Equal(t, "5", keys.FormatOrdinal(5))
	assert.Equal(t, "5.5", keys.FormatOrdinal(5.5))
	assert.Equal(t, "0", keys.FormatOrdinal(0))
	assert.Equal(t, "12.25", keys.FormatOrdinal(12.25))
}

func TestExtensionFromURL(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example/img/001.JPG":          "jpg",
		"https://cdn.example/img/001.webp?w=800":   "webp",
		"https://cdn.example/subs/ep1.srt#t=0":     "srt",
		"https://cdn.example/img/noext":            "",
		"https://cdn.example/img/file.verylongext": "",
	}
	for input, want := range cases {
		assert.Equal(t, want, keys.ExtensionFromURL(input), input)
	}
}
