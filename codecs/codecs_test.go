package codecs

import (
	"bytes"
	"io"
	"strings"
	"testing"

	gc "gopkg.in/check.v1"
)

type CodecsSuite struct{}

func (s *CodecsSuite) TestRoundTripOfEachCodec(c *gc.C) {
	var script = strings.Repeat("INSERT INTO queue(id, payload) VALUES (1, X'22666f6f22');\n", 64)

	for _, codec := range []CompressionCodec{NONE, GZIP, SNAPPY, ZSTANDARD} {
		var buf bytes.Buffer

		var w, err = NewCodecWriter(&buf, codec)
		if codec == ZSTANDARD && err != nil {
			continue // Built without cgo.
		}
		c.Assert(err, gc.IsNil)
		_, err = io.WriteString(w, script)
		c.Check(err, gc.IsNil)
		c.Check(w.Close(), gc.IsNil)

		if codec != NONE {
			c.Check(buf.Len() < len(script), gc.Equals, true)
		}

		r, err := NewCodecReader(&buf, codec)
		c.Assert(err, gc.IsNil)
		out, err := io.ReadAll(r)
		c.Check(err, gc.IsNil)
		c.Check(r.Close(), gc.IsNil)
		c.Check(string(out), gc.Equals, script)
	}
}

func (s *CodecsSuite) TestParseAndExtension(c *gc.C) {
	var cases = []struct {
		name  string
		codec CompressionCodec
		ext   string
	}{
		{"none", NONE, ""},
		{"gzip", GZIP, ".gz"},
		{"SNAPPY", SNAPPY, ".sz"},
		{"zstd", ZSTANDARD, ".zst"},
	}
	for _, tc := range cases {
		var codec, err = ParseCodec(tc.name)
		c.Check(err, gc.IsNil)
		c.Check(codec, gc.Equals, tc.codec)
		c.Check(codec.Extension(), gc.Equals, tc.ext)
		c.Check(codec.Validate(), gc.IsNil)
	}

	var _, err = ParseCodec("lz4")
	c.Check(err, gc.ErrorMatches, `unsupported codec "lz4"`)
	c.Check(CompressionCodec(42).Validate(), gc.ErrorMatches, `invalid CompressionCodec \(42\)`)
	c.Check(CompressionCodec(42).String(), gc.Equals, "CompressionCodec(42)")
}

func (s *CodecsSuite) TestUnknownCodec(c *gc.C) {
	var _, err = NewCodecWriter(&bytes.Buffer{}, CompressionCodec(42))
	c.Check(err, gc.ErrorMatches, "unsupported codec CompressionCodec\\(42\\)")
	_, err = NewCodecReader(&bytes.Buffer{}, CompressionCodec(42))
	c.Check(err, gc.ErrorMatches, "unsupported codec CompressionCodec\\(42\\)")
}

var _ = gc.Suite(&CodecsSuite{})

func Test(t *testing.T) { gc.TestingT(t) }
