package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"unquarantine/internal/quarantine"
	"unquarantine/internal/quarantine/quarantinetest"
	"unquarantine/internal/sink"
)

func TestBuildDecoded(t *testing.T) {
	raw, err := quarantinetest.Container([]byte("MZ"), 0)
	require.NoError(t, err)
	res := quarantine.Decode("abc", raw)
	art := &sink.Artifact{Path: "/out/abc_decoded.bin", Size: 2}

	r := Build("/in/abc", res, art)
	assert.Equal(t, "decoded", r.Status)
	require.NotNil(t, r.Header)
	assert.Equal(t, uint32(2), r.Header.OriginalLength)
	require.Len(t, r.Sections, 1)

	sec := r.Sections[0]
	assert.Equal(t, SectionTitle, sec.Title)
	assert.Equal(t, HeuristicDecoded, sec.Heuristic)
	assert.Equal(t, []string{decodedLine, "/out/abc_decoded.bin"}, sec.Lines)
	assert.Equal(t, []string{"/out/abc_decoded.bin"}, sec.Tags[TagDecodedName])

	require.Len(t, r.Extracted, 1)
	assert.Equal(t, Extracted{Path: "/out/abc_decoded.bin", Name: "abc_decoded.bin", Description: ExtractedDesc}, r.Extracted[0])
}

func TestBuildNotThisFormat(t *testing.T) {
	r := Build("/in/readme.txt", quarantine.Decode("readme.txt", []byte("hello world, not a container")), nil)
	assert.Equal(t, "not_this_format", r.Status)
	assert.Empty(t, r.Sections)
	assert.Nil(t, r.Header)
	assert.Empty(t, r.Error)
}

func TestBuildInconsistent(t *testing.T) {
	raw, err := quarantinetest.Container([]byte("MZ"), 0)
	require.NoError(t, err)
	res := quarantine.Decode("abc", append(raw, 1, 2))

	r := Build("/in/abc", res, &sink.Artifact{})
	assert.Equal(t, "inconsistent_header", r.Status)
	require.Len(t, r.Sections, 1)
	assert.Zero(t, r.Sections[0].Heuristic)
	assert.Empty(t, r.Sections[0].Tags)
	assert.Empty(t, r.Extracted)
	assert.Contains(t, r.Error, "inconsistent")
}

func TestEncodeJSON(t *testing.T) {
	var buf bytes.Buffer
	reports := []*Report{Skip("big", "/in/big", "file exceeds max_size", 10), Failed("gone", "/in/gone", errors.New("permission denied"))}
	require.NoError(t, Encode(&buf, "json", reports))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "skipped", out[0]["status"])
	assert.Equal(t, "permission denied", out[1]["error"])
}

func TestEncodeYAML(t *testing.T) {
	raw, err := quarantinetest.Container([]byte("x"), 0)
	require.NoError(t, err)
	r := Build("/in/a", quarantine.Decode("a", raw), &sink.Artifact{Path: "/out/a_decoded.bin"})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, "yaml", []*Report{r}))

	var out []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "decoded", out[0]["status"])
	assert.Contains(t, buf.String(), "header_length: 40")
}

func TestEncodeEmptyAndUnknown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, "json", nil))
	assert.Equal(t, "[]\n", buf.String())

	assert.Error(t, Encode(&buf, "xml", nil))
}

func TestStreamJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewStream(&buf, "json")
	require.NoError(t, err)
	require.NoError(t, s.Write(Skip("a", "/in/a", "too big", 10)))
	require.NoError(t, s.Write(Skip("b", "/in/b", "too big", 20)))
	require.NoError(t, s.Close())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var r Report
	require.NoError(t, json.Unmarshal(lines[1], &r))
	assert.Equal(t, "b", r.Name)
	assert.Equal(t, "skipped", r.Status)
}

func TestStreamYAMLDocuments(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewStream(&buf, "yaml")
	require.NoError(t, err)
	require.NoError(t, s.Write(Skip("a", "", "x", 1)))
	require.NoError(t, s.Write(Skip("b", "", "y", 2)))
	require.NoError(t, s.Close())

	dec := yaml.NewDecoder(&buf)
	var names []string
	for {
		var r Report
		if err := dec.Decode(&r); err != nil {
			break
		}
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)

	_, err = NewStream(&buf, "xml")
	assert.Error(t, err)
}
