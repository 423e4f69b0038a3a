package persist

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/worldcore/internal/core/ecs"
)

func readAll(t *testing.T, text string) ([]Section, []*FormatError) {
	t.Helper()
	rd := NewReader(strings.NewReader(text), "test.sav")
	var secs []Section
	var errs []*FormatError
	for {
		s, err := rd.Next()
		if err == io.EOF {
			return secs, errs
		}
		if err != nil {
			var fe *FormatError
			require.True(t, errors.As(err, &fe), "unexpected error %v", err)
			errs = append(errs, fe)
			continue
		}
		secs = append(secs, s)
	}
}

func TestReaderSections(t *testing.T) {
	text := "\ufeff// header\n\n[i_chest #1]\np=(10,10,0,0)\n  name = \"box\"  \n\n[Account alice]\npassword=\"h\"\n"
	secs, errs := readAll(t, text)
	require.Empty(t, errs)
	require.Len(t, secs, 2)

	assert.Equal(t, "i_chest", secs[0].Type)
	assert.Equal(t, "#1", secs[0].ID)
	assert.Equal(t, 3, secs[0].Line)
	assert.Equal(t, []Field{{Name: "p", Value: "(10,10,0,0)", Line: 4}, {Name: "name", Value: `"box"`, Line: 5}}, secs[0].Fields)

	assert.Equal(t, "Account", secs[1].Type)
	assert.Equal(t, "alice", secs[1].ID)
	assert.Equal(t, "test.sav", secs[1].File)
}

func TestReaderMalformedHeaderSkipsBody(t *testing.T) {
	secs, errs := readAll(t, "[a #1]\nx=1\n[broken\ny=2\n[b #2]\nz=3\n")
	require.Len(t, secs, 2)
	assert.Equal(t, "a", secs[0].Type)
	assert.Len(t, secs[0].Fields, 1)
	assert.Equal(t, "b", secs[1].Type)
	assert.Equal(t, "z", secs[1].Fields[0].Name)

	require.Len(t, errs, 1)
	assert.Equal(t, 3, errs[0].Line)
	assert.ErrorIs(t, errs[0], ErrFormat)
}

func TestReaderBadLines(t *testing.T) {
	secs, errs := readAll(t, "stray=1\n[a #1]\nnovalue\nk=v\n")
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Line)
	assert.Contains(t, errs[0].Msg, "outside a section")
	assert.Equal(t, 3, errs[1].Line)

	require.Len(t, secs, 1)
	assert.Equal(t, []Field{{Name: "k", Value: "v", Line: 4}}, secs[0].Fields)
}

func TestWriterOutput(t *testing.T) {
	var b strings.Builder
	w := NewWriter(&b)
	w.Comment("saved by %s", "test")
	w.Section("i_gold", "#4")
	w.Field("amount", "12")
	w.Section("Account", "")
	require.NoError(t, w.Flush())
	assert.Equal(t, "// saved by test\n\n[i_gold #4]\namount=12\n\n[Account]\n", b.String())
}

func TestQuoteRoundTrip(t *testing.T) {
	for _, s := range []string{"", "plain", `a "quoted" word`, `back\slash`, "two\nlines\r\tand tab", "Café"} {
		got, err := Unquote(Quote(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for _, bad := range []string{`"open`, `"a"b"`, `"bad\q"`, `"tail\"`} {
		_, err := Unquote(bad)
		assert.Error(t, err, bad)
	}
	got, err := Unquote("bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", got)
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		raw  string
		want ecs.Value
		ok   bool
	}{
		{"12", ecs.IntValue(12), true},
		{"-3", ecs.IntValue(-3), true},
		{"0x10", ecs.IntValue(16), true},
		{`"hi there"`, ecs.StringValue("hi there"), true},
		{"#5", ecs.Value{}, false},
		{"$alice", ecs.Value{}, false},
	}
	for _, tt := range tests {
		v, ok, err := DecodeValue(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, v, tt.raw)
	}
	_, _, err := DecodeValue("twelve")
	assert.Error(t, err)

	for _, v := range []ecs.Value{ecs.IntValue(-7), ecs.StringValue("x\"y"), ecs.RefValue(9), ecs.NamedValue("bob")} {
		raw := EncodeValue(v)
		if got, ok, err := DecodeValue(raw); ok {
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	}
	assert.Equal(t, "#9", EncodeValue(ecs.RefValue(9)))
	assert.Equal(t, "$bob", EncodeValue(ecs.NamedValue("bob")))
}

func TestParseNamed(t *testing.T) {
	n, err := ParseNamed("$alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", n)
	_, err = ParseNamed("alice")
	assert.Error(t, err)
	_, err = ParseNamed("$")
	assert.Error(t, err)
}
