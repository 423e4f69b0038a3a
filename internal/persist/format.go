package persist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrFormat marks a malformed line or section. The loader logs it and skips
// the offending record.
var ErrFormat = errors.New("save format error")

// FormatError locates a format problem.
type FormatError struct {
	File string
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// Field is one name=value line. Value is the raw text after '='.
type Field struct {
	Name  string
	Value string
	Line  int
}

// Section is a [Type ID] header and the fields that follow it.
type Section struct {
	Type   string
	ID     string
	File   string
	Line   int
	Fields []Field
}

// Reader splits a save file into sections.
type Reader struct {
	sc       *bufio.Scanner
	file     string
	line     int
	pending  *Section
	skip     bool
	deferred error
}

func NewReader(r io.Reader, file string) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{sc: sc, file: file}
}

// Next returns the next section, io.EOF at the end, or a *FormatError for a
// malformed line. After a FormatError the caller may keep calling Next; a
// malformed header skips its whole body.
func (r *Reader) Next() (Section, error) {
	if err := r.deferred; err != nil {
		r.deferred = nil
		return Section{}, err
	}
	for r.sc.Scan() {
		r.line++
		text := r.sc.Text()
		if r.line == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "//") {
			continue
		}
		if strings.HasPrefix(text, "[") {
			sec, err := r.header(text)
			prev := r.take()
			if err != nil {
				r.skip = true
				if prev != nil {
					r.deferred = err
					return *prev, nil
				}
				return Section{}, err
			}
			r.skip = false
			r.pending = &sec
			if prev != nil {
				return *prev, nil
			}
			continue
		}
		if r.skip {
			continue
		}
		if r.pending == nil {
			return Section{}, r.errorf("field outside a section")
		}
		name, value, ok := strings.Cut(text, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return Section{}, r.errorf("expected name=value, got %q", text)
		}
		r.pending.Fields = append(r.pending.Fields, Field{Name: name, Value: strings.TrimSpace(value), Line: r.line})
	}
	if err := r.sc.Err(); err != nil {
		return Section{}, fmt.Errorf("read %s: %w", r.file, err)
	}
	if prev := r.take(); prev != nil {
		return *prev, nil
	}
	return Section{}, io.EOF
}

func (r *Reader) header(text string) (Section, error) {
	end := strings.IndexByte(text, ']')
	if end < 0 {
		return Section{}, r.errorf("unterminated section header %q", text)
	}
	if rest := strings.TrimSpace(text[end+1:]); rest != "" && !strings.HasPrefix(rest, "//") {
		return Section{}, r.errorf("text after section header: %q", rest)
	}
	typ, id, _ := strings.Cut(strings.TrimSpace(text[1:end]), " ")
	if typ == "" {
		return Section{}, r.errorf("empty section type")
	}
	return Section{Type: typ, ID: strings.TrimSpace(id), File: r.file, Line: r.line}, nil
}

func (r *Reader) take() *Section {
	s := r.pending
	r.pending = nil
	return s
}

func (r *Reader) errorf(format string, args ...any) error {
	return &FormatError{File: r.file, Line: r.line, Msg: fmt.Sprintf(format, args...)}
}
