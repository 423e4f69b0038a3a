package persist

import (
	"bufio"
	"fmt"
	"io"
)

// Writer emits save-file sections. Output depends only on the calls made,
// so identical worlds produce identical files.
type Writer struct {
	bw  *bufio.Writer
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, 64*1024)}
}

func (w *Writer) writef(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.bw, format, args...)
}

// Comment writes a // line.
func (w *Writer) Comment(format string, args ...any) {
	w.writef("// "+format+"\n", args...)
}

// Section starts a new [typ id] block, separated from the previous one by
// a blank line.
func (w *Writer) Section(typ, id string) {
	if id == "" {
		w.writef("\n[%s]\n", typ)
		return
	}
	w.writef("\n[%s %s]\n", typ, id)
}

// Field writes name=value with value already encoded.
func (w *Writer) Field(name, value string) {
	w.writef("%s=%s\n", name, value)
}

// Flush reports the first error seen.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.bw.Flush()
}
