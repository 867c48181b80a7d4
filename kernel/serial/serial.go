// Package serial is the diagnostic console the kernel core writes to.
//
// The console is a plain byte line: no framing, no acknowledgement. Line
// implements it over any io.Reader/io.Writer pair (a pty, a pipe, a test
// buffer), translating "\n" to "\r\n" and encoding text to Code Page 437 the
// way a PC serial terminal expects.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Port is the byte-level transport the core depends on.
type Port interface {
	WriteByte(c byte) error
	WriteString(s string) error
	// ReadByte blocks until a byte is available.
	ReadByte() (byte, error)
}

// Hex formats v as 0x followed by eight upper-case hex digits.
func Hex(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}

// Line is a Port over a reader and a writer. A nil reader makes ReadByte
// return io.EOF.
//
// NOT thread-safe.
type Line struct {
	r *bufio.Reader
	w io.Writer
}

// NewLine wires a Line to r and w.
func NewLine(r io.Reader, w io.Writer) *Line {
	l := &Line{w: w}
	if r != nil {
		l.r = bufio.NewReader(r)
	}
	return l
}

// WriteByte sends one raw byte.
func (l *Line) WriteByte(c byte) error {
	_, err := l.w.Write([]byte{c})
	return err
}

// WriteString encodes s to CP437 and sends it, expanding "\n" to "\r\n".
// Runes CP437 cannot represent are sent as '?'.
func (l *Line) WriteString(s string) error {
	out := make([]byte, 0, len(s)+8)
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		switch {
		case r == '\n':
			out = append(out, '\r', '\n')
		case r < utf8.RuneSelf:
			out = append(out, byte(r))
		default:
			b, ok := charmap.CodePage437.EncodeRune(r)
			if !ok {
				b = '?'
			}
			out = append(out, b)
		}
	}
	_, err := l.w.Write(out)
	return err
}

// Write implements io.Writer so a Line can back a log handler.
func (l *Line) Write(p []byte) (int, error) {
	if err := l.WriteString(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadByte blocks for the next input byte.
func (l *Line) ReadByte() (byte, error) {
	if l.r == nil {
		return 0, io.EOF
	}
	return l.r.ReadByte()
}

// ReadLine reads bytes up to '\r' or '\n', decoding them from CP437.
func (l *Line) ReadLine() (string, error) {
	var raw []byte
	for {
		c, err := l.ReadByte()
		if err != nil {
			if err == io.EOF && len(raw) > 0 {
				break
			}
			return "", err
		}
		if c == '\r' || c == '\n' {
			break
		}
		raw = append(raw, c)
	}
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("serial: decode input: %w", err)
	}
	return string(decoded), nil
}
