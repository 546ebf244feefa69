package protocol

import (
	"io"
	"strings"
)

// Terminator ends every message on the wire.
const Terminator = '\n'

// Decode parses one message line, without its terminator.
//
// The first space-separated token is the method; every following token is a
// name=value pair split at the first '='. A token without '=' is a name with
// an empty value. A trailing '\r' is ignored. Decode never fails: an
// unrecognised method decodes to Unknown.
func Decode(line []byte) *Message {
	fields := strings.Fields(strings.TrimSuffix(string(line), "\r"))
	if len(fields) == 0 {
		return NewMessage(Unknown)
	}

	msg := NewMessage(ParseMethod(fields[0]))
	for _, f := range fields[1:] {
		name, value, _ := strings.Cut(f, "=")
		msg.Set(unescape(name), unescape(value))
	}
	return msg
}

// AppendMessage appends the wire form of m, terminator included, to dst.
func AppendMessage(dst []byte, m *Message) []byte {
	dst = append(dst, m.Method.String()...)
	for _, p := range m.params {
		dst = append(dst, ' ')
		dst = appendEscaped(dst, p.Name)
		dst = append(dst, '=')
		dst = appendEscaped(dst, p.Value)
	}
	return append(dst, Terminator)
}

// Encode writes the wire form of m to w.
func Encode(w io.Writer, m *Message) error {
	_, err := w.Write(AppendMessage(nil, m))
	return err
}

const hexDigits = "0123456789ABCDEF"

func needsEscape(c byte) bool {
	return c <= ' ' || c == '%' || c == '=' || c == 0x7f
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			dst = append(dst, '%', hexDigits[c>>4], hexDigits[c&0xf])
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// unescape decodes %XX sequences; malformed sequences are kept verbatim.
func unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}

	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				b = append(b, hi<<4|lo)
				i += 2
				continue
			}
		}
		b = append(b, s[i])
	}
	return string(b)
}
