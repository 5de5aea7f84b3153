package extractor

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
)

// kerningGap is the TJ displacement (thousandths of text space) treated as a word gap
const kerningGap = -200

// DecodeContentStream recovers readable text from an uncompressed PDF page
// content stream. Only simple-font literal strings are decoded; glyphs from
// composite fonts come through as hex strings and are kept only when printable.
func DecodeContentStream(content []byte) string {
	var (
		out      strings.Builder
		operands []operand
		inArray  bool
		array    []operand
	)

	newline := func() {
		s := out.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}
	space := func() {
		s := out.String()
		if s != "" && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
			out.WriteByte(' ')
		}
	}

	lx := lexer{buf: content}
	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokArrayOpen:
			inArray = true
			array = array[:0]
		case tokArrayClose:
			inArray = false
			operands = append(operands, operand{kind: tokArrayClose, array: append([]operand(nil), array...)})
		case tokString, tokNumber, tokName:
			if inArray {
				array = append(array, tok)
			} else {
				operands = append(operands, tok)
			}
		case tokOperator:
			switch tok.text {
			case "Tj":
				if s, ok := lastString(operands); ok {
					out.WriteString(s)
				}
			case "'", "\"":
				newline()
				if s, ok := lastString(operands); ok {
					out.WriteString(s)
				}
			case "TJ":
				if len(operands) > 0 && operands[len(operands)-1].kind == tokArrayClose {
					for _, el := range operands[len(operands)-1].array {
						switch el.kind {
						case tokString:
							out.WriteString(el.text)
						case tokNumber:
							if el.num < kerningGap {
								space()
							}
						}
					}
				}
			case "T*":
				newline()
			case "Td", "TD":
				if len(operands) >= 2 && operands[len(operands)-1].kind == tokNumber && operands[len(operands)-1].num != 0 {
					newline()
				} else {
					space()
				}
			case "ET":
				newline()
			}
			operands = operands[:0]
		}
	}

	return tidy(out.String())
}

func lastString(ops []operand) (string, bool) {
	if len(ops) == 0 || ops[len(ops)-1].kind != tokString {
		return "", false
	}
	return ops[len(ops)-1].text, true
}

// tidy trims each line and drops empty ones
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

type tokKind int

const (
	tokString tokKind = iota
	tokNumber
	tokName
	tokOperator
	tokArrayOpen
	tokArrayClose
)

type operand struct {
	kind  tokKind
	text  string
	num   float64
	array []operand
}

type lexer struct {
	buf []byte
	pos int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (l *lexer) next() (operand, bool) {
	for l.pos < len(l.buf) {
		c := l.buf[l.pos]
		switch {
		case isWhite(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.buf) && l.buf[l.pos] != '\n' && l.buf[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return operand{kind: tokString, text: l.literal()}, true
		case c == '<':
			if l.pos+1 < len(l.buf) && l.buf[l.pos+1] == '<' {
				l.pos += 2
				continue
			}
			l.pos++
			return operand{kind: tokString, text: l.hexString()}, true
		case c == '>':
			l.pos++
		case c == '[':
			l.pos++
			return operand{kind: tokArrayOpen}, true
		case c == ']':
			l.pos++
			return operand{kind: tokArrayClose}, true
		case c == '/':
			l.pos++
			return operand{kind: tokName, text: l.word()}, true
		case c == '{' || c == '}' || c == ')':
			l.pos++
		default:
			w := l.word()
			if n, err := strconv.ParseFloat(w, 64); err == nil {
				return operand{kind: tokNumber, num: n}, true
			}
			return operand{kind: tokOperator, text: w}, true
		}
	}
	return operand{}, false
}

func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.buf) && !isWhite(l.buf[l.pos]) && !isDelim(l.buf[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		// lone delimiter we do not otherwise handle
		l.pos++
	}
	return string(l.buf[start:l.pos])
}

// literal reads a parenthesized string; the opening paren is already consumed
func (l *lexer) literal() string {
	var b bytes.Buffer
	depth := 1
	for l.pos < len(l.buf) {
		c := l.buf[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.buf) {
				return b.String()
			}
			e := l.buf[l.pos]
			l.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r':
				if l.pos < len(l.buf) && l.buf[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for i := 0; i < 2 && l.pos < len(l.buf) && l.buf[l.pos] >= '0' && l.buf[l.pos] <= '7'; i++ {
					v = v*8 + int(l.buf[l.pos]-'0')
					l.pos++
				}
				b.WriteByte(byte(v))
			default:
				b.WriteByte(e)
			}
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return latin1(b.Bytes())
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return latin1(b.Bytes())
}

// hexString reads <...>; the opening bracket is already consumed
func (l *lexer) hexString() string {
	start := l.pos
	for l.pos < len(l.buf) && l.buf[l.pos] != '>' {
		l.pos++
	}
	digits := make([]byte, 0, l.pos-start)
	for _, c := range l.buf[start:l.pos] {
		if !isWhite(c) {
			digits = append(digits, c)
		}
	}
	if l.pos < len(l.buf) {
		l.pos++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw, err := hex.DecodeString(string(digits))
	if err != nil {
		return ""
	}
	for _, c := range raw {
		if c < 0x20 || c > 0x7e {
			return ""
		}
	}
	return string(raw)
}

// latin1 maps single-byte string content to UTF-8
func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x20 && c != '\n' && c != '\t' {
			continue
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
