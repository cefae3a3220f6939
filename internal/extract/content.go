package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// TJ kerning adjustments below this value (thousandths of an em) are rendered as a word gap.
const tjSpaceThreshold = -200

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// ContentStreamText pulls the text shown by Tj, TJ, ' and " operators out of a
// decoded page content stream. Line breaks follow the text positioning operators.
func ContentStreamText(src []byte) string {
	p := &contentParser{src: src}
	p.run()
	return normalize(p.out.String())
}

type contentParser struct {
	src  []byte
	pos  int
	out  strings.Builder
	strs []string
	nums []float64
}

func (p *contentParser) run() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case isWhite(c):
			p.pos++
		case c == '%':
			p.skipComment()
		case c == '(':
			p.strs = append(p.strs, p.readLiteral())
		case c == '<':
			if p.peek(1) == '<' {
				p.pos += 2
				continue
			}
			p.strs = append(p.strs, p.readHex())
		case c == '>':
			p.pos++
		case c == '[':
			p.pos++
			p.strs = append(p.strs, p.readArray())
		case c == ']', c == '{', c == '}', c == ')':
			p.pos++
		case c == '/':
			p.pos++
			p.readToken()
		default:
			tok := p.readToken()
			if tok == "" {
				p.pos++
				continue
			}
			if f, err := strconv.ParseFloat(tok, 64); err == nil {
				p.nums = append(p.nums, f)
				continue
			}
			p.operator(tok)
			p.strs = p.strs[:0]
			p.nums = p.nums[:0]
		}
	}
}

func (p *contentParser) operator(op string) {
	switch op {
	case "Tj", "TJ":
		p.writeLast()
	case "'", "\"":
		p.newline()
		p.writeLast()
	case "T*", "ET":
		p.newline()
	case "Td", "TD":
		if len(p.nums) >= 2 && p.nums[len(p.nums)-1] != 0 {
			p.newline()
		} else {
			p.space()
		}
	case "ID":
		p.skipInlineImage()
	}
}

func (p *contentParser) writeLast() {
	if len(p.strs) == 0 {
		return
	}
	p.out.WriteString(p.strs[len(p.strs)-1])
}

func (p *contentParser) newline() {
	s := p.out.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		p.out.WriteByte('\n')
	}
}

func (p *contentParser) space() {
	s := p.out.String()
	if s != "" && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
		p.out.WriteByte(' ')
	}
}

func (p *contentParser) peek(off int) byte {
	if p.pos+off < len(p.src) {
		return p.src[p.pos+off]
	}
	return 0
}

func (p *contentParser) skipComment() {
	for p.pos < len(p.src) && p.src[p.pos] != '\n' && p.src[p.pos] != '\r' {
		p.pos++
	}
}

func (p *contentParser) readToken() string {
	start := p.pos
	for p.pos < len(p.src) && !isWhite(p.src[p.pos]) && !isDelim(p.src[p.pos]) {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

// readLiteral consumes a balanced (...) string starting at pos.
func (p *contentParser) readLiteral() string {
	p.pos++ // (
	depth := 1
	var buf []byte
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch c {
		case '\\':
			if p.pos >= len(p.src) {
				return decodeBytes(buf)
			}
			e := p.src[p.pos]
			p.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b', 'f':
			case '\r':
				if p.pos < len(p.src) && p.src[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '7'; k++ {
						v = v*8 + int(p.src[p.pos]-'0')
						p.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return decodeBytes(buf)
			}
			buf = append(buf, c)
		default:
			buf = append(buf, c)
		}
	}
	return decodeBytes(buf)
}

func (p *contentParser) readHex() string {
	p.pos++ // <
	var digits []byte
	for p.pos < len(p.src) && p.src[p.pos] != '>' {
		if c := p.src[p.pos]; isHex(c) {
			digits = append(digits, c)
		}
		p.pos++
	}
	p.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	buf := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		v, _ := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		buf = append(buf, byte(v))
	}
	return decodeBytes(buf)
}

// readArray flattens a TJ operand into a single string.
func (p *contentParser) readArray() string {
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == ']':
			p.pos++
			return b.String()
		case isWhite(c):
			p.pos++
		case c == '(':
			b.WriteString(p.readLiteral())
		case c == '<':
			b.WriteString(p.readHex())
		default:
			tok := p.readToken()
			if tok == "" {
				p.pos++
				continue
			}
			if f, err := strconv.ParseFloat(tok, 64); err == nil && f < tjSpaceThreshold {
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

// skipInlineImage jumps past binary image data up to the EI operator.
func (p *contentParser) skipInlineImage() {
	for p.pos+2 < len(p.src) {
		if isWhite(p.src[p.pos]) && p.src[p.pos+1] == 'E' && p.src[p.pos+2] == 'I' &&
			(p.pos+3 >= len(p.src) || isWhite(p.src[p.pos+3])) {
			p.pos += 3
			return
		}
		p.pos++
	}
	p.pos = len(p.src)
}

// decodeBytes handles UTF-16BE strings with a BOM and treats everything else as Latin-1.
func decodeBytes(b []byte) string {
	var runes []rune
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		runes = utf16.Decode(u)
	} else {
		runes = make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
	}

	var sb strings.Builder
	for _, r := range runes {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	out := strings.Join(lines, "\n")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
