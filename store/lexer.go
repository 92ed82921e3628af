package store

import (
	"strings"
	"unicode"

	"github.com/teranos/weave/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI           // <...>
	tokPName         // prefix:local
	tokVar           // ?x or $x
	tokBlank         // _:x
	tokString        // "..." or '...'
	tokLangTag       // @en
	tokNumber
	tokKeyword
	tokPunct // { } ( ) [ ] . ; , * = != ^^
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]bool{
	"SELECT": true, "ASK": true, "WHERE": true, "PREFIX": true, "GRAPH": true,
	"OPTIONAL": true, "FILTER": true, "LIMIT": true, "DISTINCT": true,
	"TRUE": true, "FALSE": true,
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case unicode.IsSpace(rune(c)):
			i++
		case c == '<':
			end := strings.IndexByte(src[i:], '>')
			if end < 0 {
				return nil, errors.Newf("unterminated IRI at %d", i)
			}
			toks = append(toks, token{tokIRI, src[i+1 : i+end], i})
			i += end + 1
		case c == '?' || c == '$':
			j := i + 1
			for j < len(src) && isNameChar(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, errors.Newf("empty variable name at %d", i)
			}
			toks = append(toks, token{tokVar, src[i+1 : j], i})
			i = j
		case c == '"' || c == '\'':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, errors.Wrapf(err, "string at %d", i)
			}
			toks = append(toks, token{tokString, s, i})
			i += n
		case c == '@':
			j := i + 1
			for j < len(src) && (isNameChar(src[j]) || src[j] == '-') {
				j++
			}
			toks = append(toks, token{tokLangTag, src[i+1 : j], i})
			i = j
		case c == '^' && i+1 < len(src) && src[i+1] == '^':
			toks = append(toks, token{tokPunct, "^^", i})
			i += 2
		case c == '!' && i+1 < len(src) && src[i+1] == '=':
			toks = append(toks, token{tokPunct, "!=", i})
			i += 2
		case strings.ContainsRune("{}()[].;,*=", rune(c)):
			toks = append(toks, token{tokPunct, string(c), i})
			i++
		case c == '_' && i+1 < len(src) && src[i+1] == ':':
			j := i + 2
			for j < len(src) && isNameChar(src[j]) {
				j++
			}
			toks = append(toks, token{tokBlank, src[i+2 : j], i})
			i = j
		case c == '-' || c == '+' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.' && j+1 < len(src) && src[j+1] >= '0' && src[j+1] <= '9') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j
		case isNameStart(c) || c == ':':
			j := i
			for j < len(src) && (isNameChar(src[j]) || src[j] == ':' || src[j] == '-' || src[j] == '.' && j+1 < len(src) && isNameChar(src[j+1])) {
				j++
			}
			word := src[i:j]
			switch {
			case strings.Contains(word, ":"):
				toks = append(toks, token{tokPName, word, i})
			case keywords[strings.ToUpper(word)]:
				toks = append(toks, token{tokKeyword, strings.ToUpper(word), i})
			case word == "a":
				toks = append(toks, token{tokKeyword, "a", i})
			default:
				return nil, errors.Newf("unexpected word %q at %d", word, i)
			}
			i = j
		default:
			return nil, errors.Newf("unexpected character %q at %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func lexString(src string) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	for i := 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(src[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated string")
}

func isNameStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9'
}
