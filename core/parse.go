/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Parse reads an expression in the form that ParseString emits.
//
// Grammar, loosest first:
//
//	expr    = "if" expr "then" expr "else" expr | or
//	or      = and { "||" and }
//	and     = cmp { "&&" cmp }
//	cmp     = sum [ ("<" | "<=" | ">" | ">=" | "==" | "!=" | "contains" | "regex") sum ]
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/") unary }
//	unary   = "!" unary | primary
//	primary = "(" expr ")" | number | "-" number | string | "true" | "false" | sensor
//	sensor  = entity ":" path [ "?" key "=" value { "&" key "=" value } ] [ "{" MODE [ "," ms ] "}" ]
//
// Strings are single-quoted with backslash escapes.
func Parse(s string) (Expression, error) {
	p := &parser{src: s}
	e, err := p.expr()
	if err != nil {
		var syntax *SyntaxError
		if !errors.As(err, &syntax) {
			err = &SyntaxError{Pos: p.pos, Msg: err.Error(), Err: err}
		}
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q", p.rest(10))
	}
	return e, nil
}

// MustParse is Parse that panics.
func MustParse(s string) Expression {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

// configStops are the characters that end an unquoted config key or
// value.
const configStops = " \t\r\n&={}()?"

// maxNesting bounds the parser's recursion.  ParseString puts the
// branches of a conditional two levels below it: one for the
// parentheses and one for the "if".
const maxNesting = 2*MaxDepth + 1

type parser struct {
	src   string
	pos   int
	depth int
}

func (p *parser) enter() error {
	p.depth++
	if maxNesting < p.depth {
		return &SyntaxError{Pos: p.pos, Msg: "too deep", Err: ErrTooDeep}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) rest(n int) string {
	s := p.src[p.pos:]
	if n < len(s) {
		s = s[:n]
	}
	return s
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

// peek reports whether the input continues with s.  A word must not
// run into an identifier character.
func (p *parser) peek(s string) bool {
	p.skipSpace()
	if !strings.HasPrefix(p.src[p.pos:], s) {
		return false
	}
	if isWord(s) {
		end := p.pos + len(s)
		if end < len(p.src) && isIdentByte(p.src[end]) {
			return false
		}
	}
	return true
}

func (p *parser) accept(s string) bool {
	if p.peek(s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *parser) expect(s string) error {
	if !p.accept(s) {
		return p.errorf("expected %q", s)
	}
	return nil
}

func isWord(s string) bool {
	return s != "" && isIdentByte(s[0])
}

func isIdentByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func (p *parser) expr() (Expression, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	if !p.accept("if") {
		return p.or()
	}
	c, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expect("then"); err != nil {
		return nil, err
	}
	t, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expect("else"); err != nil {
		return nil, err
	}
	f, err := p.expr()
	if err != nil {
		return nil, err
	}
	return NewConditional(c, t, f)
}

func (p *parser) or() (Expression, error) {
	acc, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.accept(string(OpOr)) {
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		if acc, err = NewLogical(acc, OpOr, r); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (p *parser) and() (Expression, error) {
	acc, err := p.cmp()
	if err != nil {
		return nil, err
	}
	for p.accept(string(OpAnd)) {
		r, err := p.cmp()
		if err != nil {
			return nil, err
		}
		if acc, err = NewLogical(acc, OpAnd, r); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (p *parser) cmp() (Expression, error) {
	l, err := p.sum()
	if err != nil {
		return nil, err
	}
	for _, op := range comparisonOps {
		if p.accept(string(op)) {
			r, err := p.sum()
			if err != nil {
				return nil, err
			}
			return NewComparison(l, op, r)
		}
	}
	return l, nil
}

func (p *parser) sum() (Expression, error) {
	acc, err := p.product()
	if err != nil {
		return nil, err
	}
	for {
		var op MathOp
		switch {
		case p.accept(string(OpPlus)):
			op = OpPlus
		case p.accept(string(OpMinus)):
			op = OpMinus
		default:
			return acc, nil
		}
		r, err := p.product()
		if err != nil {
			return nil, err
		}
		if acc, err = NewMath(acc, op, r); err != nil {
			return nil, err
		}
	}
}

func (p *parser) product() (Expression, error) {
	acc, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		var op MathOp
		switch {
		case p.accept(string(OpTimes)):
			op = OpTimes
		case p.accept(string(OpDivide)):
			op = OpDivide
		default:
			return acc, nil
		}
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		if acc, err = NewMath(acc, op, r); err != nil {
			return nil, err
		}
	}
}

func (p *parser) unary() (Expression, error) {
	// "!=" is a comparison, but it can't start an operand.
	if p.accept(string(OpNot)) {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return NewNot(x)
	}
	return p.primary()
}

func (p *parser) primary() (Expression, error) {
	p.skipSpace()
	if len(p.src) <= p.pos {
		return nil, p.errorf("unexpected end")
	}
	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return e, nil
	case c == '\'':
		s, err := p.quoted()
		if err != nil {
			return nil, err
		}
		return NewConstant(s)
	case c == '-' || ('0' <= c && c <= '9'):
		return p.number()
	case isIdentByte(c):
		word := p.ident()
		switch word {
		case "true":
			return NewConstant(true)
		case "false":
			return NewConstant(false)
		}
		if keywords[word] {
			return nil, p.errorf("unexpected %q", word)
		}
		return p.sensor(word)
	}
	return nil, p.errorf("unexpected %q", p.rest(10))
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) number() (Expression, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
		p.skipSpace()
	}
	digits := p.pos
	float := false
scan:
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case '0' <= c && c <= '9':
		case c == '.':
			float = true
		case c == 'e' || c == 'E':
			float = true
			if p.pos+1 < len(p.src) && (p.src[p.pos+1] == '-' || p.src[p.pos+1] == '+') {
				p.pos++
			}
		default:
			break scan
		}
		p.pos++
	}
	if p.pos == digits {
		p.pos = start
		return nil, p.errorf("expected a number")
	}
	lit := strings.Join(strings.Fields(p.src[start:p.pos]), "")
	if float {
		x, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			p.pos = start
			return nil, p.errorf("bad number %q", lit)
		}
		return NewConstant(x)
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		p.pos = start
		return nil, p.errorf("bad number %q", lit)
	}
	return NewConstant(n)
}

// quoted reads a single-quoted string starting at the quote.
func (p *parser) quoted() (string, error) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if len(p.src) <= p.pos+1 {
				p.pos = start
				return "", p.errorf("unterminated string")
			}
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		case '\'':
			p.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		p.pos++
	}
	p.pos = start
	return "", p.errorf("unterminated string")
}

func (p *parser) sensor(entity string) (Expression, error) {
	if p.pos >= len(p.src) || p.src[p.pos] != ':' {
		return nil, p.errorf("expected ':' after sensor entity %q", entity)
	}
	p.pos++
	start := p.pos
	for p.pos < len(p.src) && (isIdentByte(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	path := p.src[start:p.pos]
	if path == "" {
		return nil, p.errorf("expected a value path for %q", entity)
	}

	var config map[string]string
	if p.pos < len(p.src) && p.src[p.pos] == '?' {
		p.pos++
		config = make(map[string]string)
		for {
			k, err := p.configAtom()
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.src) || p.src[p.pos] != '=' {
				return nil, p.errorf("expected '=' after config key %q", k)
			}
			p.pos++
			v, err := p.configAtom()
			if err != nil {
				return nil, err
			}
			config[k] = v
			if p.pos < len(p.src) && p.src[p.pos] == '&' {
				p.pos++
				continue
			}
			break
		}
	}

	mode, timespan := ModeNone, time.Duration(0)
	if p.pos < len(p.src) && p.src[p.pos] == '{' {
		p.pos++
		p.skipSpace()
		name := p.ident()
		m, err := ParseMode(name)
		if err != nil {
			return nil, p.errorf("unknown mode %q", name)
		}
		mode = m
		if p.accept(",") {
			p.skipSpace()
			start := p.pos
			for p.pos < len(p.src) && '0' <= p.src[p.pos] && p.src[p.pos] <= '9' {
				p.pos++
			}
			ms, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
			if err != nil || int64(math.MaxInt64/time.Millisecond) < ms {
				return nil, p.errorf("bad timespan")
			}
			timespan = time.Duration(ms) * time.Millisecond
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
	}

	return NewSensorValue(entity, path, config, mode, timespan)
}

func (p *parser) configAtom() (string, error) {
	if p.pos < len(p.src) && p.src[p.pos] == '\'' {
		return p.quoted()
	}
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune(configStops, rune(p.src[p.pos])) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected a config key or value")
	}
	return p.src[start:p.pos], nil
}
