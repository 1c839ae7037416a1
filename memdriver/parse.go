package memdriver

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/shopspring/decimal"
	"github.com/zodbc/zodbc/driver"
)

type tokenType int

const (
	tEOF tokenType = iota
	tIdent
	tQuotedIdent
	tNumber
	tString
	tSymbol
	tParam
)

type token struct {
	typ tokenType
	val string
	pos int
}

type lexer struct {
	s   string
	pos int
}

func (lx *lexer) skipWhitespace() {
	for lx.pos < len(lx.s) {
		c := lx.s[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			lx.pos++
		case c == '-' && strings.HasPrefix(lx.s[lx.pos:], "--"):
			end := strings.IndexByte(lx.s[lx.pos:], '\n')
			if end < 0 {
				lx.pos = len(lx.s)
			} else {
				lx.pos += end + 1
			}
		case c == '/' && strings.HasPrefix(lx.s[lx.pos:], "/*"):
			end := strings.Index(lx.s[lx.pos+2:], "*/")
			if end < 0 {
				lx.pos = len(lx.s)
			} else {
				lx.pos += end + 4
			}
		default:
			return
		}
	}
}

func isIdentByte(c byte, first bool) bool {
	if c == '_' || unicode.IsLetter(rune(c)) || c >= 0x80 {
		return true
	}
	return !first && (c >= '0' && c <= '9')
}

func (lx *lexer) next() (token, error) {
	lx.skipWhitespace()
	start := lx.pos
	if lx.pos >= len(lx.s) {
		return token{typ: tEOF, pos: start}, nil
	}

	c := lx.s[lx.pos]
	switch {
	case c == '\'':
		sb := &strings.Builder{}
		lx.pos++
		for {
			if lx.pos >= len(lx.s) {
				return token{}, fmt.Errorf("unterminated string starting at offset %d", start)
			}
			if lx.s[lx.pos] == '\'' {
				if lx.pos+1 < len(lx.s) && lx.s[lx.pos+1] == '\'' {
					sb.WriteByte('\'')
					lx.pos += 2
					continue
				}
				lx.pos++
				return token{typ: tString, val: sb.String(), pos: start}, nil
			}
			sb.WriteByte(lx.s[lx.pos])
			lx.pos++
		}

	case c == '"' || c == '[':
		closing := byte('"')
		if c == '[' {
			closing = ']'
		}
		end := strings.IndexByte(lx.s[lx.pos+1:], closing)
		if end < 0 {
			return token{}, fmt.Errorf("unterminated identifier starting at offset %d", start)
		}
		lx.pos += end + 2
		return token{typ: tQuotedIdent, val: lx.s[start+1 : lx.pos-1], pos: start}, nil

	case c >= '0' && c <= '9' || (c == '.' && lx.pos+1 < len(lx.s) && lx.s[lx.pos+1] >= '0' && lx.s[lx.pos+1] <= '9'):
		for lx.pos < len(lx.s) {
			c := lx.s[lx.pos]
			if c >= '0' && c <= '9' || c == '.' {
				lx.pos++
			} else if (c == 'e' || c == 'E') && lx.pos+1 < len(lx.s) {
				lx.pos++
				if lx.s[lx.pos] == '+' || lx.s[lx.pos] == '-' {
					lx.pos++
				}
			} else {
				break
			}
		}
		return token{typ: tNumber, val: lx.s[start:lx.pos], pos: start}, nil

	case isIdentByte(c, true):
		for lx.pos < len(lx.s) && (isIdentByte(lx.s[lx.pos], false) || lx.s[lx.pos] == '.') {
			lx.pos++
		}
		return token{typ: tIdent, val: lx.s[start:lx.pos], pos: start}, nil

	case c == '?':
		lx.pos++
		return token{typ: tParam, pos: start}, nil

	case c == ':' || c == '@':
		lx.pos++
		for lx.pos < len(lx.s) && isIdentByte(lx.s[lx.pos], false) {
			lx.pos++
		}
		if lx.pos == start+1 {
			return token{}, fmt.Errorf("empty parameter name at offset %d", start)
		}
		return token{typ: tParam, val: lx.s[start+1 : lx.pos], pos: start}, nil

	default:
		lx.pos++
		return token{typ: tSymbol, val: string(c), pos: start}, nil
	}
}

type expr interface{}

type literal struct {
	v any
}

// placeholder is a positional parameter when name is empty.
type placeholder struct {
	index int
	name  string
}

type castExpr struct {
	x   expr
	typ arrow.DataType
}

type column struct {
	name string
	typ  arrow.DataType
}

type statement interface{}

type createTable struct {
	name string
	cols []column
}

type dropTable struct {
	name     string
	ifExists bool
}

type insertValues struct {
	table string
	cols  []string
	rows  [][]expr
}

type insertSelect struct {
	table string
	cols  []string
	src   *selectStmt
}

type selectItem struct {
	x     expr
	alias string
}

type selectStmt struct {
	star    bool
	columns []string
	items   []selectItem

	// at most one of from and fromParam is set
	from      string
	fromParam *placeholder
}

type deleteStmt struct {
	table string
}

type waitForDelay struct {
	delay time.Duration
}

// script is a parsed query: the statements separated by semicolons and the parameters they reference.
type script struct {
	stmts      []statement
	positional int
	named      []string
}

type parser struct {
	lx  *lexer
	tok token
	sc  *script
}

func parse(query string) (*script, error) {
	p := &parser{lx: &lexer{s: query}, sc: &script{}}
	if err := p.advance(); err != nil {
		return nil, err
	}

	for p.tok.typ != tEOF {
		if p.isSymbol(";") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}

		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		p.sc.stmts = append(p.sc.stmts, st)

		if p.tok.typ != tEOF && !p.isSymbol(";") {
			return nil, p.errorf("unexpected %s", p.describe())
		}
	}

	if len(p.sc.stmts) == 0 {
		return nil, fmt.Errorf("empty query")
	}
	if p.sc.positional > 0 && len(p.sc.named) > 0 {
		return nil, fmt.Errorf("query mixes positional and named parameters")
	}
	return p.sc, nil
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("syntax error at offset %d: %s", p.tok.pos, fmt.Sprintf(format, args...))
}

func (p *parser) describe() string {
	switch p.tok.typ {
	case tEOF:
		return "end of query"
	case tString:
		return fmt.Sprintf("string '%s'", p.tok.val)
	default:
		return fmt.Sprintf("%q", p.tok.val)
	}
}

func (p *parser) isKeyword(kw string) bool {
	return p.tok.typ == tIdent && strings.EqualFold(p.tok.val, kw)
}

func (p *parser) isSymbol(sym string) bool {
	return p.tok.typ == tSymbol && p.tok.val == sym
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errorf("expected %s, got %s", strings.ToUpper(kw), p.describe())
	}
	return p.advance()
}

func (p *parser) expectSymbol(sym string) error {
	if !p.isSymbol(sym) {
		return p.errorf("expected %q, got %s", sym, p.describe())
	}
	return p.advance()
}

func (p *parser) ident() (string, error) {
	if p.tok.typ != tIdent && p.tok.typ != tQuotedIdent {
		return "", p.errorf("expected identifier, got %s", p.describe())
	}
	name := p.tok.val
	return name, p.advance()
}

func (p *parser) identList() ([]string, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if p.isSymbol(")") {
			return names, p.advance()
		}
		if err := p.expectSymbol(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) statement() (statement, error) {
	switch {
	case p.isKeyword("create"):
		return p.createTable()
	case p.isKeyword("drop"):
		return p.dropTable()
	case p.isKeyword("insert"):
		return p.insert()
	case p.isKeyword("select"):
		return p.selectStmt()
	case p.isKeyword("delete"):
		return p.deleteStmt()
	case p.isKeyword("waitfor"):
		return p.waitFor()
	default:
		return nil, p.errorf("unsupported statement starting with %s", p.describe())
	}
}

func (p *parser) createTable() (statement, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("table"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}

	st := &createTable{name: name}
	for {
		colName, err := p.ident()
		if err != nil {
			return nil, err
		}
		typ, err := p.typeName()
		if err != nil {
			return nil, err
		}
		st.cols = append(st.cols, column{name: colName, typ: typ})

		// column constraints are accepted and ignored
		for p.isKeyword("not") || p.isKeyword("null") || p.isKeyword("primary") || p.isKeyword("key") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}

		if p.isSymbol(")") {
			return st, p.advance()
		}
		if err := p.expectSymbol(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) typeName() (arrow.DataType, error) {
	if p.tok.typ != tIdent {
		return nil, p.errorf("expected type name, got %s", p.describe())
	}
	name := p.tok.val
	if err := p.advance(); err != nil {
		return nil, err
	}
	if strings.EqualFold(name, "double") && p.isKeyword("precision") {
		name += " precision"
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if p.isSymbol("(") {
		var args []string
		if err := p.advance(); err != nil {
			return nil, err
		}
		for !p.isSymbol(")") {
			switch {
			case p.tok.typ == tNumber || p.isKeyword("max"):
				args = append(args, p.tok.val)
			case p.isSymbol(","):
			default:
				return nil, p.errorf("unexpected %s in type arguments", p.describe())
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		name += "(" + strings.Join(args, ",") + ")"
	}

	typ, err := driver.ParseTypeName(name)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	return typ, nil
}

func (p *parser) dropTable() (statement, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("table"); err != nil {
		return nil, err
	}
	st := &dropTable{}
	if p.isKeyword("if") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("exists"); err != nil {
			return nil, err
		}
		st.ifExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	st.name = name
	return st, nil
}

func (p *parser) insert() (statement, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("into"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}

	var cols []string
	if p.isSymbol("(") {
		if cols, err = p.identList(); err != nil {
			return nil, err
		}
	}

	if p.isKeyword("select") {
		src, err := p.selectStmt()
		if err != nil {
			return nil, err
		}
		return &insertSelect{table: table, cols: cols, src: src}, nil
	}

	if err := p.expectKeyword("values"); err != nil {
		return nil, err
	}
	st := &insertValues{table: table, cols: cols}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []expr
		for {
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			row = append(row, x)
			if p.isSymbol(")") {
				break
			}
			if err := p.expectSymbol(","); err != nil {
				return nil, err
			}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		st.rows = append(st.rows, row)

		if !p.isSymbol(",") {
			return st, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) selectStmt() (*selectStmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}

	st := &selectStmt{}
	if p.isSymbol("*") {
		st.star = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		for {
			item, err := p.selectItem()
			if err != nil {
				return nil, err
			}
			st.items = append(st.items, item)
			if !p.isSymbol(",") {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	if !p.isKeyword("from") {
		if st.star {
			return nil, p.errorf("SELECT * requires FROM")
		}
		return st, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.tok.typ == tParam {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		ph := x.(*placeholder)
		st.fromParam = ph
	} else {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		st.from = name
	}

	// with a FROM clause every item must be a plain column reference
	if !st.star {
		for _, item := range st.items {
			ref, ok := item.x.(columnRef)
			if !ok {
				return nil, p.errorf("only column names may be selected from a table")
			}
			st.columns = append(st.columns, string(ref))
		}
	}
	return st, nil
}

// columnRef is a bare identifier in a select list.
type columnRef string

func (p *parser) selectItem() (selectItem, error) {
	var item selectItem
	if p.tok.typ == tIdent || p.tok.typ == tQuotedIdent {
		if !p.isKeyword("null") && !p.isKeyword("true") && !p.isKeyword("false") && !p.isKeyword("cast") {
			item.x = columnRef(p.tok.val)
			if err := p.advance(); err != nil {
				return item, err
			}
		}
	}
	if item.x == nil {
		x, err := p.expr()
		if err != nil {
			return item, err
		}
		item.x = x
	}

	if p.isKeyword("as") {
		if err := p.advance(); err != nil {
			return item, err
		}
		alias, err := p.ident()
		if err != nil {
			return item, err
		}
		item.alias = alias
	} else if p.tok.typ == tQuotedIdent || (p.tok.typ == tIdent && !p.isKeyword("from")) {
		item.alias = p.tok.val
		if err := p.advance(); err != nil {
			return item, err
		}
	}
	return item, nil
}

func (p *parser) expr() (expr, error) {
	switch {
	case p.tok.typ == tNumber:
		v, err := parseNumber(p.tok.val)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		return &literal{v: v}, p.advance()

	case p.isSymbol("-"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.typ != tNumber {
			return nil, p.errorf("expected number after '-', got %s", p.describe())
		}
		v, err := parseNumber("-" + p.tok.val)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		return &literal{v: v}, p.advance()

	case p.tok.typ == tString:
		return &literal{v: p.tok.val}, p.advance()

	case p.tok.typ == tParam:
		ph := &placeholder{name: p.tok.val}
		if ph.name == "" {
			ph.index = p.sc.positional
			p.sc.positional++
		} else {
			p.sc.named = append(p.sc.named, ph.name)
		}
		return ph, p.advance()

	case p.isKeyword("null"):
		return &literal{}, p.advance()

	case p.isKeyword("true"), p.isKeyword("false"):
		v := p.isKeyword("true")
		return &literal{v: v}, p.advance()

	case p.isKeyword("cast"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("as"); err != nil {
			return nil, err
		}
		typ, err := p.typeName()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &castExpr{x: x, typ: typ}, nil

	default:
		return nil, p.errorf("expected expression, got %s", p.describe())
	}
}

func parseNumber(s string) (any, error) {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n, nil
		}
		return decimal.NewFromString(s)
	}
	if strings.ContainsAny(s, "eE") {
		return strconv.ParseFloat(s, 64)
	}
	return decimal.NewFromString(s)
}

func (p *parser) deleteStmt() (statement, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("from"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	return &deleteStmt{table: table}, nil
}

// waitFor parses WAITFOR DELAY 'hh:mm:ss[.fff]'.
func (p *parser) waitFor() (statement, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("delay"); err != nil {
		return nil, err
	}
	if p.tok.typ != tString {
		return nil, p.errorf("expected delay string, got %s", p.describe())
	}
	t, err := time.Parse("15:04:05.999999999", p.tok.val)
	if err != nil {
		return nil, p.errorf("invalid delay %q", p.tok.val)
	}
	d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
	return &waitForDelay{delay: d}, p.advance()
}
