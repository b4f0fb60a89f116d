package crm

import (
	"fmt"
	"strconv"
	"strings"
)

// Literal is a value that can be bound into a query template.
type Literal interface {
	soql() string
}

// String binds a quoted, escaped string literal.
type String string

// Contains binds a LIKE pattern matching the value anywhere ('%value%').
// Wildcards in the value itself are escaped.
type Contains string

// Int binds an integer literal.
type Int int

func (s String) soql() string { return "'" + escapeString(string(s)) + "'" }
func (s Contains) soql() string { return "'%" + escapeLike(string(s)) + "%'" }
func (i Int) soql() string { return strconv.Itoa(int(i)) }

// Bind replaces each ? in tmpl with the next argument, in order.
// The placeholder count must match the argument count.
func Bind(tmpl string, args ...Literal) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl) + 16*len(args))

	n := 0
	for i := 0; i < len(tmpl); i++ {
		ch := tmpl[i]
		if ch != '?' {
			b.WriteByte(ch)
			continue
		}
		if n >= len(args) {
			return "", fmt.Errorf("crm: query has more placeholders than arguments (%d)", len(args))
		}
		b.WriteString(args[n].soql())
		n++
	}
	if n != len(args) {
		return "", fmt.Errorf("crm: query has %d placeholders, got %d arguments", n, len(args))
	}
	return b.String(), nil
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

func escapeString(s string) string {
	return stringEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(escapeString(s))
}
