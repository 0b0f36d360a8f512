// Package writecheck classifies SQL text as read-only or potentially
// state-mutating. It is a conservative lexical judgment, not a parser:
// anything it does not positively recognize as a read is treated as a write.
package writecheck

import "strings"

// Result is the classifier's judgment for one SQL submission.
type Result struct {
	// ContainsWrite is true when any sub-statement could mutate warehouse
	// state (data, schema, or session configuration).
	ContainsWrite bool
	// MatchedConstruct names the keyword or condition that triggered a
	// write classification. Empty for read-only results.
	MatchedConstruct string
}

// writeKeywords is the deny-list of leading keywords. Matching is
// whole-token and case-insensitive. USE and SET mutate session state;
// PUT, GET, and REMOVE mutate stages.
var writeKeywords = map[string]struct{}{
	"INSERT":   {},
	"UPDATE":   {},
	"DELETE":   {},
	"MERGE":    {},
	"CREATE":   {},
	"ALTER":    {},
	"DROP":     {},
	"UNDROP":   {},
	"TRUNCATE": {},
	"GRANT":    {},
	"REVOKE":   {},
	"COPY":     {},
	"CALL":     {},
	"USE":      {},
	"SET":      {},
	"UNSET":    {},
	"PUT":      {},
	"GET":      {},
	"REMOVE":   {},
}

// readKeywords is the allow-list of leading keywords for read-only
// statements. WITH is handled separately: a CTE prefix is skipped and the
// statement after it is classified instead.
var readKeywords = map[string]struct{}{
	"SELECT":   {},
	"SHOW":     {},
	"DESCRIBE": {},
	"DESC":     {},
	"EXPLAIN":  {},
}

// Detector classifies SQL submissions. It is stateless and safe for
// concurrent use.
type Detector struct{}

// NewDetector creates a new Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Analyze classifies the given SQL text. It never fails: malformed or
// unrecognizable input resolves to ContainsWrite=true.
func (d *Detector) Analyze(sql string) Result {
	cleaned, ok := stripLiteralsAndComments(sql)
	if !ok {
		return Result{ContainsWrite: true, MatchedConstruct: "unterminated quote or comment"}
	}

	for _, stmt := range splitStatements(cleaned) {
		tokens := tokenize(stmt)
		if len(tokens) == 0 {
			continue
		}
		if res := classifyStatement(tokens); res.ContainsWrite {
			return res
		}
	}
	return Result{}
}

// classifyStatement judges a single statement from its leading keyword,
// skipping an optional WITH ... AS (...) prefix first.
func classifyStatement(tokens []token) Result {
	rest, ok := skipCTEPrefix(tokens)
	if !ok {
		return Result{ContainsWrite: true, MatchedConstruct: "malformed WITH clause"}
	}
	if len(rest) == 0 {
		return Result{ContainsWrite: true, MatchedConstruct: "WITH clause with no statement"}
	}

	lead := strings.ToUpper(rest[0].text)
	if _, isWrite := writeKeywords[lead]; isWrite {
		return Result{ContainsWrite: true, MatchedConstruct: lead}
	}
	if _, isRead := readKeywords[lead]; isRead {
		return Result{}
	}
	// Unrecognized statement forms are never assumed safe.
	return Result{ContainsWrite: true, MatchedConstruct: lead}
}

// skipCTEPrefix advances past "WITH [RECURSIVE] name [(cols)] AS (...)
// [, name AS (...)]..." and returns the remaining tokens. Returns ok=false
// when the WITH clause is structurally broken.
func skipCTEPrefix(tokens []token) ([]token, bool) {
	if len(tokens) == 0 || !strings.EqualFold(tokens[0].text, "WITH") {
		return tokens, true
	}
	i := 1
	if i < len(tokens) && strings.EqualFold(tokens[i].text, "RECURSIVE") {
		i++
	}
	for {
		// CTE name
		if i >= len(tokens) || !tokens[i].isWord() {
			return nil, false
		}
		i++
		// optional column list
		if i < len(tokens) && tokens[i].text == "(" {
			end, ok := matchParen(tokens, i)
			if !ok {
				return nil, false
			}
			i = end + 1
		}
		// AS ( body )
		if i >= len(tokens) || !strings.EqualFold(tokens[i].text, "AS") {
			return nil, false
		}
		i++
		if i >= len(tokens) || tokens[i].text != "(" {
			return nil, false
		}
		end, ok := matchParen(tokens, i)
		if !ok {
			return nil, false
		}
		i = end + 1
		if i < len(tokens) && tokens[i].text == "," {
			i++
			continue
		}
		break
	}
	return tokens[i:], true
}

// matchParen returns the index of the ")" matching the "(" at open.
func matchParen(tokens []token, open int) (int, bool) {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch tokens[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

type token struct {
	text string
}

func (t token) isWord() bool {
	c := t.text[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// tokenize splits cleaned SQL into word tokens and the punctuation the CTE
// skipper cares about. All other punctuation is dropped.
func tokenize(s string) []token {
	var tokens []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '(' || c == ')' || c == ',':
			tokens = append(tokens, token{text: string(c)})
			i++
		case isWordByte(c):
			start := i
			for i < len(s) && isWordByte(s[i]) {
				i++
			}
			tokens = append(tokens, token{text: s[start:i]})
		default:
			i++
		}
	}
	return tokens
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

// splitStatements splits cleaned SQL on semicolons outside parentheses.
// Literals are already gone by the time this runs.
func splitStatements(s string) []string {
	var stmts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				stmts = append(stmts, s[start:i])
				start = i + 1
			}
		}
	}
	stmts = append(stmts, s[start:])
	return stmts
}

// stripLiteralsAndComments blanks out line comments (-- and //), block
// comments, single-quoted strings, double-quoted identifiers, and
// dollar-quoted ($$...$$) strings. Blanked regions become spaces so token
// boundaries survive. Returns ok=false for unterminated quoting or
// comments; callers must fail toward "contains write" in that case.
func stripLiteralsAndComments(s string) (string, bool) {
	out := []byte(s)
	i := 0
	for i < len(s) {
		switch {
		case s[i] == '-' && i+1 < len(s) && s[i+1] == '-':
			i = blankToLineEnd(out, s, i)
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '/':
			i = blankToLineEnd(out, s, i)
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return "", false
			}
			blank(out, i, i+2+end+2)
			i += 2 + end + 2
		case s[i] == '\'':
			next, ok := skipQuoted(s, i, '\'')
			if !ok {
				return "", false
			}
			blank(out, i, next)
			i = next
		case s[i] == '"':
			next, ok := skipQuoted(s, i, '"')
			if !ok {
				return "", false
			}
			blank(out, i, next)
			i = next
		case s[i] == '$' && i+1 < len(s) && s[i+1] == '$':
			end := strings.Index(s[i+2:], "$$")
			if end < 0 {
				return "", false
			}
			blank(out, i, i+2+end+2)
			i += 2 + end + 2
		default:
			i++
		}
	}
	return string(out), true
}

// skipQuoted returns the index just past the closing quote, honoring
// doubled-quote ('') and backslash escapes.
func skipQuoted(s string, start int, quote byte) (int, bool) {
	i := start + 1
	for i < len(s) {
		switch {
		case s[i] == '\\' && quote == '\'' && i+1 < len(s):
			i += 2
		case s[i] == quote:
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, true
		default:
			i++
		}
	}
	return 0, false
}

func blankToLineEnd(out []byte, s string, start int) int {
	i := start
	for i < len(s) && s[i] != '\n' {
		out[i] = ' '
		i++
	}
	return i
}

func blank(out []byte, from, to int) {
	for i := from; i < to && i < len(out); i++ {
		out[i] = ' '
	}
}
