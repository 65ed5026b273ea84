package sqlast

import "strings"

// FindTopLevelKeyword reports the byte offset of the first occurrence
// of keyword at parenthesis depth 0, skipping over single-line (--) and
// block (/* */) comments and over quoted string/identifier literals.
// spec.md §4.1 calls this out explicitly: a naive strings.Index search
// for "FROM" can match text inside a comment before the real clause,
// corrupting both the input-rewrite pipeline and the intermediate-
// aggregate detector. Returns -1 if keyword does not appear at depth 0.
func FindTopLevelKeyword(sql, keyword string) int {
	depth := 0
	upperKeyword := strings.ToUpper(keyword)
	n := len(sql)
	for i := 0; i < n; i++ {
		switch {
		case i+1 < n && sql[i] == '-' && sql[i+1] == '-':
			// Single-line comment: skip to end of line.
			for i < n && sql[i] != '\n' {
				i++
			}
		case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
			// Block comment: skip to closing */, respecting nesting.
			depthComment := 1
			i += 2
			for i+1 < n && depthComment > 0 {
				if sql[i] == '/' && sql[i+1] == '*' {
					depthComment++
					i += 2
				} else if sql[i] == '*' && sql[i+1] == '/' {
					depthComment--
					i += 2
				} else {
					i++
				}
			}
			i--
		case sql[i] == '\'':
			// Single-quoted string literal, with '' escaping.
			i++
			for i < n {
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
		case sql[i] == '"':
			// Double-quoted identifier, with "" escaping.
			i++
			for i < n {
				if sql[i] == '"' {
					if i+1 < n && sql[i+1] == '"' {
						i += 2
						continue
					}
					break
				}
				i++
			}
		case sql[i] == '(':
			depth++
		case sql[i] == ')':
			depth--
		default:
			if depth == 0 && isWordStart(sql, i) && matchesWordAt(sql, i, upperKeyword) {
				return i
			}
		}
	}
	return -1
}

func isWordStart(sql string, i int) bool {
	if i == 0 {
		return true
	}
	return !isIdentByte(sql[i-1])
}

func matchesWordAt(sql string, i int, upperKeyword string) bool {
	end := i + len(upperKeyword)
	if end > len(sql) {
		return false
	}
	if !strings.EqualFold(sql[i:end], upperKeyword) {
		return false
	}
	if end < len(sql) && isIdentByte(sql[end]) {
		return false
	}
	return true
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// StripTrailingTerminator removes a single trailing `;` (and any
// trailing whitespace around it) from a view definition returned by
// the host's catalog view-definition function, which appends a
// statement terminator that breaks embedding the definition inside a
// subquery (spec.md §4.1, rewrite 6).
func StripTrailingTerminator(sql string) string {
	trimmed := strings.TrimRight(sql, " \t\r\n")
	trimmed = strings.TrimSuffix(trimmed, ";")
	return strings.TrimRight(trimmed, " \t\r\n")
}
