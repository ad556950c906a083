package cmakeconv

import (
	"os"
	"regexp"
	"strings"
)

// extractCommand finds every invocation of the named CMake command in
// content (case-insensitive) and returns the tokenized argument list of
// each. The closing parenthesis is located by tracking nesting depth, quote
// state and escapes, so multi-line invocations and parenthesized generator
// expressions survive.
func extractCommand(content, name string) [][]string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\s*\(`)
	var results [][]string
	for _, loc := range re.FindAllStringIndex(content, -1) {
		start := loc[1]
		depth := 1
		inString := false
		escape := false
		end := -1
		for i := start; i < len(content); i++ {
			ch := content[i]
			if escape {
				escape = false
				continue
			}
			switch {
			case ch == '\\' && inString:
				escape = true
			case ch == '"':
				inString = !inString
			case ch == '(' && !inString:
				depth++
			case ch == ')' && !inString:
				depth--
				if depth == 0 {
					end = i
				}
			}
			if end >= 0 {
				break
			}
		}
		if end < 0 {
			continue // unbalanced parens, ignore the invocation
		}
		if args := tokenize(content[start:end]); len(args) > 0 {
			results = append(results, args)
		}
	}
	return results
}

// tokenize splits a raw CMake argument string on whitespace, honoring
// double-quoted strings and backslash escapes.
func tokenize(raw string) []string {
	var args []string
	var current strings.Builder
	inString := false
	escape := false
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			args = append(args, s)
		}
		current.Reset()
	}
	for _, ch := range raw {
		if escape {
			current.WriteRune(ch)
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inString = !inString
		case (ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r') && !inString:
			flush()
		default:
			current.WriteRune(ch)
		}
	}
	flush()
	return args
}

// stripComments removes #-to-end-of-line comments outside of quoted
// strings.
func stripComments(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	inString := false
	inComment := false
	for i := 0; i < len(content); i++ {
		ch := content[i]
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
				b.WriteByte(ch)
			}
		case ch == '"':
			inString = !inString
			b.WriteByte(ch)
		case ch == '#' && !inString:
			inComment = true
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

var (
	varRe = regexp.MustCompile(`\$\{([^${}]+)\}`)
	envRe = regexp.MustCompile(`\$ENV\{([^{}]+)\}`)
)

// resolveVars substitutes ${VAR} from vars and $ENV{VAR} from the process
// environment. Substitution repeats so values containing further references
// resolve too, bounded to keep self-referential bindings from looping.
// Unknown variables stay in place for the caller to filter.
func resolveVars(s string, vars map[string]string) string {
	const maxPasses = 10
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		s = varRe.ReplaceAllStringFunc(s, func(m string) string {
			name := m[2 : len(m)-1]
			if v, ok := vars[name]; ok {
				changed = true
				return v
			}
			return m
		})
		s = envRe.ReplaceAllStringFunc(s, func(m string) string {
			name := m[5 : len(m)-1]
			if v, ok := os.LookupEnv(name); ok {
				changed = true
				return v
			}
			return m
		})
		if !changed {
			break
		}
	}
	return s
}

// collapseDots resolves ".." and "." segments lexically, e.g.
// "a/b/../include" → "a/include".
func collapseDots(p string) string {
	if !strings.Contains(p, "..") && !strings.Contains(p, "./") {
		return p
	}
	var parts []string
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

// unwrapGenerator unwraps $<BUILD_INTERFACE:path> to its inner path. The
// second return is false for any other generator expression, which callers
// drop.
func unwrapGenerator(s string) (string, bool) {
	const prefix = "$<BUILD_INTERFACE:"
	if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, ">") {
		return s[len(prefix) : len(s)-1], true
	}
	if strings.Contains(s, "$<") {
		return "", false
	}
	return s, true
}

func isVisibilityKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "PUBLIC", "PRIVATE", "INTERFACE":
		return true
	}
	return false
}

// unresolved reports whether a token still contains variable references or
// generator expressions after substitution.
func unresolved(s string) bool {
	return strings.Contains(s, "${") || strings.Contains(s, "$<")
}
