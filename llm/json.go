package llm

// ExtractJSONBlock returns the first balanced top-level JSON object in s.
// Models routinely wrap structured output in prose or markdown fences; this
// scans for the first '{' and tracks brace depth, skipping string literals
// and escape sequences, so `Sure! {"a": "b}"}` yields `{"a": "b}"}`.
// The second return is false when no balanced object is found.
func ExtractJSONBlock(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
