package gate

// Tokenize splits a shell command into words and operator tokens, respecting
// single and double quotes. Multi-character operators are recognized before
// their single-character prefixes so "&&" never tokenizes as two "&".
func Tokenize(command string) []string {
	var tokens []string
	var current []rune
	var inQuote rune

	flush := func() {
		if len(current) > 0 {
			tokens = append(tokens, string(current))
			current = current[:0]
		}
	}
	emit := func(op string) {
		flush()
		tokens = append(tokens, op)
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case inQuote != 0:
			current = append(current, ch)
			if ch == inQuote {
				inQuote = 0
			}
		case ch == '"' || ch == '\'':
			inQuote = ch
			current = append(current, ch)
		case ch == ' ' || ch == '\t':
			flush()
		case ch == '|' && next == '|':
			emit("||")
			i++
		case ch == '|':
			emit("|")
		case ch == '&' && next == '&':
			emit("&&")
			i++
		case ch == '&' && next == '>':
			emit("&>")
			i++
		case ch == '>' && next == '>':
			emit(">>")
			i++
		case ch == '2' && next == '>':
			emit("2>")
			i++
		case ch == '<' && next == '<':
			emit("<<")
			i++
		case ch == '<' && next == '(':
			emit("<(")
			i++
		case ch == '>' && next == '(':
			emit(">(")
			i++
		case ch == '$' && next == '(':
			emit("$(")
			i++
		case ch == ';' || ch == '>' || ch == '<' || ch == '`' || ch == '\n':
			emit(string(ch))
		default:
			current = append(current, ch)
		}
	}
	flush()
	return tokens
}

// splitPipeline splits a token stream on bare "|" into command segments.
// Empty segments are preserved as nil slices so callers can reject them.
func splitPipeline(tokens []string) [][]string {
	var segments [][]string
	var current []string
	for _, tok := range tokens {
		if tok == "|" {
			segments = append(segments, current)
			current = nil
			continue
		}
		current = append(current, tok)
	}
	segments = append(segments, current)
	return segments
}
