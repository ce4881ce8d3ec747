package pricing

// EstimateTokens approximates how many tokens a piece of text will
// consume without calling a real tokenizer. Contiguous letter runs
// count as one token, while digit and punctuation runs are billed in
// groups of up to three characters. Whitespace is free; anything else
// costs one token per byte.
func EstimateTokens(text string) int {
	const maxGroup = 3

	tokens := 0
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case isSpace(c):
			i++
		case isLetter(c):
			for i < len(text) && isLetter(text[i]) {
				i++
			}
			tokens++
		case isDigit(c):
			run := 0
			for i < len(text) && isDigit(text[i]) {
				i++
				run++
			}
			tokens += (run + maxGroup - 1) / maxGroup
		case isPunct(c):
			run := 0
			for i < len(text) && isPunct(text[i]) {
				i++
				run++
			}
			tokens += (run + maxGroup - 1) / maxGroup
		default:
			i++
			tokens++
		}
	}
	return tokens
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isPunct(c byte) bool {
	return c < 0x80 && !isSpace(c) && !isLetter(c) && !isDigit(c)
}
