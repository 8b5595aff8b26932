package conversation

import "strings"

// SplitSentences breaks an agent response into speakable chunks on sentence
// boundaries. The terminator stays attached to its sentence so joining the
// chunks with a space reproduces the original text.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		b.WriteByte(c)
		if (c == '.' || c == '?' || c == '!') && (i+1 >= len(text) || text[i+1] == ' ') {
			chunk := strings.TrimSpace(b.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
			// skip the separating space
			if i+1 < len(text) {
				i++
			}
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// JoinSentences is the inverse of SplitSentences.
func JoinSentences(chunks []string) string {
	return strings.Join(chunks, " ")
}
