package ollama

import "fmt"

const maxContextChars = 12000

func buildAnswerPrompt(question, contextText string) string {
	if len(contextText) > maxContextChars {
		contextText = contextText[:maxContextChars]
	}
	return fmt.Sprintf(`Answer the student's question only from the course material below.
Cite material by its [n] marker. If the material is insufficient, say it directly.

Question:
%s

Course material:
%s
`, question, contextText)
}
