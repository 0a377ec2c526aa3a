package generate

import (
	"fmt"
	"strings"
)

const answerSchema = `{
  "answer": "string - your answer to the student, grounded in the context",
  "citations": [
    {
      "type": "pdf | chat | profile",
      "id": "string - the id= value of the context line you are citing",
      "docId": "string - docId= value (pdf citations only)",
      "page": "number - page= value (pdf citations only)",
      "quote": "string - short verbatim quote from the cited context line"
    }
  ],
  "uncertainty": {
    "isUncertain": "boolean - true when the context does not fully support the answer",
    "reasons": ["string - why the answer is uncertain, empty when confident"]
  }
}`

func buildSystemPrompt(user *UserContext) string {
	var b strings.Builder

	b.WriteString("You are a patient, encouraging AI tutor")
	if user != nil && user.StudentName != "" {
		fmt.Fprintf(&b, " helping %s", user.StudentName)
		if user.University != "" {
			fmt.Fprintf(&b, ", a student at %s", user.University)
		}
		if user.Major != "" {
			fmt.Fprintf(&b, " majoring in %s", user.Major)
		}
		if user.Year != "" {
			fmt.Fprintf(&b, " (%s)", user.Year)
		}
	}
	b.WriteString(".\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("1. Answer ONLY from the provided context. If the context does not contain the answer, say you don't know and set uncertainty.isUncertain to true.\n")
	b.WriteString("2. Cite every factual claim with the id of the context line it came from.\n")
	b.WriteString("3. Never invent citations. Only use ids that appear in the context.\n")
	b.WriteString("4. Respond with a single JSON object matching this schema, and nothing else:\n\n")
	b.WriteString(answerSchema)

	return b.String()
}

func buildUserPrompt(contextBlock, question string) string {
	return fmt.Sprintf("CONTEXT:\n%s\n\nQUESTION:\n%s", contextBlock, question)
}

// buildRetrySystemPrompt tightens the original system prompt with the
// validation failures of the first attempt so the model can correct itself.
func buildRetrySystemPrompt(system string, problems []string) string {
	return system + "\nSTRICTNESS: The previous output was invalid because: " +
		strings.Join(problems, "; ") + ". You must fix it."
}

func buildRetryUserPrompt(user string) string {
	return user + "\nSTRICT: Output MUST be valid JSON. No commentary. No code fences."
}
