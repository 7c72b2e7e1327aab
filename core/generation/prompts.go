package generation

import (
	"fmt"
	"strings"

	"github.com/siherrmann/parentrag/model"
)

const stepBackSystemMessage = `You are an expert at world knowledge. Your task is to step back
and paraphrase a question to a more generic step-back question, which
is easier to answer. Here are a few examples

"input": "Could the members of The Police perform lawful arrests?"
"output": "what can the members of The Police do?"

"input": "Jan Sindel's was born in what country?"
"output": "what is Jan Sindel's personal history?"`

const answerSystemMessage = "You're an expert, but can only use the provided documents to respond to the questions."

// StepBackMessages asks for a more generic version of question.
func StepBackMessages(question string) []model.Message {
	return []model.Message{
		{Role: model.RoleSystem, Content: stepBackSystemMessage},
		{Role: model.RoleUser, Content: question},
	}
}

// AnswerMessages asks to answer question from documents only.
func AnswerMessages(question string, documents []string) []model.Message {
	return []model.Message{
		{Role: model.RoleSystem, Content: answerSystemMessage},
		{Role: model.RoleUser, Content: AnswerPrompt(question, documents)},
	}
}

// AnswerPrompt numbers the documents and appends the question.
func AnswerPrompt(question string, documents []string) string {
	var b strings.Builder
	b.WriteString("Use the following documents to answer the question that will follow:\n\n")
	for i, document := range documents {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(document))
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "The question to answer using information only from the above documents: %s", question)
	return b.String()
}
