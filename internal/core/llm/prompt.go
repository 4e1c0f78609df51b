package llm

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

// NoAnswer is returned when retrieval found nothing to ground an answer in.
const NoAnswer = "I cannot find this in the knowledge base."

const answerInstruction = `You answer questions about a document knowledge base.
Use only the numbered passages in the prompt. Cite the passages you rely on as [n].
If the passages do not contain the answer, reply exactly: ` + NoAnswer

// AnswerPrompt numbers passages with their source so the answer can cite them.
func AnswerPrompt(question string, passages []core.Passage) string {
	var b strings.Builder
	b.WriteString("Passages:\n")
	for i, p := range passages {
		source := p.FileName
		if source == "" {
			source = "document " + p.DocumentID
		}
		fmt.Fprintf(&b, "[%d] %s, chunk %d\n%s\n\n", i+1, source, p.Index, strings.TrimSpace(p.Text))
	}
	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(question))
	return b.String()
}
