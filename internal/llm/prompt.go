package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

// DefaultInstruction is used when no prompt file is configured.
const DefaultInstruction = `You are a veterinary clinical pathologist. The attached images are the pages of one blood test report for a single animal, in page order.

Read every page and return ONE JSON object, with no surrounding text, using these keys:

- "patient": species, breed, age, sex and weight if printed on the report.
- "panels": an object keyed by panel name (e.g. "CBC", "Biochemistry", "Electrolytes"). Each panel maps test names to an object with "value", "unit", "reference_range" and "flag" ("low", "high" or "normal").
- "abnormal_findings": a list of short strings, one per out-of-range result, in clinical order of importance.
- "interpretation": a concise narrative of what the abnormal results suggest together.
- "differential_diagnoses": a list of the most likely explanations, most likely first.
- "recommendations": follow-up tests or actions for the attending veterinarian.

Rules:
- Copy numbers and units exactly as printed. Do not convert units.
- If a value is unreadable, use null rather than guessing.
- Do not use Markdown, asterisks or code fences anywhere in the output.
- The interpretation supports, and does not replace, the veterinarian's judgement.`

// LoadInstruction reads the diagnostic instruction from path. An empty path
// yields DefaultInstruction.
func LoadInstruction(path string) (string, error) {
	if path == "" {
		return DefaultInstruction, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.ConfigError(fmt.Sprintf("read diagnostic prompt %s", path), err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", domain.ConfigError(fmt.Sprintf("diagnostic prompt %s is empty", path), nil)
	}
	return text, nil
}
