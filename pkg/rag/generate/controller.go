package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"ai-tutor-be/pkg/llm"
)

// fallbackReasonLimit caps how many validation errors are carried into the
// refusal answer's uncertainty reasons.
const fallbackReasonLimit = 3

// Params carries the generation parameters resolved from configuration. Zero
// fields fall back to the package defaults.
type Params struct {
	TempFact     float64
	TempTeach    float64
	TempCreative float64
	TempSummary  float64

	MaxTokens        int
	MaxTokensSummary int
	TopP             float64
}

func DefaultParams() Params {
	return Params{
		TempFact:         0.1,
		TempTeach:        0.4,
		TempCreative:     0.7,
		TempSummary:      0.3,
		MaxTokens:        2500,
		MaxTokensSummary: 4000,
		TopP:             0.9,
	}
}

func (p Params) withDefaults() Params {
	defaults := DefaultParams()
	if p.TempFact <= 0 {
		p.TempFact = defaults.TempFact
	}
	if p.TempTeach <= 0 {
		p.TempTeach = defaults.TempTeach
	}
	if p.TempCreative <= 0 {
		p.TempCreative = defaults.TempCreative
	}
	if p.TempSummary <= 0 {
		p.TempSummary = defaults.TempSummary
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaults.MaxTokens
	}
	if p.MaxTokensSummary <= 0 {
		p.MaxTokensSummary = defaults.MaxTokensSummary
	}
	if p.TopP <= 0 {
		p.TopP = defaults.TopP
	}
	return p
}

// temperatureForTask maps task types to sampling temperature. Unknown task
// types get the teach default.
func (p Params) temperatureForTask(taskType string) float64 {
	switch taskType {
	case TaskFact:
		return p.TempFact
	case TaskTeach:
		return p.TempTeach
	case TaskCreative:
		return p.TempCreative
	case TaskSummary, TaskDocumentSummary:
		return p.TempSummary
	default:
		return p.TempTeach
	}
}

func (p Params) maxTokensForTask(taskType string) int {
	if taskType == TaskSummary || taskType == TaskDocumentSummary {
		return p.MaxTokensSummary
	}
	return p.MaxTokens
}

// Controller drives constrained JSON generation: one attempt, one corrective
// retry at lower temperature, then a safe refusal fallback.
type Controller struct {
	llm    llm.Provider
	params Params
	logger *log.Logger
}

func NewController(provider llm.Provider, params Params, logger *log.Logger) *Controller {
	return &Controller{llm: provider, params: params.withDefaults(), logger: logger}
}

// Generate produces a schema-conforming answer for the given context block.
// A non-nil temperature overrides the task-type default. Provider errors are
// returned; schema violations are not — those degrade to the refusal fallback
// with Valid=false so the caller can still respond.
func (c *Controller) Generate(ctx context.Context, taskType, contextBlock, question string, temperature *float64, user *UserContext) (*Result, error) {
	temp := c.params.temperatureForTask(taskType)
	if temperature != nil {
		temp = *temperature
	}
	maxTokens := c.params.maxTokensForTask(taskType)

	systemPrompt := buildSystemPrompt(user)
	userPrompt := buildUserPrompt(contextBlock, question)

	raw, err := c.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	},
		llm.WithTemperature(temp),
		llm.WithMaxTokens(maxTokens),
		llm.WithTopP(c.params.TopP),
	)
	if err != nil {
		return nil, fmt.Errorf("generate: chat failed: %w", err)
	}

	answer, problems := ValidateAnswerJSON(raw)
	if len(problems) == 0 {
		answer.Answer = CleanAnswerText(answer.Answer)
		return &Result{Answer: answer, Raw: raw, Valid: true}, nil
	}

	c.logger.Printf("[GENERATE] Invalid structured output (%d problems), retrying once", len(problems))

	// Exactly one corrective retry: stricter system prompt, slightly colder.
	retryTemp := temp - 0.1
	if retryTemp < 0 {
		retryTemp = 0
	}

	retryRaw, err := c.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: buildRetrySystemPrompt(systemPrompt, problems)},
		{Role: "user", Content: buildRetryUserPrompt(userPrompt)},
	},
		llm.WithTemperature(retryTemp),
		llm.WithMaxTokens(maxTokens),
		llm.WithTopP(c.params.TopP),
	)
	if err != nil {
		return nil, fmt.Errorf("generate: retry chat failed: %w", err)
	}

	answer, problems = ValidateAnswerJSON(retryRaw)
	if len(problems) == 0 {
		answer.Answer = CleanAnswerText(answer.Answer)
		return &Result{Answer: answer, Raw: retryRaw, Valid: true, Retried: true}, nil
	}

	c.logger.Printf("[GENERATE] Retry still invalid, falling back to refusal answer")
	return &Result{
		Answer:  fallbackAnswer(problems),
		Raw:     retryRaw,
		Valid:   false,
		Retried: true,
		Errors:  problems,
	}, nil
}

// fallbackAnswer builds the refusal payload, carrying the validation errors
// through as uncertainty reasons.
func fallbackAnswer(problems []string) *Answer {
	reasons := problems
	if len(reasons) > fallbackReasonLimit {
		reasons = reasons[:fallbackReasonLimit]
	}
	return &Answer{
		Answer:    "I don't know",
		Citations: []Citation{},
		Uncertainty: Uncertainty{
			IsUncertain: true,
			Reasons:     reasons,
		},
	}
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON pulls the first JSON object out of a model response, tolerating
// markdown code fences and surrounding prose.
func extractJSON(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ValidateAnswerJSON parses a raw model response and type-checks every field
// of the output contract, distinguishing absent keys from zero values. It
// returns the parsed answer and one problem string per violation; the answer
// is only usable when the problem list is empty.
func ValidateAnswerJSON(raw string) (*Answer, []string) {
	text, ok := extractJSON(raw)
	if !ok {
		return nil, []string{"response contains no JSON object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, []string{"response is not a JSON object"}
	}

	var problems []string
	answer := &Answer{}

	if field, present := fields["answer"]; !present {
		problems = append(problems, "answer must be a string")
	} else if err := json.Unmarshal(field, &answer.Answer); err != nil {
		problems = append(problems, "answer must be a string")
	} else if strings.TrimSpace(answer.Answer) == "" {
		problems = append(problems, "answer must be a non-empty string")
	}

	if field, present := fields["citations"]; !present {
		problems = append(problems, "citations must be an array")
	} else if err := json.Unmarshal(field, &answer.Citations); err != nil {
		problems = append(problems, "citations must be an array of citation objects")
	} else {
		for i, c := range answer.Citations {
			switch c.Type {
			case CitationTypePdf, CitationTypeChat, CitationTypeProfile:
			default:
				problems = append(problems, fmt.Sprintf(`citations[%d].type must be "pdf", "chat" or "profile", got %q`, i, c.Type))
			}
			if strings.TrimSpace(c.Id) == "" {
				problems = append(problems, fmt.Sprintf("citations[%d].id must be a non-empty string", i))
			}
		}
	}

	if field, present := fields["uncertainty"]; !present {
		problems = append(problems, "uncertainty must be an object")
	} else {
		var unc map[string]json.RawMessage
		if err := json.Unmarshal(field, &unc); err != nil {
			problems = append(problems, "uncertainty must be an object")
		} else {
			if inner, present := unc["isUncertain"]; !present {
				problems = append(problems, "uncertainty.isUncertain must be a boolean")
			} else if err := json.Unmarshal(inner, &answer.Uncertainty.IsUncertain); err != nil {
				problems = append(problems, "uncertainty.isUncertain must be a boolean")
			}
			if inner, present := unc["reasons"]; !present {
				problems = append(problems, "uncertainty.reasons must be an array of strings")
			} else if err := json.Unmarshal(inner, &answer.Uncertainty.Reasons); err != nil {
				problems = append(problems, "uncertainty.reasons must be an array of strings")
			}
		}
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return answer, nil
}

var (
	fenceArtifacts = regexp.MustCompile("```[a-zA-Z]*\\n?|```")
	punctRuns      = regexp.MustCompile(`[!]{4,}|[?]{4,}|[.]{4,}|[,]{4,}|[;]{4,}|[:]{4,}|[*]{4,}|[#]{4,}|[~]{4,}|-{4,}`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// CleanAnswerText strips formatting artifacts models occasionally leak into
// the answer field: stray code fences, runaway punctuation runs, and stacked
// blank lines.
func CleanAnswerText(text string) string {
	cleaned := fenceArtifacts.ReplaceAllString(text, "")
	cleaned = punctRuns.ReplaceAllStringFunc(cleaned, func(run string) string {
		return run[:2]
	})
	cleaned = blankRuns.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
