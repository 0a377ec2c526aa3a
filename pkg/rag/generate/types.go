package generate

// Citation points at one context line the answer drew from. Type matches the
// source tag used in the context block.
type Citation struct {
	Type  string `json:"type"` // "pdf", "chat" or "profile"
	Id    string `json:"id"`
	DocId string `json:"docId,omitempty"`
	Page  *int   `json:"page,omitempty"`
	Quote string `json:"quote,omitempty"`
}

type Uncertainty struct {
	IsUncertain bool     `json:"isUncertain"`
	Reasons     []string `json:"reasons"`
}

// Answer is the structured output contract the model must satisfy.
type Answer struct {
	Answer      string      `json:"answer"`
	Citations   []Citation  `json:"citations"`
	Uncertainty Uncertainty `json:"uncertainty"`
}

// Result is the outcome of one constrained generation, including whether the
// final payload passed validation and whether a corrective retry was needed.
// Errors holds the validation problems of the last attempt; empty when Valid.
type Result struct {
	Answer  *Answer
	Raw     string
	Valid   bool
	Retried bool
	Errors  []string
}

// UserContext personalizes the tutor persona. All fields optional.
type UserContext struct {
	StudentName string
	University  string
	Major       string
	Year        string
}

const (
	CitationTypePdf     = "pdf"
	CitationTypeChat    = "chat"
	CitationTypeProfile = "profile"
)

// Task types select sampling parameters.
const (
	TaskFact            = "fact"
	TaskTeach           = "teach"
	TaskCreative        = "creative"
	TaskSummary         = "summary"
	TaskDocumentSummary = "document_summary"
)
