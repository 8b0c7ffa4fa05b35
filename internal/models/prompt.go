package models

// PromptRole is a chat message role in a generation request.
type PromptRole string

const (
	RoleSystem    PromptRole = "system"
	RoleUser      PromptRole = "user"
	RoleAssistant PromptRole = "assistant"
)

// PromptMessage is one message in a generation request.
type PromptMessage struct {
	Role    PromptRole `json:"role"`
	Content string     `json:"content"`
}

// PromptConfig carries everything a generation call needs. It is
// self-contained: the provider receives nothing else.
type PromptConfig struct {
	Model        string          `json:"model"`
	SystemPrompt string          `json:"system_prompt"`
	Messages     []PromptMessage `json:"messages"` // strictly alternating user/assistant, ending with user
	MaxTokens    int64           `json:"max_tokens"`
	Temperature  float64         `json:"temperature"`
}

// ProcessResult is the caller-facing contract returned by the orchestrator
// for one processed turn, for both the webhook and manual invocation paths.
type ProcessResult struct {
	Response         string               `json:"response"`
	Intent           IntentClassification `json:"intent"`
	Qualification    Qualification        `json:"qualification"`
	Context          ConversationContext  `json:"context"`
	TokensUsed       TokenUsage           `json:"tokens_used"`
	ShouldEscalate   bool                 `json:"should_escalate"`
	EscalationReason string               `json:"escalation_reason,omitempty"`
	StatusUpdate     *StatusUpdate        `json:"status_update,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusIgnored indicates an inbound event was intentionally skipped.
	APIStatusIgnored APIStatus = "ignored"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Ignored creates a response for inbound events that were deliberately skipped.
func Ignored(message string) APIResponse {
	return APIResponse{Status: string(APIStatusIgnored), Message: message}
}
