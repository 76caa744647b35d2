package core

const (
	AppName          = "Percept"
	AppUserAgent     = "Percept/0.1"
	AppRepositoryURL = "https://github.com/sandevgo/percept"
	AppVersion       = "0.1.0"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn exchanged with a language model collaborator.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}
