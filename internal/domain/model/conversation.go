package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/content pair of an explicit conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenKind tags the variant held by a ContinuationToken.
type TokenKind int

const (
	// TokenNone means no prior conversation; the next call starts a new one.
	TokenNone TokenKind = iota
	// TokenProvider holds an opaque provider-side response id.
	TokenProvider
	// TokenHistory holds an explicit serialized history produced by the fallback path.
	TokenHistory
)

func (k TokenKind) String() string {
	switch k {
	case TokenNone:
		return "none"
	case TokenProvider:
		return "provider"
	case TokenHistory:
		return "history"
	default:
		return "unknown"
	}
}

// ContinuationToken lets a later turn resume a conversation without local state.
// The provider variant is never parsed or mutated.
type ContinuationToken struct {
	Kind       TokenKind
	ProviderID string
	History    []Message
}

// ErrEmptyToken is returned when encoding a token that carries nothing.
var ErrEmptyToken = errors.New("continuation token is empty")

// ProviderToken wraps an opaque provider response id.
func ProviderToken(id string) ContinuationToken {
	if strings.TrimSpace(id) == "" {
		return ContinuationToken{}
	}
	return ContinuationToken{Kind: TokenProvider, ProviderID: id}
}

// HistoryToken wraps an explicit history. The slice is copied.
func HistoryToken(history []Message) ContinuationToken {
	if len(history) == 0 {
		return ContinuationToken{}
	}
	return ContinuationToken{Kind: TokenHistory, History: append([]Message(nil), history...)}
}

// IsZero reports whether the token means "start a new conversation".
func (t ContinuationToken) IsZero() bool {
	return t.Kind == TokenNone
}

// Encode renders the token as the opaque string handed to the external orchestrator.
func (t ContinuationToken) Encode() (string, error) {
	switch t.Kind {
	case TokenNone:
		return "", nil
	case TokenProvider:
		if t.ProviderID == "" {
			return "", ErrEmptyToken
		}
		return t.ProviderID, nil
	case TokenHistory:
		if len(t.History) == 0 {
			return "", ErrEmptyToken
		}
		b, err := json.Marshal(t.History)
		if err != nil {
			return "", fmt.Errorf("encode history token: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unknown token kind %d", t.Kind)
	}
}

// ParseContinuationToken classifies an incoming opaque string.
// Empty input yields the zero token. A JSON array of role/content objects is a
// history token; anything else is treated as a provider id verbatim.
func ParseContinuationToken(raw string) ContinuationToken {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ContinuationToken{}
	}
	if strings.HasPrefix(trimmed, "[") {
		var history []Message
		if err := json.Unmarshal([]byte(trimmed), &history); err == nil && validHistory(history) {
			return ContinuationToken{Kind: TokenHistory, History: history}
		}
	}
	return ContinuationToken{Kind: TokenProvider, ProviderID: raw}
}

func validHistory(history []Message) bool {
	if len(history) == 0 {
		return false
	}
	for _, m := range history {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return false
		}
	}
	return true
}

// ModelParameters are the provider settings read from the prompt template.
type ModelParameters struct {
	Model           string  `yaml:"name"             json:"name"`
	Temperature     float64 `yaml:"temperature"      json:"temperature"`
	MaxOutputTokens int64   `yaml:"max_tokens"       json:"max_tokens"`
	Verbosity       string  `yaml:"verbosity"        json:"verbosity"`
	ReasoningEffort string  `yaml:"reasoning_effort" json:"reasoning_effort"`
}

// Default model parameter values applied when a template omits them.
const (
	DefaultModelName       = "gpt-5.1"
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 2048
	DefaultVerbosity       = "medium"
	DefaultReasoningEffort = "none"
)

// WithDefaults fills unset fields.
func (p ModelParameters) WithDefaults() ModelParameters {
	if p.Model == "" {
		p.Model = DefaultModelName
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if p.Verbosity == "" {
		p.Verbosity = DefaultVerbosity
	}
	if p.ReasoningEffort == "" {
		p.ReasoningEffort = DefaultReasoningEffort
	}
	return p
}

// UsesTemperature reports whether temperature should be sent; reasoning models reject it.
func (p ModelParameters) UsesTemperature() bool {
	return p.ReasoningEffort == "" || p.ReasoningEffort == DefaultReasoningEffort
}

// ConversationTurn is the transient input of one turn.
type ConversationTurn struct {
	UserInput string
	Token     ContinuationToken
	Params    ModelParameters
	// Inputs are the turn's named task inputs, used by variants that bind
	// several of them into the prompt.
	Inputs TaskInputs
}
