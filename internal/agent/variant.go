package agent

import (
	"fmt"
	"strings"

	"github.com/target/smart-agent/internal/domain/model"
)

// DefaultGreeting replaces an empty first user turn.
const DefaultGreeting = "Hello, I'd like to start the discovery conversation."

// Mode is how a variant continues across execute calls.
type Mode int

const (
	// ModeInterview runs until the detector sees the final turn and hands a
	// next-task envelope back in between.
	ModeInterview Mode = iota
	// ModeThread completes every call and returns a thread id the caller may
	// pass back to continue.
	ModeThread
	// ModeSingleShot answers once and never continues.
	ModeSingleShot
)

func (m Mode) String() string {
	switch m {
	case ModeInterview:
		return "interview"
	case ModeThread:
		return "thread"
	case ModeSingleShot:
		return "single_shot"
	default:
		return "unknown"
	}
}

// Variant bundles the per-agent choices: prompt, substitution keys, completion
// detector, continuation mode, and the wording of the notifications.
type Variant struct {
	Name            string
	Mode            Mode
	PromptFile      string
	InputKey        string
	Greeting        string
	AgentIdentifier string
	Detector        Detector

	// Bindings maps template placeholders to task input names. When set it
	// replaces the single InputKey substitution.
	Bindings map[string]string
	// TokenInput names the task input that carries the continuation token.
	TokenInput string
	// ReasoningSummary requests a provider reasoning summary, pushed as an explanation.
	ReasoningSummary string

	StartTitle     string
	StartInfo      string
	ReadyTitle     string
	ReadyInfo      string
	CompletedTitle string
	CompletedInfo  string
	// SummaryType is the output type used for the terminal summary.
	SummaryType string
	// ResultName and ResultType describe the terminal output of thread and single-shot variants.
	ResultName string
	ResultType string
}

// Known variant names.
const (
	VariantInterview = "interview"
	VariantStory     = "story"
	VariantThread    = "thread"
	VariantRewrite   = "rewrite"
)

// InterviewVariant is the client discovery interviewer: sentinel-terminated.
func InterviewVariant() Variant {
	return Variant{
		Name:            VariantInterview,
		PromptFile:      "ClientDiscovery.yaml",
		InputKey:        "user_input",
		Greeting:        DefaultGreeting,
		AgentIdentifier: "Client Discovery Interview",
		Detector:        SentinelDetector{Marker: CompletionMarker},
		TokenInput:      model.InputHistory,
		StartTitle:      "Processing your message",
		StartInfo:       "Conducting discovery interview...",
		CompletedInfo:   "Discovery interview completed!",
		SummaryType:     model.OutputTypeLongText,
	}
}

// StoryVariant is the story interviewer whose final turn is a JSON array of contributions.
func StoryVariant() Variant {
	return Variant{
		Name:            VariantStory,
		PromptFile:      "GimletGPT.yaml",
		InputKey:        "answer",
		Greeting:        DefaultGreeting,
		AgentIdentifier: "Project_XYZ",
		Detector:        JSONArrayDetector{},
		TokenInput:      model.InputHistory,
		StartTitle:      "Interviewer",
		StartInfo:       "Continuing the interview",
		CompletedTitle:  "Interviewer - Story",
		CompletedInfo:   "Task successfully completed!",
		SummaryType:     model.OutputTypeMarkdown,
	}
}

// ThreadVariant answers an instruction per call on a provider thread and
// reports the model's reasoning summary alongside the answer.
func ThreadVariant() Variant {
	return Variant{
		Name:             VariantThread,
		Mode:             ModeThread,
		PromptFile:       "ThreadAssistant.yaml",
		InputKey:         "text",
		Bindings:         map[string]string{"text": model.InputInstructions},
		AgentIdentifier:  "Thread Assistant",
		Detector:         FinalDetector{},
		TokenInput:       model.InputThreadID,
		ReasoningSummary: "detailed",
		StartTitle:       "Processing your request",
		StartInfo:        "Working on the instructions...",
		CompletedInfo:    "Task successfully completed!",
		ResultName:       OutputNameOutput,
		ResultType:       model.OutputTypeLongText,
	}
}

// RewriteVariant revises a selected passage according to instructions in one call.
func RewriteVariant() Variant {
	return Variant{
		Name:       VariantRewrite,
		Mode:       ModeSingleShot,
		PromptFile: "TextRewrite.yaml",
		InputKey:   "context",
		Bindings: map[string]string{
			"context": model.InputSelectedText,
			"inquiry": model.InputInstructions,
		},
		AgentIdentifier: "Text Rewrite",
		Detector:        FinalDetector{},
		StartTitle:      "Fetching the inputs",
		StartInfo:       "Processing",
		ReadyTitle:      "Check your revised text",
		ReadyInfo:       "Check the result",
		CompletedInfo:   "Task successfully completed!",
		ResultName:      "result",
		ResultType:      model.OutputTypeMarkdown,
	}
}

// OutputNameOutput is the default name of a turn's text output.
const OutputNameOutput = "output"

// PromptVars builds the template substitutions for a turn. input is the
// turn's user input after the greeting default has been applied.
func (v Variant) PromptVars(input string, inputs model.TaskInputs) map[string]string {
	if len(v.Bindings) == 0 {
		return map[string]string{v.InputKey: input}
	}
	vars := make(map[string]string, len(v.Bindings))
	for placeholder, name := range v.Bindings {
		vars[placeholder] = inputs.Get(name)
	}
	return vars
}

// Continues reports whether the variant reads a continuation token.
func (v Variant) Continues() bool {
	return v.Mode != ModeSingleShot
}

// VariantOptions override parts of a named variant from configuration.
type VariantOptions struct {
	Name            string
	PromptFile      string
	AgentIdentifier string
	Greeting        string
}

// LookupVariant resolves a variant by name and applies non-empty overrides.
func LookupVariant(opts VariantOptions) (Variant, error) {
	var v Variant
	switch strings.ToLower(strings.TrimSpace(opts.Name)) {
	case "", VariantInterview:
		v = InterviewVariant()
	case VariantStory:
		v = StoryVariant()
	case VariantThread:
		v = ThreadVariant()
	case VariantRewrite:
		v = RewriteVariant()
	default:
		return Variant{}, fmt.Errorf("unknown agent variant %q", opts.Name)
	}
	if opts.PromptFile != "" {
		v.PromptFile = opts.PromptFile
	}
	if opts.AgentIdentifier != "" {
		v.AgentIdentifier = opts.AgentIdentifier
	}
	if opts.Greeting != "" {
		v.Greeting = opts.Greeting
	}
	return v, nil
}
