package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

type stubPrompts struct {
	params model.ModelParameters
	err    error
	vars   []map[string]string
}

func (s *stubPrompts) Render(_ context.Context, _ string, vars map[string]string) (*core.Prompt, error) {
	s.vars = append(s.vars, vars)
	if s.err != nil {
		return nil, s.err
	}
	var user string
	for _, v := range vars {
		user = "USER: " + v
	}
	return &core.Prompt{System: "SYSTEM", User: user, Params: s.params}, nil
}

type stubPrimary struct {
	calls []core.ResponseRequest
	reply func(n int) (*core.ResponseReply, error)
}

func (s *stubPrimary) Respond(_ context.Context, req core.ResponseRequest) (*core.ResponseReply, error) {
	s.calls = append(s.calls, req)
	return s.reply(len(s.calls))
}

type stubChat struct {
	calls []core.ChatRequest
	reply string
	err   error
}

func (s *stubChat) Chat(_ context.Context, req core.ChatRequest) (string, error) {
	s.calls = append(s.calls, req)
	return s.reply, s.err
}

func newTestConversation(t *testing.T, prompts *stubPrompts, primary *stubPrimary, chat *stubChat) *Conversation {
	t.Helper()
	opts := ConversationOptions{Prompts: prompts, Variant: InterviewVariant()}
	if primary != nil {
		opts.Primary = primary
	}
	if chat != nil {
		opts.Fallback = chat
	}
	c, err := NewConversation(opts)
	require.NoError(t, err)
	return c
}

func TestNewConversation_Validation(t *testing.T) {
	_, err := NewConversation(ConversationOptions{})
	require.Error(t, err)

	_, err = NewConversation(ConversationOptions{Prompts: &stubPrompts{}, Variant: InterviewVariant()})
	require.Error(t, err)

	_, err = NewConversation(ConversationOptions{Prompts: &stubPrompts{}, Primary: &stubPrimary{}})
	require.Error(t, err)
}

func TestConversation_FirstTurnSendsSystemAndGreeting(t *testing.T) {
	prompts := &stubPrompts{}
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return &core.ResponseReply{Text: "Tell me about your project.", ResponseID: "resp_1"}, nil
	}}
	c := newTestConversation(t, prompts, primary, &stubChat{})

	res, err := c.Execute(context.Background(), model.ConversationTurn{UserInput: "   "})
	require.NoError(t, err)

	require.Len(t, primary.calls, 1)
	call := primary.calls[0]
	assert.Equal(t, "SYSTEM", call.System)
	assert.Empty(t, call.PreviousResponseID)
	assert.Equal(t, "USER: "+DefaultGreeting, call.User)
	assert.Equal(t, map[string]string{"user_input": DefaultGreeting}, prompts.vars[0])
	assert.Equal(t, model.DefaultModelName, call.Params.Model)
	assert.Equal(t, int64(model.DefaultMaxOutputTokens), call.Params.MaxOutputTokens)

	assert.Equal(t, "Tell me about your project.", res.Text)
	assert.False(t, res.IsComplete)
	assert.Nil(t, res.Summary)
	assert.Equal(t, PathPrimary, res.Path)
	assert.Equal(t, model.ProviderToken("resp_1"), res.Token)
}

func TestConversation_TokenRoundTripContinuesWithoutSystem(t *testing.T) {
	primary := &stubPrimary{reply: func(n int) (*core.ResponseReply, error) {
		if n == 1 {
			return &core.ResponseReply{Text: "First question?", ResponseID: "resp_1"}, nil
		}
		return &core.ResponseReply{Text: "All set. [CONVERSATION_COMPLETE]", ResponseID: "resp_2"}, nil
	}}
	c := newTestConversation(t, &stubPrompts{}, primary, nil)
	ctx := context.Background()

	first, err := c.Execute(ctx, model.ConversationTurn{UserInput: "hi"})
	require.NoError(t, err)
	encoded, err := first.Token.Encode()
	require.NoError(t, err)

	second, err := c.Execute(ctx, model.ConversationTurn{
		UserInput: "that's all, thanks",
		Token:     model.ParseContinuationToken(encoded),
	})
	require.NoError(t, err)

	require.Len(t, primary.calls, 2)
	assert.Empty(t, primary.calls[1].System)
	assert.Equal(t, "resp_1", primary.calls[1].PreviousResponseID)

	assert.True(t, second.IsComplete)
	assert.Equal(t, "All set.", second.Text)
	require.NotNil(t, second.Summary)
	assert.Equal(t, "All set.", *second.Summary)
}

func TestConversation_FallbackProducesHistoryToken(t *testing.T) {
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return nil, errors.New("responses api unavailable")
	}}
	chat := &stubChat{reply: "  What is your budget?  "}
	c := newTestConversation(t, &stubPrompts{}, primary, chat)

	res, err := c.Execute(context.Background(), model.ConversationTurn{UserInput: "hello", Token: model.ProviderToken("resp_9")})
	require.NoError(t, err)

	require.Len(t, chat.calls, 1)
	assert.Equal(t, []model.Message{
		{Role: model.RoleSystem, Content: "SYSTEM"},
		{Role: model.RoleUser, Content: "USER: hello"},
	}, chat.calls[0].Messages)

	assert.Equal(t, PathFallback, res.Path)
	assert.Equal(t, "What is your budget?", res.Text)
	require.Equal(t, model.TokenHistory, res.Token.Kind)
	assert.Len(t, res.Token.History, 3)
	assert.Equal(t, model.Message{Role: model.RoleAssistant, Content: "What is your budget?"}, res.Token.History[2])

	encoded, err := res.Token.Encode()
	require.NoError(t, err)
	assert.Equal(t, res.Token, model.ParseContinuationToken(encoded))
}

func TestConversation_HistoryTokenSkipsPrimary(t *testing.T) {
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		t.Fatal("primary must not be called for a history token")
		return nil, nil
	}}
	chat := &stubChat{reply: "Wrapping up [CONVERSATION_COMPLETE]"}
	c := newTestConversation(t, &stubPrompts{}, primary, chat)

	history := []model.Message{
		{Role: model.RoleSystem, Content: "SYSTEM"},
		{Role: model.RoleUser, Content: "USER: hi"},
		{Role: model.RoleAssistant, Content: "Question 1?"},
	}
	res, err := c.Execute(context.Background(), model.ConversationTurn{
		UserInput: "done",
		Token:     model.HistoryToken(history),
	})
	require.NoError(t, err)

	require.Len(t, chat.calls, 1)
	assert.Len(t, chat.calls[0].Messages, 4)
	assert.Equal(t, "USER: done", chat.calls[0].Messages[3].Content)
	assert.True(t, res.IsComplete)
	assert.Equal(t, "Wrapping up", res.Text)
	// The raw reply, marker included, is kept in history.
	assert.Equal(t, "Wrapping up [CONVERSATION_COMPLETE]", res.Token.History[4].Content)
}

func TestConversation_BothPathsFail(t *testing.T) {
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return nil, errors.New("primary down")
	}}
	chat := &stubChat{err: errors.New("fallback down")}
	c := newTestConversation(t, &stubPrompts{}, primary, chat)

	_, err := c.Execute(context.Background(), model.ConversationTurn{UserInput: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")
	assert.Len(t, chat.calls, 1)
}

func TestConversation_PrimaryFailureWithoutFallback(t *testing.T) {
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return nil, errors.New("primary down")
	}}
	c := newTestConversation(t, &stubPrompts{}, primary, nil)

	_, err := c.Execute(context.Background(), model.ConversationTurn{UserInput: "hi"})
	require.ErrorIs(t, err, ErrProviderFailed)
}

func TestConversation_TemplateErrorIsMalformedTurn(t *testing.T) {
	prompts := &stubPrompts{err: fmt.Errorf("%w: missing {{user_input}}", core.ErrPromptTemplate)}
	c := newTestConversation(t, prompts, &stubPrimary{}, nil)

	_, err := c.Execute(context.Background(), model.ConversationTurn{UserInput: "hi"})
	require.ErrorIs(t, err, ErrMalformedTurn)
}

func TestConversation_TurnParamsOverrideTemplate(t *testing.T) {
	prompts := &stubPrompts{params: model.ModelParameters{Model: "gpt-5.1", ReasoningEffort: "low", Temperature: 0.7}}
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return &core.ResponseReply{Text: "ok", ResponseID: "r"}, nil
	}}
	c := newTestConversation(t, prompts, primary, nil)

	_, err := c.Execute(context.Background(), model.ConversationTurn{
		UserInput: "hi",
		Params:    model.ModelParameters{Model: "gpt-5.1-mini"},
	})
	require.NoError(t, err)

	got := primary.calls[0].Params
	assert.Equal(t, "gpt-5.1-mini", got.Model)
	assert.Equal(t, "low", got.ReasoningEffort)
	assert.False(t, got.UsesTemperature())
}

func TestConversation_StoryVariantUsesAnswerKey(t *testing.T) {
	prompts := &stubPrompts{}
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return &core.ResponseReply{Text: `[{"Agent":"PM","Contribution":"Scope"}]`, ResponseID: "r"}, nil
	}}
	c, err := NewConversation(ConversationOptions{Prompts: prompts, Primary: primary, Variant: StoryVariant()})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.ConversationTurn{UserInput: "we ship in May"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"answer": "we ship in May"}, prompts.vars[0])
	assert.True(t, res.IsComplete)
	require.NotNil(t, res.Summary)
	assert.True(t, strings.HasPrefix(*res.Summary, "### Conversation Summary:"))
}

func TestConversation_ThreadVariantRequestsReasoningSummary(t *testing.T) {
	prompts := &stubPrompts{}
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return &core.ResponseReply{Text: "Two motions passed.", ResponseID: "resp_t2", Reasoning: "Read both minutes."}, nil
	}}
	c, err := NewConversation(ConversationOptions{Prompts: prompts, Primary: primary, Variant: ThreadVariant()})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.ConversationTurn{
		Token:  model.ParseContinuationToken("resp_t1"),
		Inputs: model.TaskInputs{model.InputInstructions: "summarise the votes"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"text": "summarise the votes"}, prompts.vars[0])
	require.Len(t, primary.calls, 1)
	assert.Equal(t, "detailed", primary.calls[0].ReasoningSummary)
	assert.Equal(t, "resp_t1", primary.calls[0].PreviousResponseID)

	assert.True(t, res.IsComplete)
	assert.Equal(t, model.ProviderToken("resp_t2"), res.Token)
	require.NotNil(t, res.Explanation)
	assert.Equal(t, "Read both minutes.", *res.Explanation)
}

func TestConversation_SingleShotIgnoresToken(t *testing.T) {
	prompts := &stubPrompts{}
	primary := &stubPrimary{reply: func(int) (*core.ResponseReply, error) {
		return &core.ResponseReply{Text: "Shorter draft.", ResponseID: "resp_r"}, nil
	}}
	c, err := NewConversation(ConversationOptions{Prompts: prompts, Primary: primary, Variant: RewriteVariant()})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), model.ConversationTurn{
		Token: model.ParseContinuationToken("resp_stale"),
		Inputs: model.TaskInputs{
			model.InputSelectedText: "A long draft.",
			model.InputInstructions: "shorten",
		},
	})
	require.NoError(t, err)

	require.Len(t, primary.calls, 1)
	assert.Empty(t, primary.calls[0].PreviousResponseID)
	assert.Equal(t, "SYSTEM", primary.calls[0].System)
	assert.Empty(t, primary.calls[0].ReasoningSummary)
	assert.Equal(t, map[string]string{"context": "A long draft.", "inquiry": "shorten"}, prompts.vars[0])
	assert.True(t, res.IsComplete)
	assert.Equal(t, "Shorter draft.", res.Text)
	assert.Nil(t, res.Explanation)
}
