package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/smart-agent/internal/core"
)

const interviewTemplate = `model:
  name: gpt-5.1
  temperature: 0.2
  max_tokens: 512
  verbosity: low
  reasoning_effort: none
prompt: |
  <message role="system">
  You are an interviewer.
  </message>
  <message role="user">
  Client said: {{user_input}}
  </message>
`

func writeTemplate(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestStore_Render(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "ClientDiscovery.yaml", interviewTemplate)

	store, err := NewStore(Options{Dir: dir, Strict: true})
	require.NoError(t, err)

	p, err := store.Render(context.Background(), "ClientDiscovery.yaml", map[string]string{"user_input": "we sell bikes"})
	require.NoError(t, err)

	assert.Equal(t, "You are an interviewer.", p.System)
	assert.Equal(t, "Client said: we sell bikes", p.User)
	assert.Equal(t, "gpt-5.1", p.Params.Model)
	assert.InDelta(t, 0.2, p.Params.Temperature, 1e-9)
	assert.Equal(t, int64(512), p.Params.MaxOutputTokens)
	assert.Equal(t, "low", p.Params.Verbosity)
	assert.Equal(t, "none", p.Params.ReasoningEffort)
}

func TestStore_DefaultsWhenModelSectionMissing(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "bare.yaml", `prompt: |
  <message role="system">sys</message>
  <message role="user">{{user_input}}</message>
`)
	store, err := NewStore(Options{Dir: dir})
	require.NoError(t, err)

	p, err := store.Render(context.Background(), "bare.yaml", map[string]string{"user_input": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-5.1", p.Params.Model)
	assert.InDelta(t, 0.7, p.Params.Temperature, 1e-9)
	assert.Equal(t, int64(2048), p.Params.MaxOutputTokens)
	assert.Equal(t, "medium", p.Params.Verbosity)
	assert.Equal(t, "none", p.Params.ReasoningEffort)
}

func TestStore_FormatErrors(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "nouser.yaml", `prompt: |
  <message role="system">sys</message>
`)
	writeTemplate(t, dir, "broken.yaml", "prompt: [unterminated")

	store, err := NewStore(Options{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Render(ctx, "nouser.yaml", nil)
	require.ErrorIs(t, err, ErrTemplateFormat)
	require.ErrorIs(t, err, core.ErrPromptTemplate)

	_, err = store.Render(ctx, "broken.yaml", nil)
	require.ErrorIs(t, err, core.ErrPromptTemplate)

	_, err = store.Render(ctx, "missing.yaml", nil)
	require.ErrorIs(t, err, core.ErrPromptTemplate)
}

func TestStore_StrictRejectsUnresolvedPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "ClientDiscovery.yaml", interviewTemplate)
	ctx := context.Background()

	strict, err := NewStore(Options{Dir: dir, Strict: true})
	require.NoError(t, err)
	_, err = strict.Render(ctx, "ClientDiscovery.yaml", map[string]string{"answer": "x"})
	require.ErrorIs(t, err, ErrMissingVariable)

	lenient, err := NewStore(Options{Dir: dir})
	require.NoError(t, err)
	p, err := lenient.Render(ctx, "ClientDiscovery.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, "Client said: {{user_input}}", p.User)
}

func TestStore_DevModePrefersDevDir(t *testing.T) {
	prod := t.TempDir()
	dev := t.TempDir()
	prodPath := writeTemplate(t, prod, "ClientDiscovery.yaml", interviewTemplate)

	devStore, err := NewStore(Options{Dir: prod, DevDir: dev, Mode: ModeDev})
	require.NoError(t, err)
	prodStore, err := NewStore(Options{Dir: prod, DevDir: dev, Mode: ModeProd})
	require.NoError(t, err)

	assert.Equal(t, prodPath, devStore.Path("ClientDiscovery.yaml"), "falls back when the dev copy is absent")

	devPath := writeTemplate(t, dev, "ClientDiscovery.yaml", interviewTemplate)
	assert.Equal(t, devPath, devStore.Path("ClientDiscovery.yaml"))
	assert.Equal(t, prodPath, prodStore.Path("ClientDiscovery.yaml"))
	assert.Equal(t, prodPath, prodStore.Path("../../etc/ClientDiscovery.yaml"))
}

func TestStore_ReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "t.yaml", interviewTemplate)
	store, err := NewStore(Options{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Render(ctx, "t.yaml", nil)
	require.NoError(t, err)

	writeTemplate(t, dir, "t.yaml", `prompt: |
  <message role="system">new system</message>
  <message role="user">{{user_input}}</message>
`)
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	p, err := store.Render(ctx, "t.yaml", map[string]string{"user_input": "x"})
	require.NoError(t, err)
	assert.Equal(t, "new system", p.System)
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Options{})
	require.Error(t, err)

	_, err = NewStore(Options{Dir: "Prompt", Mode: "staging"})
	require.Error(t, err)
}

func TestStore_FallsBackToEmbedded(t *testing.T) {
	embedded := fstest.MapFS{"interview.yaml": {Data: []byte(interviewTemplate)}}
	store, err := NewStore(Options{Dir: t.TempDir(), Embedded: embedded})
	require.NoError(t, err)

	p, err := store.Render(context.Background(), "interview.yaml", map[string]string{"user_input": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Client said: hi", p.User)

	_, err = store.Render(context.Background(), "absent.yaml", nil)
	require.ErrorIs(t, err, core.ErrPromptTemplate)
}
