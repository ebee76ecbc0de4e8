// Package prompt loads YAML prompt templates from disk and renders them.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"gopkg.in/yaml.v3"
)

var (
	// ErrTemplateFormat is returned when a template lacks the system or user message block.
	ErrTemplateFormat = fmt.Errorf("%w: formatting error in template", core.ErrPromptTemplate)
	// ErrMissingVariable is returned in strict mode when a placeholder has no value.
	ErrMissingVariable = fmt.Errorf("%w: unresolved placeholder", core.ErrPromptTemplate)
)

const (
	systemOpen = `<message role="system">`
	userOpen   = `<message role="user">`
	blockClose = `</message>`
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Mode selects where templates are looked up.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// Options configures a Store.
type Options struct {
	// Dir is the bundled template directory, used in every mode.
	Dir string
	// DevDir is consulted first in dev mode so templates can be edited without a redeploy.
	DevDir string
	Mode   Mode
	// Embedded is read when a template is missing from disk.
	Embedded fs.FS
	// Strict rejects rendered user text that still contains {{placeholders}}.
	Strict bool
	Logger *slog.Logger
}

type templateFile struct {
	Model  modelSection `yaml:"model"`
	Prompt string       `yaml:"prompt"`
}

type modelSection struct {
	Name            string   `yaml:"name"`
	Temperature     *float64 `yaml:"temperature"`
	MaxTokens       int64    `yaml:"max_tokens"`
	Verbosity       string   `yaml:"verbosity"`
	ReasoningEffort string   `yaml:"reasoning_effort"`
}

type parsed struct {
	modTime time.Time
	system  string
	user    string
	params  model.ModelParameters
}

// Store implements core.PromptSource over a directory of YAML files.
type Store struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]parsed
}

var _ core.PromptSource = (*Store)(nil)

// NewStore creates a Store.
func NewStore(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("prompt directory is required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeProd
	}
	if opts.Mode != ModeDev && opts.Mode != ModeProd {
		return nil, fmt.Errorf("invalid prompt mode %q", opts.Mode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		opts:   opts,
		logger: logger.With("component", "prompt_store"),
		cache:  make(map[string]parsed),
	}, nil
}

// Path resolves the file a template name maps to.
func (s *Store) Path(name string) string {
	name = filepath.Base(name)
	if s.opts.Mode == ModeDev && s.opts.DevDir != "" {
		dev := filepath.Join(s.opts.DevDir, name)
		if info, err := os.Stat(dev); err == nil && !info.IsDir() {
			return dev
		}
	}
	return filepath.Join(s.opts.Dir, name)
}

// Render loads the named template and substitutes vars into the user message.
func (s *Store) Render(ctx context.Context, name string, vars map[string]string) (*core.Prompt, error) {
	path := s.Path(name)
	tpl, err := s.load(path)
	if errors.Is(err, fs.ErrNotExist) && s.opts.Embedded != nil {
		path = "embedded:" + filepath.Base(name)
		tpl, err = s.loadEmbedded(filepath.Base(name))
	}
	if err != nil {
		return nil, err
	}

	user := tpl.user
	for k, v := range vars {
		user = strings.ReplaceAll(user, "{{"+k+"}}", v)
	}
	if s.opts.Strict {
		if m := placeholderRE.FindStringSubmatch(user); m != nil {
			return nil, fmt.Errorf("%w: {{%s}} in %s", ErrMissingVariable, m[1], name)
		}
	}

	s.logger.DebugContext(ctx, "rendered prompt", "path", path, "model", tpl.params.Model)
	return &core.Prompt{System: tpl.system, User: user, Params: tpl.params}, nil
}

func (s *Store) load(path string) (parsed, error) {
	info, err := os.Stat(path)
	if err != nil {
		return parsed{}, fmt.Errorf("%w: %w", core.ErrPromptTemplate, err)
	}

	s.mu.Lock()
	cached, ok := s.cache[path]
	s.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return parsed{}, fmt.Errorf("%w: %w", core.ErrPromptTemplate, err)
	}
	p, err := parse(raw)
	if err != nil {
		return parsed{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	p.modTime = info.ModTime()

	s.mu.Lock()
	s.cache[path] = p
	s.mu.Unlock()
	return p, nil
}

func (s *Store) loadEmbedded(name string) (parsed, error) {
	key := "embedded:" + name

	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	raw, err := fs.ReadFile(s.opts.Embedded, name)
	if err != nil {
		return parsed{}, fmt.Errorf("%w: %w", core.ErrPromptTemplate, err)
	}
	p, err := parse(raw)
	if err != nil {
		return parsed{}, fmt.Errorf("%s: %w", name, err)
	}

	s.mu.Lock()
	s.cache[key] = p
	s.mu.Unlock()
	return p, nil
}

// parse decodes a template document. Missing model fields take the documented defaults.
func parse(raw []byte) (parsed, error) {
	var doc templateFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return parsed{}, fmt.Errorf("%w: %w", core.ErrPromptTemplate, err)
	}

	system, ok := block(doc.Prompt, systemOpen)
	if !ok {
		return parsed{}, ErrTemplateFormat
	}
	user, ok := block(doc.Prompt, userOpen)
	if !ok {
		return parsed{}, ErrTemplateFormat
	}

	temp := model.DefaultTemperature
	if doc.Model.Temperature != nil {
		temp = *doc.Model.Temperature
	}
	params := model.ModelParameters{
		Model:           doc.Model.Name,
		Temperature:     temp,
		MaxOutputTokens: doc.Model.MaxTokens,
		Verbosity:       doc.Model.Verbosity,
		ReasoningEffort: doc.Model.ReasoningEffort,
	}.WithDefaults()

	return parsed{system: system, user: user, params: params}, nil
}

func block(tpl, open string) (string, bool) {
	_, rest, found := strings.Cut(tpl, open)
	if !found {
		return "", false
	}
	body, _, found := strings.Cut(rest, blockClose)
	if !found {
		return "", false
	}
	return strings.TrimSpace(body), true
}
