package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DeclarativeSpec is a JSON-described tool: a templated HTTP request whose
// placeholders are filled from the model's arguments. No user code runs in
// process; the definition file is the whole tool.
type DeclarativeSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Request     DeclarativeRequest     `json:"request"`
	Timeout     int                    `json:"timeout,omitempty"` // seconds
}

// DeclarativeRequest is the HTTP request template. "{{param}}" placeholders
// in URL, headers, and body are replaced with argument values; URL
// substitutions are query-escaped.
type DeclarativeRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// DeclarativeLoader loads *.json tool specs from a directory and registers
// them. Reload swaps the whole set, so deleted files drop their tools.
type DeclarativeLoader struct {
	dir        string
	registry   *Registry
	client     *http.Client
	logger     zerolog.Logger
	registered []string
}

// NewDeclarativeLoader creates a loader for the given definitions directory
func NewDeclarativeLoader(dir string, registry *Registry, logger zerolog.Logger) *DeclarativeLoader {
	return &DeclarativeLoader{
		dir:      dir,
		registry: registry,
		client:   &http.Client{},
		logger:   logger.With().Str("component", "declarative_tools").Logger(),
	}
}

// Load reads every *.json spec in the directory and registers the resulting
// tools. Previously loaded declarative tools that no longer have a spec file
// are unregistered. Malformed files are logged and skipped.
func (l *DeclarativeLoader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tool directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())

		spec, err := l.parseSpec(path)
		if err != nil {
			l.logger.Warn().Str("file", entry.Name()).Err(err).Msg("Skipping malformed tool definition")
			continue
		}

		if err := l.registry.Register(l.build(spec)); err != nil {
			l.logger.Warn().Str("file", entry.Name()).Err(err).Msg("Skipping invalid tool definition")
			continue
		}
		names = append(names, spec.Name)
	}

	// Drop tools whose spec file went away.
	current := make(map[string]bool, len(names))
	for _, name := range names {
		current[name] = true
	}
	for _, name := range l.registered {
		if !current[name] {
			l.registry.Unregister(name)
		}
	}
	sort.Strings(names)
	l.registered = names

	l.logger.Info().Int("count", len(names)).Msg("Declarative tools loaded")
	return nil
}

// Names returns the currently registered declarative tool names
func (l *DeclarativeLoader) Names() []string {
	out := make([]string, len(l.registered))
	copy(out, l.registered)
	return out
}

func (l *DeclarativeLoader) parseSpec(path string) (*DeclarativeSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var spec DeclarativeSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if spec.Request.URL == "" {
		return nil, fmt.Errorf("request.url is required")
	}
	if spec.Request.Method == "" {
		spec.Request.Method = http.MethodGet
	}
	return &spec, nil
}

func (l *DeclarativeLoader) build(spec *DeclarativeSpec) Definition {
	s := *spec
	return Definition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Parameters,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return l.execute(ctx, &s, args)
		},
	}
}

func (l *DeclarativeLoader) execute(ctx context.Context, spec *DeclarativeSpec, args map[string]interface{}) (string, error) {
	timeout := 15 * time.Second
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := substitute(spec.Request.URL, args, url.QueryEscape)

	var body io.Reader
	if spec.Request.Body != "" {
		body = strings.NewReader(substitute(spec.Request.Body, args, nil))
	}

	req, err := http.NewRequestWithContext(ctx, spec.Request.Method, reqURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range spec.Request.Headers {
		req.Header.Set(key, substitute(value, args, nil))
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

// substitute replaces "{{param}}" placeholders with stringified argument
// values, optionally escaping each value.
func substitute(template string, args map[string]interface{}, escape func(string) string) string {
	out := template
	for key, value := range args {
		str := fmt.Sprintf("%v", value)
		if escape != nil {
			str = escape(str)
		}
		out = strings.ReplaceAll(out, "{{"+key+"}}", str)
	}
	return out
}
