// Package coretools registers the baseline filesystem and clock tools every
// deployment gets. All file access is confined to the configured workspace
// root; paths that escape it are rejected before touching the disk.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/andris/kova/pkg/profile"
	"github.com/andris/kova/pkg/tool"
)

// maxReadBytes caps read_file output
const maxReadBytes = 200000

// Options configures core tool registration
type Options struct {
	WorkspaceRoot string
	// Location resolves the user's timezone for current_time. Nil means UTC.
	Location func(ctx context.Context) *time.Location
}

// Register adds the core tools to a registry
func Register(registry *tool.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is required")
	}
	opts.WorkspaceRoot = filepath.Clean(opts.WorkspaceRoot)

	tools := []tool.Definition{
		readFileTool(opts),
		writeFileTool(opts),
		listFilesTool(opts),
		currentTimeTool(opts),
	}
	for _, def := range tools {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func readFileTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace. Large files are truncated.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
			},
			"required": []interface{}{"path"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			data, truncated, err := readFileWithLimit(target, maxReadBytes)
			if err != nil {
				return "", err
			}
			content := string(data)
			if truncated {
				content += "\n[truncated]"
			}
			return content, nil
		},
	}
}

func writeFileTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content to write",
				},
			},
			"required": []interface{}{"path", "content"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			content, _ := args["content"].(string)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", err
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), pathValue), nil
		},
	}
}

func listFilesTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "list_files",
		Description: "List the entries of a workspace directory.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory path relative to the workspace root. Defaults to the root.",
				},
			},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			pathValue, _ := args["path"].(string)
			if strings.TrimSpace(pathValue) == "" {
				pathValue = "."
			}
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(target)
			if err != nil {
				return "", err
			}
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(names, "\n"), nil
		},
	}
}

func currentTimeTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "current_time",
		Description: "Get the current date and time, in the user's timezone unless another is given.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"timezone": map[string]interface{}{
					"type":        "string",
					"description": "Optional timezone, either an IANA name or a common name like 'Pacific'",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			loc := time.UTC
			if opts.Location != nil {
				loc = opts.Location(ctx)
			}
			if name, _ := args["timezone"].(string); strings.TrimSpace(name) != "" {
				resolved := profile.ResolveTimezone(name)
				if resolved == nil {
					return "", fmt.Errorf("unknown timezone: %s", name)
				}
				loc = resolved
			}
			return time.Now().In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	truncated := false
	extra := make([]byte, 1)
	if _, err := file.Read(extra); err == nil {
		truncated = true
	}
	return buf.Bytes(), truncated, nil
}

// resolvePathInWorkspace confines a user-supplied path to the workspace root
func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside workspace root", pathValue)
}
