package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/agentd/internal/agent"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	_, err := resolver.Resolve("../outside.txt")
	if err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestReadWriteEdit(t *testing.T) {
	root := t.TempDir()
	tctx := &agent.ToolExecutionContext{Workspace: agent.NewWorkspace(root)}

	writeTool := NewWriteTool(Config{})
	readTool := NewReadTool(Config{MaxReadBytes: 10})
	editTool := NewEditTool(Config{})

	writeParams, _ := json.Marshal(map[string]interface{}{
		"path":    "notes.txt",
		"content": "hello world",
	})
	if _, err := writeTool.Execute(context.Background(), writeParams, tctx); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readParams, _ := json.Marshal(map[string]interface{}{
		"path": "notes.txt",
	})
	result, err := readTool.Execute(context.Background(), readParams, tctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Fatalf("expected content, got %s", result.Content)
	}

	editParams, _ := json.Marshal(map[string]interface{}{
		"path": "notes.txt",
		"edits": []map[string]interface{}{
			{
				"old_text": "world",
				"new_text": "agentd",
			},
		},
	})
	if _, err := editTool.Execute(context.Background(), editParams, tctx); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hello agentd" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestApplyPatch(t *testing.T) {
	root := t.TempDir()
	tctx := &agent.ToolExecutionContext{Workspace: agent.NewWorkspace(root)}
	path := filepath.Join(root, "file.txt")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tool := NewApplyPatchTool(Config{})
	patch := strings.Join([]string{
		"--- a/file.txt",
		"+++ b/file.txt",
		"@@ -1,3 +1,3 @@",
		" a",
		"-b",
		"+bb",
		" c",
		"",
	}, "\n")

	params, _ := json.Marshal(map[string]interface{}{"patch": patch})
	if _, err := tool.Execute(context.Background(), params, tctx); err != nil {
		t.Fatalf("apply patch failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "a\nbb\nc\n" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestReadToolCapabilitiesAndApproval(t *testing.T) {
	tool := NewReadTool(Config{})
	if agent.HasWriteCapability(tool) {
		t.Fatal("read tool must not report a write capability")
	}
	if tool.RequiresApproval() {
		t.Fatal("read tool must not require approval")
	}
}

func TestWriteToolRequiresApproval(t *testing.T) {
	tool := NewWriteTool(Config{})
	if !agent.HasWriteCapability(tool) {
		t.Fatal("write tool must report a write capability")
	}
	if !tool.RequiresApproval() {
		t.Fatal("write tool must require approval")
	}
}
