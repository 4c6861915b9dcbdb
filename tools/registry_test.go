package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nox-hq/warden/manifest"
)

type fakeExecutor struct {
	owner string
	calls []string
	mu    sync.Mutex
}

func (f *fakeExecutor) CallTool(_ context.Context, name string, args map[string]any) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	return Text(fmt.Sprintf("%s:%s:%v", f.owner, name, args["x"])), nil
}

func tool(name string) manifest.Tool {
	return manifest.Tool{Name: name}
}

func TestRegistry_DispatchRoutesToOwner(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeExecutor{owner: "com.example.a"}
	b := &fakeExecutor{owner: "com.example.b"}
	r.Register(a.owner, []manifest.Tool{tool("alpha")}, a)
	r.Register(b.owner, []manifest.Tool{tool("beta")}, b)

	res, err := r.Dispatch(context.Background(), "beta", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Text != "com.example.b:beta:1" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(a.calls) != 0 || len(b.calls) != 1 {
		t.Errorf("calls a=%v b=%v", a.calls, b.calls)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Dispatch(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
	var de *DispatchError
	if !errors.As(err, &de) || de.Tool != "missing" {
		t.Errorf("err = %#v, want *DispatchError for missing", err)
	}
}

func TestRegistry_FirstRegistrationWins(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	a := &fakeExecutor{owner: "com.example.a"}
	b := &fakeExecutor{owner: "com.example.b"}

	if c := r.Register(a.owner, []manifest.Tool{tool("shared")}, a); len(c) != 0 {
		t.Fatalf("unexpected collisions: %v", c)
	}
	collisions := r.Register(b.owner, []manifest.Tool{tool("shared"), tool("own")}, b)
	if len(collisions) != 1 || collisions[0].Existing != a.owner || collisions[0].Owner != b.owner {
		t.Fatalf("collisions = %+v", collisions)
	}

	e, ok := r.Lookup("shared")
	if !ok || e.Owner != a.owner {
		t.Errorf("shared owner = %q, want %q", e.Owner, a.owner)
	}
	if _, ok := r.Lookup("own"); !ok {
		t.Error("non-colliding tool of second owner should register")
	}
	if !strings.Contains(buf.String(), "tool name collision") {
		t.Errorf("collision not logged: %s", buf.String())
	}
}

func TestRegistry_BuiltinsSurviveReset(t *testing.T) {
	r := NewRegistry(nil)
	ok := r.RegisterBuiltin(tool("echo"), func(_ context.Context, args map[string]any) (*Result, error) {
		return Text(fmt.Sprint(args["x"])), nil
	})
	if !ok {
		t.Fatal("RegisterBuiltin failed")
	}
	p := &fakeExecutor{owner: "com.example.p"}
	r.Register(p.owner, []manifest.Tool{tool("p1"), tool("p2")}, p)

	if got := len(r.Owned(p.owner)); got != 2 {
		t.Errorf("Owned = %d, want 2", got)
	}

	r.Reset()
	if len(r.Tools()) != 1 || !r.Tools()[0].Builtin() {
		t.Errorf("after Reset tools = %+v, want only builtin", r.Tools())
	}

	res, err := r.Dispatch(context.Background(), "echo", map[string]any{"x": "hi"})
	if err != nil || res.Text != "hi" {
		t.Errorf("builtin dispatch = %v, %v", res, err)
	}

	if r.RegisterBuiltin(tool("echo"), nil) {
		t.Error("duplicate builtin registration should report false")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(nil)
	p := &fakeExecutor{owner: "com.example.p"}
	r.Register(p.owner, []manifest.Tool{tool("b"), tool("a")}, p)

	if names := []string{r.Tools()[0].Tool.Name, r.Tools()[1].Tool.Name}; names[0] != "a" || names[1] != "b" {
		t.Errorf("Tools not sorted: %v", names)
	}
	if n := r.Remove(p.owner); n != 2 {
		t.Errorf("Remove = %d, want 2", n)
	}
	if _, err := r.Dispatch(context.Background(), "a", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("removed tool still dispatchable: %v", err)
	}
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	r := NewRegistry(nil)
	p := &fakeExecutor{owner: "com.example.p"}
	r.Register(p.owner, []manifest.Tool{tool("t")}, p)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.Dispatch(context.Background(), "t", nil)
		}()
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("com.example.q%d", i)
			r.Register(owner, []manifest.Tool{tool(owner)}, p)
			r.Remove(owner)
		}(i)
	}
	wg.Wait()
}

func TestFromCallToolResult(t *testing.T) {
	res := FromCallToolResult(&mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent("line one"),
			mcp.NewImageContent("aGk=", "image/png"),
			mcp.NewTextContent("line two"),
		},
		StructuredContent: map[string]any{"command": "git status", "cwd": "."},
	})
	if res.Text != "line one\nline two" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Command != "git status" {
		t.Errorf("Command = %q", res.Command)
	}

	type payload struct {
		Command string `json:"command"`
	}
	res = FromCallToolResult(&mcp.CallToolResult{StructuredContent: payload{Command: "ls"}})
	if res.Command != "ls" {
		t.Errorf("typed structured content: Command = %q, want ls", res.Command)
	}

	back := Text("hello").ToCallToolResult()
	if len(back.Content) != 1 {
		t.Fatalf("ToCallToolResult content = %v", back.Content)
	}
	if tc, ok := mcp.AsTextContent(back.Content[0]); !ok || tc.Text != "hello" {
		t.Errorf("ToCallToolResult text = %v", back.Content[0])
	}
}
