package mentor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/codementor/problem"
)

var testImpl = &mcp.Implementation{Name: "codementor-test", Version: "0.1.0"}

// mcpSession registers the tools of k and returns a connected client
// session that can call them end-to-end.
func mcpSession(t *testing.T, k *Keeper) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	k.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool invokes a tool and returns the text of the first TextContent
// together with the tool error flag.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	session := mcpSession(t, testKeeper(t, "http://unused"))
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"mentor_problem": false, "mentor_history": false, "mentor_ask": false, "mentor_providers": false}
	for _, tool := range res.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestMCP_Problem(t *testing.T) {
	k := testKeeper(t, "http://unused")
	session := mcpSession(t, k)

	text, isErr := callTool(t, session, "mentor_problem", map[string]any{"page_id": "p1"})
	if !isErr || !strings.Contains(text, "no problem information found") {
		t.Errorf("empty store: isErr=%v text=%q", isErr, text)
	}

	k.HandleEvent(context.Background(), problem.Info(twoSum("s1", "x = 1")))
	text, isErr = callTool(t, session, "mentor_problem", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["page_id"] != "p1" || got["language"] != "Python3" {
		t.Errorf("problem: %v", got)
	}
}

func TestMCP_History(t *testing.T) {
	k := testKeeper(t, "http://unused")
	session := mcpSession(t, k)
	k.HandleEvent(context.Background(), problem.Info(twoSum("s1", "a")))

	text, isErr := callTool(t, session, "mentor_history", map[string]any{"limit": 5})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var snaps []problem.Snapshot
	if err := json.Unmarshal([]byte(text), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != "s1" {
		t.Errorf("history: %+v", snaps)
	}
}

func TestMCP_AskAndProviders(t *testing.T) {
	up := openAIStub(t, `"Think about complements."`, nil)
	k := testKeeper(t, up.URL)
	session := mcpSession(t, k)
	ctx := context.Background()
	k.HandleEvent(ctx, problem.Info(twoSum("s1", "")))

	text, _ := callTool(t, session, "mentor_providers", map[string]any{})
	var ps []ProviderStatus
	json.Unmarshal([]byte(text), &ps)
	if len(ps) != 2 || ps[1].Name != "openai" || ps[1].Configured {
		t.Errorf("providers before key: %+v", ps)
	}

	if err := k.SetKey(ctx, "openai", openaiKey); err != nil {
		t.Fatal(err)
	}
	text, isErr := callTool(t, session, "mentor_ask", map[string]any{"kind": "hint", "provider": "openai"})
	if isErr {
		t.Fatalf("ask: %s", text)
	}
	var ans Answer
	if err := json.Unmarshal([]byte(text), &ans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ans.Text != "Think about complements." || ans.HTML != "<p>Think about complements.</p>\n" {
		t.Errorf("answer: %+v", ans)
	}
}
