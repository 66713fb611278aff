package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teo-mateo/memento-mcp/internal/api/mcp"
	"github.com/teo-mateo/memento-mcp/internal/config"
	"github.com/teo-mateo/memento-mcp/internal/embedding"
	"github.com/teo-mateo/memento-mcp/internal/engine"
	"github.com/teo-mateo/memento-mcp/internal/storage/sqlite"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Engine: "sqlite"},
		Embedding: config.EmbeddingConfig{
			Provider:          "mock",
			Dimensions:        32,
			RequestsPerMinute: 6000,
			Burst:             100,
			RateLimitWait:     time.Second,
		},
		Queue: config.QueueConfig{
			Workers:     1,
			MaxAttempts: 3,
			BackoffBase: 10 * time.Millisecond,
			BackoffCap:  100 * time.Millisecond,
		},
		Search: config.SearchConfig{SemanticWeight: 0.6, DefaultLimit: 10},
		Decay:  config.DecayConfig{HalfLife: 720 * time.Hour, MinConfidence: 0.1},
	}
}

// newTestServer builds a server over a real coordinator with a SQLite store
// and the deterministic mock embedding provider. Workers are not started:
// protocol tests exercise the synchronous paths only.
func newTestServer(t *testing.T) *mcp.Server {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig()
	embedder, err := embedding.NewService(embedding.Config{Provider: "mock", Dimensions: cfg.Embedding.Dimensions})
	require.NoError(t, err)

	coordinator, err := engine.NewGraphCoordinator(store, embedder, cfg)
	require.NoError(t, err)

	return mcp.NewServer(coordinator, mcp.WithConfig(cfg))
}

// rpc sends a JSON-RPC request through HandleRequest and decodes the response.
func rpc(t *testing.T, srv *mcp.Server, method string, params interface{}) (json.RawMessage, *mcp.JSONRPCError) {
	t.Helper()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)

	respJSON, err := srv.HandleRequest(context.Background(), reqJSON)
	require.NoError(t, err)

	var resp struct {
		JSONRPC string            `json:"jsonrpc"`
		Result  json.RawMessage   `json:"result"`
		Error   *mcp.JSONRPCError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respJSON, &resp))
	require.Equal(t, "2.0", resp.JSONRPC)
	return resp.Result, resp.Error
}

// callTool invokes a tool through the tools/call envelope and returns the
// decoded content text plus the isError flag.
func callTool(t *testing.T, srv *mcp.Server, name string, args interface{}) (string, bool) {
	t.Helper()

	result, rpcErr := rpc(t, srv, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	require.Nil(t, rpcErr)

	var call mcp.MCPToolCallResult
	require.NoError(t, json.Unmarshal(result, &call))
	require.NotEmpty(t, call.Content)
	return call.Content[0].Text, call.IsError
}

func TestHandleRequest_Initialize(t *testing.T) {
	srv := newTestServer(t)

	result, rpcErr := rpc(t, srv, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "test", "version": "0.0.1"},
	})
	require.Nil(t, rpcErr)

	var init mcp.MCPInitializeResult
	require.NoError(t, json.Unmarshal(result, &init))
	assert.Equal(t, "2024-11-05", init.ProtocolVersion)
	assert.Equal(t, "memento-mcp", init.ServerInfo.Name)
	assert.NotNil(t, init.Capabilities.Tools)
}

func TestHandleRequest_ProtocolErrors(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	resp, err := srv.HandleRequest(ctx, []byte("{not json"))
	require.NoError(t, err)
	var parsed struct {
		Error *mcp.JSONRPCError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.NotNil(t, parsed.Error)
	assert.Equal(t, mcp.ErrCodeParseError, parsed.Error.Code)

	resp, err = srv.HandleRequest(ctx, []byte(`{"jsonrpc":"1.0","id":1,"method":"read_graph"}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.NotNil(t, parsed.Error)
	assert.Equal(t, mcp.ErrCodeInvalidRequest, parsed.Error.Code)

	_, rpcErr := rpc(t, srv, "no_such_method", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, rpcErr.Code)
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(t)

	result, rpcErr := rpc(t, srv, "tools/list", nil)
	require.Nil(t, rpcErr)

	var list mcp.MCPToolsListResult
	require.NoError(t, json.Unmarshal(result, &list))

	names := make(map[string]bool, len(list.Tools))
	for _, tool := range list.Tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description, "tool %s has no description", tool.Name)
		assert.NotEmpty(t, tool.InputSchema, "tool %s has no schema", tool.Name)
	}
	for _, want := range []string{
		"create_entities", "create_relations", "add_observations",
		"delete_entities", "delete_observations", "delete_relations",
		"read_graph", "search_nodes", "semantic_search", "open_nodes",
		"get_relation", "update_relation", "get_entity_history",
		"get_relation_history", "get_graph_at_time", "get_decayed_graph",
		"get_entity_embedding",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
	assert.Len(t, list.Tools, 17)
}

func TestToolsCall_CreateAndReadGraph(t *testing.T) {
	srv := newTestServer(t)

	text, isErr := callTool(t, srv, "create_entities", map[string]interface{}{
		"entities": []map[string]interface{}{
			{"name": "Fluffy", "entityType": "cat", "observations": []string{"loves naps"}},
		},
	})
	require.False(t, isErr, "create_entities failed: %s", text)

	var created mcp.CreateEntitiesResult
	require.NoError(t, json.Unmarshal([]byte(text), &created))
	require.Len(t, created.Entities, 1)
	assert.Equal(t, 1, created.Entities[0].Version)

	text, isErr = callTool(t, srv, "read_graph", map[string]interface{}{})
	require.False(t, isErr)

	var graph types.KnowledgeGraph
	require.NoError(t, json.Unmarshal([]byte(text), &graph))
	require.Len(t, graph.Entities, 1)
	assert.Equal(t, "Fluffy", graph.Entities[0].Name)
}

func TestToolsCall_UnknownTool(t *testing.T) {
	srv := newTestServer(t)

	text, isErr := callTool(t, srv, "no_such_tool", map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "unknown tool")
}

func TestToolsCall_MissingRequiredArgs(t *testing.T) {
	srv := newTestServer(t)

	text, isErr := callTool(t, srv, "search_nodes", map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "query is required")
}

func TestRelationLifecycleOverRPC(t *testing.T) {
	srv := newTestServer(t)

	_, rpcErr := rpc(t, srv, "create_entities", mcp.CreateEntitiesArgs{
		Entities: []mcp.EntityInput{
			{Name: "Alice", EntityType: "person"},
			{Name: "memento", EntityType: "project"},
		},
	})
	require.Nil(t, rpcErr)

	_, rpcErr = rpc(t, srv, "create_relations", map[string]interface{}{
		"relations": []map[string]interface{}{
			{"from": "Alice", "to": "memento", "relationType": "works_on", "confidence": 0.9},
		},
	})
	require.Nil(t, rpcErr)

	// Duplicate creation is rejected.
	_, rpcErr = rpc(t, srv, "create_relations", map[string]interface{}{
		"relations": []map[string]interface{}{
			{"from": "Alice", "to": "memento", "relationType": "works_on"},
		},
	})
	require.NotNil(t, rpcErr)
	assert.Equal(t, mcp.ErrCodeServerError, rpcErr.Code)

	result, rpcErr := rpc(t, srv, "update_relation", map[string]interface{}{
		"from": "Alice", "to": "memento", "relationType": "works_on",
		"confidence": 0.5,
		"metadata":   map[string]interface{}{"source": "review"},
	})
	require.Nil(t, rpcErr)

	var updated mcp.RelationResult
	require.NoError(t, json.Unmarshal(result, &updated))
	require.NotNil(t, updated.Relation)
	assert.Equal(t, 2, updated.Relation.Version)
	require.NotNil(t, updated.Relation.Confidence)
	assert.InDelta(t, 0.5, *updated.Relation.Confidence, 1e-9)

	result, rpcErr = rpc(t, srv, "get_relation_history", map[string]interface{}{
		"from": "Alice", "to": "memento", "relationType": "works_on",
	})
	require.Nil(t, rpcErr)

	var history mcp.RelationHistoryResult
	require.NoError(t, json.Unmarshal(result, &history))
	require.Len(t, history.Versions, 2)
	assert.NotNil(t, history.Versions[0].ValidTo)
	assert.Nil(t, history.Versions[1].ValidTo)
}

func TestAddAndDeleteObservations(t *testing.T) {
	srv := newTestServer(t)

	_, rpcErr := rpc(t, srv, "create_entities", mcp.CreateEntitiesArgs{
		Entities: []mcp.EntityInput{{Name: "Rex", EntityType: "dog", Observations: []string{"chases squirrels"}}},
	})
	require.Nil(t, rpcErr)

	result, rpcErr := rpc(t, srv, "add_observations", map[string]interface{}{
		"observations": []map[string]interface{}{
			{"entityName": "Rex", "contents": []string{"chases squirrels", "barks at mailmen"}},
		},
	})
	require.Nil(t, rpcErr)

	var added mcp.AddObservationsResult
	require.NoError(t, json.Unmarshal(result, &added))
	assert.Equal(t, []string{"barks at mailmen"}, added.Added["Rex"])

	_, rpcErr = rpc(t, srv, "delete_observations", map[string]interface{}{
		"deletions": []map[string]interface{}{
			{"entityName": "Rex", "observations": []string{"chases squirrels"}},
		},
	})
	require.Nil(t, rpcErr)

	result, rpcErr = rpc(t, srv, "open_nodes", map[string]interface{}{"names": []string{"Rex"}})
	require.Nil(t, rpcErr)

	var graph types.KnowledgeGraph
	require.NoError(t, json.Unmarshal(result, &graph))
	require.Len(t, graph.Entities, 1)
	assert.Equal(t, []string{"barks at mailmen"}, graph.Entities[0].Observations)
}

func TestGetGraphAtTime(t *testing.T) {
	srv := newTestServer(t)

	_, rpcErr := rpc(t, srv, "create_entities", mcp.CreateEntitiesArgs{
		Entities: []mcp.EntityInput{{Name: "Fluffy", EntityType: "cat"}},
	})
	require.Nil(t, rpcErr)

	// Before creation the graph was empty.
	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	result, rpcErr := rpc(t, srv, "get_graph_at_time", map[string]interface{}{"timestamp": past})
	require.Nil(t, rpcErr)

	var graph types.KnowledgeGraph
	require.NoError(t, json.Unmarshal(result, &graph))
	assert.Empty(t, graph.Entities)

	// Now it has the entity.
	now := time.Now().Add(time.Second).Format(time.RFC3339)
	result, rpcErr = rpc(t, srv, "get_graph_at_time", map[string]interface{}{"timestamp": now})
	require.Nil(t, rpcErr)
	require.NoError(t, json.Unmarshal(result, &graph))
	assert.Len(t, graph.Entities, 1)

	_, rpcErr = rpc(t, srv, "get_graph_at_time", map[string]interface{}{"timestamp": "yesterday"})
	require.NotNil(t, rpcErr)
	assert.Contains(t, rpcErr.Message, "RFC-3339")
}

func TestDeleteEntities(t *testing.T) {
	srv := newTestServer(t)

	_, rpcErr := rpc(t, srv, "create_entities", mcp.CreateEntitiesArgs{
		Entities: []mcp.EntityInput{{Name: "Fluffy", EntityType: "cat"}},
	})
	require.Nil(t, rpcErr)

	result, rpcErr := rpc(t, srv, "delete_entities", map[string]interface{}{
		"entityNames": []string{"Fluffy"},
	})
	require.Nil(t, rpcErr)

	var status mcp.StatusResult
	require.NoError(t, json.Unmarshal(result, &status))
	assert.True(t, status.Success)

	result, rpcErr = rpc(t, srv, "read_graph", nil)
	require.Nil(t, rpcErr)
	var graph types.KnowledgeGraph
	require.NoError(t, json.Unmarshal(result, &graph))
	assert.Empty(t, graph.Entities)

	// History survives the delete.
	result, rpcErr = rpc(t, srv, "get_entity_history", map[string]interface{}{"entityName": "Fluffy"})
	require.Nil(t, rpcErr)
	var history mcp.EntityHistoryResult
	require.NoError(t, json.Unmarshal(result, &history))
	require.NotEmpty(t, history.Versions)
	assert.NotNil(t, history.Versions[len(history.Versions)-1].ValidTo)
}

func TestEntityInput_FlexibleObservations(t *testing.T) {
	// Some MCP clients double-encode array arguments as strings.
	cases := []struct {
		in   string
		want []string
	}{
		{`{"name":"a","entityType":"t","observations":["x","y"]}`, []string{"x", "y"}},
		{`{"name":"a","entityType":"t","observations":"[\"x\",\"y\"]"}`, []string{"x", "y"}},
		{`{"name":"a","entityType":"t","observations":"x, y"}`, []string{"x", "y"}},
		{`{"name":"a","entityType":"t"}`, nil},
	}
	for i, tc := range cases {
		var in mcp.EntityInput
		require.NoError(t, json.Unmarshal([]byte(tc.in), &in), "case %d", i)
		assert.Equal(t, tc.want, in.Observations, "case %d", i)
	}
}

func TestSemanticSearchOverRPC(t *testing.T) {
	srv := newTestServer(t)

	_, rpcErr := rpc(t, srv, "create_entities", mcp.CreateEntitiesArgs{
		Entities: []mcp.EntityInput{
			{Name: "Fluffy", EntityType: "cat", Observations: []string{"loves JavaScript"}},
		},
	})
	require.Nil(t, rpcErr)

	// Workers are not running, so the ranking comes from the keyword branch.
	result, rpcErr := rpc(t, srv, "semantic_search", map[string]interface{}{
		"query": "javascript",
		"debug": true,
	})
	require.Nil(t, rpcErr)

	var graph types.KnowledgeGraph
	require.NoError(t, json.Unmarshal(result, &graph))
	require.Len(t, graph.Entities, 1)
	assert.Equal(t, "Fluffy", graph.Entities[0].Name)
	require.NotNil(t, graph.Diagnostics)
	assert.NotEmpty(t, graph.Diagnostics.Steps)
}

func TestGetEntityEmbedding_NotYetEmbedded(t *testing.T) {
	srv := newTestServer(t)

	_, rpcErr := rpc(t, srv, "create_entities", mcp.CreateEntitiesArgs{
		Entities: []mcp.EntityInput{{Name: "Fluffy", EntityType: "cat"}},
	})
	require.Nil(t, rpcErr)

	// No worker has run, so there is no embedding yet.
	_, rpcErr = rpc(t, srv, "get_entity_embedding", map[string]interface{}{"entityName": "Fluffy"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, mcp.ErrCodeServerError, rpcErr.Code)
}

func ExampleServer_HandleRequest() {
	// Build requests as newline-delimited JSON-RPC 2.0 frames.
	req := mcp.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"}
	data, _ := json.Marshal(req)
	fmt.Println(string(data))
	// Output: {"jsonrpc":"2.0","method":"tools/list","params":null,"id":1}
}
