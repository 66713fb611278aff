// Package mcp implements the Model Context Protocol (MCP) server for the
// knowledge graph. It exposes JSON-RPC 2.0 based tools for creating,
// searching, and time-traveling over entities and relations.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// CreateEntitiesArgs contains arguments for the create_entities tool.
type CreateEntitiesArgs struct {
	Entities  []EntityInput `json:"entities"`              // Entities to create or merge (required)
	ChangedBy string        `json:"changed_by,omitempty"` // Who is making the change
}

// EntityInput is the caller-facing shape of an entity in tool arguments.
type EntityInput struct {
	Name         string   `json:"name"`         // Unique entity name (required)
	EntityType   string   `json:"entityType"`   // Classification, e.g. "person" (required)
	Observations []string `json:"observations"` // Free-text facts
}

// UnmarshalJSON handles the case where some MCP clients send array fields
// like "observations" as a JSON-encoded string ("[\"a\",\"b\"]") rather than
// a proper JSON array. Both forms are accepted.
func (e *EntityInput) UnmarshalJSON(data []byte) error {
	type Alias EntityInput
	aux := &struct {
		Observations json.RawMessage `json:"observations,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	e.Observations = flexibleStringList(aux.Observations)
	return nil
}

// flexibleStringList decodes a JSON array of strings, tolerating clients that
// double-encode the array as a string or send a comma-separated list.
func flexibleStringList(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &list)
		return list
	}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}

// CreateEntitiesResult contains the result of creating entities.
type CreateEntitiesResult struct {
	Entities []types.TemporalEntity `json:"entities"` // Resulting current versions
}

// CreateRelationsArgs contains arguments for the create_relations tool.
type CreateRelationsArgs struct {
	Relations []types.Relation `json:"relations"`             // Relations to create (required)
	ChangedBy string           `json:"changed_by,omitempty"` // Who is making the change
}

// CreateRelationsResult contains the result of creating relations.
type CreateRelationsResult struct {
	Relations []types.TemporalRelation `json:"relations"` // Created versions
}

// AddObservationsArgs contains arguments for the add_observations tool.
type AddObservationsArgs struct {
	Observations []ObservationAddition `json:"observations"`          // Per-entity additions (required)
	ChangedBy    string                `json:"changed_by,omitempty"` // Who is making the change
}

// ObservationAddition names an entity and the observation texts to append.
type ObservationAddition struct {
	EntityName string   `json:"entityName"` // Target entity (required)
	Contents   []string `json:"contents"`   // Observation texts to add
}

// UnmarshalJSON accepts "contents" as either a JSON array or an encoded string.
func (o *ObservationAddition) UnmarshalJSON(data []byte) error {
	type Alias ObservationAddition
	aux := &struct {
		Contents json.RawMessage `json:"contents,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(o),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	o.Contents = flexibleStringList(aux.Contents)
	return nil
}

// AddObservationsResult reports which observations were actually added,
// per entity. Duplicates of existing observations are omitted.
type AddObservationsResult struct {
	Added map[string][]string `json:"added"`
}

// DeleteEntitiesArgs contains arguments for the delete_entities tool.
type DeleteEntitiesArgs struct {
	EntityNames []string `json:"entityNames"` // Entities to delete (required)
}

// DeleteObservationsArgs contains arguments for the delete_observations tool.
type DeleteObservationsArgs struct {
	Deletions []ObservationDeletion `json:"deletions"`             // Per-entity removals (required)
	ChangedBy string                `json:"changed_by,omitempty"` // Who is making the change
}

// ObservationDeletion names an entity and the observation texts to remove.
type ObservationDeletion struct {
	EntityName   string   `json:"entityName"`   // Target entity (required)
	Observations []string `json:"observations"` // Observation texts to remove
}

// UnmarshalJSON accepts "observations" as either a JSON array or an encoded string.
func (o *ObservationDeletion) UnmarshalJSON(data []byte) error {
	type Alias ObservationDeletion
	aux := &struct {
		Observations json.RawMessage `json:"observations,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(o),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	o.Observations = flexibleStringList(aux.Observations)
	return nil
}

// DeleteRelationsArgs contains arguments for the delete_relations tool.
type DeleteRelationsArgs struct {
	Relations []types.Relation `json:"relations"` // Relations to delete, identified by (from, to, relationType)
}

// StatusResult is the generic acknowledgement for delete-style tools.
type StatusResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SearchNodesArgs contains arguments for the search_nodes tool.
type SearchNodesArgs struct {
	Query string `json:"query"`           // Keyword query (required)
	Limit int    `json:"limit,omitempty"` // Max entities to return (default 10)
}

// SemanticSearchArgs contains arguments for the semantic_search tool.
type SemanticSearchArgs struct {
	Query         string  `json:"query"`                    // Natural-language query (required)
	Limit         int     `json:"limit,omitempty"`          // Max entities to return (default 10)
	MinSimilarity float64 `json:"min_similarity,omitempty"` // Explicit similarity floor; overrides the adaptive threshold
	HybridSearch  *bool   `json:"hybrid_search,omitempty"`  // Blend keyword matches into the ranking (default true)
	EntityType    string  `json:"entity_type,omitempty"`    // Restrict vector matches to this entity type
	Debug         bool    `json:"debug,omitempty"`          // Attach pipeline diagnostics to the result
}

// OpenNodesArgs contains arguments for the open_nodes tool.
type OpenNodesArgs struct {
	Names []string `json:"names"` // Entity names to open (required)
}

// GetRelationArgs identifies a relation by its (from, to, relationType) triple.
type GetRelationArgs struct {
	From         string `json:"from"`         // Source entity name (required)
	To           string `json:"to"`           // Target entity name (required)
	RelationType string `json:"relationType"` // Relation type (required)
}

// UpdateRelationArgs contains arguments for the update_relation tool.
// Only the fields that are present are changed; omitted fields keep their
// current values.
type UpdateRelationArgs struct {
	From         string                 `json:"from"`                 // Source entity name (required)
	To           string                 `json:"to"`                   // Target entity name (required)
	RelationType string                 `json:"relationType"`         // Relation type (required)
	Strength     *float64               `json:"strength,omitempty"`   // New strength in [0,1]
	Confidence   *float64               `json:"confidence,omitempty"` // New confidence in [0,1]
	Metadata     map[string]interface{} `json:"metadata,omitempty"`   // Extra metadata fields to merge in
	ChangedBy    string                 `json:"changed_by,omitempty"` // Who is making the change
}

// RelationResult wraps a single relation version.
type RelationResult struct {
	Relation *types.TemporalRelation `json:"relation"`
}

// EntityHistoryArgs contains arguments for the get_entity_history tool.
type EntityHistoryArgs struct {
	EntityName string `json:"entityName"` // Entity to fetch history for (required)
}

// EntityHistoryResult contains all versions of an entity, oldest first.
type EntityHistoryResult struct {
	Versions []types.TemporalEntity `json:"versions"`
}

// RelationHistoryResult contains all versions of a relation, oldest first.
type RelationHistoryResult struct {
	Versions []types.TemporalRelation `json:"versions"`
}

// GraphAtTimeArgs contains arguments for the get_graph_at_time tool.
type GraphAtTimeArgs struct {
	Timestamp string `json:"timestamp"` // RFC-3339 point in time (required)
}

// EntityEmbeddingArgs contains arguments for the get_entity_embedding tool.
type EntityEmbeddingArgs struct {
	EntityName string `json:"entityName"` // Entity to fetch the embedding for (required)
}

// EntityEmbeddingResult contains an entity's stored embedding vector.
type EntityEmbeddingResult struct {
	EntityName string                `json:"entityName"`
	Embedding  *types.EntityEmbedding `json:"embedding"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
