package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/teo-mateo/memento-mcp/internal/config"
	"github.com/teo-mateo/memento-mcp/internal/engine"
	"github.com/teo-mateo/memento-mcp/internal/storage"
	"github.com/teo-mateo/memento-mcp/pkg/types"
)

// Server implements the Model Context Protocol (MCP) for the knowledge
// graph. It provides JSON-RPC 2.0 based tools for AI assistants to create,
// search, and time-travel over entities and relations. All graph semantics
// live in the coordinator; the server only translates wire shapes.
type Server struct {
	coordinator *engine.GraphCoordinator
	config      *config.Config
	serverName  string
	version     string
	sessionID   string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithConfig injects a *config.Config into the Server.
// When this option is not provided the server's config field is nil, so
// callers that depend on the config should always supply this option.
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithServerInfo overrides the name and version reported in the MCP
// initialize handshake.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		s.serverName = name
		s.version = version
	}
}

// NewServer creates a new MCP server instance on top of a graph coordinator.
//
// The variadic opts parameter accepts zero or more ServerOption values;
// passing no options is valid:
//
//	srv := mcp.NewServer(coord)
//	srv := mcp.NewServer(coord, mcp.WithConfig(cfg))
func NewServer(coordinator *engine.GraphCoordinator, opts ...ServerOption) *Server {
	s := &Server{
		coordinator: coordinator,
		serverName:  "memento-mcp",
		version:     "1.0.0",
		sessionID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Printf("memento-mcp: session ID: %s", s.sessionID)
	return s
}

// Config returns the configuration that was injected via WithConfig, or nil
// if no config option was provided.
func (s *Server) Config() *config.Config {
	return s.config
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized":
		// Notification; no response body required, return empty object.
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods (kept for direct callers that skip the MCP
	// tools/call envelope)
	case "create_entities":
		result, err = s.handleCreateEntities(ctx, req.Params)
	case "create_relations":
		result, err = s.handleCreateRelations(ctx, req.Params)
	case "add_observations":
		result, err = s.handleAddObservations(ctx, req.Params)
	case "delete_entities":
		result, err = s.handleDeleteEntities(ctx, req.Params)
	case "delete_observations":
		result, err = s.handleDeleteObservations(ctx, req.Params)
	case "delete_relations":
		result, err = s.handleDeleteRelations(ctx, req.Params)
	case "read_graph":
		result, err = s.handleReadGraph(ctx, req.Params)
	case "search_nodes":
		result, err = s.handleSearchNodes(ctx, req.Params)
	case "semantic_search":
		result, err = s.handleSemanticSearch(ctx, req.Params)
	case "open_nodes":
		result, err = s.handleOpenNodes(ctx, req.Params)
	case "get_relation":
		result, err = s.handleGetRelation(ctx, req.Params)
	case "update_relation":
		result, err = s.handleUpdateRelation(ctx, req.Params)
	case "get_entity_history":
		result, err = s.handleGetEntityHistory(ctx, req.Params)
	case "get_relation_history":
		result, err = s.handleGetRelationHistory(ctx, req.Params)
	case "get_graph_at_time":
		result, err = s.handleGetGraphAtTime(ctx, req.Params)
	case "get_decayed_graph":
		result, err = s.handleGetDecayedGraph(ctx, req.Params)
	case "get_entity_embedding":
		result, err = s.handleGetEntityEmbedding(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// CreateEntities creates or merges entities. Re-sending an existing entity
// unions its observations into the current version (idempotent upsert).
func (s *Server) CreateEntities(ctx context.Context, args CreateEntitiesArgs) (*CreateEntitiesResult, error) {
	if len(args.Entities) == 0 {
		return nil, fmt.Errorf("entities is required")
	}
	entities := make([]types.Entity, len(args.Entities))
	for i, in := range args.Entities {
		entities[i] = types.Entity{
			Name:         in.Name,
			EntityType:   in.EntityType,
			Observations: in.Observations,
		}
	}
	created, err := s.coordinator.CreateEntities(ctx, entities, args.ChangedBy)
	if err != nil {
		return nil, err
	}
	return &CreateEntitiesResult{Entities: created}, nil
}

// CreateRelations creates new relations. Creating a relation whose
// (from, to, relationType) triple already exists is rejected.
func (s *Server) CreateRelations(ctx context.Context, args CreateRelationsArgs) (*CreateRelationsResult, error) {
	if len(args.Relations) == 0 {
		return nil, fmt.Errorf("relations is required")
	}
	created, err := s.coordinator.CreateRelations(ctx, args.Relations, args.ChangedBy)
	if err != nil {
		return nil, err
	}
	return &CreateRelationsResult{Relations: created}, nil
}

// AddObservations appends observations to existing entities and reports
// which texts were actually new per entity.
func (s *Server) AddObservations(ctx context.Context, args AddObservationsArgs) (*AddObservationsResult, error) {
	if len(args.Observations) == 0 {
		return nil, fmt.Errorf("observations is required")
	}
	additions := make(map[string][]string, len(args.Observations))
	for _, o := range args.Observations {
		if o.EntityName == "" {
			return nil, fmt.Errorf("entityName is required")
		}
		additions[o.EntityName] = append(additions[o.EntityName], o.Contents...)
	}
	added, err := s.coordinator.AddObservations(ctx, additions, args.ChangedBy)
	if err != nil {
		return nil, err
	}
	return &AddObservationsResult{Added: added}, nil
}

// DeleteEntities removes entities from the current graph. Their version
// history is retained and remains reachable through the temporal tools.
func (s *Server) DeleteEntities(ctx context.Context, args DeleteEntitiesArgs) (*StatusResult, error) {
	if len(args.EntityNames) == 0 {
		return nil, fmt.Errorf("entityNames is required")
	}
	if err := s.coordinator.DeleteEntities(ctx, args.EntityNames); err != nil {
		return nil, err
	}
	return &StatusResult{Success: true, Message: fmt.Sprintf("deleted %d entities", len(args.EntityNames))}, nil
}

// DeleteObservations removes specific observation texts from entities.
func (s *Server) DeleteObservations(ctx context.Context, args DeleteObservationsArgs) (*StatusResult, error) {
	if len(args.Deletions) == 0 {
		return nil, fmt.Errorf("deletions is required")
	}
	deletions := make(map[string][]string, len(args.Deletions))
	for _, d := range args.Deletions {
		if d.EntityName == "" {
			return nil, fmt.Errorf("entityName is required")
		}
		deletions[d.EntityName] = append(deletions[d.EntityName], d.Observations...)
	}
	if err := s.coordinator.DeleteObservations(ctx, deletions, args.ChangedBy); err != nil {
		return nil, err
	}
	return &StatusResult{Success: true}, nil
}

// DeleteRelations removes relations from the current graph, keeping history.
func (s *Server) DeleteRelations(ctx context.Context, args DeleteRelationsArgs) (*StatusResult, error) {
	if len(args.Relations) == 0 {
		return nil, fmt.Errorf("relations is required")
	}
	if err := s.coordinator.DeleteRelations(ctx, args.Relations); err != nil {
		return nil, err
	}
	return &StatusResult{Success: true, Message: fmt.Sprintf("deleted %d relations", len(args.Relations))}, nil
}

// ReadGraph returns the entire current graph.
func (s *Server) ReadGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	return s.coordinator.ReadGraph(ctx)
}

// SearchNodes performs a keyword search over entity names, types, and
// observations.
func (s *Server) SearchNodes(ctx context.Context, args SearchNodesArgs) (*types.KnowledgeGraph, error) {
	if args.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	return s.coordinator.SearchNodes(ctx, args.Query, args.Limit)
}

// SemanticSearch performs hybrid vector + keyword search over the graph.
func (s *Server) SemanticSearch(ctx context.Context, args SemanticSearchArgs) (*types.KnowledgeGraph, error) {
	if args.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	opts := engine.SearchOptions{
		Limit:         args.Limit,
		MinSimilarity: args.MinSimilarity,
		EntityType:    args.EntityType,
		Debug:         args.Debug,
	}
	if args.HybridSearch != nil && !*args.HybridSearch {
		opts.HybridOff = true
	}
	return s.coordinator.SemanticSearch(ctx, args.Query, opts)
}

// OpenNodes returns the named entities and the relations among them.
func (s *Server) OpenNodes(ctx context.Context, args OpenNodesArgs) (*types.KnowledgeGraph, error) {
	if len(args.Names) == 0 {
		return nil, fmt.Errorf("names is required")
	}
	return s.coordinator.OpenNodes(ctx, args.Names)
}

// GetRelation returns the current version of a single relation.
func (s *Server) GetRelation(ctx context.Context, args GetRelationArgs) (*RelationResult, error) {
	if err := validateTriple(args.From, args.To, args.RelationType); err != nil {
		return nil, err
	}
	rel, err := s.coordinator.GetRelation(ctx, args.From, args.To, args.RelationType)
	if err != nil {
		return nil, err
	}
	return &RelationResult{Relation: rel}, nil
}

// UpdateRelation changes the mutable fields of a relation, producing a new
// version. Omitted fields keep their current values.
func (s *Server) UpdateRelation(ctx context.Context, args UpdateRelationArgs) (*RelationResult, error) {
	if err := validateTriple(args.From, args.To, args.RelationType); err != nil {
		return nil, err
	}
	mutate := storage.RelationMutation(func(r *types.Relation) error {
		if args.Strength != nil {
			r.Strength = args.Strength
		}
		if args.Confidence != nil {
			r.Confidence = args.Confidence
		}
		if len(args.Metadata) > 0 {
			if r.Metadata == nil {
				r.Metadata = &types.RelationMetadata{}
			}
			if r.Metadata.Extra == nil {
				r.Metadata.Extra = make(map[string]interface{}, len(args.Metadata))
			}
			for k, v := range args.Metadata {
				r.Metadata.Extra[k] = v
			}
		}
		return nil
	})
	rel, err := s.coordinator.UpdateRelation(ctx, args.From, args.To, args.RelationType, mutate, args.ChangedBy)
	if err != nil {
		return nil, err
	}
	return &RelationResult{Relation: rel}, nil
}

// GetEntityHistory returns all versions of an entity, oldest first.
func (s *Server) GetEntityHistory(ctx context.Context, args EntityHistoryArgs) (*EntityHistoryResult, error) {
	if args.EntityName == "" {
		return nil, fmt.Errorf("entityName is required")
	}
	versions, err := s.coordinator.GetEntityHistory(ctx, args.EntityName)
	if err != nil {
		return nil, err
	}
	return &EntityHistoryResult{Versions: versions}, nil
}

// GetRelationHistory returns all versions of a relation, oldest first.
func (s *Server) GetRelationHistory(ctx context.Context, args GetRelationArgs) (*RelationHistoryResult, error) {
	if err := validateTriple(args.From, args.To, args.RelationType); err != nil {
		return nil, err
	}
	versions, err := s.coordinator.GetRelationHistory(ctx, args.From, args.To, args.RelationType)
	if err != nil {
		return nil, err
	}
	return &RelationHistoryResult{Versions: versions}, nil
}

// GetGraphAtTime reconstructs the graph as it was at a past moment.
func (s *Server) GetGraphAtTime(ctx context.Context, args GraphAtTimeArgs) (*types.KnowledgeGraph, error) {
	if args.Timestamp == "" {
		return nil, fmt.Errorf("timestamp is required")
	}
	at, err := time.Parse(time.RFC3339, args.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: expected RFC-3339", args.Timestamp)
	}
	return s.coordinator.GraphAtTime(ctx, at)
}

// GetDecayedGraph returns the current graph with confidence decay applied to
// relation confidences. Stored values are never modified.
func (s *Server) GetDecayedGraph(ctx context.Context) (*types.KnowledgeGraph, error) {
	return s.coordinator.DecayedGraph(ctx)
}

// GetEntityEmbedding returns the stored embedding vector for an entity.
func (s *Server) GetEntityEmbedding(ctx context.Context, args EntityEmbeddingArgs) (*EntityEmbeddingResult, error) {
	if args.EntityName == "" {
		return nil, fmt.Errorf("entityName is required")
	}
	emb, err := s.coordinator.GetEntityEmbedding(ctx, args.EntityName)
	if err != nil {
		return nil, err
	}
	return &EntityEmbeddingResult{EntityName: args.EntityName, Embedding: emb}, nil
}

func validateTriple(from, to, relationType string) error {
	if from == "" || to == "" || relationType == "" {
		return fmt.Errorf("from, to and relationType are required")
	}
	return nil
}

// ---------------------------------------------------------------------------
// JSON-RPC handler wrappers
// ---------------------------------------------------------------------------

func (s *Server) handleCreateEntities(ctx context.Context, params interface{}) (interface{}, error) {
	var args CreateEntitiesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.CreateEntities(ctx, args)
}

func (s *Server) handleCreateRelations(ctx context.Context, params interface{}) (interface{}, error) {
	var args CreateRelationsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.CreateRelations(ctx, args)
}

func (s *Server) handleAddObservations(ctx context.Context, params interface{}) (interface{}, error) {
	var args AddObservationsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.AddObservations(ctx, args)
}

func (s *Server) handleDeleteEntities(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteEntitiesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.DeleteEntities(ctx, args)
}

func (s *Server) handleDeleteObservations(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteObservationsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.DeleteObservations(ctx, args)
}

func (s *Server) handleDeleteRelations(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteRelationsArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.DeleteRelations(ctx, args)
}

func (s *Server) handleReadGraph(ctx context.Context, params interface{}) (interface{}, error) {
	return s.ReadGraph(ctx)
}

func (s *Server) handleSearchNodes(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchNodesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.SearchNodes(ctx, args)
}

func (s *Server) handleSemanticSearch(ctx context.Context, params interface{}) (interface{}, error) {
	var args SemanticSearchArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.SemanticSearch(ctx, args)
}

func (s *Server) handleOpenNodes(ctx context.Context, params interface{}) (interface{}, error) {
	var args OpenNodesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.OpenNodes(ctx, args)
}

func (s *Server) handleGetRelation(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetRelationArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetRelation(ctx, args)
}

func (s *Server) handleUpdateRelation(ctx context.Context, params interface{}) (interface{}, error) {
	var args UpdateRelationArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.UpdateRelation(ctx, args)
}

func (s *Server) handleGetEntityHistory(ctx context.Context, params interface{}) (interface{}, error) {
	var args EntityHistoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetEntityHistory(ctx, args)
}

func (s *Server) handleGetRelationHistory(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetRelationArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetRelationHistory(ctx, args)
}

func (s *Server) handleGetGraphAtTime(ctx context.Context, params interface{}) (interface{}, error) {
	var args GraphAtTimeArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetGraphAtTime(ctx, args)
}

func (s *Server) handleGetDecayedGraph(ctx context.Context, params interface{}) (interface{}, error) {
	return s.GetDecayedGraph(ctx)
}

func (s *Server) handleGetEntityEmbedding(ctx context.Context, params interface{}) (interface{}, error) {
	var args EntityEmbeddingArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetEntityEmbedding(ctx, args)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    s.serverName,
			Version: s.version,
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	// Re-marshal arguments so they can be passed to the handlers, which
	// expect an interface{} produced by JSON unmarshal.
	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "create_entities":
		result, handlerErr = s.handleCreateEntities(ctx, rawParams)
	case "create_relations":
		result, handlerErr = s.handleCreateRelations(ctx, rawParams)
	case "add_observations":
		result, handlerErr = s.handleAddObservations(ctx, rawParams)
	case "delete_entities":
		result, handlerErr = s.handleDeleteEntities(ctx, rawParams)
	case "delete_observations":
		result, handlerErr = s.handleDeleteObservations(ctx, rawParams)
	case "delete_relations":
		result, handlerErr = s.handleDeleteRelations(ctx, rawParams)
	case "read_graph":
		result, handlerErr = s.handleReadGraph(ctx, rawParams)
	case "search_nodes":
		result, handlerErr = s.handleSearchNodes(ctx, rawParams)
	case "semantic_search":
		result, handlerErr = s.handleSemanticSearch(ctx, rawParams)
	case "open_nodes":
		result, handlerErr = s.handleOpenNodes(ctx, rawParams)
	case "get_relation":
		result, handlerErr = s.handleGetRelation(ctx, rawParams)
	case "update_relation":
		result, handlerErr = s.handleUpdateRelation(ctx, rawParams)
	case "get_entity_history":
		result, handlerErr = s.handleGetEntityHistory(ctx, rawParams)
	case "get_relation_history":
		result, handlerErr = s.handleGetRelationHistory(ctx, rawParams)
	case "get_graph_at_time":
		result, handlerErr = s.handleGetGraphAtTime(ctx, rawParams)
	case "get_decayed_graph":
		result, handlerErr = s.handleGetDecayedGraph(ctx, rawParams)
	case "get_entity_embedding":
		result, handlerErr = s.handleGetEntityEmbedding(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// unmarshalParams converts a params interface{} into a typed args struct by
// round-tripping through JSON.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	if params == nil {
		return fmt.Errorf("params are required")
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
