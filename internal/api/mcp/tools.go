package mcp

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	entitySchema := map[string]interface{}{
		"type":     "object",
		"required": []string{"name", "entityType"},
		"properties": map[string]interface{}{
			"name":         map[string]interface{}{"type": "string", "description": "Unique entity name"},
			"entityType":   map[string]interface{}{"type": "string", "description": "Classification, e.g. 'person', 'project'"},
			"observations": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Free-text facts about the entity"},
		},
	}
	relationSchema := map[string]interface{}{
		"type":     "object",
		"required": []string{"from", "to", "relationType"},
		"properties": map[string]interface{}{
			"from":         map[string]interface{}{"type": "string", "description": "Source entity name"},
			"to":           map[string]interface{}{"type": "string", "description": "Target entity name"},
			"relationType": map[string]interface{}{"type": "string", "description": "Edge type, e.g. 'works_on'"},
			"strength":     map[string]interface{}{"type": "number", "description": "Relation strength in [0,1]"},
			"confidence":   map[string]interface{}{"type": "number", "description": "Relation confidence in [0,1]"},
		},
	}

	return []MCPTool{
		{
			Name:        "create_entities",
			Description: "Create entities in the knowledge graph, or merge into existing ones. Re-sending an entity that already exists unions its observations into the current version, so repeated calls are safe. Changed entities are scheduled for embedding in the background.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entities"},
				"properties": map[string]interface{}{
					"entities":   map[string]interface{}{"type": "array", "items": entitySchema, "description": "Entities to create or merge"},
					"changed_by": map[string]interface{}{"type": "string", "description": "Who is making the change"},
				},
			},
		},
		{
			Name:        "create_relations",
			Description: "Create directed, typed relations between existing entities. Creating a relation whose (from, to, relationType) triple already exists is rejected; use update_relation to change it.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"relations"},
				"properties": map[string]interface{}{
					"relations":  map[string]interface{}{"type": "array", "items": relationSchema, "description": "Relations to create"},
					"changed_by": map[string]interface{}{"type": "string", "description": "Who is making the change"},
				},
			},
		},
		{
			Name:        "add_observations",
			Description: "Append observations to existing entities. Each addition produces a new entity version; the result reports which observations were actually new (duplicates of existing observations are skipped).",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"observations"},
				"properties": map[string]interface{}{
					"observations": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type":     "object",
							"required": []string{"entityName", "contents"},
							"properties": map[string]interface{}{
								"entityName": map[string]interface{}{"type": "string", "description": "Target entity"},
								"contents":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Observation texts to add"},
							},
						},
						"description": "Per-entity observation additions",
					},
					"changed_by": map[string]interface{}{"type": "string", "description": "Who is making the change"},
				},
			},
		},
		{
			Name:        "delete_entities",
			Description: "Delete entities from the current graph. Version history is retained: past versions stay reachable through get_entity_history and get_graph_at_time.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entityNames"},
				"properties": map[string]interface{}{
					"entityNames": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Entity names to delete"},
				},
			},
		},
		{
			Name:        "delete_observations",
			Description: "Remove specific observation texts from entities. Each removal produces a new entity version.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"deletions"},
				"properties": map[string]interface{}{
					"deletions": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type":     "object",
							"required": []string{"entityName", "observations"},
							"properties": map[string]interface{}{
								"entityName":   map[string]interface{}{"type": "string", "description": "Target entity"},
								"observations": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Observation texts to remove"},
							},
						},
						"description": "Per-entity observation removals",
					},
					"changed_by": map[string]interface{}{"type": "string", "description": "Who is making the change"},
				},
			},
		},
		{
			Name:        "delete_relations",
			Description: "Delete relations from the current graph, identified by their (from, to, relationType) triple. Version history is retained.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"relations"},
				"properties": map[string]interface{}{
					"relations": map[string]interface{}{"type": "array", "items": relationSchema, "description": "Relations to delete"},
				},
			},
		},
		{
			Name:        "read_graph",
			Description: "Read the entire current knowledge graph: all live entities and the relations among them.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "search_nodes",
			Description: "Keyword search over entity names, types, and observations. Returns matching entities plus the relations among them. For meaning-based search use semantic_search.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Keyword query"},
					"limit": map[string]interface{}{"type": "integer", "description": "Max entities to return (default 10)"},
				},
			},
		},
		{
			Name:        "semantic_search",
			Description: "Hybrid semantic search: embeds the query, ranks entities by vector similarity blended with keyword matches, and returns the top entities plus the relations among them. Falls back to keyword-only search when the embedding provider is unavailable.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query":          map[string]interface{}{"type": "string", "description": "Natural-language query"},
					"limit":          map[string]interface{}{"type": "integer", "description": "Max entities to return (default 10)"},
					"min_similarity": map[string]interface{}{"type": "number", "description": "Explicit similarity floor in [0,1]; overrides the adaptive threshold"},
					"hybrid_search":  map[string]interface{}{"type": "boolean", "description": "Blend keyword matches into the ranking (default true)"},
					"entity_type":    map[string]interface{}{"type": "string", "description": "Restrict matches to this entity type"},
					"debug":          map[string]interface{}{"type": "boolean", "description": "Attach pipeline diagnostics to the result"},
				},
			},
		},
		{
			Name:        "open_nodes",
			Description: "Fetch specific entities by name, plus the relations among them. Names that don't exist are skipped.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"names"},
				"properties": map[string]interface{}{
					"names": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Entity names to open"},
				},
			},
		},
		{
			Name:        "get_relation",
			Description: "Fetch the current version of a single relation by its (from, to, relationType) triple.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"from", "to", "relationType"},
				"properties": map[string]interface{}{
					"from":         map[string]interface{}{"type": "string", "description": "Source entity name"},
					"to":           map[string]interface{}{"type": "string", "description": "Target entity name"},
					"relationType": map[string]interface{}{"type": "string", "description": "Relation type"},
				},
			},
		},
		{
			Name:        "update_relation",
			Description: "Update the mutable fields (strength, confidence, metadata) of an existing relation, producing a new version. Omitted fields keep their current values.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"from", "to", "relationType"},
				"properties": map[string]interface{}{
					"from":         map[string]interface{}{"type": "string", "description": "Source entity name"},
					"to":           map[string]interface{}{"type": "string", "description": "Target entity name"},
					"relationType": map[string]interface{}{"type": "string", "description": "Relation type"},
					"strength":     map[string]interface{}{"type": "number", "description": "New strength in [0,1]"},
					"confidence":   map[string]interface{}{"type": "number", "description": "New confidence in [0,1]"},
					"metadata":     map[string]interface{}{"type": "object", "description": "Extra metadata fields to merge in"},
					"changed_by":   map[string]interface{}{"type": "string", "description": "Who is making the change"},
				},
			},
		},
		{
			Name:        "get_entity_history",
			Description: "Fetch all versions of an entity, oldest first, including versions that have been superseded or deleted.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entityName"},
				"properties": map[string]interface{}{
					"entityName": map[string]interface{}{"type": "string", "description": "Entity name"},
				},
			},
		},
		{
			Name:        "get_relation_history",
			Description: "Fetch all versions of a relation, oldest first, including superseded and deleted versions.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"from", "to", "relationType"},
				"properties": map[string]interface{}{
					"from":         map[string]interface{}{"type": "string", "description": "Source entity name"},
					"to":           map[string]interface{}{"type": "string", "description": "Target entity name"},
					"relationType": map[string]interface{}{"type": "string", "description": "Relation type"},
				},
			},
		},
		{
			Name:        "get_graph_at_time",
			Description: "Reconstruct the knowledge graph exactly as it was at a past moment, using the validity intervals of entity and relation versions.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"timestamp"},
				"properties": map[string]interface{}{
					"timestamp": map[string]interface{}{"type": "string", "description": "RFC-3339 point in time, e.g. '2026-01-15T12:00:00Z'"},
				},
			},
		},
		{
			Name:        "get_decayed_graph",
			Description: "Read the current graph with time-based confidence decay applied to relation confidences. Decay is presentation-only: stored values are never modified.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "get_entity_embedding",
			Description: "Fetch the stored embedding vector for an entity, including the model that produced it and when it was generated.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entityName"},
				"properties": map[string]interface{}{
					"entityName": map[string]interface{}{"type": "string", "description": "Entity name"},
				},
			},
		},
	}
}
