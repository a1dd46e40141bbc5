package tools

// Schema is the JSON-schema-shaped description of a tool's input object.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single input field.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// Definition describes one callable tool.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

// Catalogue returns the tool definitions in stable order.
func Catalogue() []Definition {
	return []Definition{
		{
			Name:        "create_intent",
			Description: "Create a new network intent in Draft state.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"name":          {Type: "string", Description: "Human readable intent name."},
					"description":   {Type: "string", Description: "Free-text description."},
					"specification": {Type: "object", Description: "TMF921 intent attributes (intentType, deliveryExpectations, serviceArea, validFor, propertyExpectations)."},
				},
				Required: []string{"name", "specification"},
			},
		},
		{
			Name:        "submit_intent",
			Description: "Submit a Draft intent to the backend, or retry a submission that found the backend unavailable.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"id": {Type: "string", Description: "Intent identifier."},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "get_intent",
			Description: "Fetch a single intent. With refresh=true an Active or Failed intent is first reconciled against the backend.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"id":      {Type: "string", Description: "Intent identifier."},
					"refresh": {Type: "boolean", Description: "Reconcile with the backend before returning."},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "list_intents",
			Description: "List intents with optional filters and pagination.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"states":        {Type: "array", Description: "Filter by lifecycle states.", Items: &Property{Type: "string", Enum: []string{"draft", "submitted", "active", "failed", "terminated"}}},
					"query":         {Type: "string", Description: "Free-text match on id, name, description, backend reference and last error."},
					"updated_since": {Type: "integer", Description: "Only intents updated at or after this unix timestamp."},
					"updated_until": {Type: "integer", Description: "Only intents updated at or before this unix timestamp."},
					"limit":         {Type: "integer", Description: "Page size, defaults to 20, capped at 100."},
					"offset":        {Type: "integer", Description: "Pagination offset."},
					"order":         {Type: "string", Description: "Sort by update time.", Enum: []string{"asc", "desc"}},
				},
			},
		},
		{
			Name:        "update_intent",
			Description: "Update the mutable fields of a Draft intent.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"id":            {Type: "string", Description: "Intent identifier."},
					"name":          {Type: "string", Description: "New name."},
					"description":   {Type: "string", Description: "New description."},
					"specification": {Type: "object", Description: "Replacement specification, must be non-empty when present."},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "terminate_intent",
			Description: "Terminate an Active intent, asking the backend to stop fulfilment.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"id": {Type: "string", Description: "Intent identifier."},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "delete_intent",
			Description: "Delete a Draft, Failed or Terminated intent.",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"id": {Type: "string", Description: "Intent identifier."},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "check_backend_connectivity",
			Description: "Check backend health and stub catalogue reachability.",
			InputSchema: Schema{Type: "object"},
		},
		{
			Name:        "health_check",
			Description: "Report the server's own health and uptime.",
			InputSchema: Schema{Type: "object"},
		},
		{
			Name:        "list_tools",
			Description: "List the available tools and their descriptions.",
			InputSchema: Schema{Type: "object"},
		},
	}
}

// Lookup returns the definition for a tool name.
func Lookup(name string) (Definition, bool) {
	for _, def := range Catalogue() {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}
