package voice

// Tool describes a function the realtime model can invoke during conversation.
// The relay registers bar-domain tools (cart and catalog operations) and
// executes them through the command resolver.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "cart_add").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide when
	// to use it.
	Description string `json:"description"`

	// Parameters is the full JSON schema for the tool's arguments, sent to
	// the provider verbatim ("type", "properties", "required").
	Parameters map[string]any `json:"parameters"`
}

// ToolCall represents an invocation of a tool by the model.
type ToolCall struct {
	// ID is the unique identifier for this tool call.
	// Used to match results back to the correct call.
	ID string

	// Name is the tool being invoked.
	Name string

	// Arguments contains the parsed arguments from the model.
	Arguments map[string]any
}
