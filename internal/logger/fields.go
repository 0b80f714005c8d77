package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID).
	FieldRequestID = "request_id"

	// FieldImportID is the import session ID.
	FieldImportID = "import_id"

	// FieldComponent is the component/module name.
	FieldComponent = "component"

	// FieldSheet is the canonical sheet kind being processed.
	FieldSheet = "sheet"
)

// Metric fields, attached at individual log sites for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldRow is the 1-based spreadsheet row index.
	FieldRow = "row"

	// FieldBatch is the zero-based AI batch index.
	FieldBatch = "batch"

	// FieldCount is a generic count field.
	FieldCount = "count"

	// FieldStatus is the operation status.
	FieldStatus = "status"

	// FieldSize is a payload size in bytes.
	FieldSize = "size"
)
