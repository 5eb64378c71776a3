package models

// FieldType is the logical column type of a table field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldLongText FieldType = "longText"
	FieldNumber   FieldType = "number"
	FieldURL      FieldType = "url"
	FieldDate     FieldType = "date"
	FieldBoolean  FieldType = "boolean"
)

// Bitable wire codes
const (
	codeText     = 1
	codeNumber   = 2
	codeLongText = 3
	codeDate     = 5
	codeCheckbox = 7
	codeURL      = 15
)

// Code returns the store's numeric type code.
func (t FieldType) Code() int {
	switch t {
	case FieldLongText:
		return codeLongText
	case FieldNumber:
		return codeNumber
	case FieldURL:
		return codeURL
	case FieldDate:
		return codeDate
	case FieldBoolean:
		return codeCheckbox
	default:
		return codeText
	}
}

// FieldTypeFromCode maps a store type code back to a [FieldType]. Unknown codes read as text.
func FieldTypeFromCode(code int) FieldType {
	switch code {
	case codeLongText:
		return FieldLongText
	case codeNumber:
		return FieldNumber
	case codeURL:
		return FieldURL
	case codeDate:
		return FieldDate
	case codeCheckbox:
		return FieldBoolean
	default:
		return FieldText
	}
}

// SchemaField is a resolved column on the target table.
type SchemaField struct {
	ExternalID  string    `json:"external_id"`
	LogicalName string    `json:"logical_name"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
}

// TableField is a column as listed by the store.
type TableField struct {
	ID   string
	Name string
	Type FieldType
}

// TableRecord is a row as listed by or written to the store. Fields are keyed by field name.
type TableRecord struct {
	ID     string
	Fields map[string]any
}

// RecordFailure explains why one input record was not written.
type RecordFailure struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

// WriteReport accounts for every input record exactly once.
type WriteReport struct {
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	SkippedCount int             `json:"skipped_count"`
	WrittenIDs   []string        `json:"written_ids"`
	Failures     []RecordFailure `json:"failures,omitempty"`
}

// Total is the number of input records the report accounts for.
func (r *WriteReport) Total() int {
	return r.SuccessCount + r.FailedCount + r.SkippedCount
}

func (r *WriteReport) Succeeded(externalID string) {
	r.SuccessCount++
	r.WrittenIDs = append(r.WrittenIDs, externalID)
}

func (r *WriteReport) Failed(recordID string, err error) {
	r.FailedCount++
	r.Failures = append(r.Failures, RecordFailure{RecordID: recordID, Error: err.Error()})
}

func (r *WriteReport) Skipped(recordID, reason string) {
	r.SkippedCount++
	r.Failures = append(r.Failures, RecordFailure{RecordID: recordID, Error: "skipped: " + reason})
}

// Target addresses one table in the store.
type Target struct {
	AppToken string `json:"app_token"`
	TableID  string `json:"table_id"`
}

// Key identifies the target in caches and logs.
func (t Target) Key() string { return t.AppToken + "/" + t.TableID }

func (t Target) Valid() bool { return t.AppToken != "" && t.TableID != "" }
