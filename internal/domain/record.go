package domain

// Record is the host-owned entity whose changes are tracked. Attributes holds the
// in-memory state and Original the state last persisted.
type Record struct {
	Type       string         `json:"type"`
	ID         int64          `json:"id"`
	Table      string         `json:"table"`
	Attributes map[string]any `json:"attributes"`
	Original   map[string]any `json:"-"`
}

// NewRecord creates an unsaved record of the given type.
func NewRecord(recordType string, attributes map[string]any) *Record {
	return &Record{
		Type:       recordType,
		Attributes: copyAttributes(attributes),
		Original:   map[string]any{},
	}
}

// Subject returns the polymorphic reference to this record.
func (r *Record) Subject() SubjectRef {
	return SubjectRef{Type: r.Type, ID: r.ID}
}

// Snapshot returns a copy of the current attributes.
func (r *Record) Snapshot() map[string]any {
	return copyAttributes(r.Attributes)
}

// Fill overwrites the given attributes, leaving the others untouched.
func (r *Record) Fill(values map[string]string) {
	if r.Attributes == nil {
		r.Attributes = map[string]any{}
	}
	for key, value := range values {
		r.Attributes[key] = value
	}
}

// SyncOriginal marks the current attributes as persisted.
func (r *Record) SyncOriginal() {
	r.Original = copyAttributes(r.Attributes)
}

// Clone returns a deep-enough copy for handing to observers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Type:       r.Type,
		ID:         r.ID,
		Table:      r.Table,
		Attributes: copyAttributes(r.Attributes),
		Original:   copyAttributes(r.Original),
	}
}

func copyAttributes(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
