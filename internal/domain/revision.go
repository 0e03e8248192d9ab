package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action identifies the lifecycle transition captured by a revision.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionRestored Action = "restored"
)

// Actions lists every lifecycle action in the order they are subscribed.
var Actions = []Action{ActionCreated, ActionUpdated, ActionDeleted, ActionRestored}

// ParseAction converts a stored action string into an Action.
func ParseAction(value string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionCreated:
		return ActionCreated, nil
	case ActionUpdated:
		return ActionUpdated, nil
	case ActionDeleted:
		return ActionDeleted, nil
	case ActionRestored:
		return ActionRestored, nil
	default:
		return "", fmt.Errorf("unknown revision action %q", value)
	}
}

// SubjectRef is the polymorphic reference from a revision to the record it describes.
type SubjectRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// String renders the reference as "type:id".
func (s SubjectRef) String() string {
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// ParseSubjectRef parses the "type:id" form produced by String.
func ParseSubjectRef(value string) (SubjectRef, error) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 || idx == len(value)-1 {
		return SubjectRef{}, fmt.Errorf("invalid subject reference %q", value)
	}
	id, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return SubjectRef{}, fmt.Errorf("invalid subject id in %q: %w", value, err)
	}
	return SubjectRef{Type: value[:idx], ID: id}, nil
}

// Revision is an immutable audit entry capturing one state transition of a subject.
type Revision struct {
	ID          int64             `json:"id"`
	Action      Action            `json:"action"`
	Subject     SubjectRef        `json:"subject"`
	TableName   string            `json:"table_name"`
	UserID      *int64            `json:"user_id,omitempty"`
	Old         map[string]string `json:"old"`
	New         map[string]string `json:"new"`
	IP          *string           `json:"ip,omitempty"`
	IPForwarded *string           `json:"ip_forwarded,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RevisionRange bounds a range delete by revision id. Both bounds are inclusive and
// a zero bound is open.
type RevisionRange struct {
	MinID int64
	MaxID int64
}

// Contains reports whether the revision id falls inside the range.
func (r RevisionRange) Contains(id int64) bool {
	if r.MinID > 0 && id < r.MinID {
		return false
	}
	if r.MaxID > 0 && id > r.MaxID {
		return false
	}
	return true
}
