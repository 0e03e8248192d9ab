package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
)

func encodeAttributes(values map[string]string) ([]byte, error) {
	if values == nil {
		values = map[string]string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode revision attributes: %w", err)
	}
	return encoded, nil
}

func decodeAttributes(raw []byte) (map[string]string, error) {
	values := map[string]string{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode revision attributes: %w", err)
	}
	return values, nil
}

// unavailable marks an error as a storage failure unless it already is one.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func stampRevision(revision domain.Revision, now time.Time) domain.Revision {
	if revision.CreatedAt.IsZero() {
		revision.CreatedAt = now
	}
	if revision.UpdatedAt.IsZero() {
		revision.UpdatedAt = revision.CreatedAt
	}
	return revision
}

// sortNewestFirst orders revisions by created_at then id, both descending.
func sortNewestFirst(revisions []domain.Revision) {
	sort.SliceStable(revisions, func(i, j int) bool {
		if !revisions[i].CreatedAt.Equal(revisions[j].CreatedAt) {
			return revisions[i].CreatedAt.After(revisions[j].CreatedAt)
		}
		return revisions[i].ID > revisions[j].ID
	})
}
