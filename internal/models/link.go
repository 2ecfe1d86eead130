package models

import (
	"fmt"
	"time"
)

// LinkType classifies how a link between two products was established
type LinkType string

const (
	LinkTypeExactKey  LinkType = "exact_key"
	LinkTypeAutomatic LinkType = "automatic"
	LinkTypeManual    LinkType = "manual"
	LinkTypeSuggested LinkType = "suggested"
)

// Link is a scored edge between two product records from different datasets.
// The (LeftID, RightID) pair is unique; creation is always an upsert keyed
// on PairKey so re-linking an existing pair never duplicates.
type Link struct {
	ID         string    `json:"id"`
	PairKey    string    `json:"pair_key" badgerhold:"key"`
	LeftID     string    `json:"left_id" badgerholdIndex:"LeftID"`
	RightID    string    `json:"right_id" badgerholdIndex:"RightID"`
	Type       LinkType  `json:"type"`
	Confidence float64   `json:"confidence"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// LinkPairKey builds the deterministic storage key for a (left, right) pair.
// Direction matters: left is always the anchor dataset's record.
func LinkPairKey(leftID, rightID string) string {
	return leftID + "|" + rightID
}

// Validate checks the link invariants: confidence in [0,1], and
// confidence == 1.0 exactly when the link came from an exact key match.
func (l *Link) Validate() error {
	if l.LeftID == "" || l.RightID == "" {
		return fmt.Errorf("link requires both record IDs")
	}
	if l.LeftID == l.RightID {
		return fmt.Errorf("link cannot join a record to itself")
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("link confidence %.3f out of range [0,1]", l.Confidence)
	}
	if l.Type == LinkTypeExactKey && l.Confidence != 1.0 {
		return fmt.Errorf("exact_key link must carry confidence 1.0, got %.3f", l.Confidence)
	}
	if l.Type != LinkTypeExactKey && l.Confidence == 1.0 {
		return fmt.Errorf("confidence 1.0 is reserved for exact_key links")
	}
	return nil
}
