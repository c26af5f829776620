package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"tenderscope/internal/config"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/scoring"
	"tenderscope/internal/textnorm"
)

// Flagger decides which processes feed association mining.
type Flagger interface {
	Flagged(ctx context.Context, scored []scoring.ScoredItem) (map[string]struct{}, error)
}

// ThresholdFlagger flags every process holding at least one item whose
// composite reaches Threshold or that the model labelled anomalous. Items
// without a composite are judged by their rule score.
type ThresholdFlagger struct {
	Threshold float64
}

// NewThresholdFlagger returns a flagger using threshold, or the default
// when threshold is not positive.
func NewThresholdFlagger(threshold float64) ThresholdFlagger {
	if threshold <= 0 {
		threshold = config.DefaultFlagThreshold
	}
	return ThresholdFlagger{Threshold: threshold}
}

// Flagged implements Flagger.
func (f ThresholdFlagger) Flagged(_ context.Context, scored []scoring.ScoredItem) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, it := range scored {
		if it.ProcessID == "" {
			continue
		}
		score := it.RuleScore
		if it.HasComposite() {
			score = it.Composite
		}
		if score >= f.Threshold || it.Anomalous {
			out[it.ProcessID] = struct{}{}
		}
	}
	return out, nil
}

// ListFlagger flags an explicit list of process ids.
type ListFlagger struct {
	IDs []string
}

// Flagged implements Flagger. Ids absent from scored are kept; they simply
// match no items.
func (f ListFlagger) Flagged(_ context.Context, _ []scoring.ScoredItem) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(f.IDs))
	for _, id := range f.IDs {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

var processIDHeaders = map[string]bool{
	"process_id":  true,
	"processo":    true,
	"id_processo": true,
	"process":     true,
}

// ReadFlagList reads process ids from the first column of a CSV list.
// A process-id header row, blank lines and lines starting with # are
// skipped.
func ReadFlagList(r io.Reader) (ListFlagger, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var ids []string
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ListFlagger{}, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageAssociation,
				"failed to read flagged process list", err)
		}
		if len(rec) == 0 {
			continue
		}
		id := strings.TrimSpace(rec[0])
		if id == "" {
			continue
		}
		if first {
			first = false
			if processIDHeaders[textnorm.Slug(id)] {
				continue
			}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ListFlagger{}, apperrors.NewInputError(apperrors.StageAssociation, "flagged process list is empty")
	}
	return ListFlagger{IDs: ids}, nil
}

// String describes the flagger for logs.
func (f ListFlagger) String() string {
	return fmt.Sprintf("list(%d)", len(f.IDs))
}

// String describes the flagger for logs.
func (f ThresholdFlagger) String() string {
	return fmt.Sprintf("threshold(%.1f)", f.Threshold)
}
