package http

import (
	"time"

	"tenderscope/internal/baseline"
	"tenderscope/internal/pipeline"
	"tenderscope/internal/scoring"
	"tenderscope/internal/services"
	"tenderscope/internal/table"
)

// Scores are NaN when undefined; JSON has no NaN, so they travel as null.
func nullable(v float64) *float64 {
	if baseline.IsNull(v) {
		return nil
	}
	return &v
}

// RunResponse describes a finished scoring run.
type RunResponse struct {
	RunID     string               `json:"run_id"`
	Source    string               `json:"source"`
	CreatedAt time.Time            `json:"created_at"`
	Items     int                  `json:"items"`
	Groups    int                  `json:"groups"`
	Model     pipeline.ModelStatus `json:"model"`
	Duration  string               `json:"duration"`
	Top       []ItemResponse       `json:"top,omitempty"`
}

func newRunResponse(run *services.Run, top int) RunResponse {
	out := run.Output
	resp := RunResponse{
		RunID:     run.ID,
		Source:    out.Source,
		CreatedAt: run.CreatedAt,
		Items:     len(out.Items),
		Groups:    len(out.Groups),
		Model:     out.Model,
		Duration:  out.Duration.String(),
	}
	if top > 0 {
		resp.Top = newItemResponses(scoring.Top(out.Items, top))
	}
	return resp
}

// FeaturesResponse carries the baseline features of an item.
type FeaturesResponse struct {
	GroupKey              string   `json:"group_key"`
	Price                 *float64 `json:"adjusted_price"`
	EstimatedPrice        *float64 `json:"estimated_price"`
	Proposals             *float64 `json:"proposals"`
	GroupCount            int      `json:"group_count"`
	GroupMean             *float64 `json:"group_mean"`
	GroupMedian           *float64 `json:"group_median"`
	GroupStd              *float64 `json:"group_std"`
	GroupIQR              *float64 `json:"group_iqr"`
	ZPrice                *float64 `json:"z_price"`
	IQRScore              *float64 `json:"iqr_score"`
	Discount              *float64 `json:"discount"`
	SupplierConcentration *float64 `json:"supplier_concentration"`
}

// ItemResponse is one scored item.
type ItemResponse struct {
	Rank          int                `json:"rank"`
	RowID         int                `json:"row_id"`
	ProcessID     string             `json:"process_id"`
	Description   string             `json:"description"`
	SupplierID    string             `json:"supplier_id,omitempty"`
	Composite     *float64           `json:"composite_score"`
	ModelScore    *float64           `json:"model_score"`
	RuleScore     float64            `json:"rule_score"`
	Anomalous     bool               `json:"anomalous"`
	Triggered     []string           `json:"triggered_rules"`
	Contributions map[string]float64 `json:"rule_points,omitempty"`
	Features      FeaturesResponse   `json:"features"`
}

func newItemResponse(it scoring.ScoredItem) ItemResponse {
	f := it.Features
	triggered := it.Triggered
	if triggered == nil {
		triggered = []string{}
	}
	return ItemResponse{
		Rank:          it.Rank,
		RowID:         it.RowID,
		ProcessID:     it.ProcessID,
		Description:   it.Description,
		SupplierID:    it.SupplierID,
		Composite:     nullable(it.Composite),
		ModelScore:    nullable(it.ModelScore),
		RuleScore:     it.RuleScore,
		Anomalous:     it.Anomalous,
		Triggered:     triggered,
		Contributions: it.Contributions,
		Features: FeaturesResponse{
			GroupKey:              f.GroupKey,
			Price:                 nullable(f.Price),
			EstimatedPrice:        nullable(f.EstimatedPrice),
			Proposals:             nullable(f.Proposals),
			GroupCount:            f.GroupCount,
			GroupMean:             nullable(f.GroupMean),
			GroupMedian:           nullable(f.GroupMedian),
			GroupStd:              nullable(f.GroupStd),
			GroupIQR:              nullable(f.GroupIQR),
			ZPrice:                nullable(f.ZPrice),
			IQRScore:              nullable(f.IQRScore),
			Discount:              nullable(f.Discount),
			SupplierConcentration: nullable(f.SupplierConcentration),
		},
	}
}

func newItemResponses(items []scoring.ScoredItem) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, newItemResponse(it))
	}
	return out
}

// DeviationResponse is one feature deviation in an explanation.
type DeviationResponse struct {
	Feature   string   `json:"feature"`
	Value     *float64 `json:"value"`
	Median    *float64 `json:"median"`
	IQR       *float64 `json:"iqr"`
	Score     *float64 `json:"score"`
	Direction string   `json:"direction"`
}

// RuleLineResponse is one triggered rule with its points.
type RuleLineResponse struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// ExplanationResponse is the structured form of an explanation.
type ExplanationResponse struct {
	RunID       string `json:"run_id"`
	RowID       int    `json:"row_id"`
	Rank        int    `json:"rank"`
	ProcessID   string `json:"process_id"`
	Description string `json:"description"`

	Price        *float64 `json:"adjusted_price"`
	GroupMedian  *float64 `json:"group_median"`
	Discount     *float64 `json:"discount"`
	Proposals    *float64 `json:"proposals"`
	SupplierWins *float64 `json:"supplier_concentration"`

	Rules []RuleLineResponse `json:"rules"`

	RuleScore      float64  `json:"rule_score"`
	ModelScore     *float64 `json:"model_score"`
	Composite      *float64 `json:"composite_score"`
	ModelAvailable bool     `json:"model_available"`
	ModelName      string   `json:"model_name"`
	ModelReason    string   `json:"model_reason,omitempty"`
	WModel         float64  `json:"w_model"`
	WRules         float64  `json:"w_rules"`

	Deviations []DeviationResponse `json:"deviations"`
	Text       string              `json:"text,omitempty"`
}

func newExplanationResponse(runID string, e scoring.Explanation, text string) ExplanationResponse {
	resp := ExplanationResponse{
		RunID:          runID,
		RowID:          e.RowID,
		Rank:           e.Rank,
		ProcessID:      e.ProcessID,
		Description:    e.Description,
		Price:          nullable(e.Price),
		GroupMedian:    nullable(e.GroupMedian),
		Discount:       nullable(e.Discount),
		Proposals:      nullable(e.Proposals),
		SupplierWins:   nullable(e.SupplierWins),
		Rules:          make([]RuleLineResponse, 0, len(e.Rules)),
		RuleScore:      e.RuleScore,
		ModelScore:     nullable(e.ModelScore),
		Composite:      nullable(e.Composite),
		ModelAvailable: e.ModelAvailable,
		ModelName:      e.ModelName,
		ModelReason:    e.ModelReason,
		WModel:         e.WModel,
		WRules:         e.WRules,
		Deviations:     make([]DeviationResponse, 0, len(e.Deviations)),
		Text:           text,
	}
	for _, r := range e.Rules {
		resp.Rules = append(resp.Rules, RuleLineResponse{Name: r.Name, Points: r.Points})
	}
	for _, d := range e.Deviations {
		resp.Deviations = append(resp.Deviations, DeviationResponse{
			Feature:   d.Feature,
			Value:     nullable(d.Value),
			Median:    nullable(d.Median),
			IQR:       nullable(d.IQR),
			Score:     nullable(d.Score),
			Direction: d.Direction,
		})
	}
	return resp
}

// AssociationsRequest selects the processes to mine. Exactly one of
// Threshold and ProcessIDs is expected; ProcessIDs wins when both are set.
type AssociationsRequest struct {
	Threshold  *float64 `json:"threshold,omitempty" validate:"required_without=ProcessIDs,omitempty,gte=0,lte=100"`
	ProcessIDs []string `json:"process_ids,omitempty" validate:"required_without=Threshold,omitempty,max=10000,dive,processid"`
}

func (req AssociationsRequest) flagger() pipeline.Flagger {
	if len(req.ProcessIDs) > 0 {
		return pipeline.ListFlagger{IDs: req.ProcessIDs}
	}
	return pipeline.NewThresholdFlagger(*req.Threshold)
}

// ItemRequest is one line item of a JSON scoring request. Absent numbers
// are null.
type ItemRequest struct {
	ProcessID        string   `json:"process_id" validate:"required,processid"`
	Year             int      `json:"year,omitempty" validate:"omitempty,gte=1900,lte=2200"`
	Modality         string   `json:"modality,omitempty"`
	ProcuringUnit    string   `json:"procuring_unit,omitempty"`
	Lot              string   `json:"lot,omitempty"`
	ItemNumber       string   `json:"item_number,omitempty"`
	Description      string   `json:"description" validate:"required"`
	Quantity         *float64 `json:"quantity,omitempty"`
	EstimatedPrice   *float64 `json:"estimated_price,omitempty"`
	AdjudicatedPrice *float64 `json:"adjusted_price,omitempty"`
	SupplierID       string   `json:"supplier_id,omitempty"`
	SupplierName     string   `json:"supplier_name,omitempty"`
	Proposals        *float64 `json:"proposals,omitempty" validate:"omitempty,gte=0"`
}

// ScoreRequest scores items sent as JSON instead of an uploaded table.
type ScoreRequest struct {
	Source string        `json:"source,omitempty" validate:"max=256"`
	Items  []ItemRequest `json:"items" validate:"required,min=1,max=200000,dive"`
}

func (req ScoreRequest) table(fallbackSource string) *table.Table {
	items := make([]table.Item, len(req.Items))
	for i, in := range req.Items {
		it := table.NewItem()
		it.ProcessID = in.ProcessID
		it.Year = in.Year
		it.Modality = in.Modality
		it.ProcuringUnit = in.ProcuringUnit
		it.Lot = in.Lot
		it.ItemNumber = in.ItemNumber
		it.Description = in.Description
		it.SupplierID = in.SupplierID
		it.SupplierName = in.SupplierName
		setNumber(&it.Quantity, in.Quantity)
		setNumber(&it.EstimatedPrice, in.EstimatedPrice)
		setNumber(&it.AdjudicatedPrice, in.AdjudicatedPrice)
		setNumber(&it.Proposals, in.Proposals)
		items[i] = it
	}
	source := req.Source
	if source == "" {
		source = fallbackSource
	}
	return table.New(source, items)
}

func setNumber(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
