package table

import (
	"regexp"

	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/textnorm"
)

// Field is a logical item column.
type Field string

const (
	FieldProcessID        Field = "process_id"
	FieldYear             Field = "year"
	FieldModality         Field = "modality"
	FieldProcuringUnit    Field = "procuring_unit"
	FieldLot              Field = "lot"
	FieldItemNumber       Field = "item_number"
	FieldDescription      Field = "description"
	FieldQuantity         Field = "quantity"
	FieldEstimatedPrice   Field = "estimated_price"
	FieldAdjudicatedPrice Field = "adjudicated_price"
	FieldSupplierID       Field = "supplier_id"
	FieldSupplierName     Field = "supplier_name"
	FieldProposals        Field = "proposals"
)

// ColumnSpec describes how a field is located among input headers.
// Aliases and Pattern are matched against slugged headers.
type ColumnSpec struct {
	Field   Field
	Aliases []string
	Pattern *regexp.Regexp
}

// DefaultColumns lists every field with its alias priority list and
// fallback pattern, in resolution order.
var DefaultColumns = []ColumnSpec{
	{FieldProcessID, []string{"processo", "numprocesso", "nr_processo", "process_id", "process"}, regexp.MustCompile(`process|licit`)},
	{FieldYear, []string{"ano", "exercicio", "year"}, regexp.MustCompile(`^ano|year`)},
	{FieldModality, []string{"modalidade", "modality"}, regexp.MustCompile(`modal`)},
	{FieldProcuringUnit, []string{"ug", "orgao", "unidade_gestora", "procuring_unit", "unit"}, regexp.MustCompile(`orgao|unidade|entidade|secretaria`)},
	{FieldLot, []string{"nrlote", "lote", "lot"}, regexp.MustCompile(`lote|lot`)},
	{FieldItemNumber, []string{"numeroitem", "nr_item", "item", "item_number"}, regexp.MustCompile(`^(nr_|num|numero)?_?item`)},
	{FieldDescription, []string{"descricao", "descricao_item", "descricao_objeto", "description", "objeto"}, regexp.MustCompile(`descri|objeto|assunto`)},
	{FieldQuantity, []string{"qtd", "quantidade", "quantity"}, regexp.MustCompile(`^qt|quant`)},
	{FieldEstimatedPrice, []string{"vlr_est_unit", "valor_estimado_unitario", "preco_unit_est", "estimated_price"}, regexp.MustCompile(`estim`)},
	{FieldAdjudicatedPrice, []string{"vlr_adj_unit", "valor_adjudicado_unitario", "preco_unit_adj", "adjudicated_price"}, regexp.MustCompile(`adj|homolog|contrat`)},
	{FieldSupplierID, []string{"cnpj_vencedor", "cpf_cnpj_vencedor", "supplier_id"}, regexp.MustCompile(`cnpj|cpf`)},
	{FieldSupplierName, []string{"fornecedor_vencedor", "nome_vencedor", "supplier_name"}, regexp.MustCompile(`fornecedor|vencedor`)},
	{FieldProposals, []string{"n_propostas", "qtd_propostas", "propostas", "proposals"}, regexp.MustCompile(`propost|participant`)},
}

// ResolutionStep records which fallback resolved a field.
type ResolutionStep string

const (
	StepExplicit   ResolutionStep = "explicit"
	StepAlias      ResolutionStep = "alias"
	StepPattern    ResolutionStep = "pattern"
	StepUnresolved ResolutionStep = "unresolved"
)

// Resolution maps fields to header positions.
type Resolution struct {
	Index  map[Field]int
	Header map[Field]string
	Step   map[Field]ResolutionStep
}

// Has reports whether f was resolved.
func (r *Resolution) Has(f Field) bool {
	_, ok := r.Index[f]
	return ok
}

// Unresolved lists fields of specs that no header matched, in spec order.
func (r *Resolution) Unresolved(specs []ColumnSpec) []Field {
	var out []Field
	for _, s := range specs {
		if !r.Has(s.Field) {
			out = append(out, s.Field)
		}
	}
	return out
}

func (r Resolution) clone() Resolution {
	c := Resolution{
		Index:  make(map[Field]int, len(r.Index)),
		Header: make(map[Field]string, len(r.Header)),
		Step:   make(map[Field]ResolutionStep, len(r.Step)),
	}
	for k, v := range r.Index {
		c.Index[k] = v
	}
	for k, v := range r.Header {
		c.Header[k] = v
	}
	for k, v := range r.Step {
		c.Step[k] = v
	}
	return c
}

// ResolveColumns locates every field among headers. Fallback order per field:
// the explicit header from overrides, the first alias with an exact match,
// then the first header in file order matching the field pattern. A header is
// assigned to at most one field; each step runs over all fields before the
// next step starts so a pattern never steals an exact alias match.
// An unresolved description column is fatal for the ingest stage.
func ResolveColumns(headers []string, specs []ColumnSpec, overrides map[Field]string) (*Resolution, error) {
	slugs := make([]string, len(headers))
	for i, h := range headers {
		slugs[i] = textnorm.Slug(h)
	}

	res := &Resolution{
		Index:  make(map[Field]int),
		Header: make(map[Field]string),
		Step:   make(map[Field]ResolutionStep),
	}
	used := make(map[int]bool)
	assign := func(f Field, idx int, step ResolutionStep) {
		res.Index[f] = idx
		res.Header[f] = headers[idx]
		res.Step[f] = step
		used[idx] = true
	}
	find := func(slug string) int {
		for i, s := range slugs {
			if !used[i] && s == slug {
				return i
			}
		}
		return -1
	}

	for _, spec := range specs {
		name, ok := overrides[spec.Field]
		if !ok || name == "" {
			continue
		}
		if idx := find(textnorm.Slug(name)); idx >= 0 {
			assign(spec.Field, idx, StepExplicit)
		}
	}

	for _, spec := range specs {
		if res.Has(spec.Field) {
			continue
		}
		for _, alias := range spec.Aliases {
			if idx := find(alias); idx >= 0 {
				assign(spec.Field, idx, StepAlias)
				break
			}
		}
	}

	for _, spec := range specs {
		if res.Has(spec.Field) || spec.Pattern == nil {
			continue
		}
		for i, s := range slugs {
			if !used[i] && spec.Pattern.MatchString(s) {
				assign(spec.Field, i, StepPattern)
				break
			}
		}
	}

	for _, spec := range specs {
		if !res.Has(spec.Field) {
			res.Step[spec.Field] = StepUnresolved
		}
	}

	if !res.Has(FieldDescription) {
		return res, apperrors.NewInputError(apperrors.StageIngest, "no description column resolved").
			WithContext("headers", headers)
	}
	return res, nil
}
