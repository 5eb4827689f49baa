package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"navigator/internal/domain"
	"navigator/internal/ingest/rows"
	"navigator/internal/taxonomy"
)

const maxSuggestions = 3

// metadataSource binds one taxonomy field to the row values that feed it.
type metadataSource struct {
	field    string
	values   []string
	scalar   bool
	document bool
}

// Metadata is the builder's output: family-level and document-level blobs
// plus the row's combined Result.
type Metadata struct {
	TaxonomyID string
	Family     domain.Metadata
	Document   domain.Metadata
	Result     Result
}

// Canonical returns the first resolved value of a field, family level first.
func (m Metadata) Canonical(field string) (string, bool) {
	if v := m.Family[field]; len(v) > 0 {
		return v[0], true
	}
	if v := m.Document[field]; len(v) > 0 {
		return v[0], true
	}
	return "", false
}

func scalarValues(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return []string{strings.TrimSpace(v)}
}

// BuildCCLWMetadata maps the CCLW free-text columns through the taxonomy.
func BuildCCLWMetadata(tax taxonomy.Taxonomy, row rows.DocumentRow) Metadata {
	return buildMetadata(row.Number(), tax, []metadataSource{
		{field: "sector", values: row.Sectors},
		{field: "instrument", values: row.Instruments},
		{field: "framework", values: row.Frameworks},
		{field: "topic", values: row.Responses},
		{field: "hazard", values: row.NaturalHazards},
		{field: "keyword", values: row.Keywords},
		{field: "document_type", values: scalarValues(row.DocumentType), scalar: true, document: true},
	})
}

func BuildUNFCCCMetadata(tax taxonomy.Taxonomy, row rows.UNFCCCDocumentRow) Metadata {
	return buildMetadata(row.Number(), tax, []metadataSource{
		{field: "author", values: scalarValues(row.Author), scalar: true},
		{field: "author_type", values: scalarValues(row.AuthorType), scalar: true},
		{field: "document_type", values: scalarValues(row.SubmissionType), scalar: true, document: true},
	})
}

func buildMetadata(row int, tax taxonomy.Taxonomy, sources []metadataSource) Metadata {
	md := Metadata{TaxonomyID: tax.ID, Family: domain.Metadata{}, Document: domain.Metadata{}}
	outcome := ResultOK
	var details []string
	for _, src := range sources {
		var (
			vals []string
			res  Result
		)
		if src.scalar {
			var v string
			v, res = buildScalarField(row, tax, src.field, first(src.values))
			if v != "" {
				vals = []string{v}
			}
		} else {
			vals, res = buildField(row, tax, src.field, src.values)
		}
		if res.Type.rank() > outcome.rank() {
			outcome = res.Type
		}
		if res.Type != ResultOK {
			details = append(details, res.Details)
		}
		if res.Type == ResultError || len(vals) == 0 {
			continue
		}
		if src.document {
			md.Document[src.field] = vals
		} else {
			md.Family[src.field] = vals
		}
	}
	md.Result = Result{Type: outcome, Details: strings.Join(details, "\n")}
	return md
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// buildField resolves a list-valued field. Either every unknown value
// resolves or the whole field fails.
func buildField(row int, tax taxonomy.Taxonomy, name string, values []string) ([]string, Result) {
	field, ok := tax.Field(name)
	if !ok {
		return nil, Result{Type: ResultError, Details: fmt.Sprintf("Row %d: taxonomy %s has no field '%s'", row, tax.ID, name)}
	}
	values = dedupe(values)
	if len(values) == 0 {
		if field.AllowBlanks {
			return nil, Result{Type: ResultOK}
		}
		return nil, blankResult(row, name)
	}

	var unknown []string
	for _, v := range values {
		if !field.Allows(v) {
			unknown = append(unknown, v)
		}
	}
	if len(unknown) == 0 {
		return values, Result{Type: ResultOK}
	}

	resolved := map[string]string{}
	var unresolved []string
	for _, v := range unknown {
		if canonical, ok := taxonomy.Match(v, field.AllowedValues); ok {
			resolved[v] = canonical
		} else {
			unresolved = append(unresolved, v)
		}
	}
	if len(unresolved) > 0 {
		return nil, unresolvedResult(row, name, field, unresolved, unknown, resolved)
	}

	var out []string
	for _, v := range values {
		if c, ok := resolved[v]; ok {
			out = append(out, c)
		} else {
			out = append(out, v)
		}
	}
	return dedupe(out), Result{Type: ResultResolved, Details: resolvedDetails(row, name, unknown, resolved)}
}

// buildScalarField is buildField for a single value.
func buildScalarField(row int, tax taxonomy.Taxonomy, name, value string) (string, Result) {
	vals, res := buildField(row, tax, name, scalarValues(value))
	return first(vals), res
}

func blankResult(row int, name string) Result {
	return Result{Type: ResultError, Details: fmt.Sprintf("Row %d is blank for %s - which is not allowed.", row, name)}
}

func resolvedPairs(unknown []string, resolved map[string]string) string {
	pairs := make([]string, 0, len(unknown))
	for _, v := range unknown {
		if c, ok := resolved[v]; ok {
			pairs = append(pairs, fmt.Sprintf("%q -> %q", v, c))
		}
	}
	return strings.Join(pairs, ", ")
}

func resolvedDetails(row int, name string, unknown []string, resolved map[string]string) string {
	return fmt.Sprintf("Row %d RESOLVED '%s': %s", row, name, resolvedPairs(unknown, resolved))
}

func unresolvedResult(row int, name string, field taxonomy.Field, unresolved, unknown []string, resolved map[string]string) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "Row %d has value(s) for '%s' that is/are unrecognised: %s", row, name, quoteAll(unresolved))
	for _, v := range unresolved {
		if s := suggestions(v, field.AllowedValues); len(s) > 0 {
			fmt.Fprintf(&b, "; %q did you mean %s", v, quoteAll(s))
		}
	}
	if len(resolved) > 0 {
		fmt.Fprintf(&b, "; able to resolve: %s", resolvedPairs(unknown, resolved))
	}
	return Result{Type: ResultError, Details: b.String()}
}

// suggestions ranks near candidates for an unresolved value. They only feed
// the error text.
func suggestions(value string, allowed []string) []string {
	ranks := fuzzy.RankFindNormalizedFold(value, allowed)
	sort.Sort(ranks)
	var res []string
	for _, r := range ranks {
		if len(res) == maxSuggestions {
			break
		}
		res = append(res, r.Target)
	}
	return res
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
