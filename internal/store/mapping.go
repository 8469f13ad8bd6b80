package store

import (
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
)

// IdentifierAnalyzerName is the analyzer built on the identifier tokenizer.
const IdentifierAnalyzerName = "identifier"

// Analyzers lists the analyzer names a field may be bound to.
func Analyzers() []string {
	names := []string{standard.Name, keyword.Name, simple.Name, en.AnalyzerName, IdentifierAnalyzerName}
	sort.Strings(names)
	return names
}

// KnownAnalyzer reports whether name can be used in a field binding.
func KnownAnalyzer(name string) bool {
	for _, n := range Analyzers() {
		if n == name {
			return true
		}
	}
	return false
}

// buildMapping creates the index mapping: keyword class and id fields, the
// configured analyzer per field and defaultAnalyzer for everything else.
func buildMapping(defaultAnalyzer string, fieldAnalyzers map[string]string) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer(IdentifierAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     IdentifierTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add identifier analyzer: %w", err)
	}

	if defaultAnalyzer == "" {
		defaultAnalyzer = standard.Name
	}
	if !KnownAnalyzer(defaultAnalyzer) {
		return nil, fmt.Errorf("unknown analyzer %q", defaultAnalyzer)
	}
	im.DefaultAnalyzer = defaultAnalyzer

	for _, f := range []string{ClassField, IDField} {
		fm := bleve.NewKeywordFieldMapping()
		fm.Store = true
		im.DefaultMapping.AddFieldMappingsAt(f, fm)
	}

	for field, analyzer := range fieldAnalyzers {
		if field == ClassField || field == IDField {
			return nil, fmt.Errorf("field %q is reserved", field)
		}
		if !KnownAnalyzer(analyzer) {
			return nil, fmt.Errorf("unknown analyzer %q for field %q", analyzer, field)
		}
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = analyzer
		fm.Store = true
		im.DefaultMapping.AddFieldMappingsAt(field, fm)
	}

	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("invalid index mapping: %w", err)
	}
	return im, nil
}
