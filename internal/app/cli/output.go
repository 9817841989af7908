package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	coreask "github.com/jinford/doc-rag/internal/core/ask"
	corecatalog "github.com/jinford/doc-rag/internal/core/catalog"
)

// 出力形式
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// catalogView はカタログの出力用表現
type catalogView struct {
	Sources []string `json:"sources" yaml:"sources"`
	MinPage *int     `json:"minPage" yaml:"minPage"`
	MaxPage *int     `json:"maxPage" yaml:"maxPage"`
}

func newCatalogView(c corecatalog.Catalog) catalogView {
	view := catalogView{Sources: c.Sources}
	if view.Sources == nil {
		view.Sources = []string{}
	}
	if v, ok := c.MinPage.Get(); ok {
		view.MinPage = &v
	}
	if v, ok := c.MaxPage.Get(); ok {
		view.MaxPage = &v
	}
	return view
}

// writeStructured は json / yaml 形式で値を書き出します
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteAskResult は回答と引用を指定形式で書き出します
func WriteAskResult(w io.Writer, format string, result *coreask.AskResult, showCitations bool) error {
	if format != OutputText {
		out := *result
		if !showCitations {
			out.Citations = []coreask.Citation{}
		}
		return writeStructured(w, format, out)
	}

	fmt.Fprintln(w, result.Answer)
	if showCitations && len(result.Citations) > 0 {
		fmt.Fprintln(w, "\nCitations:")
		for i, c := range result.Citations {
			fmt.Fprintf(w, "[%d] %s (page %d)\n    %s\n", i+1, c.Source, c.Page, c.Snippet)
		}
	}
	return nil
}

// WriteCatalog はカタログを指定形式で書き出します
func WriteCatalog(w io.Writer, format string, c corecatalog.Catalog) error {
	if format != OutputText {
		return writeStructured(w, format, newCatalogView(c))
	}

	if len(c.Sources) == 0 {
		fmt.Fprintln(w, "No documents indexed.")
		return nil
	}
	fmt.Fprintf(w, "Sources (%d):\n", len(c.Sources))
	for _, s := range c.Sources {
		fmt.Fprintf(w, "  - %s\n", s)
	}
	minPage, hasMin := c.MinPage.Get()
	maxPage, hasMax := c.MaxPage.Get()
	if hasMin && hasMax {
		fmt.Fprintf(w, "Pages: %d-%d\n", minPage, maxPage)
	}
	return nil
}

// validateOutput は出力形式の値を検証します
func validateOutput(format string) error {
	switch strings.ToLower(format) {
	case OutputText, OutputJSON, OutputYAML:
		return nil
	default:
		return fmt.Errorf("--output は text / json / yaml のいずれかを指定してください: %q", format)
	}
}
