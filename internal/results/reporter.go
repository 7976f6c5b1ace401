package results

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/analysis/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes a ScanResult as one JSON document.
type JSONReporter struct {
	w      io.Writer
	indent bool
}

var _ core.Reporter = (*JSONReporter)(nil)

func NewJSONReporter(w io.Writer, indent bool) *JSONReporter {
	return &JSONReporter{w: w, indent: indent}
}

func (r *JSONReporter) Write(result *schemas.ScanResult) error {
	var (
		data []byte
		err  error
	)
	if r.indent {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		data, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("encode scan result: %w", err)
	}
	data = append(data, '\n')
	if _, err := r.w.Write(data); err != nil {
		return fmt.Errorf("write scan result: %w", err)
	}
	return nil
}
