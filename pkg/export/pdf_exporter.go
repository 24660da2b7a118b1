package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a digest style PDF, one block per row.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// ContentType reports the MIME type of rendered output.
func (e *PDFExporter) ContentType() string { return "application/pdf" }

// Extension reports the file extension of rendered output.
func (e *PDFExporter) Extension() string { return "pdf" }

// Render creates a PDF document with an optional title. Each row is printed as
// "header: value" lines so long messages wrap instead of overflowing table cells.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	if len(data.Rows) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 8, "No entries", "", 1, "", false, 0, "")
	}

	for _, row := range data.Rows {
		for _, header := range data.Headers {
			value := row[header]
			if value == "" {
				continue
			}
			pdf.SetFont("Arial", "B", 9)
			pdf.CellFormat(30, 6, tr(header), "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 9)
			pdf.MultiCell(0, 6, tr(value), "", "", false)
		}
		pdf.Ln(2)
		x, y := pdf.GetXY()
		pdf.Line(x, y, 200, y)
		pdf.Ln(3)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
