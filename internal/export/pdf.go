package export

import (
	"fmt"
	"io"
	"math"

	"github.com/go-pdf/fpdf"

	"telemetry-dashboard/internal/models"
)

// Геометрия страницы A4 в альбомной ориентации, мм
const (
	pageMargin  = 15.0
	chartTop    = 35.0
	chartHeight = 140.0
	axisGutter  = 22.0
)

// PDFOptions параметры документа
type PDFOptions struct {
	Title string
}

// WritePDF пишет по одной странице с графиком на каждый канал
// в стабильном порядке каналов
func WritePDF(w io.Writer, s models.Series, opts PDFOptions) error {
	if opts.Title == "" {
		opts.Title = "Rocket Telemetry"
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(opts.Title, true)
	pdf.SetAutoPageBreak(false, pageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageWidth, _ := pdf.GetPageSize()
	chartLeft := pageMargin + axisGutter
	chartWidth := pageWidth - chartLeft - pageMargin

	for _, c := range models.Channels() {
		pdf.AddPage()

		pdf.SetFont("Helvetica", "B", 18)
		pdf.SetTextColor(20, 20, 20)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("%s (%s)", c.Title(), c.Unit())), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s - %s - %d samples", opts.Title, c, s.Len())), "", 1, "L", false, 0, "")

		drawChart(pdf, tr, s, c, chartLeft, chartTop, chartWidth, chartHeight)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to build pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

// drawChart рисует линию канала; пропуски разрывают линию
func drawChart(pdf *fpdf.Fpdf, tr func(string) string, s models.Series, c models.Channel, x, y, w, h float64) {
	pdf.SetDrawColor(180, 180, 180)
	pdf.SetLineWidth(0.2)
	pdf.Rect(x, y, w, h, "D")

	lo, hi, ok := valueRange(s, c)
	if !ok {
		pdf.SetFont("Helvetica", "I", 12)
		pdf.SetTextColor(140, 140, 140)
		pdf.Text(x+w/2-10, y+h/2, "No data")
		return
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}

	n := s.Len()
	px := func(i int) float64 {
		if n == 1 {
			return x + w/2
		}
		return x + w*float64(i)/float64(n-1)
	}
	py := func(v float64) float64 {
		return y + h - h*(v-lo)/(hi-lo)
	}

	// Подписи оси Y и границ оси X
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(90, 90, 90)
	pdf.Text(pageMargin, y+3, tr(FormatValue(models.Some(round2(hi)))))
	pdf.Text(pageMargin, y+h, tr(FormatValue(models.Some(round2(lo)))))
	pdf.Text(x, y+h+6, s.Label(0).Format("15:04:05"))
	pdf.Text(x+w-14, y+h+6, s.Label(n-1).Format("15:04:05"))

	pdf.SetDrawColor(255, 106, 0)
	pdf.SetFillColor(255, 106, 0)
	pdf.SetLineWidth(0.5)

	prevValid := false
	var prevX, prevY float64
	for i := 0; i < n; i++ {
		r := s.Value(c, i)
		if !r.Valid {
			prevValid = false
			continue
		}
		cx, cy := px(i), py(r.Value)
		if prevValid {
			pdf.Line(prevX, prevY, cx, cy)
		} else {
			pdf.Circle(cx, cy, 0.6, "F")
		}
		prevX, prevY, prevValid = cx, cy, true
	}
}

func valueRange(s models.Series, c models.Channel) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < s.Len(); i++ {
		r := s.Value(c, i)
		if !r.Valid {
			continue
		}
		lo = math.Min(lo, r.Value)
		hi = math.Max(hi, r.Value)
		ok = true
	}
	return lo, hi, ok
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
