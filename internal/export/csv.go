// Package export выгружает снимок временного ряда: таблица CSV,
// постраничный PDF с графиком на каждой странице и HTML страница графиков.
// Все выгрузки работают с одним неизменяемым снимком, взятым в начале.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"telemetry-dashboard/internal/models"
)

// TimeColumn заголовок столбца меток времени
const TimeColumn = "time"

// LabelLayout формат меток времени в выгрузках
const LabelLayout = "2006-01-02T15:04:05.000Z07:00"

// CSVHeader возвращает строку заголовка: метка времени и имена каналов
func CSVHeader() []string {
	return append([]string{TimeColumn}, models.ChannelNames()...)
}

// FormatValue форматирует показание для ячейки: пропуск дает пустую строку,
// целые значения сохраняют один знак после точки
func FormatValue(r models.Reading) string {
	if !r.Valid {
		return ""
	}
	s := strconv.FormatFloat(r.Value, 'f', -1, 64)
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) || strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}

// FormatLabel форматирует метку времени строки в UTC
func FormatLabel(t time.Time) string {
	return t.UTC().Format(LabelLayout)
}

// WriteCSV пишет заголовок и по строке на каждый индекс ряда
func WriteCSV(w io.Writer, s models.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader()); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	channels := models.Channels()
	row := make([]string, len(channels)+1)
	for i := 0; i < s.Len(); i++ {
		row[0] = FormatLabel(s.Label(i))
		for j, c := range channels {
			row[j+1] = FormatValue(s.Value(c, i))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}
