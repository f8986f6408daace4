package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Series временной ряд: по одной последовательности на канал
// и общая последовательность меток, все одинаковой длины.
//
// Значение Series, полученное из Snapshot, неизменяемо: его срезы
// ограничены по емкости, поэтому последующие добавления в буфер
// никогда не видны через ранее выданный снимок.
type Series struct {
	labels  []time.Time
	columns [NumChannels][]Reading
}

// Len возвращает количество строк ряда
func (s Series) Len() int {
	return len(s.labels)
}

// Empty проверяет, что ряд пуст
func (s Series) Empty() bool {
	return len(s.labels) == 0
}

// Label возвращает метку времени строки i
func (s Series) Label(i int) time.Time {
	return s.labels[i]
}

// Labels возвращает копию меток
func (s Series) Labels() []time.Time {
	out := make([]time.Time, len(s.labels))
	copy(out, s.labels)
	return out
}

// Value возвращает показание канала c в строке i
func (s Series) Value(c Channel, i int) Reading {
	if !c.Valid() {
		return Missing
	}
	return s.columns[c][i]
}

// Column возвращает копию последовательности канала
func (s Series) Column(c Channel) []Reading {
	if !c.Valid() {
		return nil
	}
	out := make([]Reading, len(s.columns[c]))
	copy(out, s.columns[c])
	return out
}

// Row собирает запись из строки i
func (s Series) Row(i int) Record {
	rec := Record{Received: s.labels[i]}
	for c := range s.columns {
		rec.Values[c] = s.columns[c][i]
	}
	return rec
}

// Last возвращает последнюю строку ряда
func (s Series) Last() (Record, bool) {
	if len(s.labels) == 0 {
		return Record{}, false
	}
	return s.Row(len(s.labels) - 1), true
}

// Append возвращает ряд, расширенный на одну строку.
// Вызывается только владельцем растущего ряда; снимки защищены View.
func (s Series) Append(rec Record) Series {
	s.labels = append(s.labels, rec.Received)
	for c := range s.columns {
		s.columns[c] = append(s.columns[c], rec.Values[c])
	}
	return s
}

// DropFront отбрасывает n самых старых строк
func (s Series) DropFront(n int) Series {
	if n <= 0 {
		return s
	}
	if n >= len(s.labels) {
		return Series{}
	}
	s.labels = s.labels[n:]
	for c := range s.columns {
		s.columns[c] = s.columns[c][n:]
	}
	return s
}

// View возвращает представление с емкостью, равной длине
func (s Series) View() Series {
	n := len(s.labels)
	v := Series{labels: s.labels[:n:n]}
	for c := range s.columns {
		v.columns[c] = s.columns[c][:n:n]
	}
	return v
}

// Equal сравнивает ряды поэлементно
func (s Series) Equal(o Series) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i := range s.labels {
		if !s.labels[i].Equal(o.labels[i]) {
			return false
		}
	}
	for c := range s.columns {
		for i := range s.columns[c] {
			if s.columns[c][i] != o.columns[c][i] {
				return false
			}
		}
	}
	return true
}

// SeriesFromRecords строит ряд из последовательности записей
func SeriesFromRecords(records ...Record) Series {
	var s Series
	for _, rec := range records {
		s = s.Append(rec)
	}
	return s.View()
}

// MarshalJSON кодирует ряд объектом {"labels": [...], "<channel>": [...]}
func (s Series) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, NumChannels+1)
	labels := s.labels
	if labels == nil {
		labels = []time.Time{}
	}
	out["labels"] = labels
	for c, name := range channelNames {
		col := s.columns[c]
		if col == nil {
			col = []Reading{}
		}
		out[name] = col
	}
	return json.Marshal(out)
}

// UnmarshalJSON декодирует ряд и проверяет равенство длин.
// Отсутствующий столбец канала заполняется пропусками.
func (s *Series) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("series is not an object")
	}

	var decoded Series
	if msg, ok := raw["labels"]; ok {
		if err := json.Unmarshal(msg, &decoded.labels); err != nil {
			return fmt.Errorf("labels: %w", err)
		}
	}
	n := len(decoded.labels)

	for c, name := range channelNames {
		msg, ok := raw[name]
		if !ok {
			decoded.columns[c] = make([]Reading, n)
			continue
		}
		var col []Reading
		if err := json.Unmarshal(msg, &col); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if len(col) != n {
			return fmt.Errorf("%s: length %d does not match %d labels", name, len(col), n)
		}
		decoded.columns[c] = col
	}

	*s = decoded.View()
	return nil
}
