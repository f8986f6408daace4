// Package models содержит структуры данных телеметрии ракеты:
// фиксированный набор каналов, опциональные показания и запись измерения.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformedFrame возвращается, когда входящий кадр не соответствует схеме записи
var ErrMalformedFrame = errors.New("malformed telemetry frame")

// Channel идентифицирует одну измеряемую величину
type Channel int

// Набор каналов фиксирован на этапе компиляции, порядок стабилен
const (
	DHTTemp Channel = iota
	Humidity
	Temperature
	Pressure
	Altitude
	AccelX
	AccelY
	AccelZ

	numChannels
)

// NumChannels количество распознаваемых каналов
const NumChannels = int(numChannels)

var channelNames = [NumChannels]string{
	DHTTemp:     "dhtTemp",
	Humidity:    "humidity",
	Temperature: "temperature",
	Pressure:    "pressure",
	Altitude:    "altitude",
	AccelX:      "accelX",
	AccelY:      "accelY",
	AccelZ:      "accelZ",
}

var channelUnits = [NumChannels]string{
	DHTTemp:     "°C",
	Humidity:    "%",
	Temperature: "°C",
	Pressure:    "Pa",
	Altitude:    "m",
	AccelX:      "m/s²",
	AccelY:      "m/s²",
	AccelZ:      "m/s²",
}

var channelTitles = [NumChannels]string{
	DHTTemp:     "DHT11 Temperature",
	Humidity:    "DHT11 Humidity",
	Temperature: "BMP280 Temperature",
	Pressure:    "BMP280 Pressure",
	Altitude:    "BMP280 Altitude",
	AccelX:      "Acceleration X",
	AccelY:      "Acceleration Y",
	AccelZ:      "Acceleration Z",
}

var channelsByName = func() map[string]Channel {
	m := make(map[string]Channel, NumChannels)
	for i, name := range channelNames {
		m[name] = Channel(i)
	}
	return m
}()

// Channels возвращает все каналы в стабильном порядке
func Channels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// ChannelNames возвращает имена каналов в стабильном порядке
func ChannelNames() []string {
	out := make([]string, NumChannels)
	copy(out, channelNames[:])
	return out
}

// ParseChannel ищет канал по имени поля кадра
func ParseChannel(name string) (Channel, bool) {
	c, ok := channelsByName[name]
	return c, ok
}

func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return "unknown"
	}
	return channelNames[c]
}

// Unit возвращает единицу измерения канала
func (c Channel) Unit() string {
	if c < 0 || c >= numChannels {
		return ""
	}
	return channelUnits[c]
}

// Title возвращает человекочитаемое название канала для графиков
func (c Channel) Title() string {
	if c < 0 || c >= numChannels {
		return "Unknown"
	}
	return channelTitles[c]
}

// Valid проверяет, что канал входит в распознаваемый набор
func (c Channel) Valid() bool {
	return c >= 0 && c < numChannels
}

// Reading опциональное числовое показание: отсутствие отличается от нуля
type Reading struct {
	Value float64
	Valid bool
}

// Some создает присутствующее показание
func Some(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Missing отсутствующее показание
var Missing = Reading{}

// Float возвращает значение и признак присутствия
func (r Reading) Float() (float64, bool) {
	return r.Value, r.Valid
}

// Format форматирует показание для живого табло
func (r Reading) Format(unit string) string {
	if !r.Valid {
		return "N/A"
	}
	s := strconv.FormatFloat(r.Value, 'f', 2, 64)
	if unit == "" {
		return s
	}
	return s + " " + unit
}

// MarshalJSON кодирует отсутствующее показание как null
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON принимает число или null
func (r *Reading) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Missing
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("reading must be a number or null: %w", err)
	}
	*r = Some(v)
	return nil
}

// Record одна запись измерения по всем каналам
type Record struct {
	Received time.Time
	Values   [NumChannels]Reading
}

// Get возвращает показание канала
func (r Record) Get(c Channel) Reading {
	if !c.Valid() {
		return Missing
	}
	return r.Values[c]
}

// Set устанавливает присутствующее показание канала
func (r *Record) Set(c Channel, v float64) {
	if c.Valid() {
		r.Values[c] = Some(v)
	}
}

// Clear помечает показание канала как отсутствующее
func (r *Record) Clear(c Channel) {
	if c.Valid() {
		r.Values[c] = Missing
	}
}

// MarshalJSON кодирует запись плоским объектом с именами каналов
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, NumChannels+1)
	for i, name := range channelNames {
		out[name] = r.Values[i]
	}
	if !r.Received.IsZero() {
		out["receivedAt"] = r.Received
	}
	return json.Marshal(out)
}

// DecodeRecord декодирует один кадр в запись измерения.
// Нераспознанные ключи игнорируются, null и отсутствие ключа означают пропуск.
func DecodeRecord(frame []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw == nil {
		return Record{}, fmt.Errorf("%w: frame is not an object", ErrMalformedFrame)
	}

	var rec Record
	for key, value := range raw {
		c, ok := ParseChannel(key)
		if !ok {
			continue
		}
		var rd Reading
		if err := json.Unmarshal(value, &rd); err != nil {
			return Record{}, fmt.Errorf("%w: channel %s: %v", ErrMalformedFrame, key, err)
		}
		rec.Values[c] = rd
	}
	return rec, nil
}
