// Package history реализует долговременное зеркало временного ряда:
// один известный слот, который целиком перезаписывается при каждом сохранении.
package history

import (
	"context"
	"encoding/json"

	"telemetry-dashboard/internal/models"
)

// DefaultKey имя слота истории по умолчанию
const DefaultKey = "telemetry:history"

// Store долговременное хранилище истории.
//
// Load никогда не сообщает об ошибке декодирования: отсутствующая или
// поврежденная запись возвращается как пустой ряд. Ошибка возвращается
// только при сбое ввода-вывода, и ряд в этом случае тоже пустой.
type Store interface {
	Load(ctx context.Context) (models.Series, error)
	Save(ctx context.Context, series models.Series) error
	Clear(ctx context.Context) error
}

// decode разбирает сохраненный ряд, поврежденные данные дают пустой ряд
func decode(data []byte) models.Series {
	var series models.Series
	if err := json.Unmarshal(data, &series); err != nil {
		return models.Series{}
	}
	return series
}
