package checkout

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberGenerator выдаёт номер заказа для момента создания.
type NumberGenerator func(at time.Time) string

// NewOrderNumber: UTC YYYYMMDDHHMMSS, шесть цифр микросекунд и шесть hex-символов случайного UUID.
// Уникальность гарантирует только ограничение в хранилище.
func NewOrderNumber(at time.Time) string {
	at = at.UTC()
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s%06d%s", at.Format("20060102150405"), at.Nanosecond()/int(time.Microsecond), suffix)
}
