// Пакет schema — встроенный набор правил валидации исследования.
package schema

import (
	_ "embed"
)

// Default — содержимое default.yaml, встроенное в бинарный файл.
//
//go:embed default.yaml
var Default []byte
