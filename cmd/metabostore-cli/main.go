// metabostore-cli — локальные операции над деревьями исследований без базы данных:
// обход и классификация файлов, валидация, снимки аудита, синхронизация,
// конвейер Metabolon и агент удалённого хранилища.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}
