package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrConversion — конвертер mzML→ISA завершился с ошибкой.
var ErrConversion = errors.New("ошибка конвертации mzML в ISA")

// maxDiagnostic — предел длины диагностики конвертера в сообщении об ошибке.
const maxDiagnostic = 4096

// Converter конвертирует партию mzML в ISA-файлы. Результат
// (i_Investigation.txt, s_*.txt, a_*.txt) записывается в каталог партии.
type Converter interface {
	Convert(ctx context.Context, batchDir, study string) error
}

// ExecConverter запускает внешнюю программу: <Command> -i <dir> -o <dir> -s <study>.
type ExecConverter struct {
	Command string
	// Args — дополнительные аргументы перед стандартными
	Args []string
}

// Convert выполняет конвертацию партии.
func (c ExecConverter) Convert(ctx context.Context, batchDir, study string) error {
	args := append(append([]string{}, c.Args...), "-i", batchDir, "-o", batchDir, "-s", study)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrConversion, c.Command, err, diagnostic(out.String()))
	}
	return nil
}

func diagnostic(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDiagnostic {
		s = "..." + s[len(s)-maxDiagnostic:]
	}
	return s
}
