package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const codeSuffixLen = 6

type codeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator produces booking codes like BK250610-3F9A1C: the booking date
// followed by a random suffix.
type CodeGenerator struct {
	random func() string
}

func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{random: uuid.NewString}
}

func (g *CodeGenerator) Generate(day time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(g.random(), "-", ""))
	if len(suffix) > codeSuffixLen {
		suffix = suffix[:codeSuffixLen]
	}
	return "BK" + day.Format("060102") + "-" + suffix
}

// Unique retries Generate until the checker reports an unused code.
func (g *CodeGenerator) Unique(ctx context.Context, checker codeChecker, day time.Time, attempts int) (string, error) {
	for i := 0; i < attempts; i++ {
		code := g.Generate(day)
		exists, err := checker.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique booking code after %d attempts", attempts)
}
