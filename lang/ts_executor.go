package lang

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// typescriptVariant strips types with esbuild before the code reaches the
// JavaScript sandbox. No type checking is performed.
type typescriptVariant struct{}

func (typescriptVariant) name() string { return "typescript" }

func (typescriptVariant) prepare(code string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:     api.LoaderTS,
		Target:     api.ES2017,
		Sourcefile: "submission.ts",
	})
	if len(result.Errors) > 0 {
		lines := make([]string, 0, len(result.Errors))
		for _, msg := range result.Errors {
			if msg.Location != nil {
				lines = append(lines, fmt.Sprintf("line %d:%d: %s", msg.Location.Line, msg.Location.Column, msg.Text))
				continue
			}
			lines = append(lines, msg.Text)
		}
		return "", fmt.Errorf("TypeScript compilation error:\n%s", strings.Join(lines, "\n"))
	}
	return string(result.Code), nil
}
