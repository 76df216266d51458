package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// ValidateSettings checks merged settings (file, env, defaults) against
// the embedded schema before they are bound onto Config. Every violation
// is reported at once so a broken config file can be fixed in one pass.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("config schema check: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, v := range result.Errors() {
		violations = append(violations, v.String())
	}
	sort.Strings(violations)

	return fmt.Errorf("invalid config: %s", strings.Join(violations, "; "))
}
