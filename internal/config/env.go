package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Env var names recognized as global overrides.
const (
	// EnvStressSingleUnit forces every module into one unit when truthy.
	EnvStressSingleUnit = "UNITYBATCH_STRESS_SINGLE_UNIT"

	// EnvDisableAdaptive turns adaptive unity off everywhere when truthy.
	EnvDisableAdaptive = "UNITYBATCH_DISABLE_ADAPTIVE"

	// EnvBytesPerUnit overrides the per-unit byte budget everywhere.
	EnvBytesPerUnit = "UNITYBATCH_BYTES_PER_UNIT"
)

// Overrides are the global switches read from the environment.
type Overrides struct {
	// StressSingleUnit forces the all-in-one stress policy for every module.
	StressSingleUnit bool

	// DisableAdaptive turns adaptive unity off for every module.
	DisableAdaptive bool

	// BytesPerUnit, when non-zero, replaces every module's size budget.
	BytesPerUnit int64
}

// LoadOverrides reads the override switches from the process environment,
// first merging in a .env file from projectDir if one exists. Values already
// present in the environment win over the file, which is godotenv's default.
func LoadOverrides(projectDir string) (Overrides, error) {
	_ = godotenv.Load(filepath.Join(projectDir, ".env"))

	var o Overrides
	o.StressSingleUnit = truthy(os.Getenv(EnvStressSingleUnit))
	o.DisableAdaptive = truthy(os.Getenv(EnvDisableAdaptive))

	if raw := strings.TrimSpace(os.Getenv(EnvBytesPerUnit)); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Overrides{}, fmt.Errorf("%s: %w", EnvBytesPerUnit, err)
		}
		o.BytesPerUnit = n
	}
	return o, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
