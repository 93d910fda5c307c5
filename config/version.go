package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SupportedVersion is the configuration format version this package reads.
const SupportedVersion = "0.1.0"

// IsCompatible reports whether a file declaring version can be read.
// It uses a caret constraint, so while the major version is 0 only patch
// releases of SupportedVersion are accepted.
func IsCompatible(version string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + SupportedVersion)
	if err != nil {
		return false, fmt.Errorf("invalid supported version: %w", err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}

	return constraint.Check(v), nil
}
