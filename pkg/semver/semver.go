// Package semver checks catalog versions and the names that become broker exchanges, queues and
// routing-key segments.
package semver

import (
	"regexp"
	"strconv"

	masterminds "github.com/Masterminds/semver/v3"
)

// SupportedCatalogRange is the range of catalog format versions this build understands.
const SupportedCatalogRange = "^1"

var (
	// Service names become AMQP exchanges and the first NATS subject token: no dots, spaces or wildcards.
	nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)
	// Worker names may carry routing segments, e.g. "public.et.en".
	workerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*(\.[a-zA-Z0-9_-]+)*$`)
	majorOnlyRegex  = regexp.MustCompile(`^\d+$`)
)

// IsMajorOnly checks if a range is a major-only specifier (e.g., "1").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	major, err := strconv.Atoi(rangeStr)
	if err != nil {
		return -1
	}
	return major
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// ValidateName reports whether name can be used as a service name.
func ValidateName(name string) bool {
	return nameRegex.MatchString(name)
}

// ValidateWorkerName reports whether name can be used as a worker name: dot-separated segments,
// each a valid key token.
func ValidateWorkerName(name string) bool {
	return workerNameRegex.MatchString(name)
}
