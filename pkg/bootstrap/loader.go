package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/morezero/workerbridge/pkg/semver"
)

const logPrefix = "bootstrap:loader"

// LoadCatalog loads the service catalog from file paths or environment.
// It tries paths in order: first any paths passed in, then BOOTSTRAP_FILE env, then defaults.
// Unreadable or unparsable files are skipped; a parsed catalog that fails validation is an error.
func LoadCatalog(paths ...string) (*Catalog, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("BOOTSTRAP_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/bootstrap.json", "bootstrap.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cat Catalog
		if err := json.Unmarshal(data, &cat); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse bootstrap file %s: %v", logPrefix, p, err))
			continue
		}
		if err := Validate(&cat); err != nil {
			return nil, fmt.Errorf("%s - invalid bootstrap file %s: %w", logPrefix, p, err)
		}

		slog.Info(fmt.Sprintf("%s - Loaded service catalog %s@%s from %s", logPrefix, cat.Name, cat.Version, p))
		return &cat, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default service catalog", logPrefix))
	return GetDefaultCatalog(), nil
}

// ReservedEndpoints are served by the gateway itself and cannot be used by a service.
var ReservedEndpoints = map[string]struct{}{
	"/":       {},
	"/health": {},
	"/ready":  {},
}

// Validate checks the catalog version, every service and worker name, and that endpoints are
// distinct.
func Validate(cat *Catalog) error {
	if !semver.SatisfiesRange(cat.Version, semver.SupportedCatalogRange) {
		return fmt.Errorf("catalog version %q does not satisfy %s", cat.Version, semver.SupportedCatalogRange)
	}
	if len(cat.Services) == 0 {
		return fmt.Errorf("catalog has no services")
	}
	endpoints := make(map[string]string, len(cat.Services))
	for name, svc := range cat.Services {
		if !semver.ValidateName(name) {
			return fmt.Errorf("invalid service name %q", name)
		}
		endpoint := svc.EndpointOrDefault(name)
		if !strings.HasPrefix(endpoint, "/") || strings.ContainsAny(endpoint, " {}") {
			return fmt.Errorf("service %s has an invalid endpoint %q", name, endpoint)
		}
		if _, reserved := ReservedEndpoints[endpoint]; reserved {
			return fmt.Errorf("service %s uses the reserved endpoint %s", name, endpoint)
		}
		if other, dup := endpoints[endpoint]; dup {
			return fmt.Errorf("services %s and %s share the endpoint %s", other, name, endpoint)
		}
		endpoints[endpoint] = name
		if len(svc.Workers) == 0 {
			return fmt.Errorf("service %s has no workers", name)
		}
		if svc.TimeoutSeconds < 0 {
			return fmt.Errorf("service %s has a negative timeout", name)
		}
		for token, w := range svc.Workers {
			if token == "" {
				return fmt.Errorf("service %s has an empty token", name)
			}
			if w.Local == "" && w.Name != "" && !semver.ValidateWorkerName(w.Name) {
				return fmt.Errorf("service %s: invalid worker name %q", name, w.Name)
			}
		}
	}
	return nil
}

// ServiceNames returns the catalog's service names in sorted order.
func (c *Catalog) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDefaultCatalog returns the embedded fallback catalog: the echo service answered in-process.
func GetDefaultCatalog() *Catalog {
	return &Catalog{
		Name:        "workerbridge-default",
		Version:     "1.0.0",
		Description: "Default catalog serving the echo handler in-process",
		Services: map[string]ServiceConfig{
			"echo": {
				Endpoint:       "/echo",
				TimeoutSeconds: 60,
				Description:    "Returns the submitted text",
				Workers: map[string]WorkerConfig{
					"public": {
						Local: "echo",
						ConfigInfo: map[string]interface{}{
							"input":  map[string]interface{}{"text": "string or list of strings"},
							"output": map[string]interface{}{"Result": "the submitted text"},
						},
					},
				},
			},
		},
	}
}
