// Package bootstrap loads the service catalog: which services the gateway exposes and which worker
// answers each authentication token.
package bootstrap

// WorkerConfig configures the worker of one token. Exactly one of Local (the name of a registered
// in-process handler) or a remote identity (Name and RoutingPattern) is meaningful; Local wins.
type WorkerConfig struct {
	Local          string      `json:"local,omitempty"`
	Name           string      `json:"name,omitempty"`
	RoutingPattern []string    `json:"routingPattern,omitempty"`
	ConfigInfo     interface{} `json:"configInfo,omitempty"`
}

// ServiceConfig is one catalog service.
type ServiceConfig struct {
	Endpoint       string                  `json:"endpoint,omitempty"`
	TimeoutSeconds int                     `json:"timeoutSeconds,omitempty"`
	Description    string                  `json:"description,omitempty"`
	Workers        map[string]WorkerConfig `json:"workers"`
}

// Catalog is the root of the bootstrap file.
type Catalog struct {
	Name        string                   `json:"name"`
	Version     string                   `json:"version"`
	Description string                   `json:"description,omitempty"`
	Services    map[string]ServiceConfig `json:"services"`
}

// EndpointOrDefault returns the configured endpoint, or "/<name>".
func (s ServiceConfig) EndpointOrDefault(name string) string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return "/" + name
}
