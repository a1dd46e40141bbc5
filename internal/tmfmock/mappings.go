package tmfmock

import (
	"os"

	"gopkg.in/yaml.v3"

	xerrors "IntentMCP/internal/errors"
)

// StubMapping describes one stubbed route the mock advertises through the
// admin endpoint, mirroring a WireMock mappings file.
type StubMapping struct {
	Name     string       `yaml:"name" json:"name"`
	Request  StubRequest  `yaml:"request" json:"request"`
	Response StubResponse `yaml:"response" json:"response"`
}

// StubRequest is the matched part of a stub.
type StubRequest struct {
	Method string `yaml:"method" json:"method"`
	URL    string `yaml:"url" json:"url"`
}

// StubResponse is the canned answer of a stub.
type StubResponse struct {
	Status int    `yaml:"status" json:"status"`
	Body   string `yaml:"body,omitempty" json:"body,omitempty"`
}

// defaultMappings covers the contract surface when no mappings file is
// configured.
func defaultMappings() []StubMapping {
	return []StubMapping{
		{
			Name:     "token endpoint",
			Request:  StubRequest{Method: "POST", URL: "/auth/keycloak_realm/protocol/openid-connect/token"},
			Response: StubResponse{Status: 200},
		},
		{
			Name:     "create intent",
			Request:  StubRequest{Method: "POST", URL: "/intent/"},
			Response: StubResponse{Status: 201},
		},
		{
			Name:     "fetch intent",
			Request:  StubRequest{Method: "GET", URL: "/intent/{ref}"},
			Response: StubResponse{Status: 200},
		},
		{
			Name:     "cancel intent",
			Request:  StubRequest{Method: "DELETE", URL: "/intent/{ref}"},
			Response: StubResponse{Status: 202},
		},
		{
			Name:     "health",
			Request:  StubRequest{Method: "GET", URL: "/health"},
			Response: StubResponse{Status: 200, Body: `{"status":"UP"}`},
		},
	}
}

// LoadMappings reads a YAML mappings file. An empty path yields the
// built-in defaults.
func LoadMappings(path string) ([]StubMapping, error) {
	if path == "" {
		return defaultMappings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "read stub mappings file")
	}
	var doc struct {
		Mappings []StubMapping `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "parse stub mappings file")
	}
	if len(doc.Mappings) == 0 {
		return defaultMappings(), nil
	}
	return doc.Mappings, nil
}
