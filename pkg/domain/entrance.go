package domain

import "time"

// AppDomain is a custom hostname bound to an env.
// Unique on (host, path prefix) across the whole platform.
type AppDomain struct {
	Id           string
	Host         string
	PathPrefix   string
	AppCode      string
	ModuleName   string
	Environment  Environment
	HTTPSEnabled bool

	// SharedCertName references an AppDomainSharedCert, may be empty.
	SharedCertName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppDomainSharedCert is a TLS cert shared by many domains.
// Deleting a cert is blocked while any domain references it.
type AppDomainSharedCert struct {
	Name     string
	TenantId string

	// PEM encoded data.
	CertData []byte
	KeyData  []byte

	// AutoMatchCNs are hostname patterns (e.g. "*.example.com") used to
	// find WlApps whose domains this cert serves.
	AutoMatchCNs []string

	UpdatedAt time.Time
}

// RootDomain is one candidate root from a cluster's IngressConfig.
type RootDomain struct {
	Name         string `yaml:"name" json:"name"`
	HTTPSEnabled bool   `yaml:"https_enabled" json:"https_enabled"`
	Reserved     bool   `yaml:"reserved" json:"reserved"`
}

// IngressConfig enumerates per-cluster URL allocation material,
// in priority order.
type IngressConfig struct {
	AppRootDomains []RootDomain     `yaml:"app_root_domains" json:"app_root_domains"`
	SubpathDomains []RootDomain     `yaml:"sub_path_domains" json:"sub_path_domains"`
	PortMap        map[string]int32 `yaml:"port_map" json:"port_map"`
}

// Cluster is an addressable Kubernetes cluster the platform can schedule to.
type Cluster struct {
	Name          string
	APIServerURL  string
	Token         string
	CACertData    []byte
	IngressConfig IngressConfig
	FeatureFlags  map[string]bool
	IsDefault     bool
}
