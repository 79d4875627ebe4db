package domain

import "time"

type AppType string

const (
	AppTypeDefault     AppType = "default"
	AppTypeCloudNative AppType = "cloud_native"
	AppTypeEngineless  AppType = "engineless"
)

type Environment string

const (
	EnvStag Environment = "stag"
	EnvProd Environment = "prod"
)

func AsEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvStag:
		return EnvStag, nil
	case EnvProd:
		return EnvProd, nil
	}
	return "", NewInvalid("unknown environment: %s", s)
}

// Application is registered outside of the control plane.
// Rows are read-only here; only the identity and type matter.
type Application struct {
	Code      string
	Name      string
	Type      AppType
	TenantId  string
	Creator   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ExposedURLType string

const (
	ExposedSubdomain ExposedURLType = "subdomain"
	ExposedSubpath   ExposedURLType = "subpath"
	ExposedNone      ExposedURLType = "none"
)

type Module struct {
	AppCode             string
	Name                string
	IsDefault           bool
	Language            string
	ExposedURLType      ExposedURLType
	PreferredRootDomain string
	SourceOrigin        string
}

// ModuleEnv is one deployable environment of a module.
// It owns exactly one WlApp and resolves to exactly one cluster.
type ModuleEnv struct {
	AppCode     string
	ModuleName  string
	Environment Environment
	WlAppName   string
	ClusterName string
	IsOffline   bool
}

// WlApp is the workload twin of a ModuleEnv. Its namespace is dedicated:
// one namespace per environment.
type WlApp struct {
	Name          string
	AppCode       string
	ModuleName    string
	Environment   Environment
	Namespace     string
	Region        string
	Type          AppType
	MapperVersion MapperVersion
}

// MapperVersion pins an app to a resource naming convention generation.
type MapperVersion string

const (
	MapperV1 MapperVersion = "v1"
	MapperV2 MapperVersion = "v2"
)
