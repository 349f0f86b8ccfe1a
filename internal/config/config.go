package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Namespace     NamespaceConfig     `mapstructure:"namespace"`
	NodeStructure types.NodeStructure `mapstructure:"node_structure"`
	Points        PointsConfig        `mapstructure:"points"`
	Simulation    SimulationConfig    `mapstructure:"simulation"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig configures the OPC UA endpoint.
type ServerConfig struct {
	BindAddress        string        `mapstructure:"bind_address"`
	Port               int           `mapstructure:"port"`
	ResourcePath       string        `mapstructure:"resource_path"`
	AlternateHostnames []string      `mapstructure:"alternate_hostnames"`
	AllowAnonymous     bool          `mapstructure:"allow_anonymous"`
	SecurityPolicies   []string      `mapstructure:"security_policies"`
	MaxSessions        int           `mapstructure:"max_sessions"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MaxNodesPerRead    int           `mapstructure:"max_nodes_per_read"`
	MaxNodesPerBrowse  int           `mapstructure:"max_nodes_per_browse"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// EndpointURL returns the primary endpoint advertised to clients.
func (s *ServerConfig) EndpointURL() string {
	host := s.BindAddress
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
		if len(s.AlternateHostnames) > 0 {
			host = s.AlternateHostnames[0]
		}
	}
	return fmt.Sprintf("opc.tcp://%s:%d%s", host, s.Port, s.ResourcePath)
}

type NamespaceConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

type PointsConfig struct {
	Path string `mapstructure:"path"`
}

type SimulationConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	StrictWrites    bool          `mapstructure:"strict_writes"`
}

type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	JWTSecretEnv string `mapstructure:"jwt_secret_env"`
}

type LoggingConfig struct {
	Development        bool `mapstructure:"development"`
	EnableStartupInfo  bool `mapstructure:"enable_startup_info"`
	EnableNodeInfo     bool `mapstructure:"enable_node_info"`
	EnableTimerInfo    bool `mapstructure:"enable_timer_info"`
	EnableEndpointInfo bool `mapstructure:"enable_endpoint_info"`
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// OMS_SERVER_PORT overrides server.port
	v.SetEnvPrefix("OMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Points.Path != "" && !filepath.IsAbs(config.Points.Path) {
		config.Points.Path = filepath.Join(filepath.Dir(path), config.Points.Path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.port", 4840)
	v.SetDefault("server.resource_path", "/UA/ConfigServer")
	v.SetDefault("server.allow_anonymous", true)
	v.SetDefault("server.security_policies", []string{"None"})
	v.SetDefault("server.max_sessions", 100)
	v.SetDefault("server.max_connections", 100)
	v.SetDefault("server.max_nodes_per_read", 1000)
	v.SetDefault("server.max_nodes_per_browse", 1000)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("namespace.uri", "urn:openmachinesim:points")
	v.SetDefault("namespace.name", "ConfigNamespace")

	v.SetDefault("points.path", "points.json")

	v.SetDefault("simulation.default_interval", "1s")
	v.SetDefault("simulation.strict_writes", false)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", 8080)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.enable_startup_info", true)
	v.SetDefault("logging.enable_node_info", false)
	v.SetDefault("logging.enable_timer_info", false)
	v.SetDefault("logging.enable_endpoint_info", true)
}

// Validate checks settings the address space builder does not cover.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.ResourcePath, "/") {
		errs = append(errs, fmt.Errorf("server.resource_path must start with '/': %q", c.Server.ResourcePath))
	}
	for key, limit := range map[string]int{
		"server.max_sessions":         c.Server.MaxSessions,
		"server.max_connections":      c.Server.MaxConnections,
		"server.max_nodes_per_read":   c.Server.MaxNodesPerRead,
		"server.max_nodes_per_browse": c.Server.MaxNodesPerBrowse,
	} {
		if limit <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive: %d", key, limit))
		}
	}
	if c.Namespace.URI == "" {
		errs = append(errs, errors.New("namespace.uri is required"))
	}
	if c.NodeStructure.CustomRoot.NodeID == "" || c.NodeStructure.CustomRoot.BrowseName == "" {
		errs = append(errs, errors.New("node_structure.custom_root needs node_id and browse_name"))
	}
	if c.Points.Path == "" {
		errs = append(errs, errors.New("points.path is required"))
	}
	if c.Simulation.DefaultInterval <= 0 {
		errs = append(errs, fmt.Errorf("simulation.default_interval must be positive: %s", c.Simulation.DefaultInterval))
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	if c.HTTP.Enabled && c.HTTP.Port == c.Server.Port {
		errs = append(errs, fmt.Errorf("http.port and server.port both use %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
