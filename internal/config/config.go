package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the main configuration structure
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	MCP     MCPConfig     `mapstructure:"mcp"`
	Stack   StackConfig   `mapstructure:"stack"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Apply   ApplyConfig   `mapstructure:"apply"`
	Logging LoggingConfig `mapstructure:"logging"`
	State   StateConfig   `mapstructure:"state"`
	Web     WebConfig     `mapstructure:"web"`
}

// AWSConfig contains AWS-specific configuration
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// MCPConfig contains Model Context Protocol configuration
type MCPConfig struct {
	ServerName string `mapstructure:"server_name"`
	Version    string `mapstructure:"version"`
}

// StackConfig describes the two-tier web stack that gets declared.
type StackConfig struct {
	Name                string `mapstructure:"name"`
	VPCCIDR             string `mapstructure:"vpc_cidr"`
	MaxAZs              int    `mapstructure:"max_azs"`
	PublicSubnetPrefix  int    `mapstructure:"public_subnet_prefix"`
	PrivateSubnetPrefix int    `mapstructure:"private_subnet_prefix"`
	WebInstanceType     string `mapstructure:"web_instance_type"`
	BastionInstanceType string `mapstructure:"bastion_instance_type"`
	ImageID             string `mapstructure:"image_id"`
	WebSSHKeyName       string `mapstructure:"web_ssh_key_name"`
	BastionSSHKeyName   string `mapstructure:"bastion_ssh_key_name"`
	CertificateARN      string `mapstructure:"certificate_arn"`
	BootstrapScript     string `mapstructure:"bootstrap_script"`
	ParameterKey        string `mapstructure:"parameter_key"`
	HealthCheckPath     string `mapstructure:"health_check_path"`
}

// PolicyConfig holds the access-policy knobs that are deliberately not hardcoded.
type PolicyConfig struct {
	BastionSSHCIDR               string `mapstructure:"bastion_ssh_cidr"`
	LoadBalancerAllowAllOutbound bool   `mapstructure:"load_balancer_allow_all_outbound"`
	ExpectationsFile             string `mapstructure:"expectations_file"`
}

// ApplyConfig controls the apply engine
type ApplyConfig struct {
	Concurrency    int  `mapstructure:"concurrency"`
	DryRun         bool `mapstructure:"dry_run"`
	TimeoutMinutes int  `mapstructure:"timeout_minutes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StateConfig contains state management configuration
type StateConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Port             int    `mapstructure:"port"`
	Host             string `mapstructure:"host"`
	EnableWebSockets bool   `mapstructure:"enable_websockets"`
	EnableMetrics    bool   `mapstructure:"enable_metrics"`
}

// Load loads configuration from file, environment variables, and defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.topology")

	return load(v)
}

// LoadFile loads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TOPOLOGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Key pairs and the certificate come from the deployment environment
	if keyName := os.Getenv("WEB_SSH_KEY_NAME"); keyName != "" {
		config.Stack.WebSSHKeyName = keyName
	}
	if keyName := os.Getenv("BASTION_SSH_KEY_NAME"); keyName != "" {
		config.Stack.BastionSSHKeyName = keyName
	}
	if arn := os.Getenv("CERTIFICATE_ARN"); arn != "" {
		config.Stack.CertificateARN = arn
	}
	if awsRegion := os.Getenv("AWS_REGION"); awsRegion != "" {
		config.AWS.Region = awsRegion
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "us-west-2")

	v.SetDefault("mcp.server_name", "web-topology")
	v.SetDefault("mcp.version", "1.0.0")

	// Stack defaults mirror the reference deployment
	v.SetDefault("stack.name", "WebApplication")
	v.SetDefault("stack.vpc_cidr", "10.0.0.0/16")
	v.SetDefault("stack.max_azs", 3)
	v.SetDefault("stack.public_subnet_prefix", 24)
	v.SetDefault("stack.private_subnet_prefix", 24)
	v.SetDefault("stack.web_instance_type", "t2.small")
	v.SetDefault("stack.bastion_instance_type", "t2.micro")
	v.SetDefault("stack.image_id", "resolve:ssm:/aws/service/ami-amazon-linux-latest/amzn2-ami-hvm-x86_64-gp2")
	v.SetDefault("stack.bootstrap_script", "scripts/setup-server.sh")
	v.SetDefault("stack.parameter_key", "/Instance/WebServer")
	v.SetDefault("stack.health_check_path", "/health_check")

	v.SetDefault("policy.bastion_ssh_cidr", "0.0.0.0/0")
	v.SetDefault("policy.load_balancer_allow_all_outbound", true)
	v.SetDefault("policy.expectations_file", "")

	v.SetDefault("apply.concurrency", 4)
	v.SetDefault("apply.dry_run", true)
	v.SetDefault("apply.timeout_minutes", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("state.file_path", "topology.state")

	v.SetDefault("web.port", 8080)
	v.SetDefault("web.host", "localhost")
	v.SetDefault("web.enable_websockets", true)
	v.SetDefault("web.enable_metrics", true)
}

// GetStateFilePath returns the full path to the state file
func (c *Config) GetStateFilePath() string {
	return c.State.FilePath
}

// GetWebAddress returns host:port for the HTTP server
func (c *Config) GetWebAddress() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}
