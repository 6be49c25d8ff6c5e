// Package config loads runner settings from config files, environment
// variables and CLI flags. Workflow semantics never live here: a
// workflow YAML must mean the same thing on every machine, so config
// only covers where artifacts go and how the agent binary is invoked.
package config

// Config holds all runner configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	AWS       AWSConfig       `mapstructure:"aws"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig configures the coding agent subprocess.
type AgentConfig struct {
	Path string `mapstructure:"path"`
	// KillGraceSeconds is the delay between SIGTERM and SIGKILL when a
	// step deadline expires.
	KillGraceSeconds int `mapstructure:"kill_grace_seconds"`
}

// ArtifactsConfig configures where run artifacts and the run index live.
type ArtifactsConfig struct {
	Root      string `mapstructure:"root"`
	IndexFile string `mapstructure:"index_file"`
}

// AWSConfig carries the Bedrock routing values exported to the agent.
type AWSConfig struct {
	Region string `mapstructure:"region"`
}
