package logger

import (
	"fmt"
	"os"
	"runtime"
)

type Config struct {
	Level      Level             `json:"level"       yaml:"level"`
	Format     string            `json:"format"      yaml:"format"` // console, json, text
	Output     string            `json:"output"      yaml:"output"` // stdout, stderr, file
	FilePath   string            `json:"file_path"   yaml:"file_path"`
	MaxSize    int               `json:"max_size"    yaml:"max_size"` // MB
	MaxBackups int               `json:"max_backups" yaml:"max_backups"`
	MaxAge     int               `json:"max_age"     yaml:"max_age"` // days
	Compress   bool              `json:"compress"    yaml:"compress"`
	Fields     map[string]string `json:"fields"      yaml:"fields"` // static fields for k8s/docker
}

// Validate rejects combinations NewLogrusLogger would otherwise silently
// paper over.
func (c *Config) Validate() error {
	switch c.Format {
	case "", "console", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}

	switch c.Output {
	case "", "stdout", "stderr":
	case "file":
		if c.FilePath == "" {
			return fmt.Errorf("log output is file but file_path is empty")
		}
	default:
		return fmt.Errorf("unknown log output %q", c.Output)
	}

	return nil
}

func GetDefaultFields() Fields {
	hostname, _ := os.Hostname()

	fields := Fields{
		"hostname":   hostname,
		"pid":        os.Getpid(),
		"go_version": runtime.Version(),
	}

	envFields := map[string]string{
		"KUBERNETES_NAMESPACE":    "k8s_namespace",
		"KUBERNETES_POD_NAME":     "k8s_pod",
		"KUBERNETES_NODE_NAME":    "k8s_node",
		"KUBERNETES_SERVICE_NAME": "k8s_service",
		"DOCKER_IMAGE":            "docker_image",
		"APP_NAME":                "app_name",
		"APP_VERSION":             "app_version",
		"APP_ENV":                 "environment",
	}
	for env, field := range envFields {
		if v := os.Getenv(env); v != "" {
			fields[field] = v
		}
	}

	return fields
}

func NewDefaultConfig() *Config {
	config := &Config{
		Level:      LevelInfo,
		Format:     "console",
		Output:     "stdout",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
		Fields:     make(map[string]string),
	}

	// Only string-valued fields survive the round trip through config files.
	for k, v := range GetDefaultFields() {
		if str, ok := v.(string); ok {
			config.Fields[k] = str
		}
	}

	return config
}
