package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const configFilename = "config.json"

// Subset of the OCI runtime config the shim understands.
type bundleRoot struct {
	// Path is the path to the rootfs
	Path string `json:"path"`
}

type bundleProcess struct {
	// Args is the command to run
	Args []string `json:"args"`
	// Env is the environment variables to set
	Env []string `json:"env"`
}

type bundleConfig struct {
	Root    bundleRoot    `json:"root"`
	Process bundleProcess `json:"process"`
}

// Config is the validated view of a task bundle: where the rootfs is and
// which source file to interpret.
type Config struct {
	// Root is the absolute path to the rootfs.
	Root string
	// Entrypoint is the source file, relative to Root.
	Entrypoint string
	// Env is the environment for the interpreter process.
	Env []string
}

// Script returns the absolute path of the source file.
func (c *Config) Script() string {
	return filepath.Join(c.Root, c.Entrypoint)
}

// ReadConfig reads and validates the OCI config of a task bundle. The single
// process argument names the source file to run, relative to the rootfs.
func ReadConfig(bundle string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(bundle, configFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found in bundle %s", configFilename, bundle)
		}
		return nil, err
	}

	var config bundleConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, err)
	}

	root := config.Root.Path
	if root == "" {
		return nil, fmt.Errorf("root path not set in %s", configFilename)
	}
	if !filepath.IsAbs(root) {
		// The OCI spec allows a rootfs path relative to the bundle.
		root = filepath.Join(bundle, root)
	}

	if len(config.Process.Args) != 1 {
		return nil, fmt.Errorf("expected exactly one process arg naming the source file, got %d", len(config.Process.Args))
	}
	entrypoint := config.Process.Args[0]

	switch filepath.Ext(entrypoint) {
	case ".b", ".bf":
	default:
		return nil, fmt.Errorf("entry point %s is not a brainfuck source file", entrypoint)
	}

	script := filepath.Join(root, entrypoint)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source file %s does not exist in rootfs", entrypoint)
		}
		return nil, fmt.Errorf("checking source file %s: %w", entrypoint, err)
	}

	return &Config{
		Root:       root,
		Entrypoint: entrypoint,
		Env:        config.Process.Env,
	}, nil
}
