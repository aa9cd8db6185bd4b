package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	yaml "sigs.k8s.io/yaml/goyaml.v3"

	fskit "github.com/flexprice/go-kit/fs"
)

// Names of the config files searched, in order
var configFileNames = []string{"config.yaml", "config.yml"}

// LoadConfigOpts contains options for LoadConfig
type LoadConfigOpts struct {
	// Path to the config file, for example from a command-line flag
	// If set, EnvVar and the default search paths are ignored
	Path string
	// Name of the env var that can contain the path to the config file
	EnvVar string
	// Name of the folder searched in the home directory (as a dotted folder) and in /etc
	DirName string
}

// ConfigDest is the object the configuration is loaded into
type ConfigDest interface {
	SetLoadedConfigPath(path string)
}

// LoadConfig finds the configuration file and loads it into dst.
// References to env vars in the file, in the form "${NAME}", are expanded before parsing.
// If dst implements Validator, the loaded configuration is validated too.
func LoadConfig(dst ConfigDest, opts LoadConfigOpts) error {
	configFile, err := resolveConfigFile(opts)
	if err != nil {
		return err
	}

	err = loadConfigFile(dst, configFile)
	if err != nil {
		return NewConfigError(err, "Error loading config file")
	}
	dst.SetLoadedConfigPath(configFile)

	if v, ok := dst.(Validator); ok {
		err = v.Validate()
		if err != nil {
			return NewConfigError(err, "Invalid configuration")
		}
	}

	return nil
}

func resolveConfigFile(opts LoadConfigOpts) (string, error) {
	if opts.Path != "" {
		exists, _ := fskit.FileExists(opts.Path)
		if !exists {
			return "", NewConfigError("File "+opts.Path+" does not exist", "Error loading config file")
		}
		return opts.Path, nil
	}

	if opts.EnvVar != "" {
		configFile := os.Getenv(opts.EnvVar)
		if configFile != "" {
			exists, _ := fskit.FileExists(configFile)
			if !exists {
				return "", NewConfigError("Environmental variable "+opts.EnvVar+" points to a file that does not exist", "Error loading config file")
			}
			return configFile, nil
		}
	}

	searchPaths := []string{"."}
	if opts.DirName != "" {
		searchPaths = append(searchPaths, "~/."+opts.DirName, "/etc/"+opts.DirName)
	}
	for _, name := range configFileNames {
		configFile := findConfigFile(name, searchPaths...)
		if configFile != "" {
			return configFile, nil
		}
	}

	return "", NewConfigError("Could not find a configuration file config.yaml in "+describePaths(searchPaths), "Error loading config file")
}

func describePaths(searchPaths []string) string {
	quoted := make([]string, len(searchPaths))
	for i, p := range searchPaths {
		if p == "." {
			quoted[i] = "the current folder"
		} else {
			quoted[i] = "'" + p + "'"
		}
	}
	if len(quoted) == 1 {
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + ", or " + quoted[len(quoted)-1]
}

// Loads the configuration from a file, expanding references to env vars.
// "dst" must be a pointer to a struct.
func loadConfigFile(dst any, filePath string) error {
	data, err := os.ReadFile(filePath) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err = dec.Decode(dst)
	if err != nil {
		return fmt.Errorf("failed to decode config file '%s': %w", filePath, err)
	}

	return nil
}

func findConfigFile(fileName string, searchPaths ...string) string {
	for _, path := range searchPaths {
		expanded, _ := homedir.Expand(path)
		if expanded != "" {
			path = expanded
		}

		search := filepath.Join(path, fileName)
		exists, _ := fskit.FileExists(search)
		if exists {
			return search
		}
	}

	return ""
}
