package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigPath finds the configuration file in dir using craftip's
// default naming convention and precedence.
//
// Precedence:
//  1. craftip.toml
//  2. craftip.yaml
//  3. craftip.yml
//
// JSON config files are intentionally not supported because JSON has no
// comments and these configs are expected to be annotated.
func DiscoverConfigPath(dir string) (string, error) {
	candidates := CandidateConfigPaths(dir)
	for _, p := range candidates {
		if isRegularFile(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found in %s; looked for %v", dir, candidates)
}

func CandidateConfigPaths(dir string) []string {
	return CandidateConfigPathsForBase(dir, "craftip")
}

func DiscoverConfigPathForBase(dir, base string) (string, error) {
	candidates := CandidateConfigPathsForBase(dir, base)
	for _, p := range candidates {
		if isRegularFile(p) {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found in %s; looked for %v", dir, candidates)
}

func CandidateConfigPathsForBase(dir, base string) []string {
	base = filepath.Base(base)
	if base == "" {
		base = "craftip"
	}
	return []string{
		filepath.Join(dir, base+".toml"),
		filepath.Join(dir, base+".yaml"),
		filepath.Join(dir, base+".yml"),
	}
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}
