// Package dnssync keeps Cloudflare DNS records converged with the hostnames
// routed by the local Traefik instance.
package dnssync

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/voicepipe/voicepipe/errors"
)

// hostPattern matches Host(`example.org`) terms inside a router rule.
// Rules can combine several Host terms with && and ||; every term counts.
var hostPattern = regexp.MustCompile("Host\\(`([^`]+)`\\)")

type traefikConfig struct {
	HTTP struct {
		Routers map[string]struct {
			Rule string `yaml:"rule"`
		} `yaml:"routers"`
	} `yaml:"http"`
}

// ExtractHostnames parses a Traefik dynamic configuration file and returns
// the deduplicated, sorted hostnames referenced by its router rules.
func ExtractHostnames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read traefik config %s", path)
	}
	return extractFromYAML(data)
}

func extractFromYAML(data []byte) ([]string, error) {
	var cfg traefikConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse traefik config")
	}

	seen := make(map[string]struct{})
	for _, router := range cfg.HTTP.Routers {
		for _, m := range hostPattern.FindAllStringSubmatch(router.Rule, -1) {
			seen[strings.ToLower(m[1])] = struct{}{}
		}
	}

	hostnames := make([]string, 0, len(seen))
	for h := range seen {
		hostnames = append(hostnames, h)
	}
	sort.Strings(hostnames)
	return hostnames, nil
}
