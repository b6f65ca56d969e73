package vconfig

import "github.com/imdario/mergo"

// Merge overlays b's non-zero fields onto a, the same mergo.WithOverride
// shape VCFG uses to apply a build-time overlay onto a base config, and
// returns the merged result (a, mutated in place).
func Merge(a, b *Config) (*Config, error) {
	options := mergeStringSlice(a.Mount.Options, b.Mount.Options)
	if err := mergo.Merge(&a.Mount, &b.Mount, mergo.WithOverride); err != nil {
		return nil, err
	}
	a.Mount.Options = options

	if err := mergo.Merge(&a.Log, &b.Log, mergo.WithOverride); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&a.Cache, &b.Cache, mergo.WithOverride); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&a.Backing, &b.Backing, mergo.WithOverride); err != nil {
		return nil, err
	}

	return a, nil
}

func mergeStringSlice(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
