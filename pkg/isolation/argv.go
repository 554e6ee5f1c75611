// Package isolation rewrites a High-risk backend's command line into an
// invocation of an external isolation runtime: mcpbridge never talks to a
// container engine's API directly, it only constructs the argv the
// supervisor then execs in place of the backend's own command.
package isolation

import (
	"fmt"
	"sort"

	"github.com/open-mcp/mcpbridge/pkg/config"
)

// RuntimeBinary is the external executable mcpbridge rewrites High-risk
// stdio commands into. It is not configurable per backend spec; the
// isolation runtime is a fixed vector, not a per-backend choice.
const RuntimeBinary = "isolation"

// Rewrite builds the argv for running origCommand/origArgs inside the
// isolation runtime described by desc:
//
//	isolation run --rm [-e KEY=VAL]* [-v VOL]* [--network NET] IMAGE ORIG_CMD ARGS...
//
// desc must be complete (desc.Complete()); callers are expected to have
// already downgraded incomplete High-risk specs to Medium at config load
// time (pkg/config's validate).
func Rewrite(desc *config.IsolationDescriptor, env map[string]string, origCommand string, origArgs []string) ([]string, error) {
	if !desc.Complete() {
		return nil, fmt.Errorf("isolation: descriptor is incomplete, missing image")
	}

	argv := []string{RuntimeBinary, "run", "--rm"}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", fmt.Sprintf("%s=%s", k, env[k]))
	}

	for _, v := range desc.Volumes {
		argv = append(argv, "-v", v)
	}

	if desc.Network != "" {
		argv = append(argv, "--network", desc.Network)
	}

	argv = append(argv, desc.Image, origCommand)
	argv = append(argv, origArgs...)
	return argv, nil
}
