package guest

import (
	"path"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/sandbox/rpc"
)

// Standard library symbols gated by a permission. A symbol listed here is
// removed from its package unless the permission is granted. The os
// environment functions are always present but read a private environment
// that is seeded from the process only with PermEnv.
var gatedSymbols = map[string]map[string]string{
	"os": {
		"DirFS": rpc.PermRead, "Open": rpc.PermRead, "ReadDir": rpc.PermRead, "ReadFile": rpc.PermRead,
		"Readlink": rpc.PermRead, "Stat": rpc.PermRead, "Lstat": rpc.PermRead, "Getwd": rpc.PermRead,
		"Executable": rpc.PermRead, "Hostname": rpc.PermRead, "TempDir": rpc.PermRead,
		"UserCacheDir": rpc.PermRead, "UserConfigDir": rpc.PermRead, "UserHomeDir": rpc.PermRead,

		"Chdir": rpc.PermWrite, "Chmod": rpc.PermWrite, "Chown": rpc.PermWrite, "Chtimes": rpc.PermWrite,
		"Create": rpc.PermWrite, "CreateTemp": rpc.PermWrite, "Lchown": rpc.PermWrite, "Link": rpc.PermWrite,
		"Mkdir": rpc.PermWrite, "MkdirAll": rpc.PermWrite, "MkdirTemp": rpc.PermWrite, "NewFile": rpc.PermWrite,
		"OpenFile": rpc.PermWrite, "Remove": rpc.PermWrite, "RemoveAll": rpc.PermWrite, "Rename": rpc.PermWrite,
		"Symlink": rpc.PermWrite, "Truncate": rpc.PermWrite, "WriteFile": rpc.PermWrite,

		"StartProcess": rpc.PermRun, "FindProcess": rpc.PermRun, "Pipe": rpc.PermRun,
	},
	"io/ioutil": {
		"ReadDir": rpc.PermRead, "ReadFile": rpc.PermRead,
		"TempDir": rpc.PermWrite, "TempFile": rpc.PermWrite, "WriteFile": rpc.PermWrite,
	},
	"path/filepath": {
		"Abs": rpc.PermRead, "EvalSymlinks": rpc.PermRead, "Glob": rpc.PermRead,
		"Walk": rpc.PermRead, "WalkDir": rpc.PermRead,
	},
}

// Pure packages under otherwise gated prefixes.
var ungatedPackages = map[string]bool{
	"net/url":   true,
	"net/mail":  true,
	"net/netip": true,
}

// packagePermission returns the permission a whole package needs, or "".
func packagePermission(importPath string) string {
	switch {
	case ungatedPackages[importPath]:
		return ""
	case importPath == "net" || strings.HasPrefix(importPath, "net/"),
		importPath == "crypto/tls", importPath == "log/syslog", importPath == "expvar":
		return rpc.PermNet
	case importPath == "os/signal":
		return rpc.PermRun
	case importPath == "os/user", importPath == "go/build", importPath == "go/importer",
		strings.HasPrefix(importPath, "debug/"):
		return rpc.PermRead
	}
	return ""
}

type grants map[string]bool

func parseGrants(perms []string) (grants, error) {
	granted := make(grants, len(perms))
	for _, p := range perms {
		if !rpc.ValidPermission(p) {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown permission %q", p)
		}
		granted[p] = true
	}
	return granted, nil
}

// symbols returns the standard library as seen by a module holding granted.
func symbols(granted grants) interp.Exports {

	out := make(interp.Exports, len(stdlib.Symbols))
	for key, syms := range stdlib.Symbols {
		importPath := path.Dir(key)
		if need := packagePermission(importPath); need != "" && !granted[need] {
			continue
		}
		gates := gatedSymbols[importPath]
		if len(gates) == 0 {
			out[key] = syms
			continue
		}
		filtered := make(map[string]reflect.Value, len(syms))
		for name, v := range syms {
			if need, ok := gates[name]; ok && !granted[need] {
				continue
			}
			filtered[name] = v
		}
		out[key] = filtered
	}
	return out
}
