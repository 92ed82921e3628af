package sandbox

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"

	"github.com/teranos/weave/errors"
)

// ResolvePath turns a module location into an absolute local path. It
// accepts "~/", relative paths and file:: or file:// forms. Remote sources
// are refused.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "empty module path")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "failed to get home directory")
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	detected, err := getter.Detect(path, pwd, getter.Detectors)
	if err != nil {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "invalid module path %s: %v", path, err)
	}
	detected = strings.TrimPrefix(detected, "file::")

	u, err := url.Parse(detected)
	if err != nil {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "parse module path %s: %v", path, err)
	}
	switch u.Scheme {
	case "file":
		return u.Path, nil
	case "":
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", errors.Wrap(err, "failed to make absolute path")
		}
		return abs, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidRequest, "unsupported module source %s (expected a local path)", u.Scheme)
}
