// Package config binds the server's CLI flags, each overridable by an
// environment variable of the same uppercased name, per spec §6. Grounded on
// original_source/src/args.rs (clap::Parser with `env` on every field);
// spf13/pflag is this pack's nearest equivalent to that flag+env binding.
package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Config holds the server's runtime configuration.
type Config struct {
	Host        string
	UsersFile   string
	StorageRoot string
	StrictStart bool
}

// Parse builds a Config from args (normally os.Args[1:]), applying
// environment overrides of the same uppercased flag name before flag
// defaults, matching clap's `env` attribute precedence: an explicit flag
// always wins, otherwise the environment variable, otherwise the default.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("grain", pflag.ContinueOnError)

	host := fs.String("host", envOr("HOST", "0.0.0.0:8888"), "address to listen on")
	usersFile := fs.String("users-file", envOr("USERS_FILE", "./tmp/users.json"), "path to the users JSON file")
	storageRoot := fs.String("storage-root", envOr("STORAGE_ROOT", "./tmp"), "root directory for blobs, manifests, and upload sessions")
	strict := fs.Bool("strict-start", envOr("STRICT_START", "false") == "true", "fail startup instead of starting with an empty user set on a missing/unparseable users file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &Config{
		Host:        *host,
		UsersFile:   *usersFile,
		StorageRoot: *storageRoot,
		StrictStart: *strict,
	}, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(strings.ToUpper(key)); ok {
		return v
	}
	return fallback
}
