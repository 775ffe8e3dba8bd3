package module

import (
	"fmt"
	"os"

	"github.com/fralau/protein"
)

// envModule wraps get_env (spec §6 "Environment variables": "get_env(NAME,
// default?) is exposed in expressions; it reads the process environment
// and returns a string"). It is always loaded into the builtins frame at
// interpreter start-up (see cmd/protein) in addition to being available
// through an explicit `.import_module: env`.
func envModule(env *Environment) {
	env.Export("get_env", getEnv)
}

func getEnv(args []protein.Node) (protein.Node, error) {
	if len(args) < 1 || args[0].Kind != protein.KindString {
		return protein.Null, fmt.Errorf("get_env requires a name argument")
	}

	if v, ok := os.LookupEnv(args[0].String); ok {
		return protein.String(v), nil
	}

	if len(args) >= 2 {
		return args[1], nil
	}

	return protein.Null, nil
}
