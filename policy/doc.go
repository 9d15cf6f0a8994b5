// Package policy holds the snippet trust boundary.
//
// A Policy is the single source of truth for which library namespaces a
// snippet may import, which identifiers are rejected outright and which
// builtins the restricted environment exposes. The security gate and the
// environment builder both read from the same Policy value, so the module
// allow-list can never drift between screening and execution.
//
// A Policy is immutable once built. The default document is embedded in the
// binary and can be replaced with a YAML file:
//
//	pol, err := policy.Load("/etc/snippetbox/policy.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(pol.AllowsModule("math"))
package policy
