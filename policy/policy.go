package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/snippetbox/config"
)

//go:embed default.yaml
var defaultDocument []byte

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document is the serialized form of a Policy. It is what operators edit and
// what the executor ships to each worker process.
type Document struct {
	AllowedModules    []string            `yaml:"allowed_modules" json:"allowed_modules"`
	ModuleAliases     map[string][]string `yaml:"module_aliases" json:"module_aliases,omitempty"`
	DeniedIdentifiers []string            `yaml:"denied_identifiers" json:"denied_identifiers"`
	AllowedBuiltins   []string            `yaml:"allowed_builtins" json:"allowed_builtins"`
}

// Policy is the validated, read-only trust boundary.
type Policy struct {
	allowedModules    []string
	moduleSet         map[string]bool
	aliases           map[string][]string
	deniedIdentifiers []string
	allowedBuiltins   []string
	builtinSet        map[string]bool
}

// Default returns the policy embedded in the binary.
func Default() (*Policy, error) {
	return Parse(defaultDocument)
}

// Load reads a YAML policy document from path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// NewFromConfig loads the policy named by policy.file, or the embedded default
// when no file is configured.
func NewFromConfig(cfg *config.Config) (*Policy, error) {
	if cfg.Policy.File == "" {
		return Default()
	}
	return Load(cfg.Policy.File)
}

// Parse decodes and validates a YAML policy document. Unknown keys are
// rejected so that a typo cannot silently widen or narrow the boundary.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return New(doc)
}

// New validates doc and builds a Policy from a private copy of it.
func New(doc Document) (*Policy, error) {
	if len(doc.AllowedModules) == 0 {
		return nil, fmt.Errorf("policy must allow at least one module")
	}
	if len(doc.AllowedBuiltins) == 0 {
		return nil, fmt.Errorf("policy must allow at least one builtin")
	}

	p := &Policy{
		moduleSet:  make(map[string]bool),
		aliases:    make(map[string][]string),
		builtinSet: make(map[string]bool),
	}

	for _, m := range doc.AllowedModules {
		if !identifierPattern.MatchString(m) {
			return nil, fmt.Errorf("invalid module name in allowed_modules: %q", m)
		}
		p.moduleSet[m] = true
	}
	p.allowedModules = sortedKeys(p.moduleSet)

	bound := make(map[string]string)
	for module, aliases := range doc.ModuleAliases {
		if !p.moduleSet[module] {
			return nil, fmt.Errorf("alias target %q is not an allowed module", module)
		}
		for _, alias := range aliases {
			if !identifierPattern.MatchString(alias) {
				return nil, fmt.Errorf("invalid alias %q for module %q", alias, module)
			}
			if p.moduleSet[alias] {
				return nil, fmt.Errorf("alias %q shadows an allowed module", alias)
			}
			if other, ok := bound[alias]; ok && other != module {
				return nil, fmt.Errorf("alias %q is bound to both %q and %q", alias, other, module)
			}
			bound[alias] = module
			p.aliases[module] = append(p.aliases[module], alias)
		}
		slices.Sort(p.aliases[module])
		p.aliases[module] = slices.Compact(p.aliases[module])
	}

	denied := make(map[string]bool)
	for _, d := range doc.DeniedIdentifiers {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, fmt.Errorf("denied_identifiers must not contain empty entries")
		}
		denied[d] = true
	}
	p.deniedIdentifiers = sortedKeys(denied)

	for _, b := range doc.AllowedBuiltins {
		if !identifierPattern.MatchString(b) {
			return nil, fmt.Errorf("invalid builtin name in allowed_builtins: %q", b)
		}
		if denied[strings.ToLower(b)] {
			return nil, fmt.Errorf("builtin %q is both allowed and denied", b)
		}
		p.builtinSet[b] = true
	}
	p.allowedBuiltins = sortedKeys(p.builtinSet)

	return p, nil
}

// AllowedModules returns the sorted module allow-list.
func (p *Policy) AllowedModules() []string {
	return slices.Clone(p.allowedModules)
}

// AllowsModule reports whether name may be imported.
func (p *Policy) AllowsModule(name string) bool {
	return p.moduleSet[name]
}

// Aliases returns the extra names module is bound under.
func (p *Policy) Aliases(module string) []string {
	return slices.Clone(p.aliases[module])
}

// DeniedIdentifiers returns the sorted, lower-cased deny-list.
func (p *Policy) DeniedIdentifiers() []string {
	return slices.Clone(p.deniedIdentifiers)
}

// AllowedBuiltins returns the sorted builtin allow-list.
func (p *Policy) AllowedBuiltins() []string {
	return slices.Clone(p.allowedBuiltins)
}

// AllowsBuiltin reports whether name is an allowed builtin.
func (p *Policy) AllowsBuiltin(name string) bool {
	return p.builtinSet[name]
}

// Document returns a copy of the policy in serializable form.
func (p *Policy) Document() Document {
	aliases := make(map[string][]string, len(p.aliases))
	for module, names := range p.aliases {
		aliases[module] = slices.Clone(names)
	}
	return Document{
		AllowedModules:    p.AllowedModules(),
		ModuleAliases:     aliases,
		DeniedIdentifiers: p.DeniedIdentifiers(),
		AllowedBuiltins:   p.AllowedBuiltins(),
	}
}

// YAML renders the policy as a YAML document.
func (p *Policy) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p.Document()); err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return buf.Bytes(), nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
