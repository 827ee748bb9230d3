package command

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

// CLIConfig controls how a type is exposed as a kong subcommand.
type CLIConfig struct {
	// Path is the command path, the type code by default.
	Path        []string
	Description string
	Group       string
	Aliases     []string
	Hidden      bool
}

// WithCLI sets the command line exposure of a type.
func WithCLI(cfg CLIConfig) TypeOption {
	return func(t *Type) { t.cli = cfg }
}

// CLIConfig returns the command line exposure with defaults applied.
func (t *Type) CLIConfig() CLIConfig {
	cfg := t.cli
	if len(cfg.Path) == 0 {
		cfg.Path = []string{t.code}
	} else {
		cfg.Path = append([]string(nil), cfg.Path...)
	}
	if cfg.Description == "" {
		cfg.Description = t.description
	}
	return cfg
}

// CLIRunner runs the command selected on the command line. Callers bind it
// with kong.BindTo(impl, (*CLIRunner)(nil)) together with the context passed
// to RunCLI, kong.BindTo(ctx, (*context.Context)(nil)).
type CLIRunner interface {
	RunCLI(ctx context.Context, code string, params map[string]any) error
}

// CLITree maps kong command paths to registered codes.
type CLITree struct {
	root  *cliNode
	codes map[string]string
}

// CLI builds the kong model of every registered type, nested under prefix.
func (r *Registry) CLI(prefix ...string) (*CLITree, error) {
	r.mu.RLock()
	types := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i].code < types[j].code })

	tree := &CLITree{root: newCLINode(""), codes: make(map[string]string)}
	for _, t := range types {
		cfg := t.CLIConfig()
		path := append(append([]string(nil), prefix...), cfg.Path...)
		if err := tree.root.insert(path, cfg); err != nil {
			return nil, err
		}
		tree.codes[strings.Join(path, " ")] = t.code
	}
	return tree, nil
}

// Options returns the kong options embedding the tree.
func (t *CLITree) Options() ([]kong.Option, error) {
	model, err := t.root.buildKongModel()
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, nil
	}
	return []kong.Option{kong.Embed(model), kong.Bind(t)}, nil
}

// Code returns the type code selected by a kong command path.
func (t *CLITree) Code(command string) (string, bool) {
	code, ok := t.codes[strings.TrimSpace(command)]
	return code, ok
}

// cliCommand is the kong leaf shared by every registered type.
type cliCommand struct {
	Params string `name:"params" short:"p" help:"Command params as a JSON object." default:"{}"`
}

func (c *cliCommand) Run(ctx context.Context, kctx *kong.Context, tree *CLITree, runner CLIRunner) error {
	code, ok := tree.Code(kctx.Command())
	if !ok {
		return errors.New("no command type for cli path", errors.CategoryNotFound).
			WithTextCode("CLI_PATH_UNKNOWN").
			WithMetadata(map[string]any{"path": kctx.Command()})
	}
	params, err := ParseParams(c.Params)
	if err != nil {
		return err
	}
	return runner.RunCLI(ctx, code, params)
}

// ParseParams decodes a JSON object given on the command line. An empty
// string yields empty params.
func ParseParams(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	params := map[string]any{}
	if raw == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "params must be a JSON object").
			WithTextCode("CLI_PARAMS_INVALID")
	}
	return params, nil
}

type cliNode struct {
	name     string
	help     string
	group    string
	aliases  []string
	hidden   bool
	leaf     bool
	children map[string]*cliNode
}

func newCLINode(name string) *cliNode {
	return &cliNode{
		name:     name,
		children: make(map[string]*cliNode),
	}
}

func (n *cliNode) insert(path []string, cfg CLIConfig) error {
	if len(path) == 0 {
		return errors.New("cli path cannot be empty", errors.CategoryBadInput).
			WithTextCode("CLI_PATH_EMPTY")
	}

	curr := n
	for idx, segment := range path {
		child, ok := curr.children[segment]
		if !ok {
			child = newCLINode(segment)
			curr.children[segment] = child
		}

		if idx == len(path)-1 {
			if child.leaf || len(child.children) > 0 {
				return errors.New("cli command already registered for path", errors.CategoryConflict).
					WithTextCode("CLI_PATH_CONFLICT").
					WithMetadata(map[string]any{"path": strings.Join(path, " ")})
			}
			child.leaf = true
			child.help = cfg.Description
			child.aliases = cfg.Aliases
			child.hidden = cfg.Hidden
			child.group = cfg.Group
			return nil
		}

		if child.leaf {
			return errors.New("cli path nests under a command", errors.CategoryConflict).
				WithTextCode("CLI_PATH_CONFLICT").
				WithMetadata(map[string]any{"path": strings.Join(path, " ")})
		}
		curr = child
	}
	return nil
}

func (n *cliNode) buildKongModel() (any, error) {
	if len(n.children) == 0 {
		return nil, nil
	}

	rootVal, err := buildStructForNode(n)
	if err != nil {
		return nil, err
	}
	return rootVal.Addr().Interface(), nil
}

var cliCommandType = reflect.TypeOf(cliCommand{})

func buildStructForNode(node *cliNode) (reflect.Value, error) {
	childNames := make([]string, 0, len(node.children))
	for name := range node.children {
		childNames = append(childNames, name)
	}
	sort.Strings(childNames)

	fields := make([]reflect.StructField, 0, len(childNames))
	values := make([]reflect.Value, 0, len(childNames))
	usedNames := make(map[string]struct{})

	for _, name := range childNames {
		child := node.children[name]

		fieldName := exportFieldName(name)
		if _, exists := usedNames[fieldName]; exists {
			return reflect.Value{}, fmt.Errorf("duplicate CLI command field name after normalization: %s", fieldName)
		}
		usedNames[fieldName] = struct{}{}

		var fieldType reflect.Type
		var fieldValue reflect.Value

		if child.leaf {
			fieldType = cliCommandType
		} else {
			val, err := buildStructForNode(child)
			if err != nil {
				return reflect.Value{}, err
			}
			fieldType = val.Type()
			fieldValue = val
		}

		fields = append(fields, reflect.StructField{
			Name: fieldName,
			Type: fieldType,
			Tag:  buildStructTag(child),
		})
		values = append(values, fieldValue)
	}

	structType := reflect.StructOf(fields)
	structVal := reflect.New(structType).Elem()
	for idx, val := range values {
		if !val.IsValid() {
			continue
		}
		structVal.Field(idx).Set(val)
	}

	return structVal, nil
}

func buildStructTag(node *cliNode) reflect.StructTag {
	tags := []string{
		fmt.Sprintf(`name:"%s"`, escapeTag(node.name)),
		`cmd:""`,
	}
	if node.help != "" {
		tags = append(tags, fmt.Sprintf(`help:"%s"`, escapeTag(node.help)))
	}
	if node.group != "" {
		tags = append(tags, fmt.Sprintf(`group:"%s"`, escapeTag(node.group)))
	}
	if len(node.aliases) > 0 {
		tags = append(tags, fmt.Sprintf(`aliases:"%s"`, escapeTag(strings.Join(node.aliases, ","))))
	}
	if node.hidden {
		tags = append(tags, `hidden:""`)
	}

	return reflect.StructTag(strings.Join(tags, " "))
}

func exportFieldName(name string) string {
	var parts []string
	for _, part := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		parts = append(parts, strings.ToUpper(part[:1])+part[1:])
	}
	out := strings.Join(parts, "")
	if out == "" {
		out = "Cmd"
	}
	if first := rune(out[0]); !unicode.IsLetter(first) {
		out = "Cmd" + out
	}
	return out
}

func escapeTag(val string) string {
	val = strings.ReplaceAll(val, `\`, `\\`)
	val = strings.ReplaceAll(val, `"`, `\"`)
	return val
}
