package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ecclesia-app/ecclesia/internal/operations"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
)

// CatalogValidateOptions defines available flags for the catalog validate command.
type CatalogValidateOptions struct {
	File       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CatalogSummary describes the JSON response for catalog validate.
type CatalogSummary struct {
	OK          bool             `json:"ok"`
	Source      string           `json:"source"`
	Permissions int              `json:"permissions"`
	Modules     []ModuleSummary  `json:"modules"`
	Roles       []RoleSummary    `json:"roles"`
	Problems    []CatalogProblem `json:"problems"`
}

// ModuleSummary counts the permissions of one module.
type ModuleSummary struct {
	Module  string   `json:"module"`
	Actions []string `json:"actions"`
}

// RoleSummary counts the default permissions of one role.
type RoleSummary struct {
	Role     string `json:"role"`
	Defaults int    `json:"defaults"`
}

// CatalogProblem reports one reason the catalog cannot be served.
type CatalogProblem struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// ValidateCatalogCommand loads the permission catalog with its role defaults,
// checks every guarded operation against it and prints the outcome. It exits
// 10 when the catalog would be rejected at startup.
func ValidateCatalogCommand(opts CatalogValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	summary := buildCatalogSummary(opts.File)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "catalog validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderCatalogHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

// RunOffline runs the subcommands that need neither configuration nor
// network access. It reports false when args name any other command.
func RunOffline(args []string, stdout, stderr io.Writer) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	switch args[0] {
	case "catalog":
		return RunCatalog(args[1:], stdout, stderr), true
	default:
		return 0, false
	}
}

// RunCatalog dispatches `catalog <command> [flags]`.
func RunCatalog(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "validate" {
		_, _ = fmt.Fprintln(stderr, "usage: ecclesia catalog validate [--file PATH] [--json]")
		return 2
	}
	fs := flag.NewFlagSet("catalog validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := CatalogValidateOptions{Stdout: stdout, Stderr: stderr}
	fs.StringVar(&opts.File, "file", "", "catalog YAML file; empty validates the embedded catalog")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print a JSON summary")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	return ValidateCatalogCommand(opts)
}

func buildCatalogSummary(file string) CatalogSummary {
	summary := CatalogSummary{
		Source:   "embedded",
		Modules:  []ModuleSummary{},
		Roles:    []RoleSummary{},
		Problems: []CatalogProblem{},
	}
	if strings.TrimSpace(file) != "" {
		summary.Source = file
	}
	cfg, err := rbac.LoadConfigFile(file)
	if err != nil {
		summary.Problems = append(summary.Problems, CatalogProblem{Kind: problemKind(err), Detail: err.Error()})
		return summary
	}

	perms := cfg.Catalog.List()
	summary.Permissions = len(perms)
	byModule := make(map[string][]string)
	var modules []string
	for _, p := range perms {
		m := string(p.Module)
		if _, ok := byModule[m]; !ok {
			modules = append(modules, m)
		}
		byModule[m] = append(byModule[m], string(p.Action))
	}
	for _, m := range modules {
		summary.Modules = append(summary.Modules, ModuleSummary{Module: m, Actions: byModule[m]})
	}
	for _, role := range rbac.Roles() {
		summary.Roles = append(summary.Roles, RoleSummary{Role: string(role), Defaults: cfg.Defaults.DefaultsFor(role).Len()})
	}

	if err := operations.Validate(cfg.Catalog, operations.Table()); err != nil {
		var unknown *rbac.UnknownPermissionError
		if errors.As(err, &unknown) {
			names := append([]string(nil), unknown.Names...)
			sort.Strings(names)
			for _, name := range names {
				summary.Problems = append(summary.Problems, CatalogProblem{Kind: "unguarded_operation", Detail: name})
			}
		} else {
			summary.Problems = append(summary.Problems, CatalogProblem{Kind: "operations", Detail: err.Error()})
		}
	}
	summary.OK = len(summary.Problems) == 0
	return summary
}

func problemKind(err error) string {
	switch {
	case errors.Is(err, rbac.ErrDuplicatePermission):
		return "duplicate_permission"
	case errors.Is(err, rbac.ErrUnknownPermission):
		return "unknown_permission"
	default:
		return "invalid_catalog"
	}
}

func renderCatalogHuman(out io.Writer, summary CatalogSummary) {
	_, _ = fmt.Fprintf(out, "Permission catalog (%s)\n", summary.Source)
	if len(summary.Problems) > 0 {
		_, _ = fmt.Fprintf(out, "%d problem(s) detected:\n", len(summary.Problems))
		for _, p := range summary.Problems {
			_, _ = fmt.Fprintf(out, " - %s: %s\n", p.Kind, p.Detail)
		}
		if summary.Permissions == 0 {
			return
		}
	} else {
		_, _ = fmt.Fprintf(out, "%d permissions, every guarded operation resolves.\n", summary.Permissions)
	}
	_, _ = fmt.Fprintln(out, "Modules:")
	for _, m := range summary.Modules {
		_, _ = fmt.Fprintf(out, " - %s (%s)\n", m.Module, strings.Join(m.Actions, ", "))
	}
	_, _ = fmt.Fprintln(out, "Role defaults:")
	for _, r := range summary.Roles {
		_, _ = fmt.Fprintf(out, " - %s: %d\n", r.Role, r.Defaults)
	}
}
