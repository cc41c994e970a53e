package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/rotation"
)

// writeStructured renders v as json or yaml. It reports false for any other
// format so the caller can fall back to its table.
func writeStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case "", "table":
		return false, nil
	default:
		return true, fmt.Errorf("unsupported output format: %s (use table, json or yaml)", format)
	}
}

var actionSymbols = map[binder.ActionType]string{
	binder.ActionCreate:  "+",
	binder.ActionUpdate:  "~",
	binder.ActionReplace: "-/+",
}

func printPlan(w io.Writer, p *binder.Plan) {
	fmt.Fprintf(w, "Spec %s, credential %s (login %s)\n", p.Spec, p.CredentialID, p.Login)
	if p.IsEmpty() {
		fmt.Fprintf(w, "\n%s\n", p.Summary())
		return
	}
	fmt.Fprintln(w)
	for _, a := range p.Actions {
		fmt.Fprintf(w, "  %s %s (%s)\n", actionSymbols[a.Type], a.Resource, a.Reason)
		for _, c := range a.Changes {
			if c.Before == "" {
				fmt.Fprintf(w, "      %s: %q\n", c.Field, c.After)
				continue
			}
			fmt.Fprintf(w, "      %s: %q -> %q\n", c.Field, c.Before, c.After)
		}
	}
	fmt.Fprintf(w, "\n%s\n", p.Summary())
}

func printResult(w io.Writer, res *rotation.Result) {
	switch {
	case res.Status == rotation.StatusNoop:
		fmt.Fprintf(w, "%s: no changes, credential %s is current\n", res.Spec, res.NewCredential)
	case res.Promoted:
		fmt.Fprintf(w, "%s: credential %s is now current (%d steps, %s)\n",
			res.Spec, res.NewCredential, len(res.Steps), res.Duration.Round(time.Millisecond))
	default:
		fmt.Fprintf(w, "%s: %d steps applied, credential %s is current\n",
			res.Spec, len(res.Steps), res.NewCredential)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
