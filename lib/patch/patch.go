// Package patch rewrites line-oriented configuration files according to an
// ordered rule table. The same engine patches systemd unit files and the VPN
// server configuration; only the rule tables differ.
package patch

import (
	"fmt"
	"strings"
)

// Field names a value that rule templates can substitute.
type Field string

const (
	FieldAddress   Field = "address"
	FieldMask      Field = "mask"
	FieldSubnet    Field = "subnet"
	FieldNetmask   Field = "netmask"
	FieldInterface Field = "interface"
	FieldTunnel    Field = "tunnel"
	FieldPort      Field = "port"
)

// Values maps fields onto their textual values.
type Values map[Field]string

// Rule describes one rewrite. A line is selected when it contains Match
// (formatted with MatchArgs from the default values). A selected line is then
// replaced by Template formatted with Args from the current values, or blanked
// when Delete is set and deletion is enabled. A rule with neither Template nor
// an enabled Delete leaves the line untouched.
type Rule struct {
	Match     string  `json:"match"`
	MatchArgs []Field `json:"match_args,omitempty"`
	Template  string  `json:"template,omitempty"`
	Args      []Field `json:"args,omitempty"`
	Delete    bool    `json:"delete,omitempty"`
}

// Rules is an ordered rule table.
type Rules []Rule

// Context carries the substitution values for one Apply call.
type Context struct {
	// Current holds the negotiated values written into replacements.
	Current Values
	// Default holds the shipped default values used to build match strings.
	Default Values
	// DeleteEnabled allows Delete rules to blank lines.
	DeleteEnabled bool
}

// Apply returns a rewritten copy of lines. Rules are evaluated per line in
// table order against the line as rewritten so far. The input is not modified.
func Apply(lines []string, rules Rules, pc Context) ([]string, error) {
	out := make([]string, len(lines))
	copy(out, lines)

	for i := range out {
		for j, r := range rules {
			match, err := format(r.Match, r.MatchArgs, pc.Default)
			if err != nil {
				return nil, fmt.Errorf("rule %d match: %w", j, err)
			}
			if match == "" || !strings.Contains(out[i], match) {
				continue
			}

			if r.Delete {
				if pc.DeleteEnabled {
					out[i] = ""
				}
				continue
			}
			if r.Template == "" {
				continue
			}

			repl, err := format(r.Template, r.Args, pc.Current)
			if err != nil {
				return nil, fmt.Errorf("rule %d template: %w", j, err)
			}
			out[i] = repl
		}
	}
	return out, nil
}

// Validate checks that every rule can be formatted: a non-empty match, and
// template verbs that agree with the argument count.
func (rs Rules) Validate() error {
	probe := Values{
		FieldAddress:   "0.0.0.0",
		FieldMask:      "/0",
		FieldSubnet:    "0.0.0.0/0",
		FieldNetmask:   "0.0.0.0",
		FieldInterface: "if0",
		FieldTunnel:    "tun0",
		FieldPort:      "0",
	}
	for i, r := range rs {
		if strings.TrimSpace(r.Match) == "" {
			return fmt.Errorf("rule %d: empty match", i)
		}
		if r.Delete && r.Template != "" {
			return fmt.Errorf("rule %d: delete rules cannot carry a template", i)
		}
		if _, err := format(r.Match, r.MatchArgs, probe); err != nil {
			return fmt.Errorf("rule %d match: %w", i, err)
		}
		if r.Template != "" {
			if _, err := format(r.Template, r.Args, probe); err != nil {
				return fmt.Errorf("rule %d template: %w", i, err)
			}
		}
	}
	return nil
}

func format(tmpl string, fields []Field, vals Values) (string, error) {
	if len(fields) == 0 && !strings.Contains(tmpl, "%") {
		return tmpl, nil
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		v, ok := vals[f]
		if !ok {
			return "", fmt.Errorf("no value for field %q", f)
		}
		args[i] = v
	}
	s := fmt.Sprintf(tmpl, args...)
	if strings.Contains(s, "%!") {
		return "", fmt.Errorf("template %q does not take %d arguments", tmpl, len(fields))
	}
	return s, nil
}
