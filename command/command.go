// Package command implements the blacklist administration command.
package command

import (
	"fmt"
	"io"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/xpdustry/simple-blacklist/config"
	"github.com/xpdustry/simple-blacklist/filter"
	"github.com/xpdustry/simple-blacklist/lang"

	blacklist "github.com/xpdustry/simple-blacklist"
)

const (
	emptyValue = `""`
)

const usage = `Usage:  blacklist
   or:  blacklist help
   or:  blacklist reload
   or:  blacklist <names|regex> <add|del> <value...>
   or:  blacklist <names|regex|ignore-admin|case-sensitive> <on|off>
   or:  blacklist mode <ban-ip|ban-uuid|kick>
   or:  blacklist message <text...>

Description:
  Allows to filter player nicknames, which contain specific text or match a regex.

Notes:
  - Colors and glyphs are removed before nickname verification.
  - Names are matched anywhere in the nickname, regexes against the whole nickname.
  - The "" (double quotes) value can be used to specify an empty value.
`

// Error is a mistake in the command line or a refused change, to be shown
// to whoever typed it.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func failf(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

var (
	errMissing = &Error{Message: "Missing argument(s). Use 'blacklist help' to see usage."}
	errInvalid = &Error{Message: "Invalid arguments. Use 'blacklist help' to see usage."}
)

// Handler runs blacklist commands against the settings.
type Handler struct {
	registry *config.Registry
	settings *filter.Settings
	// sweep re-checks connected players, called after a list gained an entry.
	sweep func()
}

func New(registry *config.Registry, settings *filter.Settings, sweep func()) *Handler {
	if sweep == nil {
		sweep = func() {}
	}
	return &Handler{
		registry: registry,
		settings: settings,
		sweep:    sweep,
	}
}

type command struct {
	names map[string]bool
	f     func(h *Handler, w io.Writer, rest string) error
}

type commands []command

func (c commands) attempt(h *Handler, w io.Writer, name string, rest string) (bool, error) {
	for _, cmd := range c {
		if cmd.names[name] {
			if err := cmd.f(h, w, rest); err != nil {
				return true, blacklist.WithStack(err)
			}
			return true, nil
		}
	}
	return false, nil
}

func m(s ...string) map[string]bool {
	res := map[string]bool{}
	for _, p := range s {
		res[p] = true
	}
	return res
}

// Run executes the arguments following "blacklist". Informational output
// goes to w. Refusals and usage mistakes are returned as *Error.
func (h *Handler) Run(w io.Writer, args string) error {
	parts, rest := parseShellTokens(args, 1)
	if len(parts) == 0 {
		return h.show(w)
	}
	found, err := h.commands().attempt(h, w, parts[0], rest)
	if err != nil {
		return err
	}
	if !found {
		return errInvalid
	}
	return nil
}

// IsUserError reports whether err is meant to be shown as is.
func IsUserError(err error) bool {
	var cmdErr *Error
	return errors.As(err, &cmdErr)
}

func (h *Handler) commands() commands {
	return []command{
		{
			names: m("help"),
			f: func(h *Handler, w io.Writer, _ string) error {
				fmt.Fprint(w, usage)
				return nil
			},
		},
		{
			names: m("reload"),
			f: func(h *Handler, w io.Writer, _ string) error {
				if err := h.registry.LoadAll(); err != nil {
					return failf("Unable to reload the configuration: %v", err)
				}
				fmt.Fprintln(w, "Configuration reloaded.")
				return nil
			},
		},
		{
			names: m("names"),
			f: func(h *Handler, w io.Writer, rest string) error {
				return h.list(w, rest, listOps{
					noun:    "Nickname",
					enabled: h.settings.NamesEnabled,
					add:     h.settings.AddName,
					remove:  h.settings.RemoveName,
					toggled: "nickname list",
				})
			},
		},
		{
			names: m("regex"),
			f: func(h *Handler, w io.Writer, rest string) error {
				return h.list(w, rest, listOps{
					noun:    "Regex",
					enabled: h.settings.RegexEnabled,
					add:     h.settings.AddPattern,
					remove:  h.settings.RemovePattern,
					toggled: "regex list",
				})
			},
		},
		{
			names: m("ignore-admin", "ignore-admins"),
			f: func(h *Handler, w io.Writer, rest string) error {
				return h.toggle(w, rest, h.settings.IgnoreAdmins,
					"Blacklists will ignore admin players.",
					"Blacklists will check everyone.")
			},
		},
		{
			names: m("case-sensitive"),
			f: func(h *Handler, w io.Writer, rest string) error {
				return h.toggle(w, rest, h.settings.CaseSensitive,
					"Nickname list is now case sensitive.",
					"Nickname list will now ignore the case.")
			},
		},
		{
			names: m("mode"),
			f: func(h *Handler, w io.Writer, rest string) error {
				parts, err := shellwords.SplitPosix(rest)
				if err != nil {
					return failf("Unable to parse %q: %v", rest, err)
				}
				if len(parts) == 0 {
					return errMissing
				}
				mode, err := filter.ParseMode(parts[0])
				if err != nil || len(parts) > 1 {
					return failf("Invalid argument. Working mode must be %s.",
						lang.Enumerator{Pattern: "'%s'", Operator: "or"}.Do("ban-ip", "ban-uuid", "kick"))
				}
				h.settings.Mode.Set(mode)
				fmt.Fprintf(w, "Working mode set to %s.\n", mode.Description())
				return nil
			},
		},
		{
			names: m("message"),
			f: func(h *Handler, w io.Writer, rest string) error {
				text := strings.TrimSpace(rest)
				switch text {
				case "":
					return errMissing
				case emptyValue:
					h.settings.Message.Set("")
					fmt.Fprintln(w, "Kick message for blacklisted nickname set to default.")
				default:
					h.settings.Message.Set(text)
					fmt.Fprintln(w, "Kick message for blacklisted nickname modified.")
				}
				return nil
			},
		},
	}
}

type listOps struct {
	noun    string
	toggled string
	enabled *config.Field[bool]
	add     func(string) error
	remove  func(string) error
}

func (h *Handler) list(w io.Writer, rest string, ops listOps) error {
	parts, value := parseShellTokens(rest, 1)
	if len(parts) == 0 {
		return errMissing
	}
	value = strings.TrimSpace(value)
	switch parts[0] {
	case "add":
		if value == "" {
			return errMissing
		}
		err := ops.add(value)
		switch {
		case errors.Is(err, filter.ErrInvalidPattern):
			return failf("Bad formatted regex: %v", err)
		case errors.Is(err, filter.ErrDuplicate):
			return failf("%s already in the list.", ops.noun)
		case err != nil:
			return err
		}
		fmt.Fprintf(w, "%s added to the list.\n", ops.noun)
		h.sweep()
		return nil
	case "del", "remove":
		if value == "" {
			return errMissing
		}
		err := ops.remove(value)
		switch {
		case errors.Is(err, filter.ErrNotFound):
			return failf("%s not in the list.", ops.noun)
		case err != nil:
			return err
		}
		fmt.Fprintf(w, "%s removed from the list.\n", ops.noun)
		return nil
	}
	if value != "" {
		return errInvalid
	}
	b, ok := parseBool(parts[0])
	if !ok {
		return failf("Invalid argument. Must be %s.",
			lang.Enumerator{Pattern: "'%s'", Operator: "or"}.Do("add", "del", "on", "off"))
	}
	ops.enabled.Set(b)
	if b {
		fmt.Fprintf(w, "Enabled %s.\n", ops.toggled)
	} else {
		fmt.Fprintf(w, "Disabled %s.\n", ops.toggled)
	}
	return nil
}

func (h *Handler) toggle(w io.Writer, rest string, field *config.Field[bool], on, off string) error {
	parts, err := shellwords.SplitPosix(rest)
	if err != nil {
		return failf("Unable to parse %q: %v", rest, err)
	}
	if len(parts) == 0 {
		return errMissing
	}
	b, ok := parseBool(parts[0])
	if !ok || len(parts) > 1 {
		return failf("Invalid argument. Must be %s.", lang.Enumerator{Pattern: "'%s'", Operator: "or"}.Do("on", "off"))
	}
	field.Set(b)
	if b {
		fmt.Fprintln(w, on)
	} else {
		fmt.Fprintln(w, off)
	}
	return nil
}

func parseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "enable", "enabled", "1":
		return true, true
	case "off", "false", "no", "disable", "disabled", "0":
		return false, true
	}
	return false, false
}

func enabledText(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// show prints the settings and both lists.
func (h *Handler) show(w io.Writer) error {
	s := h.settings
	message := s.Message.Get()
	if message == "" {
		message = "(default)"
	}
	fmt.Fprintln(w, "Settings:")
	fmt.Fprintf(w, "| %s: %s\n", s.Mode.Description(), s.Mode.Get().Description())
	fmt.Fprintf(w, "| %s: %s\n", s.Message.Description(), message)
	fmt.Fprintf(w, "| %s: %s\n", s.IgnoreAdmins.Description(), lang.YesNo(s.IgnoreAdmins.Get()))
	fmt.Fprintf(w, "| %s: %s\n", s.CaseSensitive.Description(), lang.YesNo(s.CaseSensitive.Get()))

	for _, l := range []struct {
		field   *config.CountsField
		enabled bool
	}{
		{field: s.Names, enabled: s.NamesEnabled.Get()},
		{field: s.Regex, enabled: s.RegexEnabled.Get()},
	} {
		entries := l.field.Entries()
		size := "empty"
		if len(entries) > 0 {
			size = "total: " + lang.Card(len(entries), "entry")
		}
		fmt.Fprintf(w, "\n%s: [%s, %s]\n", l.field.Description(), size, enabledText(l.enabled))
		if len(entries) == 0 {
			continue
		}
		t := table.New("Entry", "Uses").WithWriter(w)
		for _, e := range entries {
			t.AddRow(e.Key, e.Count)
		}
		t.Print()
	}
	return nil
}

// parseShellTokens parses up to n shell-style tokens from s and returns them plus the remaining string.
// If n <= 0, parses all tokens.
// Handles single quotes, double quotes, and backslash escapes.
func parseShellTokens(s string, n int) (tokens []string, rest string) {
	i := 0
	for (n <= 0 || len(tokens) < n) && i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		var token strings.Builder
		for i < len(s) && s[i] != ' ' && s[i] != '\t' {
			switch s[i] {
			case '\'':
				i++
				for i < len(s) && s[i] != '\'' {
					token.WriteByte(s[i])
					i++
				}
				if i < len(s) {
					i++ // skip closing quote
				}
			case '"':
				i++
				for i < len(s) && s[i] != '"' {
					if s[i] == '\\' && i+1 < len(s) {
						i++
					}
					token.WriteByte(s[i])
					i++
				}
				if i < len(s) {
					i++
				}
			case '\\':
				if i+1 < len(s) {
					i++
					token.WriteByte(s[i])
				}
				i++
			default:
				token.WriteByte(s[i])
				i++
			}
		}
		tokens = append(tokens, token.String())
	}
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return tokens, s[i:]
}
