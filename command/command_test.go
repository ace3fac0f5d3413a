package command

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xpdustry/simple-blacklist/config"
	"github.com/xpdustry/simple-blacklist/filter"
	"github.com/xpdustry/simple-blacklist/settings"
)

type harness struct {
	path     string
	registry *config.Registry
	settings *filter.Settings
	handler  *Handler
	sweeps   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		path:     filepath.Join(t.TempDir(), "config.json"),
		registry: config.NewRegistry(),
		settings: filter.NewSettings(),
	}
	if err := h.settings.Declare(h.registry); err != nil {
		t.Fatal(err)
	}
	if err := h.registry.Init(settings.New(h.path)); err != nil {
		t.Fatal(err)
	}
	if err := h.registry.LoadAll(); err != nil {
		t.Fatal(err)
	}
	h.handler = New(h.registry, h.settings, func() { h.sweeps++ })
	return h
}

func (h *harness) run(t *testing.T, args string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	err := h.handler.Run(buf, args)
	return buf.String(), err
}

func (h *harness) ok(t *testing.T, args string) string {
	t.Helper()
	out, err := h.run(t, args)
	if err != nil {
		t.Fatalf("Run(%q): %v", args, err)
	}
	return out
}

func (h *harness) fail(t *testing.T, args string, wantSubstring string) {
	t.Helper()
	_, err := h.run(t, args)
	if err == nil {
		t.Fatalf("Run(%q) succeeded, want an error", args)
	}
	if !IsUserError(err) {
		t.Fatalf("Run(%q) = %v, want a user error", args, err)
	}
	if !strings.Contains(err.Error(), wantSubstring) {
		t.Errorf("Run(%q) = %q, want it to contain %q", args, err.Error(), wantSubstring)
	}
}

func TestParseShellTokens(t *testing.T) {
	tests := []struct {
		input      string
		n          int
		wantTokens []string
		wantRest   string
	}{
		{"", 1, nil, ""},
		{"names", 1, []string{"names"}, ""},
		{"names add scam", 1, []string{"names"}, "add scam"},
		{"regex add ^bot\\d+$", 2, []string{"regex", "add"}, "^bot\\d+$"},
		{"  message   hello  world", 1, []string{"message"}, "hello  world"},
		{`"case-sensitive" on`, 1, []string{"case-sensitive"}, "on"},
		{"a b c", 0, []string{"a", "b", "c"}, ""},
	}
	for _, tt := range tests {
		gotTokens, gotRest := parseShellTokens(tt.input, tt.n)
		if diff := cmp.Diff(tt.wantTokens, gotTokens); diff != "" {
			t.Errorf("parseShellTokens(%q, %d) tokens mismatch (-want +got):\n%s", tt.input, tt.n, diff)
		}
		if gotRest != tt.wantRest {
			t.Errorf("parseShellTokens(%q, %d) rest = %q, want %q", tt.input, tt.n, gotRest, tt.wantRest)
		}
	}
}

func TestNames(t *testing.T) {
	h := newHarness(t)
	if out := h.ok(t, "names add free nitro"); out != "Nickname added to the list.\n" {
		t.Errorf("add output = %q", out)
	}
	if h.sweeps != 1 {
		t.Errorf("add ran %d sweeps, want 1", h.sweeps)
	}
	if !h.settings.Names.Contains("free nitro") {
		t.Error("multi word value wasn't stored whole")
	}
	h.fail(t, "names add free nitro", "already in the list")
	h.fail(t, "names add", "Missing argument")
	h.fail(t, "names del nothing", "not in the list")
	h.ok(t, "names del free nitro")
	if h.settings.Names.Len() != 0 {
		t.Error("del didn't remove the entry")
	}
	if h.sweeps != 1 {
		t.Error("del shouldn't sweep")
	}
}

func TestRegex(t *testing.T) {
	h := newHarness(t)
	h.ok(t, `regex add ^bot\d+$`)
	if !h.settings.Regex.Contains(`^bot\d+$`) {
		t.Errorf("backslashes weren't kept: %+v", h.settings.Regex.Entries())
	}
	h.fail(t, "regex add (broken", "Bad formatted regex")
	h.fail(t, `regex add ^bot\d+$`, "Regex already in the list.")
	h.fail(t, "regex del nope", "Regex not in the list.")
	if h.sweeps != 1 {
		t.Errorf("sweeps = %d, want 1", h.sweeps)
	}
}

func TestToggles(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct {
		args  string
		field *config.Field[bool]
		want  bool
	}{
		{"names off", h.settings.NamesEnabled, false},
		{"names on", h.settings.NamesEnabled, true},
		{"regex disable", h.settings.RegexEnabled, false},
		{"regex 1", h.settings.RegexEnabled, true},
		{"ignore-admin yes", h.settings.IgnoreAdmins, true},
		{"ignore-admin false", h.settings.IgnoreAdmins, false},
		{"case-sensitive true", h.settings.CaseSensitive, true},
		{"case-sensitive OFF", h.settings.CaseSensitive, false},
	} {
		t.Run(tc.args, func(t *testing.T) {
			h.ok(t, tc.args)
			if got := tc.field.Get(); got != tc.want {
				t.Errorf("%s = %v, want %v", tc.field.Name(), got, tc.want)
			}
		})
	}
	h.fail(t, "names maybe", "Must be 'add', 'del', 'on', or 'off'")
	h.fail(t, "ignore-admin maybe", "Must be 'on', or 'off'")
	h.fail(t, "case-sensitive", "Missing argument")
}

func TestIgnoreAdminTogglesIgnoreAdmins(t *testing.T) {
	h := newHarness(t)
	h.ok(t, "ignore-admin on")
	if !h.settings.IgnoreAdmins.Get() {
		t.Error("ignore-admin on didn't set ignore-admins")
	}
	if !h.settings.RegexEnabled.Get() {
		t.Error("ignore-admin touched regex-enabled")
	}
	h.ok(t, "ignore-admin off")
	if !h.settings.RegexEnabled.Get() {
		t.Error("ignore-admin off disabled the regex list")
	}
}

func TestMode(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct {
		args string
		want filter.Mode
	}{
		{"mode ban-ip", filter.ModeBanAddress},
		{"mode ban-uuid", filter.ModeBanIdentity},
		{"mode kick", filter.ModeKick},
	} {
		h.ok(t, tc.args)
		if got := h.settings.Mode.Get(); got != tc.want {
			t.Errorf("after %q mode = %q, want %q", tc.args, got, tc.want)
		}
	}
	h.fail(t, "mode nuke", "Working mode must be 'ban-ip', 'ban-uuid', or 'kick'")
}

func TestMessage(t *testing.T) {
	h := newHarness(t)
	h.ok(t, "message Go   away!")
	if got := h.settings.Message.Get(); got != "Go   away!" {
		t.Errorf("message = %q", got)
	}
	if out := h.ok(t, `message ""`); !strings.Contains(out, "set to default") {
		t.Errorf("reset output = %q", out)
	}
	if got := h.settings.Message.Get(); got != "" {
		t.Errorf("message = %q after reset", got)
	}
	h.fail(t, "message", "Missing argument")
}

func TestUnknownSubcommand(t *testing.T) {
	h := newHarness(t)
	h.fail(t, "frobnicate", "Invalid arguments")
}

func TestHelp(t *testing.T) {
	h := newHarness(t)
	out := h.ok(t, "help")
	if !strings.HasPrefix(out, "Usage:  blacklist") {
		t.Errorf("help output = %q", out)
	}
}

func TestShow(t *testing.T) {
	h := newHarness(t)
	h.ok(t, "names add scam")
	h.ok(t, "names add grief")
	h.ok(t, "regex off")
	h.settings.Names.IncrementFirst(func(key string) bool { return key == "scam" })

	out := h.ok(t, "")
	for _, want := range []string{
		"| Working mode: kick player",
		"| Kick message (can be empty): " + filter.DefaultMessage,
		"| Ignore admin players: no",
		"Nickname list: [total: 2 entries, enabled]",
		"Regex list: [empty, disabled]",
		"Entry",
		"scam",
		"grief",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("show output lacks %q:\n%s", want, out)
		}
	}
}

func TestReload(t *testing.T) {
	h := newHarness(t)
	h.ok(t, "names add scam")
	if err := h.registry.SaveAll(); err != nil {
		t.Fatal(err)
	}
	h.ok(t, "names add unsaved")
	h.ok(t, "reload")
	if h.settings.Names.Contains("unsaved") {
		t.Error("reload kept an unsaved entry")
	}
	if !h.settings.Names.Contains("scam") {
		t.Error("reload lost a saved entry")
	}

	if err := os.WriteFile(h.path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	h.fail(t, "reload", "Unable to reload")
	if !h.settings.Names.Contains("scam") {
		t.Error("failed reload dropped the loaded entries")
	}
}
