package filter

import (
	"github.com/pkg/errors"
	"github.com/xpdustry/simple-blacklist/config"
)

var (
	ErrInvalidPattern = config.ErrInvalidPattern
	ErrDuplicate      = errors.New("entry already in the list")
	ErrNotFound       = errors.New("entry not in the list")
	ErrInvalidMode    = errors.New("invalid working mode")
)

const (
	DefaultMessage = "A part of your nickname is prohibited."
)

// Mode is what happens to a subject whose nickname is blacklisted.
type Mode string

const (
	ModeKick        Mode = "kick"
	ModeBanIdentity Mode = "banuuid"
	ModeBanAddress  Mode = "banip"
)

var modeDescriptions = map[Mode]string{
	ModeKick:        "kick player",
	ModeBanIdentity: "ban player identity",
	ModeBanAddress:  "ban player address",
}

func (m Mode) Valid() bool {
	_, found := modeDescriptions[m]
	return found
}

func (m Mode) Description() string {
	if desc, found := modeDescriptions[m]; found {
		return desc
	}
	return string(m)
}

func (m Mode) check() error {
	if !m.Valid() {
		return errors.Wrapf(ErrInvalidMode, "%q", string(m))
	}
	return nil
}

// ParseMode accepts the command names (kick, ban-uuid, ban-ip) as well as
// the persisted ones.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "kick":
		return ModeKick, nil
	case "ban-uuid", "ban-id", string(ModeBanIdentity):
		return ModeBanIdentity, nil
	case "ban-ip", string(ModeBanAddress):
		return ModeBanAddress, nil
	}
	return "", errors.Wrapf(ErrInvalidMode, "%q", s)
}

// Settings are the persisted blacklist options.
type Settings struct {
	NamesEnabled  *config.Field[bool]
	RegexEnabled  *config.Field[bool]
	Names         *config.CountsField
	Regex         *config.CountsField
	Message       *config.Field[string]
	Mode          *config.Field[Mode]
	IgnoreAdmins  *config.Field[bool]
	CaseSensitive *config.Field[bool]
}

func NewSettings() *Settings {
	return &Settings{
		NamesEnabled:  config.NewField("names-enabled", "Whether nickname list is enabled", true),
		RegexEnabled:  config.NewField("regex-enabled", "Whether regex list is enabled", true),
		Names:         config.NewCountsField("names", "Nickname list"),
		Regex:         config.NewPatternCountsField("regex", "Regex list"),
		Message:       config.NewField("message", "Kick message (can be empty)", DefaultMessage),
		Mode:          config.NewField("mode", "Working mode", ModeKick).Validated(Mode.check),
		IgnoreAdmins:  config.NewField("ignore-admins", "Ignore admin players", false),
		CaseSensitive: config.NewField("case-sensitive", "Nickname list case sensitive", false),
	}
}

// Declare adds every option to r, in the order they appear in the document.
func (s *Settings) Declare(r *config.Registry) error {
	for _, f := range []config.Declarable{
		s.NamesEnabled,
		s.RegexEnabled,
		s.Names,
		s.Regex,
		s.Message,
		s.Mode,
		s.IgnoreAdmins,
		s.CaseSensitive,
	} {
		if err := r.Declare(f); err != nil {
			return err
		}
	}
	return nil
}

// AddName adds a nickname part with a zero counter.
func (s *Settings) AddName(name string) error {
	added, err := s.Names.PutIfAbsent(name, 0)
	if err != nil {
		return err
	}
	if !added {
		return errors.Wrapf(ErrDuplicate, "%q", name)
	}
	return nil
}

func (s *Settings) RemoveName(name string) error {
	if _, had := s.Names.Remove(name); !had {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	return nil
}

// AddPattern adds a regular expression with a zero counter.
func (s *Settings) AddPattern(pattern string) error {
	added, err := s.Regex.PutIfAbsent(pattern, 0)
	if err != nil {
		return err
	}
	if !added {
		return errors.Wrapf(ErrDuplicate, "%q", pattern)
	}
	return nil
}

func (s *Settings) RemovePattern(pattern string) error {
	if _, had := s.Regex.Remove(pattern); !had {
		return errors.Wrapf(ErrNotFound, "%q", pattern)
	}
	return nil
}
