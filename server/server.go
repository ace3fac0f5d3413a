// Package server runs an SSH lobby that checks the nickname of every
// connecting player against the blacklist.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xpdustry/simple-blacklist/audit"
	"github.com/xpdustry/simple-blacklist/command"
	"github.com/xpdustry/simple-blacklist/config"
	"github.com/xpdustry/simple-blacklist/filter"
	"github.com/xpdustry/simple-blacklist/lang"
	"github.com/xpdustry/simple-blacklist/pemfile"
	"github.com/xpdustry/simple-blacklist/settings"
	"golang.org/x/term"

	cache "github.com/go-pkgz/expirable-cache/v3"
	blacklist "github.com/xpdustry/simple-blacklist"
	gossh "golang.org/x/crypto/ssh"
)

const (
	maxCooldowns = 10000
)

var (
	ErrIDInUse        = errors.New("id in use")
	ErrNoIdentity     = errors.New("a public key is required to join")
	ErrNameEmpty      = errors.New("name empty")
	ErrRecentlyKicked = errors.New("recently kicked")
	ErrBanned         = errors.New("banned")
	ErrBlacklisted    = errors.New("blacklisted nickname")
)

// Arrival describes a connecting client.
type Arrival struct {
	Name     string
	Identity string
	Address  string
}

// Client is the connection of an arriving player.
type Client interface {
	io.Writer
	Close() error
}

type session struct {
	id      string
	subject filter.Subject
	out     io.Writer
	close   func() error
}

type Server struct {
	config    Config
	registry  *config.Registry
	settings  *filter.Settings
	gate      *filter.Gate
	commands  *command.Handler
	players   *Players
	audit     *audit.Logger
	cooldowns cache.Cache[string, time.Time]
	online    *blacklist.SyncMap[string, *session]
	admins    map[string]bool
}

// New opens the settings and player database in c.Dir. A settings document
// that can't be loaded is fatal.
func New(c Config) (*Server, error) {
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return nil, blacklist.WithStack(err)
	}
	s := &Server{
		config:    c,
		registry:  config.NewRegistry(),
		settings:  filter.NewSettings(),
		cooldowns: cache.NewCache[string, time.Time]().WithMaxKeys(maxCooldowns).WithTTL(filter.Grace),
		online:    blacklist.NewSyncMap[string, *session](),
		admins:    map[string]bool{},
	}
	for _, line := range c.AdminKeys {
		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, errors.Wrapf(err, "parsing admin key %q", line)
		}
		s.admins[gossh.FingerprintSHA256(key)] = true
	}
	if err := s.settings.Declare(s.registry); err != nil {
		return nil, err
	}
	if err := s.registry.Init(settings.New(c.SettingsPath())); err != nil {
		return nil, err
	}
	if err := s.registry.LoadAll(); err != nil {
		return nil, errors.Wrap(err, "loading settings")
	}
	players, err := OpenPlayers(c.path(playersFile))
	if err != nil {
		return nil, err
	}
	s.players = players
	s.audit = audit.New(c.path(auditFile), c.AuditMaxSizeMB)
	s.gate = filter.NewGate(filter.NewEngine(s.settings), s)
	s.commands = command.New(s.registry, s.settings, s.Sweep)
	return s, nil
}

func (s *Server) Settings() *filter.Settings {
	return s.settings
}

func (s *Server) Registry() *config.Registry {
	return s.registry
}

func (s *Server) Players() *Players {
	return s.players
}

// Close saves the settings and releases the database and the audit log.
func (s *Server) Close() error {
	var result []error
	if err := s.registry.SaveAll(); err != nil {
		result = append(result, err)
	}
	if err := s.players.Close(); err != nil {
		result = append(result, err)
	}
	if err := s.audit.Close(); err != nil {
		result = append(result, err)
	}
	if len(result) > 0 {
		return errs(result)
	}
	return nil
}

type errs []error

func (e errs) Error() string {
	return fmt.Sprintf("%+v", []error(e))
}

func (s *Server) hostKey() ([]byte, error) {
	params := pemfile.KeyParams{
		KeyPath:       s.config.path(privateKeyFile),
		SSHPubKeyPath: s.config.path(publicKeyFile),
	}
	if _, err := os.Stat(params.KeyPath); os.IsNotExist(err) {
		if err := params.Generate(); err != nil {
			return nil, err
		}
		log.Printf("Generated server key pair in %q", s.config.Dir)
	} else if err != nil {
		return nil, blacklist.WithStack(err)
	}
	return os.ReadFile(params.KeyPath)
}

// Start serves the lobby and the control socket until ctx is done, saving
// the settings periodically and a last time before returning.
func (s *Server) Start(ctx context.Context) error {
	pemBytes, err := s.hostKey()
	if err != nil {
		return err
	}
	signer, err := gossh.ParsePrivateKey(pemBytes)
	if err != nil {
		return blacklist.WithStack(err)
	}
	sshServer := &ssh.Server{
		Addr:    s.config.SSHAddr,
		Handler: s.HandleSession,
		PublicKeyHandler: func(ssh.Context, ssh.PublicKey) bool {
			return true
		},
		// Keyless clients get in only to be told they need a key.
		KeyboardInteractiveHandler: func(ssh.Context, gossh.KeyboardInteractiveChallenge) bool {
			return true
		},
	}
	if err := sshServer.SetOption(ssh.HostKeyPEM(pemBytes)); err != nil {
		return blacklist.WithStack(err)
	}
	sshListener, err := net.Listen("tcp", s.config.SSHAddr)
	if err != nil {
		return blacklist.WithStack(err)
	}
	controlListener, err := s.listenControl()
	if err != nil {
		sshListener.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg := sync.WaitGroup{}
	wg.Add(2)
	var saveErr error
	go func() {
		defer wg.Done()
		saveErr = s.registry.Autosave(ctx, s.config.AutosaveInterval)
	}()
	go func() {
		defer wg.Done()
		s.serveControl(ctx, controlListener)
	}()
	go func() {
		<-ctx.Done()
		sshServer.Close()
		controlListener.Close()
	}()

	log.Printf("Listening on %q with public key %q", sshListener.Addr(), gossh.FingerprintSHA256(signer.PublicKey()))
	serveErr := sshServer.Serve(sshListener)
	cancel()
	wg.Wait()
	if saveErr != nil {
		log.Printf("Final settings save failed: %v", saveErr)
	}
	if errors.Is(serveErr, ssh.ErrServerClosed) {
		return saveErr
	}
	return blacklist.WithStack(serveErr)
}

// HandleSession runs an SSH session from arrival to disconnect.
func (s *Server) HandleSession(sess ssh.Session) {
	identity := ""
	if key := sess.PublicKey(); key != nil {
		identity = gossh.FingerprintSHA256(key)
	}
	address := sess.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	t := term.NewTerminal(sess, "> ")
	ctx := sess.Context()
	sn, err := s.Admit(ctx, Arrival{Name: sess.User(), Identity: identity, Address: address}, closer{Writer: t, close: sess.Close})
	if err != nil {
		return
	}
	defer s.leave(ctx, sn)
	if err := s.lobby(blacklist.WithSessionID(ctx, sn.id), sn, t); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("session %s: %v", sn.id, err)
		log.Println(blacklist.StackTrace(err))
	}
}

type closer struct {
	io.Writer
	close func() error
}

func (c closer) Close() error {
	return c.close()
}

func (s *Server) subject(ctx context.Context, arrival Arrival) (filter.Subject, error) {
	result := filter.Subject{
		Name:     arrival.Name,
		Identity: arrival.Identity,
		Address:  arrival.Address,
		Admin:    s.admins[arrival.Identity],
	}
	_, seen, err := s.players.Get(ctx, arrival.Identity)
	if err != nil {
		return result, err
	}
	result.Seen = seen
	return result, nil
}

func (s *Server) reject(ctx context.Context, arrival Arrival, client Client, reason error) error {
	fmt.Fprintf(client, "Connection refused: %v\n", reason)
	client.Close()
	s.audit.Log(ctx, "rejected", audit.Rejected{
		Player: audit.Ref{Name: arrival.Name, Identity: arrival.Identity, Address: arrival.Address},
		Reason: reason.Error(),
	})
	return blacklist.WithStack(reason)
}

// Admit runs the connection checks for arrival. A refused client has been
// told why and closed, and the returned error wraps the reason.
func (s *Server) Admit(ctx context.Context, arrival Arrival, client Client) (*session, error) {
	sessionID := uuid.NewString()
	ctx = blacklist.WithSessionID(ctx, sessionID)
	switch {
	case arrival.Identity != "" && s.online.Has(arrival.Identity):
		return nil, s.reject(ctx, arrival, client, ErrIDInUse)
	case arrival.Identity == "":
		return nil, s.reject(ctx, arrival, client, ErrNoIdentity)
	case filter.Normalize(arrival.Name) == "":
		return nil, s.reject(ctx, arrival, client, ErrNameEmpty)
	}
	if s.cooling(arrival) {
		return nil, s.reject(ctx, arrival, client, ErrRecentlyKicked)
	}
	if banned, err := s.players.IsBanned(ctx, arrival.Identity, arrival.Address); err != nil {
		client.Close()
		return nil, err
	} else if banned {
		return nil, s.reject(ctx, arrival, client, ErrBanned)
	}

	subject, err := s.subject(ctx, arrival)
	if err != nil {
		client.Close()
		return nil, err
	}
	sn := &session{
		id:      sessionID,
		subject: subject,
		out:     client,
		close:   client.Close,
	}
	verdict, action := s.gate.Check(subject)
	if action.Kind != filter.None {
		if err := s.enforce(ctx, sn, verdict, action); err != nil {
			return nil, err
		}
		return nil, blacklist.WithStack(ErrBlacklisted)
	}

	// Admitted players are on record from here on, which gives them grace
	// when a later sweep kicks them.
	sn.subject.Seen = true
	if !s.online.SetIfAbsent(subject.Identity, sn) {
		return nil, s.reject(ctx, arrival, client, ErrIDInUse)
	}
	if err := s.players.RecordJoin(ctx, subject.Identity, subject.Name, subject.Address); err != nil {
		s.online.DelIf(subject.Identity, sn)
		client.Close()
		return nil, err
	}
	s.audit.Log(ctx, "connect", audit.Connect{Player: ref(subject), Admin: subject.Admin})
	s.broadcast(fmt.Sprintf("%s joined.", filter.Normalize(subject.Name)))
	return sn, nil
}

func ref(subject filter.Subject) audit.Ref {
	return audit.Ref{Name: subject.Name, Identity: subject.Identity, Address: subject.Address}
}

func (s *Server) cooling(arrival Arrival) bool {
	now := time.Now()
	for _, key := range []string{"id:" + arrival.Identity, "ip:" + arrival.Address} {
		if until, found := s.cooldowns.Get(key); found && now.Before(until) {
			return true
		}
	}
	return false
}

// enforce carries out action on the session and disconnects it.
func (s *Server) enforce(ctx context.Context, sn *session, verdict filter.Verdict, action filter.Action) error {
	subject := sn.subject
	defer sn.close()
	switch action.Kind {
	case filter.BanIdentity:
		if action.RecordIdentity {
			if err := s.players.RecordIdentity(ctx, subject.Identity, subject.Name, subject.Address); err != nil {
				return err
			}
		}
		if err := s.players.BanIdentity(ctx, subject.Identity); err != nil {
			return err
		}
	case filter.BanAddress:
		if err := s.players.BanAddress(ctx, subject.Address); err != nil {
			return err
		}
	}
	if action.Grace > 0 {
		until := time.Now().Add(action.Grace)
		s.cooldowns.Set("id:"+subject.Identity, until, action.Grace)
		s.cooldowns.Set("ip:"+subject.Address, until, action.Grace)
	}
	fmt.Fprintf(sn.out, "%s\n", action.Message)
	s.audit.Log(ctx, "blacklisted", audit.Blacklisted{
		Player:       ref(subject),
		List:         verdict.List.String(),
		Entry:        verdict.Entry,
		Uses:         verdict.Count,
		Action:       action.Kind.String(),
		Message:      action.Message,
		GraceSeconds: int(action.Grace / time.Second),
	})
	return nil
}

func (s *Server) leave(ctx context.Context, sn *session) {
	if s.online.DelIf(sn.subject.Identity, sn) {
		s.audit.Log(blacklist.WithSessionID(ctx, sn.id), "session_end", audit.SessionEnd{Player: ref(sn.subject)})
		s.broadcast(fmt.Sprintf("%s left.", filter.Normalize(sn.subject.Name)))
	}
}

// Sweep re-checks every connected player and disconnects the blacklisted ones.
func (s *Server) Sweep() {
	var subjects []filter.Subject
	for sn := range s.online.Values() {
		subjects = append(subjects, sn.subject)
	}
	for _, e := range s.gate.Sweep(subjects) {
		sn, found := s.online.GetHas(e.Subject.Identity)
		if !found {
			continue
		}
		ctx := blacklist.WithSessionID(context.Background(), sn.id)
		if err := s.enforce(ctx, sn, e.Verdict, e.Action); err != nil {
			log.Printf("enforcing on %q: %v", e.Subject.Name, err)
		}
		s.leave(ctx, sn)
	}
}

func (s *Server) broadcast(line string) {
	for sn := range s.online.Values() {
		fmt.Fprintln(sn.out, line)
	}
}

// Online returns the normalized names of connected players.
func (s *Server) Online() []string {
	var result []string
	for sn := range s.online.Values() {
		result = append(result, filter.Normalize(sn.subject.Name))
	}
	return result
}

// RunCommand runs a blacklist command on behalf of caller, writing its output to w.
func (s *Server) RunCommand(ctx context.Context, w io.Writer, caller audit.Ref, args string) error {
	err := s.commands.Run(w, args)
	entry := audit.Command{Caller: caller, Args: args}
	if err != nil {
		entry.Error = err.Error()
	}
	s.audit.Log(ctx, "command", entry)
	return err
}

func (s *Server) lobby(ctx context.Context, sn *session, t *term.Terminal) error {
	fmt.Fprintf(t, "Welcome %s! Type /help for commands.\n", filter.Normalize(sn.subject.Name))
	for {
		line, err := t.ReadLine()
		if err != nil {
			return blacklist.WithStack(err)
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case line == "/help":
			fmt.Fprintln(t, "/who lists players, /quit leaves.")
			if sn.subject.Admin {
				fmt.Fprintln(t, "/blacklist [args...] manages the blacklist, see /blacklist help.")
			}
		case line == "/who":
			online := s.Online()
			sort.Strings(online)
			fmt.Fprintf(t, "%s online: %s.\n", lang.Card(len(online), "player"), lang.Enumerator{}.Do(online...))
		case line == "/blacklist" || strings.HasPrefix(line, "/blacklist "):
			if !sn.subject.Admin {
				fmt.Fprintln(t, "You need admin permissions to use this command.")
				continue
			}
			args := strings.TrimPrefix(strings.TrimPrefix(line, "/blacklist"), " ")
			if err := s.RunCommand(ctx, t, ref(sn.subject), args); err != nil {
				if !command.IsUserError(err) {
					return err
				}
				fmt.Fprintln(t, err.Error())
			}
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(t, "Unknown command: %q\n", line)
		default:
			s.broadcast(fmt.Sprintf("<%s> %s", filter.Normalize(sn.subject.Name), line))
		}
	}
}

// Checking, Blacklisted and Updated make the server a filter.Listener.
func (s *Server) Checking(subject filter.Subject) {}

func (s *Server) Blacklisted(subject filter.Subject, verdict filter.Verdict, action filter.Action) {}

func (s *Server) Updated(list filter.List, entry string, count int) {
	log.Printf("%s entry %q now used %d times", list, entry, count)
}
