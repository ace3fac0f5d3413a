package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/xpdustry/simple-blacklist/audit"
	"github.com/xpdustry/simple-blacklist/command"
	"github.com/xpdustry/simple-blacklist/lang"

	blacklist "github.com/xpdustry/simple-blacklist"
)

// Control socket commands. A request is a single line, the response is
// "OK" followed by any output, or "ERROR: <message>".
const (
	ControlBlacklist = "BLACKLIST"
	ControlSave      = "SAVE"
	ControlBans      = "BANS"
	// ControlUnban takes an identity fingerprint or an address.
	ControlUnban = "UNBAN"
)

const fingerprintPrefix = "SHA256:"

func (s *Server) listenControl() (net.Listener, error) {
	path := s.config.ControlSocketPath()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, blacklist.WithStack(err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, blacklist.WithStack(err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, blacklist.WithStack(err)
	}
	return ln, nil
}

func (s *Server) serveControl(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("control socket: %v", err)
			}
			return
		}
		go func() {
			defer conn.Close()
			s.handleControl(blacklist.WithSessionID(ctx, blacklist.NextUniqueID()), conn)
		}()
	}
}

func (s *Server) handleControl(ctx context.Context, conn net.Conn) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		fmt.Fprintf(conn, "ERROR: reading request: %v\n", err)
		return
	}
	out, err := s.Control(ctx, strings.TrimRight(line, "\r\n"))
	if err != nil {
		fmt.Fprintf(conn, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintln(conn, "OK")
	conn.Write(out)
}

// Control runs a single control socket request and returns its output.
func (s *Server) Control(ctx context.Context, request string) ([]byte, error) {
	verb, rest, _ := strings.Cut(request, " ")
	buf := &bytes.Buffer{}
	switch verb {
	case ControlBlacklist:
		if err := s.RunCommand(ctx, buf, audit.SystemRef(), rest); err != nil {
			if command.IsUserError(err) {
				return nil, err
			}
			log.Printf("control command %q: %v", rest, err)
			log.Println(blacklist.StackTrace(err))
			return nil, err
		}
	case ControlSave:
		if err := s.registry.SaveAll(); err != nil {
			return nil, err
		}
		fmt.Fprintln(buf, "Settings saved.")
	case ControlBans:
		if err := s.listBans(ctx, buf); err != nil {
			return nil, err
		}
	case ControlUnban:
		if err := s.unban(ctx, buf, strings.TrimSpace(rest)); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown command %q", verb)
	}
	return buf.Bytes(), nil
}

func (s *Server) listBans(ctx context.Context, w io.Writer) error {
	identities, err := s.players.BannedIdentities(ctx)
	if err != nil {
		return err
	}
	addresses, err := s.players.BannedAddresses(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s banned.\n", lang.Card(len(identities), "identity"))
	if len(identities) > 0 {
		t := table.New("Identity", "Last name", "Last address").WithWriter(w)
		for _, p := range identities {
			t.AddRow(p.Identity, p.LastName, p.LastAddress)
		}
		t.Print()
	}
	fmt.Fprintf(w, "%s banned.\n", lang.Card(len(addresses), "address"))
	for _, address := range addresses {
		fmt.Fprintf(w, "| %s\n", address)
	}
	return nil
}

func (s *Server) unban(ctx context.Context, w io.Writer, target string) error {
	if target == "" {
		return errors.New("missing identity or address to unban")
	}
	identity, address := "", target
	if strings.HasPrefix(target, fingerprintPrefix) {
		identity, address = target, ""
	}
	banned, err := s.players.IsBanned(ctx, identity, address)
	if err != nil {
		return err
	}
	if !banned {
		return errors.Errorf("%s is not banned", target)
	}
	if err := s.players.Unban(ctx, identity, address); err != nil {
		return err
	}
	s.audit.Log(ctx, "command", audit.Command{Caller: audit.SystemRef(), Args: ControlUnban + " " + target})
	fmt.Fprintf(w, "Unbanned %s.\n", target)
	return nil
}
