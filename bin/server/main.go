package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xpdustry/simple-blacklist/server"

	blacklist "github.com/xpdustry/simple-blacklist"
)

func main() {
	config := server.DefaultConfig()

	configFile := flag.String("config", "", "YAML file overriding the defaults. Flags override the file.")
	sshAddr := flag.String("ssh", "", "Where to listen to SSH connections.")
	dir := flag.String("dir", "", "Where to save the settings, player database and keys.")
	logFile := flag.String("log", "", "File to copy the log to, rotated when it grows.")

	flag.Parse()

	if *configFile != "" {
		if err := config.LoadFile(*configFile); err != nil {
			log.Fatal(err)
		}
	}
	if *sshAddr != "" {
		config.SSHAddr = *sshAddr
	}
	if *dir != "" {
		config.Dir = *dir
	}
	if *logFile != "" {
		config.LogFile = *logFile
	}
	defer server.SetupLogging(config).Close()

	srv, err := server.New(config)
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Start(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		log.Println(blacklist.StackTrace(err))
	}
}
