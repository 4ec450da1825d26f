package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relay/blob"
	"relay/config"
	"relay/db"
	"relay/server"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

func main() {
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logrus.Fatalf("Invalid flags: %v", err)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := newLogger(cfg)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	blobs, err := blob.NewStore(afero.NewOsFs(), database, blob.Config{
		Dir:          cfg.UploadDir,
		MaxSize:      cfg.MaxUploadSize,
		AllowedTypes: cfg.AllowedTypes,
	})
	if err != nil {
		log.Fatalf("Failed to initialize upload store: %v", err)
	}

	srv := server.New(blobs, &server.ServerConfig{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		SendBuffer:     cfg.SendBuffer,
	}, log)

	stop := make(chan string, 1)

	if cfg.ControlSocket != "" {
		go startControlSocket(srv, cfg.ControlSocket, stop, log)
		defer os.Remove(cfg.ControlSocket)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Infof("Received signal %v, shutting down...", sig)
		stop <- "maintenance"
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
	case reason := <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := srv.Shutdown(ctx, reason); err != nil {
			log.Warnf("Shutdown error: %v", err)
		}
		cancel()
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func startControlSocket(srv *server.Server, path string, stop chan<- string, log *logrus.Logger) {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Errorf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()

	log.Infof("Control socket listening on %s", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		go handleControlCommand(srv, conn, stop, log)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, stop chan<- string, log *logrus.Logger) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}
		conn.Write([]byte("OK|Shutting down\n"))
		log.Infof("Shutdown requested: reason=%s", reason)

		select {
		case stop <- reason:
		default:
		}

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
