package main

import (
	"bufio"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mchat/config"
	"mchat/server"
	"mchat/store"
)

const controlSocketPath = "/tmp/mchat.sock"

func main() {
	cfg := config.Load()

	st, err := store.New()
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	srvConfig := &server.ServerConfig{
		Port:         cfg.Port,
		MaxUsers:     cfg.MaxUsers,
		MaxRooms:     cfg.MaxRooms,
		MaxRoomUsers: cfg.MaxRoomUsers,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	srv := server.New(st, srvConfig)

	// Start control socket for management commands
	go startControlSocket(srv)

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Shutdown("maintenance")
		os.Remove(controlSocketPath)
		os.Exit(0)
	}()

	log.Fatal(srv.Start())
}

func startControlSocket(srv *server.Server) {
	// Remove existing socket file
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.Printf("Control socket listening on %s", controlSocketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, conn)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 2)

	if len(parts) == 0 {
		conn.Write([]byte("ERROR|Invalid command\n"))
		return
	}

	switch parts[0] {
	case "stats":
		stats := srv.GetStats()
		conn.Write([]byte("OK|" + stats + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Give time for response to be sent
		time.Sleep(100 * time.Millisecond)

		log.Printf("Shutdown requested: reason=%s", reason)
		srv.Shutdown(reason)

		os.Remove(controlSocketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
