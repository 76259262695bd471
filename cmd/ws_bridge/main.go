// Command ws_bridge exposes an ACP agent subprocess over WebSocket. Each
// connection starts its own agent; text frames are written to the agent's
// stdin as lines and every stdout line is sent back as one text frame.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/thinkact/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	command := flag.Args()
	if len(command) == 0 {
		command = []string{"thinkact", "-acp"}
	}

	http.Handle("/ws", newHandler(command, logger))
	logger.Info("websocket bridge running", slog.String("addr", *addr), slog.Any("command", command))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("bridge stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newHandler(command []string, logger *slog.Logger) http.Handler {
	log := logging.Component(logger, "ws_bridge")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", slog.Any("error", err))
			return
		}
		defer conn.Close()

		cmd := exec.CommandContext(r.Context(), command[0], command[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			log.Error("stdin pipe", slog.Any("error", err))
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			log.Error("stdout pipe", slog.Any("error", err))
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			log.Error("stderr pipe", slog.Any("error", err))
			return
		}
		if err := cmd.Start(); err != nil {
			log.Error("failed to start agent", slog.Any("error", err))
			return
		}
		log.Info("agent started", slog.Int("pid", cmd.Process.Pid), slog.String("remote", r.RemoteAddr))

		var wg sync.WaitGroup
		wg.Add(2)
		// agent stdout -> websocket
		go func() {
			defer wg.Done()
			scanner := bufio.NewScanner(stdout)
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				if err := conn.WriteMessage(websocket.TextMessage, scanner.Bytes()); err != nil {
					log.Warn("websocket write failed", slog.Any("error", err))
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent exited"), deadline())
		}()
		// agent stderr -> bridge log
		go func() {
			defer wg.Done()
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				log.Info("agent", slog.String("stderr", scanner.Text()))
			}
		}()

		pump(conn, stdin, log)
		_ = stdin.Close()
		wg.Wait()
		if err := cmd.Wait(); err != nil {
			log.Info("agent exited", slog.Any("error", err))
		}
	})
}

func deadline() time.Time { return time.Now().Add(time.Second) }

// pump copies websocket frames to the agent's stdin until either side closes.
func pump(conn *websocket.Conn, stdin io.Writer, log *slog.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		if _, err := stdin.Write(append(msg, '\n')); err != nil {
			log.Warn("agent stdin write failed", slog.Any("error", err))
			return
		}
	}
}
