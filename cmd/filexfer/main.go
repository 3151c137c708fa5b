// Command filexfer is the client half of a file transfer: it requests a
// worker port from a filexferd dispatcher, negotiates sender/receiver
// roles and resume offset via the handshake, then runs the data-phase
// engine to completion.
package main

import (
	"bufio"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"

	"github.com/iLukSbr/filexfer/internal/fileinfo"
	"github.com/iLukSbr/filexfer/internal/handshake"
	"github.com/iLukSbr/filexfer/internal/protocol"
	"github.com/iLukSbr/filexfer/internal/receiver"
	"github.com/iLukSbr/filexfer/internal/rxlog"
	"github.com/iLukSbr/filexfer/internal/sender"
	"github.com/iLukSbr/filexfer/internal/session"
	"github.com/iLukSbr/filexfer/internal/socket"
	"github.com/iLukSbr/filexfer/internal/telemetry"
)

func main() {
	server := flag.String("server", "", "Dispatcher host:port (filexferd's well-known port)")
	push := flag.String("send", "", "Local file or directory to push to the server (a directory is walked, one session per regular file)")
	pull := flag.String("receive", "", "Remote filename to pull from the server")
	out := flag.String("o", "", "Local output path for a pull (default: basename of -receive)")
	mss := flag.Int("mss", protocol.MSS, "Data segment payload size")
	interactive := flag.Bool("interactive", false, "Prompt before resuming a cosend-eligible transfer")
	logFile := flag.String("summary", "", "Write the legacy per-transfer series/summary log to <path>_data.log")
	flag.Parse()

	if *server == "" || (*push == "" && *pull == "") {
		fmt.Fprintln(os.Stderr, "usage:")
		fmt.Fprintln(os.Stderr, "  filexfer -server host:port -send local/path")
		fmt.Fprintln(os.Stderr, "  filexfer -server host:port -receive remote-name [-o local/path]")
		os.Exit(2)
	}

	log := rxlog.New()

	var observer telemetry.Observer = telemetry.Noop{}
	if *logFile != "" {
		observer = telemetry.NewFileSink(*logFile)
	}

	decide := resumeDecider(*interactive)

	if *push != "" {
		if err := dispatchSend(*server, *push, *mss, observer, log, decide); err != nil {
			fmt.Fprintf(os.Stderr, "filexfer: %v\n", err)
			os.Exit(exitCodeFor(err))
		}
		return
	}

	sign, err := randomSign()
	if err != nil {
		fmt.Fprintf(os.Stderr, "filexfer: generate sign: %v\n", err)
		os.Exit(1)
	}
	sock, err := openSession(*server, sign, *mss, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filexfer: %v\n", err)
		os.Exit(1)
	}
	defer sock.Close()
	runReceive(sock, sign, *mss, *pull, *out, log, decide)
}

// dispatchSend sends path, which may be a single file or a directory. A
// directory is walked with filepath.WalkDir and every regular file found
// is pushed in its own session, named by the directory's own base name
// joined with the file's path relative to it, so the server lays the tree
// out the same way underneath its base directory.
func dispatchSend(server, path string, mss int, observer telemetry.Observer, log *rxlog.Logger, decide handshake.ResumeDecider) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !st.IsDir() {
		return sendOneFile(server, path, filepath.Base(path), mss, observer, log, decide)
	}

	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		remoteName := filepath.ToSlash(filepath.Join(filepath.Base(path), rel))
		return sendOneFile(server, p, remoteName, mss, observer, log, decide)
	})
}

// sendOneFile runs one complete push session: a fresh sign, a worker-port
// request, the handshake, then the sender engine.
func sendOneFile(server, localPath, remoteName string, mss int, observer telemetry.Observer, log *rxlog.Logger, decide handshake.ResumeDecider) error {
	sign, err := randomSign()
	if err != nil {
		return fmt.Errorf("generate sign: %w", err)
	}
	sock, err := openSession(server, sign, mss, log)
	if err != nil {
		return err
	}
	defer sock.Close()

	cfg := handshake.Config{
		Sock: sock, Peer: sock.Peer(), Sign: sign, MSS: mss,
		LocalPath: localPath, RemoteName: remoteName, Log: log,
	}
	outcome, err := handshake.RunAsSender(cfg, decide)
	if err != nil {
		return fmt.Errorf("handshake %s: %w", remoteName, err)
	}

	corr := session.NewID()
	s := sender.New(sender.Config{
		Sock: sock, Sign: sign, MSS: mss,
		StartSeq: protocol.StartSeq + 1, Offset: outcome.Offset,
		FileSize: outcome.FileSize, SrcPath: localPath,
		Observer: observer, Log: log, Session: corr.String(),
	})
	if err := s.Run(); err != nil {
		return fmt.Errorf("send %s: %w", remoteName, err)
	}
	fmt.Printf("sent %s (%d bytes) from offset %d\n", remoteName, outcome.FileSize, outcome.Offset)
	return nil
}

// openSession requests a worker port from the dispatcher for sign and
// binds a local socket peered to it, ready for the handshake leg.
func openSession(server string, sign uint16, mss int, log *rxlog.Logger) (socket.Socket, error) {
	workerAddr, err := requestWorkerPort(server, sign, mss, log)
	if err != nil {
		return nil, err
	}
	sock, err := socket.Listen(":0")
	if err != nil {
		return nil, fmt.Errorf("bind local socket: %w", err)
	}
	sock.SetPeer(workerAddr)
	return sock, nil
}

func randomSign() (uint16, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(protocol.SignUpperBound-protocol.SignLowerBound))
	if err != nil {
		return 0, err
	}
	return uint16(n.Int64() + protocol.SignLowerBound), nil
}

// requestWorkerPort sends REQUESTPORT to the dispatcher's well-known port
// and returns the address of the per-session worker it allocated,
// retrying on ErrReset with a freshly generated sign.
func requestWorkerPort(serverAddr string, sign uint16, mss int, log *rxlog.Logger) (*net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve server address: %w", err)
	}

	sock, err := socket.Listen(":0")
	if err != nil {
		return nil, fmt.Errorf("bind request socket: %w", err)
	}
	defer sock.Close()
	sock.SetPeer(udpAddr)

	for attempt := 0; attempt < protocol.HandshakeRetries; attempt++ {
		req := protocol.EncodeRequestPort(sign, mss)
		if err := sock.SendTo(udpAddr, req); err != nil {
			return nil, fmt.Errorf("send REQUESTPORT: %w", err)
		}

		raw, _, err := sock.RecvTimeout(protocol.HandshakeTimeout, protocol.FrameSize(protocol.ReMSS))
		if err != nil {
			if socket.IsTimeout(err) {
				continue
			}
			return nil, fmt.Errorf("recv port reply: %w", err)
		}
		replySign, port, err := protocol.DecodePortReply(raw)
		if err != nil {
			if err == protocol.ErrReset {
				sign, err = randomSign()
				if err != nil {
					return nil, err
				}
				log.Debugf("filexfer: sign collision, retrying with sign=%d", sign)
				continue
			}
			return nil, fmt.Errorf("decode port reply: %w", err)
		}
		if replySign != sign {
			continue
		}
		return &net.UDPAddr{IP: udpAddr.IP, Port: port}, nil
	}
	return nil, fmt.Errorf("filexfer: exhausted retries requesting a worker port")
}

func resumeDecider(interactive bool) handshake.ResumeDecider {
	if !interactive {
		return handshake.NonInteractive(handshake.DecisionCosend)
	}
	return func(local fileinfo.Info, peer fileinfo.Info) handshake.Decision {
		fmt.Printf("resume available at offset %d bytes (local file is %d bytes total) — resume? [Y/n] ", peer.Size, local.Size)
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		if len(line) > 0 && (line[0] == 'n' || line[0] == 'N') {
			return handshake.DecisionResend
		}
		return handshake.DecisionCosend
	}
}

func runReceive(sock socket.Socket, sign uint16, mss int, remoteName, outPath string, log *rxlog.Logger, decide handshake.ResumeDecider) {
	if outPath == "" {
		outPath = filepath.Base(remoteName)
	}
	cfg := handshake.Config{
		Sock: sock, Peer: sock.Peer(), Sign: sign, MSS: mss,
		LocalPath: outPath, RemoteName: remoteName, Log: log,
	}
	outcome, err := handshake.RunAsReceiver(cfg, decide)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filexfer: handshake: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	r := receiver.New(receiver.Config{
		Sock: sock, Sign: sign, MSS: mss,
		StartSeq: protocol.StartSeq + 1, Offset: outcome.Offset,
		FileSize: outcome.FileSize, FileMD5: outcome.PeerMD5,
		OutPath: outPath, Log: log,
	})
	if err := r.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "filexfer: receive: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("received %s (%d bytes) into %s from offset %d\n", remoteName, outcome.FileSize, outPath, outcome.Offset)
}

// exitCodeFor maps the handshake's sentinel errors onto distinct process
// exit codes, so scripts driving filexfer can branch without parsing text.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, handshake.ErrFileNotFound):
		return 3
	case errors.Is(err, handshake.ErrReset):
		return 4
	case errors.Is(err, handshake.ErrTimeout):
		return 5
	default:
		return 1
	}
}
