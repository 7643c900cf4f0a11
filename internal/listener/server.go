// Package listener runs the eventing endpoint the zone players call back
// into: GENA NOTIFY deliveries plus plain GET for the audio files the bridge
// serves to the players.
package listener

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hgdev/sonos-bridge/internal/soap"
)

const (
	// acceptPoll bounds how long Accept blocks so shutdown is noticed.
	acceptPoll = 5 * time.Second
	// maxBodyBytes caps a NOTIFY body.
	maxBodyBytes = 10 << 20
	// ackDelay is waited before acknowledging a NOTIFY. Players drop
	// events on the floor when the ack races their own state machine.
	ackDelay = 22 * time.Millisecond
	// connTimeout bounds one connection end to end.
	connTimeout = 30 * time.Second
)

const notFoundPage = `<html><head><title>404 Not Found</title></head><body><h1>Not Found</h1></body></html>`

// PacketSink receives the packets extracted from one NOTIFY delivery.
type PacketSink interface {
	HandlePacket(serial string, pkt *soap.Packet)
}

// Server is a sequential single-connection HTTP listener. Players deliver
// events one at a time and expect ordered acknowledgement, so connections
// are handled strictly in arrival order.
type Server struct {
	addr   string
	sink   PacketSink
	roots  []string
	logger *log.Logger

	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a listener for addr. roots are the directories files are
// served from, tried in order.
func NewServer(addr string, sink PacketSink, roots []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		addr:   addr,
		sink:   sink,
		roots:  roots,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listen address and begins serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Printf("UPNP: event listener on %s", ln.Addr())

	s.wg.Add(1)
	go s.serve()
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and waits for the serve loop to drain.
func (s *Server) Stop() {
	close(s.done)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if tl, ok := s.ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(acceptPoll))
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Printf("UPNP: accept: %v", err)
			continue
		}
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	req, err := http.ReadRequest(bufio.NewReader(io.LimitReader(conn, maxBodyBytes)))
	if err != nil {
		s.logger.Printf("UPNP: bad request from %s: %v", conn.RemoteAddr(), err)
		return
	}
	defer req.Body.Close()

	switch req.Method {
	case "NOTIFY":
		s.handleNotify(conn, req)
	case http.MethodGet, http.MethodHead:
		s.handleFile(conn, req)
	default:
		writeResponse(conn, 405, "Method Not Allowed", "", nil)
	}
}

func (s *Server) handleNotify(conn net.Conn, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		s.logger.Printf("UPNP: read notify body: %v", err)
		writeResponse(conn, 400, "Bad Request", "", nil)
		return
	}

	serial, ok := serialFromSID(req.Header.Get("SID"))
	if !ok {
		s.logger.Printf("UPNP: notify with unusable SID %q dropped", req.Header.Get("SID"))
	} else {
		for _, pkt := range soap.ParsePropertySet(body, serial, time.Now()) {
			s.sink.HandlePacket(serial, pkt)
		}
	}

	// Ack slightly late on purpose; see ackDelay.
	time.Sleep(ackDelay)
	writeResponse(conn, 200, "OK", "", nil)
}

// serialFromSID maps a subscription ID back to the device serial embedded in
// it. SIDs shorter than 25 characters cannot carry one.
func serialFromSID(sid string) (string, bool) {
	if len(sid) <= 24 {
		return "", false
	}
	return sid[12:24], true
}

func (s *Server) handleFile(conn net.Conn, req *http.Request) {
	name := filepath.Clean("/" + req.URL.Path)
	for _, root := range s.roots {
		full := filepath.Join(root, name)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		contentType := mime.TypeByExtension(filepath.Ext(full))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if req.Method == http.MethodHead {
			writeResponse(conn, 200, "OK", contentType, nil)
		} else {
			writeResponse(conn, 200, "OK", contentType, data)
		}
		return
	}
	s.logger.Printf("UPNP: file not found: %s", name)
	writeResponse(conn, 404, "Not Found", "text/html", []byte(notFoundPage))
}

func writeResponse(conn net.Conn, status int, reason, contentType string, body []byte) {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason)
	if contentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n\r\n")
	conn.Write([]byte(b.String()))
	if len(body) > 0 {
		conn.Write(body)
	}
}
