// Package remote exposes a Processor's control surface over a
// websocket, so a UI or footswitch controller can switch models and
// tweak gains while audio keeps running locally.
//
// The protocol is JSON text messages. Every successful command is
// answered with a full status snapshot; failures produce an error
// message and leave the processor untouched. Model load requests are
// restricted to files inside the configured model directory.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/namcore"
)

var (
	// ErrNoProcessor is returned when a Server is created without a
	// processor.
	ErrNoProcessor = errors.New("server needs a processor")

	// ErrNoModelDir is returned when a Server is created without a
	// model directory.
	ErrNoModelDir = errors.New("server needs a model directory")

	// ErrModelOutsideDir is returned for load requests that resolve
	// outside the model directory.
	ErrModelOutsideDir = errors.New("model path escapes the model directory")
)

// defaultReadTimeout disconnects clients that go quiet without a
// ping; browsers on flaky networks vanish without a close frame.
const defaultReadTimeout = 60 * time.Second

// Config describes a control server.
type Config struct {
	// ModelDir is the only directory load commands may reference.
	ModelDir string

	// ReadTimeout disconnects idle clients. Zero selects the
	// default of one minute.
	ReadTimeout time.Duration
}

// Server bridges websocket clients onto one Processor. Create with
// NewServer and mount Handler on an HTTP server.
type Server struct {
	proc     *namcore.Processor
	cfg      Config
	upgrader websocket.Upgrader
}

// command is one client request.
type command struct {
	Type    string   `json:"type"`
	Model   string   `json:"model,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
	DB      *float64 `json:"db,omitempty"`
}

// statusReply mirrors the processor's observable state.
type statusReply struct {
	Type         string  `json:"type"`
	ModelLoaded  bool    `json:"model_loaded"`
	ModelName    string  `json:"model_name,omitempty"`
	ModelTitle   string  `json:"model_title,omitempty"`
	Architecture string  `json:"architecture,omitempty"`
	SampleRate   float64 `json:"sample_rate,omitempty"`
	Bypass       bool    `json:"bypass"`
	InputGainDB  float64 `json:"input_gain_db"`
	OutputGainDB float64 `json:"output_gain_db"`
	Normalize    bool    `json:"normalize"`
}

type errorReply struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

type pongReply struct {
	Type string `json:"type"`
}

// NewServer creates a control server over proc.
//
// Parameters:
//   - proc: the processor to expose
//   - cfg: model directory and timeouts
//
// Returns:
//   - *Server: ready to mount
//   - error: validation failure
func NewServer(proc *namcore.Processor, cfg Config) (*Server, error) {
	if proc == nil {
		return nil, ErrNoProcessor
	}
	if cfg.ModelDir == "" {
		return nil, ErrNoModelDir
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewServer",
		"model_dir":    cfg.ModelDir,
		"read_timeout": cfg.ReadTimeout,
	}).Info("Created control server")

	return &Server{
		proc: proc,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the HTTP surface: the websocket control channel on
// /ws and a liveness probe on /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"model_loaded": s.proc.IsModelLoaded(),
		"model_name":   s.proc.ModelName(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.handleWS",
			"remote":   r.RemoteAddr,
			"error":    err,
		}).Error("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Server.handleWS",
		"remote":   r.RemoteAddr,
	}).Info("Control client connected")

	s.bumpDeadline(conn)
	conn.SetPongHandler(func(string) error {
		s.bumpDeadline(conn)
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.handleWS",
				"remote":   r.RemoteAddr,
				"error":    err,
			}).Info("Control client disconnected")
			return
		}
		s.bumpDeadline(conn)

		if messageType != websocket.TextMessage {
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.writeError(conn, "invalid json")
			continue
		}
		s.dispatch(conn, cmd)
	}
}

func (s *Server) bumpDeadline(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
}

// dispatch applies one command and answers it. Every mutation is
// acknowledged with the resulting status snapshot.
func (s *Server) dispatch(conn *websocket.Conn, cmd command) {
	logrus.WithFields(logrus.Fields{
		"function": "Server.dispatch",
		"type":     cmd.Type,
	}).Debug("Control command received")

	switch cmd.Type {
	case "ping":
		_ = conn.WriteJSON(pongReply{Type: "pong"})

	case "status":
		s.writeStatus(conn)

	case "load":
		path, err := s.resolveModelPath(cmd.Model)
		if err != nil {
			s.writeError(conn, err.Error())
			return
		}
		if err := s.proc.LoadModel(path); err != nil {
			s.writeError(conn, fmt.Sprintf("load failed: %v", err))
			return
		}
		s.writeStatus(conn)

	case "unload":
		s.proc.UnloadModel()
		s.writeStatus(conn)

	case "bypass":
		if cmd.Enabled == nil {
			s.writeError(conn, "bypass needs enabled")
			return
		}
		s.proc.SetBypass(*cmd.Enabled)
		s.writeStatus(conn)

	case "normalize":
		if cmd.Enabled == nil {
			s.writeError(conn, "normalize needs enabled")
			return
		}
		s.proc.SetOutputNormalization(*cmd.Enabled)
		s.writeStatus(conn)

	case "input_gain":
		if cmd.DB == nil {
			s.writeError(conn, "input_gain needs db")
			return
		}
		s.proc.SetInputGainDB(*cmd.DB)
		s.writeStatus(conn)

	case "output_gain":
		if cmd.DB == nil {
			s.writeError(conn, "output_gain needs db")
			return
		}
		s.proc.SetOutputGainDB(*cmd.DB)
		s.writeStatus(conn)

	default:
		s.writeError(conn, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

func (s *Server) writeStatus(conn *websocket.Conn) {
	reply := statusReply{
		Type:         "status",
		ModelLoaded:  s.proc.IsModelLoaded(),
		Bypass:       s.proc.Bypass(),
		InputGainDB:  s.proc.InputGainDB(),
		OutputGainDB: s.proc.OutputGainDB(),
		Normalize:    s.proc.OutputNormalization(),
	}
	if info, ok := s.proc.ModelInfo(); ok {
		reply.ModelName = info.Name
		reply.ModelTitle = info.Title
		reply.Architecture = info.Architecture
		reply.SampleRate = info.SampleRate
	}
	_ = conn.WriteJSON(reply)
}

func (s *Server) writeError(conn *websocket.Conn, detail string) {
	logrus.WithFields(logrus.Fields{
		"function": "Server.writeError",
		"detail":   detail,
	}).Warn("Control command rejected")
	_ = conn.WriteJSON(errorReply{Type: "error", Detail: detail})
}

// resolveModelPath maps a client-supplied model name onto the model
// directory and rejects anything that would land outside it.
func (s *Server) resolveModelPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty model name", ErrModelOutsideDir)
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q is absolute", ErrModelOutsideDir, name)
	}

	full := filepath.Join(s.cfg.ModelDir, filepath.Clean(name))
	rel, err := filepath.Rel(s.cfg.ModelDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrModelOutsideDir, name)
	}
	return full, nil
}
