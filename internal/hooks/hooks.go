package hooks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/apt-core/apt-core/internal/errstack"
)

// ProtocolVersions are the hook protocol versions this core understands,
// advertised in the hello handshake (spec.md §6).
var ProtocolVersions = []string{"0.1", "0.2"}

const (
	MethodHello = "org.debian.apt.hooks.hello"
	MethodBye   = "org.debian.apt.hooks.bye"
)

// Origin is one VerFile's originating archive, mirrored from verFiletoJson.
type Origin struct {
	Archive, Codename, Version, Origin, Label, Site string
}

func (o Origin) writeTo(w *Writer) {
	w.BeginObject()
	if o.Archive != "" {
		w.Name("archive").Value(o.Archive)
	}
	if o.Codename != "" {
		w.Name("codename").Value(o.Codename)
	}
	if o.Version != "" {
		w.Name("version").Value(o.Version)
	}
	if o.Origin != "" {
		w.Name("origin").Value(o.Origin)
	}
	if o.Label != "" {
		w.Name("label").Value(o.Label)
	}
	if o.Site != "" {
		w.Name("site").Value(o.Site)
	}
	w.EndObject()
}

// VersionInfo is one of a package transition's candidate/install/current
// version slots, mirrored from verIterToJson.
type VersionInfo struct {
	ID           int64
	Version      string
	Architecture string
	Pin          int
	Origins      []Origin
}

func (v VersionInfo) writeTo(w *Writer) {
	w.BeginObject()
	w.Name("id").ValueInt(v.ID)
	w.Name("version").Value(v.Version)
	w.Name("architecture").Value(v.Architecture)
	w.Name("pin").ValueInt(int64(v.Pin))
	w.Name("origins").BeginArray()
	for _, o := range v.Origins {
		o.writeTo(w)
	}
	w.EndArray()
	w.EndObject()
}

// Mode is a package's planned transition, mirrored from NotifyHook's
// Mode/Upgrade/Downgrade/ReInstall/Purge switch.
type Mode string

const (
	ModeInstall   Mode = "install"
	ModeUpgrade   Mode = "upgrade"
	ModeDowngrade Mode = "downgrade"
	ModeReinstall Mode = "reinstall"
	ModeDeinstall Mode = "deinstall"
	ModePurge     Mode = "purge"
)

// PackageTransition is one "packages[]" entry of the notification params.
type PackageTransition struct {
	ID           int64
	Name         string
	Architecture string
	Mode         Mode
	Automatic    bool
	Candidate    *VersionInfo
	Install      *VersionInfo
	Current      *VersionInfo
}

func (p PackageTransition) writeTo(w *Writer) {
	w.BeginObject()
	w.Name("id").ValueInt(p.ID)
	w.Name("name").Value(p.Name)
	w.Name("architecture").Value(p.Architecture)
	w.Name("mode").Value(string(p.Mode))
	w.Name("automatic").ValueBool(p.Automatic)

	w.Name("versions").BeginObject()
	if p.Candidate != nil {
		w.Name("candidate")
		p.Candidate.writeTo(w)
	}
	if p.Install != nil {
		w.Name("install")
		p.Install.writeTo(w)
	}
	if p.Current != nil {
		w.Name("current")
		p.Current.writeTo(w)
	}
	w.EndObject()
	w.EndObject()
}

// Hello returns the hello handshake document, mirroring BuildHelloMessage.
func Hello() string {
	w := NewWriter()
	w.BeginObject()
	w.Name("jsonrpc").Value("2.0")
	w.Name("method").Value(MethodHello)
	w.Name("id").ValueInt(0)
	w.Name("params").BeginObject()
	w.Name("versions").BeginArray()
	for _, v := range ProtocolVersions {
		w.Value(v)
	}
	w.EndArray()
	w.EndObject()
	w.EndObject()
	return w.String()
}

// Bye returns the bye notification document, mirroring BuildByeMessage.
func Bye() string {
	w := NewWriter()
	w.BeginObject()
	w.Name("jsonrpc").Value("2.0")
	w.Name("method").Value(MethodBye)
	w.Name("params").BeginObject()
	w.EndObject()
	w.EndObject()
	return w.String()
}

// Notify builds the method-specific transition notification, mirroring
// NotifyHook's "packages"/"unknown-packages" params.
func Notify(method string, transitions []PackageTransition, unknownPackages []string) string {
	w := NewWriter()
	w.BeginObject()
	w.Name("jsonrpc").Value("2.0")
	w.Name("method").Value(method)

	w.Name("params").BeginObject()
	w.Name("unknown-packages").BeginArray()
	for _, p := range unknownPackages {
		w.Value(p)
	}
	w.EndArray()

	w.Name("packages").BeginArray()
	for _, t := range transitions {
		t.writeTo(w)
	}
	w.EndArray()
	w.EndObject()
	w.EndObject()
	return w.String()
}

// HelloResponse is what the hook is expected to echo back after receiving
// Hello: a JSON-RPC result naming the single protocol version it picked.
type HelloResponse struct {
	Version string
}

// Hook wraps the dedicated socket FD a hook subprocess inherits (spec.md
// §6: "a JSON-RPC 2.0 handshake over a dedicated socket FD").
type Hook struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewHook wraps an already-connected socket (e.g. one end of a
// socketpair(2) handed to the hook subprocess as an inherited FD).
func NewHook(conn net.Conn) *Hook {
	return &Hook{conn: conn, r: bufio.NewReader(conn)}
}

// Handshake sends Hello, reads back the hook's chosen protocol version,
// and fails if it isn't one of ProtocolVersions.
func (h *Hook) Handshake(stack *errstack.Stack) (string, error) {
	if _, err := fmt.Fprintln(h.conn, Hello()); err != nil {
		stack.Wrap(errstack.Error, errstack.WorkerFailure, "hook", err)
		return "", err
	}
	line, err := h.r.ReadString('\n')
	if err != nil {
		stack.Wrap(errstack.Error, errstack.WorkerFailure, "hook", err)
		return "", err
	}
	var resp struct {
		Result struct {
			Version string `json:"version"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		stack.Wrap(errstack.Error, errstack.WorkerFailure, "hook", err)
		return "", err
	}
	for _, v := range ProtocolVersions {
		if v == resp.Result.Version {
			return v, nil
		}
	}
	err = fmt.Errorf("hook: unsupported protocol version %q", resp.Result.Version)
	stack.Push(errstack.Error, errstack.WorkerFailure, "hook", err.Error())
	return "", err
}

// Notify sends a transition notification for the given method.
func (h *Hook) Notify(method string, transitions []PackageTransition, unknownPackages []string) error {
	_, err := fmt.Fprintln(h.conn, Notify(method, transitions, unknownPackages))
	return err
}

// Bye sends the closing notification and closes the connection.
func (h *Hook) Bye() error {
	if _, err := fmt.Fprintln(h.conn, Bye()); err != nil {
		return err
	}
	return h.conn.Close()
}
