// Package adaptermanager resolves an adapter type to a transport factory,
// detects installed adapters, and detects project type from workspace
// files.
package adaptermanager

import (
	"os/exec"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/zixiao-technologies/logos-sub002/errs"
	"github.com/zixiao-technologies/logos-sub002/launchconfig"
	"github.com/zixiao-technologies/logos-sub002/transport"
)

// TransportKind distinguishes how a Descriptor connects to its adapter.
type TransportKind int

const (
	KindStdio TransportKind = iota
	KindSocket
)

// SpawnSpec is the process invocation used for a Stdio descriptor.
type SpawnSpec struct {
	Command string
	Args    []string
}

// SocketSpec is the dial target used for a Socket descriptor.
type SocketSpec struct {
	Address string
}

// Descriptor is a registered adapter type.
type Descriptor struct {
	Type          string
	DisplayName   string
	TransportKind TransportKind
	Spawn         SpawnSpec
	Socket        SocketSpec
}

// Manager resolves adapter descriptors to Transports: a runtime registry
// of descriptors for the debugger backends reachable through one broker.
type Manager struct {
	log         logrus.FieldLogger
	descriptors map[string]Descriptor
}

// New constructs a Manager pre-seeded with descriptors for node, python,
// go, and cppdbg (gdb or lldb depending on host, via
// launchconfig.DefaultMIMode).
func New(log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{log: log, descriptors: make(map[string]Descriptor)}
	for _, d := range defaultDescriptors() {
		m.descriptors[d.Type] = d
	}
	return m
}

func defaultDescriptors() []Descriptor {
	// The generic cppdbg type resolves to the host's default MI debugger,
	// matching what DetectDebuggers recommends for C/C++ workspaces; the
	// explicit -gdb/-lldb variants remain for callers that want a specific
	// backend.
	cpp := Descriptor{
		Type: "cppdbg", DisplayName: "C/C++", TransportKind: KindStdio,
		Spawn: SpawnSpec{Command: "gdb", Args: []string{"-i=dap"}},
	}
	if launchconfig.DefaultMIMode() == "lldb" {
		cpp.Spawn = SpawnSpec{Command: "lldb-dap"}
	}
	return []Descriptor{
		cpp,
		{
			Type: "node", DisplayName: "Node.js", TransportKind: KindStdio,
			Spawn: SpawnSpec{Command: "node", Args: []string{"--inspect-brk"}},
		},
		{
			Type: "python", DisplayName: "Python (debugpy)", TransportKind: KindStdio,
			Spawn: SpawnSpec{Command: "python3", Args: []string{"-m", "debugpy.adapter"}},
		},
		{
			Type: "go", DisplayName: "Go (delve)", TransportKind: KindStdio,
			Spawn: SpawnSpec{Command: "dlv", Args: []string{"dap"}},
		},
		{
			Type: "cppdbg-gdb", DisplayName: "C/C++ (GDB)", TransportKind: KindStdio,
			Spawn: SpawnSpec{Command: "gdb", Args: []string{"-i=dap"}},
		},
		{
			Type: "cppdbg-lldb", DisplayName: "C/C++ (LLDB)", TransportKind: KindStdio,
			Spawn: SpawnSpec{Command: "lldb-dap"},
		},
	}
}

// Register adds or replaces a descriptor, letting callers extend the
// registry beyond the built-in set.
func (m *Manager) Register(d Descriptor) {
	m.descriptors[d.Type] = d
}

// GetAvailableAdapters lists every known descriptor.
func (m *Manager) GetAvailableAdapters() []Descriptor {
	out := make([]Descriptor, 0, len(m.descriptors))
	for _, d := range m.descriptors {
		out = append(out, d)
	}
	return out
}

// GetInstalledAdapters filters to descriptors whose executable resolves on
// the host's PATH.
func (m *Manager) GetInstalledAdapters() []Descriptor {
	var out []Descriptor
	for _, d := range m.descriptors {
		if d.TransportKind != KindStdio {
			out = append(out, d)
			continue
		}
		if _, err := exec.LookPath(d.Spawn.Command); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// CreateTransport returns a non-started Transport for adapterType.
func (m *Manager) CreateTransport(adapterType, workspaceFolder string) (transport.Transport, error) {
	d, ok := m.descriptors[adapterType]
	if !ok {
		return nil, &errs.AdapterNotFoundError{Type: adapterType}
	}

	switch d.TransportKind {
	case KindStdio:
		if _, err := exec.LookPath(d.Spawn.Command); err != nil {
			return nil, &errs.AdapterNotFoundError{Type: adapterType}
		}
		return transport.NewStdio(transport.StdioSpec{
			Command: d.Spawn.Command,
			Args:    d.Spawn.Args,
			Dir:     workspaceFolder,
		}, m.log), nil
	case KindSocket:
		return transport.NewSocket(transport.SocketSpec{Address: d.Socket.Address}, m.log), nil
	default:
		return nil, &errs.AdapterNotFoundError{Type: adapterType}
	}
}

// SSHRemoteConfig is the input to CreateSSHTransport.
type SSHRemoteConfig struct {
	SSHAddress   string
	ClientConfig *ssh.ClientConfig
	RemoteHost   string
	RemotePort   int
	LocalRoot    string
	RemoteRoot   string
}

// CreateSSHTransport returns a transport that proxies framed DAP traffic
// through an SSH channel, rewriting source.path in both directions.
// Outbound rewriting happens inside the SSH transport's Send; inbound
// rewriting is wired here via an OnMessage decorator so Session and Client
// stay unaware of remote vs local paths.
func (m *Manager) CreateSSHTransport(cfg SSHRemoteConfig) transport.Transport {
	tr := transport.NewSSH(transport.SSHSpec{
		SSHAddress:     cfg.SSHAddress,
		ClientConfig:   cfg.ClientConfig,
		RemoteHost:     cfg.RemoteHost,
		RemotePort:     cfg.RemotePort,
		LocalRoot:      cfg.LocalRoot,
		RemoteRoot:     cfg.RemoteRoot,
		ConnectTimeout: transport.DefaultConnectTimeout,
	}, m.log)
	return transport.NewInboundRewriter(tr, cfg.LocalRoot, cfg.RemoteRoot)
}

// DetectDebuggers inspects workspace files, delegating to
// launchconfig.DetectDebuggers' file-marker heuristics.
func (m *Manager) DetectDebuggers(workspaceFolder string) []launchconfig.DetectedAdapter {
	return launchconfig.DetectDebuggers(workspaceFolder)
}
