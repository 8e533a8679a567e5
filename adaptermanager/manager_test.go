package adaptermanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zixiao-technologies/logos-sub002/errs"
)

func TestGetAvailableAdaptersIncludesBuiltins(t *testing.T) {
	m := New(nil)
	types := map[string]bool{}
	for _, d := range m.GetAvailableAdapters() {
		types[d.Type] = true
	}
	assert.True(t, types["node"])
	assert.True(t, types["python"])
	assert.True(t, types["go"])
}

func TestCreateTransportUnknownTypeFails(t *testing.T) {
	m := New(nil)
	_, err := m.CreateTransport("not-a-real-adapter", "")
	var notFound *errs.AdapterNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRegisterAddsDescriptor(t *testing.T) {
	m := New(nil)
	m.Register(Descriptor{Type: "custom", DisplayName: "Custom", TransportKind: KindSocket, Socket: SocketSpec{Address: "127.0.0.1:5678"}})

	tr, err := m.CreateTransport("custom", "")
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestDetectDebuggersDelegatesToLaunchconfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))

	m := New(nil)
	detected := m.DetectDebuggers(dir)
	require.Len(t, detected, 1)
	assert.Equal(t, "go", detected[0].Type)
}
