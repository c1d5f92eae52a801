package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtspcamd.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
cameras:
  - streamId: cam2
    inputUrl: rtsp://192.0.2.1/stream
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8554, c.RTSPPort)
	require.Equal(t, "0.0.0.0", c.RTSPListen)
	require.Equal(t, LogLevel("info"), c.LogLevel)
	require.Len(t, c.Cameras, 1)
	require.Equal(t, "cam2", c.Cameras[0].StreamID)
	require.Equal(t, 60*time.Second, time.Duration(c.SessionTimeout))
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtspcamd.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
rtspPort: 9554
logLevel: debug
sessionTimeout: 30s
cameras:
  - streamId: cam1
    aliases: ["stream"]
    inputUrl: rtsp://192.0.2.1/1
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9554, c.RTSPPort)
	require.Equal(t, LogLevel("debug"), c.LogLevel)
	require.Equal(t, 30*time.Second, time.Duration(c.SessionTimeout))
	require.Equal(t, []string{"cam1", "stream"}, c.Cameras[0].MountPaths())
}

func TestLoadRejectsMissingStreamID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtspcamd.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
cameras:
  - inputUrl: rtsp://x/
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtspcamd.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: verbose
cameras: []
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtspcamd.yml")
	require.NoError(t, os.WriteFile(path, []byte(`cameras: []`), 0o644))

	os.Setenv("RTSPCAMD_RTSPPORT", "7000")
	defer os.Unsetenv("RTSPCAMD_RTSPPORT")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, c.RTSPPort)
}
