package conf

// Camera is one entry of the cameras list: everything integration (C8)
// needs to spawn a Source (C3) and register a StreamConfig (C7) for one
// mount (§6 configuration options; §3 StreamConfig).
type Camera struct {
	// StreamID is the stable identifier used internally and as the
	// canonical mount path; it is never overridden by a client-supplied
	// URL string (§9 late-bound identifiers).
	StreamID string `yaml:"streamId"`
	// Aliases are additional URL paths that resolve to this stream.
	Aliases []string `yaml:"aliases"`

	// InputURL is the camera's RTSP/HTTP/MJPEG source ffmpeg reads from
	// (§4.3 input URL policy).
	InputURL string `yaml:"inputUrl"`

	RTSPEnabled      bool   `yaml:"rtspEnabled"`
	RTSPVideoBitrate int    `yaml:"rtspVideoBitrate"`
	RTSPVideoPreset  string `yaml:"rtspVideoPreset"`
	RTSPAudioEnabled bool   `yaml:"rtspAudioEnabled"`
	RTSPAudioDevice  string `yaml:"rtspAudioDevice"`
	GOPSize          int    `yaml:"gopSize"`
	MinFramerate     int    `yaml:"minFramerate"`
}

// MountPaths returns the full set of URL paths that resolve to this
// camera: its stream ID plus every alias (§3 mount_paths).
func (c Camera) MountPaths() []string {
	paths := make([]string, 0, len(c.Aliases)+1)
	paths = append(paths, c.StreamID)
	paths = append(paths, c.Aliases...)
	return paths
}
