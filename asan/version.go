package asan

// Version information for the Pure-Go ASan runtime.
const (
	// Version is the current version of the runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the sanitizer core.
type Info struct {
	// Version is the runtime version string.
	Version string

	// ShadowRatio is the number of application bytes per shadow byte.
	ShadowRatio int

	// Enabled indicates whether instrumentation support is active.
	Enabled bool
}

// GetInfo returns information about the sanitizer runtime.
//
// Example:
//
//	info := asan.GetInfo()
//	fmt.Printf("ASan runtime %s (1:%d shadow)\n", info.Version, info.ShadowRatio)
func GetInfo() Info {
	return Info{
		Version:     Version,
		ShadowRatio: ShadowRatio,
		Enabled:     true,
	}
}
