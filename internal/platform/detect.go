package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using runtime facts, gopsutil and the
// user's locale settings.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect fills OS and Arch from the runtime and asks gopsutil for the
// platform name and version. A gopsutil failure is not fatal; the platform
// fields stay empty. A cancelled ctx is.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		ArchRaw: runtime.GOARCH,
		Locale:  DetectLocale(),
	}

	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	platform, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	info.Platform = normalizePlatform(platform)
	info.Version = normalizePlatform(version)
	if info.IsLinux() && info.Platform != "" {
		info.Family = mapFamily(family)
	}
	return info, nil
}
