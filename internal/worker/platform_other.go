//go:build !darwin && !windows

package worker

func currentPlatform() Platform { return PlatformOther }
