//go:build darwin

package worker

func currentPlatform() Platform { return PlatformMacOS }
