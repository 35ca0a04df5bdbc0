//go:build windows

package worker

func currentPlatform() Platform { return PlatformWindows }
