//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package lspbridge

import "net"

// listenConfig ignores reusePort on platforms without SO_REUSEPORT.
func listenConfig(_ bool) *net.ListenConfig {
	return &net.ListenConfig{}
}
