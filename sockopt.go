// Copyright (c) 2022 Rocky Yang
// Copyright (c) 2020 Andy Pan
// Copyright (c) 2017 Max Riveiro
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package asock

import "golang.org/x/sys/unix"

// applySockOpts applies the creation-time options to a fresh descriptor.
func applySockOpts(fd int, cfg *config) error {
	if cfg.reuseAddr {
		if err := setReuseAddr(fd); err != nil {
			return err
		}
	}
	if cfg.reusePort {
		if err := setReusePort(fd); err != nil {
			return err
		}
	}
	if cfg.noDelay {
		if err := setNoDelay(fd); err != nil {
			return err
		}
	}
	if cfg.keepAlive > 0 {
		if err := setKeepAlive(fd, cfg.keepAlive); err != nil {
			return err
		}
	}
	return nil
}

// setReuseAddr sets up the SO_REUSEADDR socket option.
func setReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// setReusePort sets up the SO_REUSEPORT socket option.
func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setNoDelay disables Nagle's algorithm (TCP_NODELAY), so data is sent as
// soon as possible after a write operation.
func setNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// setKeepAlive sets up SO_KEEPALIVE with the given idle period in seconds.
func setKeepAlive(fd int, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
}
