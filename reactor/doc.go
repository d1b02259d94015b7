// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the concrete socket.Poller implementations a
// socket-engine plugin installs: epoll on Linux, poll(2) on other Unix
// systems, and an unsupported stub elsewhere.
package reactor
