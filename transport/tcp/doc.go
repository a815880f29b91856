// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides the TCP listener and dialer used by the server.
// Socket options are applied on the raw descriptor before bind on Linux.
package tcp
