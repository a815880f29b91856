// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package transport holds stream negotiators run between accept and the
// first read. Concrete listeners live in the tcp and udp subpackages.
package transport
