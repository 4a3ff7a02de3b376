//go:build freebsd

package engine

import "unsafe"

// FreeBSD's BPF_WORDALIGN rounds to sizeof(long), which matches the
// pointer size: 8 on 64-bit kernels, 4 on 32-bit ones.
const bpfAlignment = int(unsafe.Sizeof(uintptr(0)))
