//go:build darwin

package engine

// Darwin's BPF_WORDALIGN rounds to sizeof(int32_t).
const bpfAlignment = 4
