//go:build kreduce_gpuemu

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package _default

import (
	"github.com/gomlx/kreduce/backends"
	"github.com/gomlx/kreduce/backends/emulator"
)

func init() {
	backends.RegisterAccelerator(emulator.New(emulator.DefaultBlockSize))
}
