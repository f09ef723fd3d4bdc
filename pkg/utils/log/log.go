// Package log exposes the process logger's per-level printers so call sites
// read log.I.F(...), log.E.Chk(err) and so on.
package log

import "zapai.dev/pkg/utils/lol"

var (
	F = lol.Main.F
	E = lol.Main.E
	W = lol.Main.W
	I = lol.Main.I
	D = lol.Main.D
	T = lol.Main.T
)
