// Package chk provides one-letter error check helpers that log non-nil
// errors at the matching level and report whether err was non-nil, enabling
// the `if chk.E(err) { return }` idiom.
package chk

import "zapai.dev/pkg/utils/log"

func F(err error) bool { return log.F.Chk(err) }
func E(err error) bool { return log.E.Chk(err) }
func W(err error) bool { return log.W.Chk(err) }
func D(err error) bool { return log.D.Chk(err) }
func T(err error) bool { return log.T.Chk(err) }
