package es

import "log/slog"

// Version is the number of events a stream holds. A stream that was never
// written is at version 0; the first event gets version 1. When appending,
// the expected version must match the current stream version.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) Next(n int) Version                     { return v + Version(n) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
