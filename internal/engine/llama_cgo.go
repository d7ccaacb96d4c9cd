//go:build llama

package engine

// cgo link directives for the in-process llama backend: libllama.so is found
// next to the binary at runtime ($ORIGIN) and in ./bin at link time.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
