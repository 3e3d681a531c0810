package core

// wat.go offers a thin offline build step for .wat fixtures used by tests
// that need a real, instantiable module rather than the bare magic-number
// stub codestore_test.go exercises. Grounded on the teacher's
// core/contracts.go CompileWASM, which shells out to the wabt wat2wasm
// tool rather than embedding a WAT parser, since wasmer-go itself only
// consumes binary .wasm.

import (
	"os"
	"os/exec"
	"path/filepath"
)

// CompileWASM turns srcPath (a .wat or already-binary .wasm file) into
// wasm bytes plus their digest. A .wat source is compiled via the
// wat2wasm binary into outDir; callers that only have .wasm on disk skip
// that step entirely.
func CompileWASM(srcPath string, outDir string) ([]byte, Hash256, error) {
	switch filepath.Ext(srcPath) {
	case ".wasm":
		b, err := os.ReadFile(srcPath)
		if err != nil {
			return nil, Hash256{}, err
		}
		return b, Sum256(b), nil
	case ".wat":
		out := filepath.Join(outDir, filepath.Base(srcPath)+".wasm")
		cmd := exec.Command("wat2wasm", "-o", out, srcPath)
		if err := cmd.Run(); err != nil {
			return nil, Hash256{}, err
		}
		b, err := os.ReadFile(out)
		if err != nil {
			return nil, Hash256{}, err
		}
		return b, Sum256(b), nil
	default:
		return nil, Hash256{}, NewErr(KindInvalidArgument, "unsupported wasm source, must be .wat or .wasm")
	}
}
