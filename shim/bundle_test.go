package shim_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/digideskio/bf/shim"
	"github.com/digideskio/bf/utils"
)

// writeBundle lays out a bundle directory with a rootfs holding the given
// source files.
func writeBundle(t *testing.T, files ...string) string {
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	if err := os.Mkdir(rootfs, 0755); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(rootfs, f), []byte("+[-]"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return bundle
}

func writeConfig(t *testing.T, bundle string, config string) {
	if err := os.WriteFile(filepath.Join(bundle, "config.json"), []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReadConfig(t *testing.T) {
	bundle := writeBundle(t, "hello.b")
	writeConfig(t, bundle, `{
		"root": {"path": "rootfs"},
		"process": {"args": ["hello.b"], "env": ["PATH=/bin", "TERM=xterm"]}
	}`)

	cfg, err := shim.ReadConfig(bundle)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.Root, filepath.Join(bundle, "rootfs"))
	utils.AssertEqual(t, cfg.Entrypoint, "hello.b")
	utils.AssertEqual(t, cfg.Script(), filepath.Join(bundle, "rootfs", "hello.b"))
	utils.AssertEqualArrays(t, cfg.Env, []string{"PATH=/bin", "TERM=xterm"})
}

func TestReadConfig_AbsoluteRoot(t *testing.T) {
	bundle := writeBundle(t, "loop.bf")
	rootfs := filepath.Join(bundle, "rootfs")
	writeConfig(t, bundle, fmt.Sprintf(`{
		"root": {"path": %q},
		"process": {"args": ["loop.bf"]}
	}`, rootfs))

	cfg, err := shim.ReadConfig(bundle)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.Root, rootfs)
	utils.AssertEqual(t, cfg.Script(), filepath.Join(rootfs, "loop.bf"))
}

func TestReadConfig_MissingConfig(t *testing.T) {
	bundle := writeBundle(t)
	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_BadJSON(t *testing.T) {
	bundle := writeBundle(t)
	writeConfig(t, bundle, `{"root":`)
	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_NoRoot(t *testing.T) {
	bundle := writeBundle(t, "hello.b")
	writeConfig(t, bundle, `{"process": {"args": ["hello.b"]}}`)
	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_WrongArgCount(t *testing.T) {
	bundle := writeBundle(t, "a.b", "b.b")
	writeConfig(t, bundle, `{"root": {"path": "rootfs"}, "process": {"args": ["a.b", "b.b"]}}`)
	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_BadExtension(t *testing.T) {
	bundle := writeBundle(t, "run.sh")
	writeConfig(t, bundle, `{"root": {"path": "rootfs"}, "process": {"args": ["run.sh"]}}`)
	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}

func TestReadConfig_MissingScript(t *testing.T) {
	bundle := writeBundle(t)
	writeConfig(t, bundle, `{"root": {"path": "rootfs"}, "process": {"args": ["ghost.b"]}}`)
	_, err := shim.ReadConfig(bundle)
	utils.AssertError(t, err)
}
