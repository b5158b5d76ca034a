package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/daimatz/gradeprobe/pkg/classfile"
	"github.com/daimatz/gradeprobe/pkg/vm/vmtest"
)

func classBytes(t *testing.T, name string) []byte {
	t.Helper()
	b := classfile.NewBuilder(name, "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	return b.Bytes()
}

func writeArchive(t *testing.T, path string, header []byte, prefix string, names ...string) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(header)
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(prefix + name + ".class")
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		w.Write(classBytes(t, name))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func className(t *testing.T, cf *classfile.ClassFile) string {
	t.Helper()
	name, err := cf.ClassName()
	if err != nil {
		t.Fatalf("ClassName: %v", err)
	}
	return name
}

func TestArchiveClassLoader(t *testing.T) {
	dir := t.TempDir()

	t.Run("jar", func(t *testing.T) {
		path := filepath.Join(dir, "lib.jar")
		writeArchive(t, path, nil, "", "lib/Util")
		cl := NewArchiveClassLoader(path)

		cf, err := cl.LoadClass("lib/Util")
		if err != nil {
			t.Fatalf("LoadClass: %v", err)
		}
		if got := className(t, cf); got != "lib/Util" {
			t.Errorf("class name: got %q", got)
		}
		if again, _ := cl.LoadClass("lib/Util"); again != cf {
			t.Error("second load should hit the cache")
		}
	})

	t.Run("jmod", func(t *testing.T) {
		path := filepath.Join(dir, "java.base.jmod")
		writeArchive(t, path, jmodMagic, "classes/", "java/util/ArrayList")
		cl := NewArchiveClassLoader(path)

		cf, err := cl.LoadClass("java/util/ArrayList")
		if err != nil {
			t.Fatalf("LoadClass: %v", err)
		}
		if got := className(t, cf); got != "java/util/ArrayList" {
			t.Errorf("class name: got %q", got)
		}

		_, err = cl.LoadClass("java/util/Missing")
		if !errors.Is(err, ErrClassNotFound) {
			t.Errorf("missing class: got %v, want ErrClassNotFound", err)
		}
	})

	t.Run("unreadable archive", func(t *testing.T) {
		cl := NewArchiveClassLoader(filepath.Join(dir, "none.jar"))
		_, err := cl.LoadClass("x/Y")
		if err == nil || errors.Is(err, ErrClassNotFound) {
			t.Errorf("got %v, want an I/O error", err)
		}
	})
}

func TestUserClassLoader(t *testing.T) {
	dir := t.TempDir()
	classDir := filepath.Join(dir, "classes")
	if err := os.MkdirAll(filepath.Join(classDir, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(classDir, "app", "Main.class"), classBytes(t, "app/Main"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(classDir, "app", "Bad.class"), []byte("not a class"), 0o644); err != nil {
		t.Fatal(err)
	}
	jar := filepath.Join(dir, "dep.jar")
	writeArchive(t, jar, nil, "", "dep/Helper")

	parent, err := NewMemoryClassLoader(vmtest.Calculator())
	if err != nil {
		t.Fatal(err)
	}
	cl := NewUserClassLoader(classDir+string(os.PathListSeparator)+jar, parent)

	tests := []string{"app/Main", "dep/Helper", "demo/Calculator"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			cf, err := cl.LoadClass(name)
			if err != nil {
				t.Fatalf("LoadClass(%s): %v", name, err)
			}
			if got := className(t, cf); got != name {
				t.Errorf("class name: got %q, want %q", got, name)
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := cl.LoadClass("app/Missing")
		if !errors.Is(err, ErrClassNotFound) {
			t.Errorf("got %v, want ErrClassNotFound", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := cl.LoadClass("app/Bad")
		if err == nil || errors.Is(err, ErrClassNotFound) {
			t.Errorf("got %v, want a parse error", err)
		}
	})
}

func TestMemoryClassLoader(t *testing.T) {
	cl, err := NewMemoryClassLoader(vmtest.Classes()...)
	if err != nil {
		t.Fatalf("NewMemoryClassLoader: %v", err)
	}
	if _, err := cl.LoadClass("demo/Point3D"); err != nil {
		t.Errorf("LoadClass(demo/Point3D): %v", err)
	}
	if _, err := cl.LoadClass("demo/Nope"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("got %v, want ErrClassNotFound", err)
	}
}

func TestLoadClassNameMismatch(t *testing.T) {
	cf, err := classfile.NewBuilder("other/Name", "java/lang/Object", classfile.AccPublic).Build()
	if err != nil {
		t.Fatal(err)
	}
	loader := &MemoryClassLoader{Classes: map[string]*classfile.ClassFile{"demo/Wrong": cf}}
	v := NewVM(loader)
	if _, err := v.LoadClass("demo/Wrong"); err == nil {
		t.Error("expected an error for a class file declaring another name")
	}
}
