package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/daimatz/gradeprobe/pkg/classfile"
)

// ErrClassNotFound is wrapped by loaders when no class file exists for a name.
// Other loader errors mean the class exists but could not be read.
var ErrClassNotFound = errors.New("class not found")

var jmodMagic = []byte{'J', 'M', 0x01, 0x00}

// ClassLoader loads .class files by class name.
type ClassLoader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

// ArchiveClassLoader loads classes from a jar or a JDK jmod file.
type ArchiveClassLoader struct {
	Path    string
	Cache   map[string]*classfile.ClassFile
	prefix  string
	entries map[string]*zip.File
}

// NewArchiveClassLoader creates a loader for the jar or jmod at path.
// The archive is opened lazily on the first lookup.
func NewArchiveClassLoader(path string) *ArchiveClassLoader {
	return &ArchiveClassLoader{
		Path:  path,
		Cache: make(map[string]*classfile.ClassFile),
	}
}

func (cl *ArchiveClassLoader) ensureIndex() error {
	if cl.entries != nil {
		return nil
	}

	data, err := os.ReadFile(cl.Path)
	if err != nil {
		return fmt.Errorf("archive: reading %s: %w", cl.Path, err)
	}

	if bytes.HasPrefix(data, jmodMagic) {
		data = data[len(jmodMagic):]
		cl.prefix = "classes/"
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("archive: opening zip %s: %w", cl.Path, err)
	}

	cl.entries = make(map[string]*zip.File, len(zr.File))
	for _, file := range zr.File {
		cl.entries[file.Name] = file
	}
	return nil
}

func (cl *ArchiveClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.Cache[name]; ok {
		return cf, nil
	}

	if err := cl.ensureIndex(); err != nil {
		return nil, err
	}

	target := cl.prefix + name + ".class"
	file, ok := cl.entries[target]
	if !ok {
		return nil, fmt.Errorf("archive: %s in %s: %w", name, cl.Path, ErrClassNotFound)
	}

	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", target, err)
	}
	defer rc.Close()

	cf, err := classfile.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: parsing %s: %w", name, err)
	}
	cl.Cache[name] = cf
	return cf, nil
}

// UserClassLoader loads user classes from the classpath, delegating to the parent first.
// ClassPath is a list of directories and jar files separated by os.PathListSeparator.
type UserClassLoader struct {
	ClassPath string
	Parent    ClassLoader
	Cache     map[string]*classfile.ClassFile
	archives  map[string]*ArchiveClassLoader
}

// NewUserClassLoader creates a new UserClassLoader. parent may be nil.
func NewUserClassLoader(classPath string, parent ClassLoader) *UserClassLoader {
	return &UserClassLoader{
		ClassPath: classPath,
		Parent:    parent,
		Cache:     make(map[string]*classfile.ClassFile),
		archives:  make(map[string]*ArchiveClassLoader),
	}
}

func (cl *UserClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.Cache[name]; ok {
		return cf, nil
	}
	if cl.Parent != nil {
		cf, err := cl.Parent.LoadClass(name)
		if err == nil {
			return cf, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}

	for _, entry := range filepath.SplitList(cl.ClassPath) {
		cf, err := cl.loadFrom(entry, name)
		if errors.Is(err, ErrClassNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cl.Cache[name] = cf
		return cf, nil
	}
	return nil, fmt.Errorf("user: %s: %w", name, ErrClassNotFound)
}

func (cl *UserClassLoader) loadFrom(entry, name string) (*classfile.ClassFile, error) {
	if strings.HasSuffix(entry, ".jar") || strings.HasSuffix(entry, ".jmod") {
		archive, ok := cl.archives[entry]
		if !ok {
			archive = NewArchiveClassLoader(entry)
			cl.archives[entry] = archive
		}
		return archive.LoadClass(name)
	}

	path := filepath.Join(entry, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("user: %s: %w", path, ErrClassNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("user: loading %s: %w", name, err)
	}
	return cf, nil
}

// MemoryClassLoader serves classes from memory.
type MemoryClassLoader struct {
	Classes map[string]*classfile.ClassFile
}

// NewMemoryClassLoader indexes the given class files by their own names.
func NewMemoryClassLoader(classes ...*classfile.ClassFile) (*MemoryClassLoader, error) {
	cl := &MemoryClassLoader{Classes: make(map[string]*classfile.ClassFile)}
	for _, cf := range classes {
		if err := cl.Add(cf); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

// Add registers a class file under the name it declares.
func (cl *MemoryClassLoader) Add(cf *classfile.ClassFile) error {
	name, err := cf.ClassName()
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	cl.Classes[name] = cf
	return nil
}

func (cl *MemoryClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.Classes[name]; ok {
		return cf, nil
	}
	return nil, fmt.Errorf("memory: %s: %w", name, ErrClassNotFound)
}
