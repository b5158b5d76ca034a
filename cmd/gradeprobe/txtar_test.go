package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"

	"github.com/daimatz/gradeprobe/pkg/vm/vmtest"
)

var writeTxtarGolden = flag.Bool("write-txtar-golden", false, "If true, writes out golden stdout sections in txtar archives")

// Each archive holds:
//
//	args    command line, one argument per line; $WORK is the scratch dir
//	stdout  expected standard output
//	error   expected error text, if the command fails
//
// Any other file is written to $WORK before the command runs. The demo
// fixture classes are on the classpath.
func TestTxtarCommands(t *testing.T) {
	files, err := filepath.Glob("testdata/*.txtar")
	if err != nil {
		t.Fatalf("failed to find txtar files in testdata: %v", err)
	}
	if len(files) == 0 {
		t.Skip("no txtar files found")
	}
	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".txtar"), func(t *testing.T) {
			runTxtarTest(t, file)
		})
	}
}

func runTxtarTest(t *testing.T, file string) {
	archive, err := txtar.ParseFile(file)
	if err != nil {
		t.Fatalf("failed to parse txtar file %s: %v", file, err)
	}

	t.Setenv("GRADEPROBE_CLASSPATH", "")
	t.Setenv("JAVA_BASE_JMOD", "")
	t.Setenv("JAVA_HOME", "")

	work := t.TempDir()
	classes := filepath.Join(work, "classes")
	if err := vmtest.WriteClassPath(classes); err != nil {
		t.Fatalf("failed to write fixture classes: %v", err)
	}

	var (
		args      []string
		wantOut   string
		wantErr   string
		stdoutIdx = -1
	)
	for i, f := range archive.Files {
		switch f.Name {
		case "args":
			for _, line := range strings.Split(strings.TrimSpace(string(f.Data)), "\n") {
				args = append(args, strings.ReplaceAll(line, "$WORK", work))
			}
		case "stdout":
			wantOut = string(f.Data)
			stdoutIdx = i
		case "error":
			wantErr = strings.TrimSpace(string(f.Data))
		default:
			if err := os.WriteFile(filepath.Join(work, f.Name), f.Data, 0o644); err != nil {
				t.Fatalf("failed to write %s: %v", f.Name, err)
			}
		}
	}
	if len(args) == 0 {
		t.Fatalf("%s has no args section", file)
	}

	var stdout bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{
		"--config", filepath.Join(work, "gradeprobe.yaml"),
		"--classpath", classes,
	}, args...))
	err = root.Execute()

	var gotErr string
	if err != nil {
		gotErr = err.Error()
	}
	if gotErr != wantErr {
		t.Errorf("error = %q, want %q", gotErr, wantErr)
	}

	got := strings.ReplaceAll(stdout.String(), work, "$WORK")
	if *writeTxtarGolden {
		if stdoutIdx < 0 {
			archive.Files = append(archive.Files, txtar.File{Name: "stdout"})
			stdoutIdx = len(archive.Files) - 1
		}
		archive.Files[stdoutIdx].Data = []byte(got)
		if err := os.WriteFile(file, txtar.Format(archive), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", file, err)
		}
		return
	}
	if diff := cmp.Diff(wantOut, got); diff != "" {
		t.Errorf("stdout mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", 42},
		{"-7", -7},
		{"3000000000", int64(3000000000)},
		{"2.5", 2.5},
		{"true", true},
		{"false", false},
		{"null", nil},
		{"Ada", "Ada"},
		{`"42"`, "42"},
		{`"unterminated`, `"unterminated`},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseLiteral(tt.in)); diff != "" {
			t.Errorf("parseLiteral(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{int32(5), "5"},
		{"hi", `"hi"`},
		{2.5, "2.5"},
		{[]any{1, "a", nil}, `[1, "a", null]`},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
