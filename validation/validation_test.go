package validation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateLocalFileHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	check := FileCheck{MaxSize: 1024, AllowedExtensions: map[string]bool{".txt": true}}
	info, err := check.ValidateLocalFile(path)
	if err != nil {
		t.Fatalf("ValidateLocalFile: %v", err)
	}
	if info.Size() != 5 {
		t.Fatalf("unexpected size %d", info.Size())
	}
}

func TestValidateLocalFileMissing(t *testing.T) {
	check := FileCheck{}
	if _, err := check.ValidateLocalFile(filepath.Join(t.TempDir(), "missing.bin")); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestValidateLocalFileRejectsDirectory(t *testing.T) {
	check := FileCheck{}
	if _, err := check.ValidateLocalFile(t.TempDir()); !errors.Is(err, ErrNotRegular) {
		t.Fatalf("expected ErrNotRegular, got %v", err)
	}
}

func TestValidateSizeLimit(t *testing.T) {
	check := FileCheck{MaxSize: 100}
	if err := check.ValidateSize(100); err != nil {
		t.Fatalf("expected size at limit to pass, got %v", err)
	}
	if err := check.ValidateSize(101); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	unbounded := FileCheck{}
	if err := unbounded.ValidateSize(1 << 40); err != nil {
		t.Fatalf("expected no limit with MaxSize 0, got %v", err)
	}
}

func TestValidateExtensionAllowList(t *testing.T) {
	check := FileCheck{AllowedExtensions: map[string]bool{".bin": true}}
	if err := check.ValidateExtension("payload.BIN"); err != nil {
		t.Fatalf("expected case-insensitive match, got %v", err)
	}
	if err := check.ValidateExtension("payload.exe"); !errors.Is(err, ErrExtensionNotAllowed) {
		t.Fatalf("expected ErrExtensionNotAllowed, got %v", err)
	}

	unrestricted := FileCheck{}
	if err := unrestricted.ValidateExtension("anything.exe"); err != nil {
		t.Fatalf("expected no restriction with empty set, got %v", err)
	}
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	cases := []string{"../secret.txt", "../../etc/passwd", "/etc/passwd", ".", ""}
	for _, name := range cases {
		if _, err := SafeJoin(root, name); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("SafeJoin(%q): expected ErrUnsafePath, got %v", name, err)
		}
	}
}

func TestValidateContentTypeRejectsELF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	content := append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 32)...)
	if err := os.WriteFile(path, content, 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ValidateContentType(path); !errors.Is(err, ErrExecutableContent) {
		t.Fatalf("expected ErrExecutableContent for ELF header, got %v", err)
	}
}

func TestValidateContentTypeRejectsPE(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.dat")
	content := append([]byte{'M', 'Z'}, make([]byte, 32)...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ValidateContentType(path); !errors.Is(err, ErrExecutableContent) {
		t.Fatalf("expected ErrExecutableContent for PE header, got %v", err)
	}
}

func TestValidateContentTypeAllowsPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("just some plain text"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ValidateContentType(path); err != nil {
		t.Fatalf("expected plain text to pass, got %v", err)
	}
}

func TestValidateLocalFileRejectsExecutableContentRegardlessOfExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "innocuous.txt")
	content := append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 32)...)
	if err := os.WriteFile(path, content, 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	check := FileCheck{AllowedExtensions: map[string]bool{".txt": true}}
	if _, err := check.ValidateLocalFile(path); !errors.Is(err, ErrExecutableContent) {
		t.Fatalf("expected ErrExecutableContent despite allowed extension, got %v", err)
	}
}

func TestSafeJoinAllowsNestedFilename(t *testing.T) {
	root := t.TempDir()
	got, err := SafeJoin(root, "subdir/file.bin")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	want := filepath.Join(root, "subdir", "file.bin")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
